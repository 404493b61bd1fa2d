/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/friendsincode/timegate/internal/slots"
)

// MaxRecurringSpan bounds how far a single recurring request may reach.
const MaxRecurringSpan = 366 * 24 * time.Hour

var (
	// ErrInvalidRRule is returned when the recurrence rule cannot be parsed.
	ErrInvalidRRule = errors.New("invalid recurrence rule")
	// ErrSpanTooLong is returned when until is too far after from.
	ErrSpanTooLong = errors.New("recurrence span too long")
)

// RecurringRequest applies the same slots to every date an RRULE yields
// between From and Until, inclusive. Either Preset or Start/End/Increment
// describes the slots.
type RecurringRequest struct {
	RRule     string `json:"rrule"`
	From      string `json:"from"`
	Until     string `json:"until"`
	Preset    string `json:"preset,omitempty"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	Increment int    `json:"increment,omitempty"`
}

// Occurrences expands the request's rule into calendar dates.
func (r RecurringRequest) Occurrences() ([]string, error) {
	from, err := slots.ParseDate(r.From)
	if err != nil {
		return nil, err
	}
	until, err := slots.ParseDate(r.Until)
	if err != nil {
		return nil, err
	}
	if until.Before(from) {
		return nil, slots.ErrInvalidRange
	}
	if until.Sub(from) > MaxRecurringSpan {
		return nil, ErrSpanTooLong
	}

	rule := strings.TrimPrefix(strings.TrimSpace(r.RRule), "RRULE:")
	rr, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRRule, err)
	}
	rr.DTStart(from)

	occ := rr.Between(from, until.Add(24*time.Hour-time.Nanosecond), true)
	dates := make([]string, 0, len(occ))
	seen := make(map[string]bool, len(occ))
	for _, t := range occ {
		d := t.Format(slots.DateLayout)
		if !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	return dates, nil
}

func (r RecurringRequest) template() ([]slots.Slot, error) {
	if r.Preset != "" {
		p, err := slots.LookupPreset(r.Preset)
		if err != nil {
			return nil, err
		}
		return p.Slots(), nil
	}
	return slots.Generate(r.From, r.Start, r.End, r.Increment)
}

// ApplyRecurring merges the request's slots into every occurrence date and
// returns the dates touched.
func (s *Store) ApplyRecurring(ctx context.Context, req RecurringRequest) ([]string, error) {
	tmpl, err := req.template()
	if err != nil {
		return nil, err
	}
	dates, err := req.Occurrences()
	if err != nil {
		return nil, err
	}

	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := s.Add(ctx, d, tmpl); err != nil {
			return nil, fmt.Errorf("apply slots to %s: %w", d, err)
		}
	}

	s.logger.Info().
		Str("rrule", req.RRule).
		Int("dates", len(dates)).
		Int("slots_per_date", len(tmpl)).
		Msg("recurring availability applied")
	return dates, nil
}
