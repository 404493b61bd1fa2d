/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package slots turns availability windows into discrete, labeled time slots.
//
// Everything here is pure: callers decide where the generated slots are stored
// and merge them with whatever a date already holds.
package slots

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar date format used for availability keys.
const DateLayout = "2006-01-02"

const minutesPerDay = 24 * 60

var (
	// ErrInvalidRange is returned when start is not before end.
	ErrInvalidRange = errors.New("start time must be before end time")
	// ErrInvalidIncrement is returned for non-positive increments.
	ErrInvalidIncrement = errors.New("increment must be greater than zero")
	// ErrInvalidTime is returned for malformed HH:MM values.
	ErrInvalidTime = errors.New("invalid time of day")
	// ErrInvalidDate is returned for malformed calendar dates.
	ErrInvalidDate = errors.New("invalid date")
	// ErrInvalidLabel is returned when a slot label cannot be parsed.
	ErrInvalidLabel = errors.New("invalid slot label")
)

// Slot is a single bookable point in a day.
type Slot struct {
	Label   string `json:"label"`
	Minutes int    `json:"minutes"`
}

// ParseDate validates an ISO calendar date.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return t, nil
}

// ParseClock parses a 24-hour HH:MM value into minutes since midnight.
// "24:00" is accepted as the end of the day.
func ParseClock(value string) (int, error) {
	value = strings.TrimSpace(value)
	parts := strings.Split(value, ":")
	if len(parts) != 2 || len(parts[1]) != 2 || len(parts[0]) == 0 || len(parts[0]) > 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, value)
	}
	if hour == 24 && minute == 0 {
		return minutesPerDay, nil
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, value)
	}
	return hour*60 + minute, nil
}

// FormatClock renders minutes since midnight as HH:MM.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Label renders minutes since midnight as a 12-hour label, e.g. "9:00 AM".
func Label(minutes int) string {
	minutes = ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	hour := minutes / 60
	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	hour12 := hour % 12
	if hour12 == 0 {
		hour12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", hour12, minutes%60, suffix)
}

// ParseLabel converts a 12-hour label back to minutes since midnight.
// It tolerates lowercase suffixes, a missing space and leading zeros.
func ParseLabel(label string) (int, error) {
	s := strings.ToUpper(strings.TrimSpace(label))
	var suffix string
	switch {
	case strings.HasSuffix(s, "AM"):
		suffix = "AM"
	case strings.HasSuffix(s, "PM"):
		suffix = "PM"
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	clockPart := strings.TrimSpace(strings.TrimSuffix(s, suffix))
	parts := strings.Split(clockPart, ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 1 || hour > 12 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}

	hour %= 12
	if suffix == "PM" {
		hour += 12
	}
	return hour*60 + minute, nil
}

// Canonical returns the canonical spelling of a label.
func Canonical(label string) (string, error) {
	minutes, err := ParseLabel(label)
	if err != nil {
		return "", err
	}
	return Label(minutes), nil
}

// Generate emits one slot every increment minutes from start up to, but not
// including, end. start and end are 24-hour HH:MM values.
func Generate(date, start, end string, incrementMinutes int) ([]Slot, error) {
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}
	startMin, err := ParseClock(start)
	if err != nil {
		return nil, err
	}
	endMin, err := ParseClock(end)
	if err != nil {
		return nil, err
	}
	return Range(startMin, endMin, incrementMinutes)
}

// Range is Generate over minute offsets.
func Range(startMin, endMin, incrementMinutes int) ([]Slot, error) {
	if startMin >= endMin {
		return nil, ErrInvalidRange
	}
	if incrementMinutes <= 0 {
		return nil, ErrInvalidIncrement
	}

	out := make([]Slot, 0, (endMin-startMin)/incrementMinutes+1)
	for m := startMin; m < endMin; m += incrementMinutes {
		out = append(out, Slot{Label: Label(m), Minutes: m})
	}
	return out, nil
}

// Merge layers incoming slots on top of existing ones. A label already present
// is kept once; the result is always in clock order.
func Merge(existing []Slot, incoming ...[]Slot) []Slot {
	seen := make(map[string]struct{}, len(existing))
	out := make([]Slot, 0, len(existing))
	add := func(s Slot) {
		if _, ok := seen[s.Label]; ok {
			return
		}
		seen[s.Label] = struct{}{}
		out = append(out, s)
	}
	for _, s := range existing {
		add(s)
	}
	for _, batch := range incoming {
		for _, s := range batch {
			add(s)
		}
	}
	Sort(out)
	return out
}

// Sort orders slots chronologically.
func Sort(list []Slot) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Minutes != list[j].Minutes {
			return list[i].Minutes < list[j].Minutes
		}
		return list[i].Label < list[j].Label
	})
}

// FromLabels parses and canonicalises a list of labels, dropping duplicates.
func FromLabels(labels []string) ([]Slot, error) {
	out := make([]Slot, 0, len(labels))
	for _, l := range labels {
		minutes, err := ParseLabel(l)
		if err != nil {
			return nil, err
		}
		out = append(out, Slot{Label: Label(minutes), Minutes: minutes})
	}
	return Merge(nil, out), nil
}

// Labels extracts the label of every slot.
func Labels(list []Slot) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.Label
	}
	return out
}
