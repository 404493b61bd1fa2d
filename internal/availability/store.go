/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package availability keeps the per-date list of bookable slots.
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/timegate/internal/cache"
	"github.com/friendsincode/timegate/internal/clock"
	"github.com/friendsincode/timegate/internal/datelock"
	"github.com/friendsincode/timegate/internal/events"
	"github.com/friendsincode/timegate/internal/models"
	"github.com/friendsincode/timegate/internal/slots"
	"github.com/friendsincode/timegate/internal/telemetry"
)

var (
	// ErrSlotInUse is returned when removing a slot that an active booking holds
	// and the removal policy is reject.
	ErrSlotInUse = errors.New("slot has an active booking")
	// ErrSlotNotFound is returned when removing a label the date does not have.
	ErrSlotNotFound = errors.New("slot not found")
	// ErrInvalidPolicy is returned for an unknown removal policy name.
	ErrInvalidPolicy = errors.New("unknown slot removal policy")
)

// RemovalPolicy decides what happens to a booking whose slot is removed.
type RemovalPolicy string

const (
	RemovalReject  RemovalPolicy = "reject"
	RemovalCascade RemovalPolicy = "cascade"
)

// ParseRemovalPolicy validates a policy name. Empty means reject.
func ParseRemovalPolicy(name string) (RemovalPolicy, error) {
	switch RemovalPolicy(name) {
	case "", RemovalReject:
		return RemovalReject, nil
	case RemovalCascade:
		return RemovalCascade, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, name)
}

// Options carries the collaborators a Store shares with the booking ledger.
type Options struct {
	Locker *datelock.Locker
	Clock  clock.Clock
	Bus    events.Publisher
	Cache  *cache.Cache
	Policy RemovalPolicy
}

// Store persists availability slots and derives the open view.
type Store struct {
	db     *gorm.DB
	locks  *datelock.Locker
	clock  clock.Clock
	bus    events.Publisher
	cache  *cache.Cache
	policy RemovalPolicy
	logger zerolog.Logger
}

// NewStore builds a Store. Missing options fall back to a private locker, the
// system clock and the reject policy.
func NewStore(db *gorm.DB, opts Options, logger zerolog.Logger) *Store {
	if opts.Locker == nil {
		opts.Locker = datelock.New()
	}
	if opts.Policy == "" {
		opts.Policy = RemovalReject
	}
	return &Store{
		db:     db,
		locks:  opts.Locker,
		clock:  clock.Or(opts.Clock),
		bus:    opts.Bus,
		cache:  opts.Cache,
		policy: opts.Policy,
		logger: logger.With().Str("component", "availability").Logger(),
	}
}

// Policy returns the active removal policy.
func (s *Store) Policy() RemovalPolicy {
	return s.policy
}

// Slots returns the stored slots for date in clock order.
func (s *Store) Slots(ctx context.Context, date string) ([]slots.Slot, error) {
	if _, err := slots.ParseDate(date); err != nil {
		return nil, err
	}
	rows, err := loadSlots(s.db.WithContext(ctx), date)
	if err != nil {
		return nil, err
	}
	return toSlots(rows), nil
}

// Get returns every slot for date with its derived availability.
func (s *Store) Get(ctx context.Context, date string) ([]models.TimeSlot, error) {
	if _, err := slots.ParseDate(date); err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx)

	rows, err := loadSlots(tx, date)
	if err != nil {
		return nil, err
	}
	held, err := heldLabels(tx, date, s.now())
	if err != nil {
		return nil, err
	}

	out := make([]models.TimeSlot, len(rows))
	for i, row := range rows {
		out[i] = models.TimeSlot{Label: row.Label, IsAvailable: !held[row.Label]}
	}
	return out, nil
}

// Open returns the labels a visitor may book on date.
func (s *Store) Open(ctx context.Context, date string) ([]string, error) {
	if _, err := slots.ParseDate(date); err != nil {
		return nil, err
	}
	if labels, ok := s.cache.GetOpenSlots(ctx, date); ok {
		telemetry.CacheRequestsTotal.WithLabelValues("open_slots", "hit").Inc()
		return labels, nil
	}
	telemetry.CacheRequestsTotal.WithLabelValues("open_slots", "miss").Inc()

	all, err := s.Get(ctx, date)
	if err != nil {
		return nil, err
	}
	open := make([]string, 0, len(all))
	for _, ts := range all {
		if ts.IsAvailable {
			open = append(open, ts.Label)
		}
	}

	if s.cache.IsAvailable() {
		_ = s.cache.SetOpenSlots(ctx, date, open)
	}
	return open, nil
}

// DateSummary counts the slots stored for one date.
type DateSummary struct {
	Date  string `json:"date"`
	Slots int    `json:"slots"`
}

// Dates lists dates in [from, to] that have at least one slot.
func (s *Store) Dates(ctx context.Context, from, to string) ([]DateSummary, error) {
	if _, err := slots.ParseDate(from); err != nil {
		return nil, err
	}
	if _, err := slots.ParseDate(to); err != nil {
		return nil, err
	}
	if to < from {
		return nil, slots.ErrInvalidRange
	}

	var out []DateSummary
	err := s.db.WithContext(ctx).
		Model(&models.AvailabilitySlot{}).
		Select("date, COUNT(*) AS slots").
		Where("date >= ? AND date <= ?", from, to).
		Group("date").
		Order("date ASC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list availability dates: %w", err)
	}
	return out, nil
}

// Add merges incoming slots into date. Labels already present are kept once.
func (s *Store) Add(ctx context.Context, date string, incoming []slots.Slot) ([]slots.Slot, error) {
	if _, err := slots.ParseDate(date); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(date)
	defer unlock()

	var result []slots.Slot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := loadSlots(tx, date)
		if err != nil {
			return err
		}
		existing := toSlots(rows)
		result = slots.Merge(existing, incoming)
		return insertMissing(tx, date, existing, result)
	})
	if err != nil {
		return nil, err
	}

	s.changed(ctx, date, "add", nil)
	return result, nil
}

// AddLabels parses labels and merges them into date.
func (s *Store) AddLabels(ctx context.Context, date string, labels []string) ([]slots.Slot, error) {
	parsed, err := slots.FromLabels(labels)
	if err != nil {
		return nil, err
	}
	return s.Add(ctx, date, parsed)
}

// AddPreset merges a named preset into date.
func (s *Store) AddPreset(ctx context.Context, date, preset string) ([]slots.Slot, error) {
	p, err := slots.LookupPreset(preset)
	if err != nil {
		return nil, err
	}
	return s.Add(ctx, date, p.Slots())
}

// Generate expands [start, end) at increment and merges the result into date.
func (s *Store) Generate(ctx context.Context, date, start, end string, increment int) ([]slots.Slot, error) {
	generated, err := slots.Generate(date, start, end, increment)
	if err != nil {
		return nil, err
	}
	return s.Add(ctx, date, generated)
}

// Set replaces the slot list for date. Labels dropped from the list are
// released according to the removal policy.
func (s *Store) Set(ctx context.Context, date string, labels []string) ([]slots.Slot, error) {
	if _, err := slots.ParseDate(date); err != nil {
		return nil, err
	}
	wanted, err := slots.FromLabels(labels)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(date)
	defer unlock()

	keep := make(map[string]bool, len(wanted))
	for _, sl := range wanted {
		keep[sl.Label] = true
	}

	var cancelled []models.Booking
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := loadSlots(tx, date)
		if err != nil {
			return err
		}

		var removed []string
		for _, row := range rows {
			if !keep[row.Label] {
				removed = append(removed, row.Label)
			}
		}
		if len(removed) > 0 {
			cancelled, err = s.release(tx, date, removed)
			if err != nil {
				return err
			}
			if err := tx.Where("date = ? AND label IN ?", date, removed).Delete(&models.AvailabilitySlot{}).Error; err != nil {
				return fmt.Errorf("delete slots: %w", err)
			}
		}
		return insertMissing(tx, date, toSlots(rows), wanted)
	})
	if err != nil {
		return nil, err
	}

	s.changed(ctx, date, "set", cancelled)
	return wanted, nil
}

// RemoveSlot deletes one label from date.
func (s *Store) RemoveSlot(ctx context.Context, date, label string) error {
	if _, err := slots.ParseDate(date); err != nil {
		return err
	}
	canonical, err := slots.Canonical(label)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(date)
	defer unlock()

	var cancelled []models.Booking
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.AvailabilitySlot{}).Where("date = ? AND label = ?", date, canonical).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrSlotNotFound
		}

		cancelled, err = s.release(tx, date, []string{canonical})
		if err != nil {
			return err
		}
		return tx.Where("date = ? AND label = ?", date, canonical).Delete(&models.AvailabilitySlot{}).Error
	})
	if err != nil {
		return err
	}

	s.changed(ctx, date, "remove", cancelled)
	return nil
}

// ClearDate removes every slot on date.
func (s *Store) ClearDate(ctx context.Context, date string) error {
	if _, err := slots.ParseDate(date); err != nil {
		return err
	}

	unlock := s.locks.Lock(date)
	defer unlock()

	var cancelled []models.Booking
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := loadSlots(tx, date)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		cancelled, err = s.release(tx, date, slots.Labels(toSlots(rows)))
		if err != nil {
			return err
		}
		return tx.Where("date = ?", date).Delete(&models.AvailabilitySlot{}).Error
	})
	if err != nil {
		return err
	}

	s.changed(ctx, date, "clear", cancelled)
	return nil
}

// release frees the bookings on labels ahead of their slots being deleted.
// Stale pending bookings are always expired; live ones are cancelled or
// block the removal depending on policy.
func (s *Store) release(tx *gorm.DB, date string, labels []string) ([]models.Booking, error) {
	now := s.now()

	var active []models.Booking
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("date = ? AND slot_label IN ? AND active_key IS NOT NULL", date, labels).
		Find(&active).Error
	if err != nil {
		return nil, fmt.Errorf("load bookings for removal: %w", err)
	}

	if s.policy == RemovalReject {
		for _, b := range active {
			if !b.Stale(now) {
				return nil, fmt.Errorf("%w: %s %s", ErrSlotInUse, date, b.SlotLabel)
			}
		}
	}

	for i := range active {
		b := &active[i]
		reason := models.CancelReasonSlotRemoved
		if b.Stale(now) {
			reason = models.CancelReasonExpired
		}
		err := tx.Model(&models.Booking{}).
			Where("id = ? AND active_key IS NOT NULL", b.ID).
			Updates(map[string]any{
				"status":        models.BookingCancelled,
				"is_paid":       false,
				"active_key":    nil,
				"cancelled_at":  now,
				"cancel_reason": reason,
			}).Error
		if err != nil {
			return nil, fmt.Errorf("cancel booking %s: %w", b.ID, err)
		}
		b.Status = models.BookingCancelled
		b.IsPaid = false
		b.ActiveKey = nil
		b.CancelledAt = &now
		b.CancelReason = reason
	}
	return active, nil
}

func (s *Store) changed(ctx context.Context, date, operation string, cancelled []models.Booking) {
	telemetry.AvailabilityMutationsTotal.WithLabelValues(operation).Inc()

	if s.cache.IsAvailable() {
		if err := s.cache.InvalidateOpenSlots(ctx, date); err != nil {
			s.logger.Debug().Err(err).Str("date", date).Msg("open slots invalidation failed")
		}
	}

	if s.bus == nil {
		return
	}
	for _, b := range cancelled {
		eventType := events.EventBookingCancelled
		if b.CancelReason == models.CancelReasonExpired {
			eventType = events.EventBookingExpired
		}
		s.bus.Publish(eventType, events.Payload{
			"booking_id": b.ID,
			"date":       b.Date,
			"slot_label": b.SlotLabel,
			"reason":     b.CancelReason,
		})
	}
	s.bus.Publish(events.EventAvailabilityUpdated, events.Payload{
		"date":      date,
		"operation": operation,
	})
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func loadSlots(tx *gorm.DB, date string) ([]models.AvailabilitySlot, error) {
	var rows []models.AvailabilitySlot
	err := tx.Where("date = ?", date).Order("minutes ASC").Order("label ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	return rows, nil
}

func heldLabels(tx *gorm.DB, date string, now time.Time) (map[string]bool, error) {
	var labels []string
	err := tx.Model(&models.Booking{}).
		Scopes(models.HoldingSlot(now)).
		Where("date = ?", date).
		Pluck("slot_label", &labels).Error
	if err != nil {
		return nil, fmt.Errorf("load held slots: %w", err)
	}
	held := make(map[string]bool, len(labels))
	for _, l := range labels {
		held[l] = true
	}
	return held, nil
}

func insertMissing(tx *gorm.DB, date string, existing, wanted []slots.Slot) error {
	have := make(map[string]bool, len(existing))
	for _, sl := range existing {
		have[sl.Label] = true
	}

	var rows []models.AvailabilitySlot
	for _, sl := range wanted {
		if have[sl.Label] {
			continue
		}
		rows = append(rows, models.AvailabilitySlot{
			ID:      uuid.NewString(),
			Date:    date,
			Label:   sl.Label,
			Minutes: sl.Minutes,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}, {Name: "label"}},
		DoNothing: true,
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("insert slots: %w", err)
	}
	return nil
}

func toSlots(rows []models.AvailabilitySlot) []slots.Slot {
	out := make([]slots.Slot, len(rows))
	for i, row := range rows {
		out[i] = slots.Slot{Label: row.Label, Minutes: row.Minutes}
	}
	return out
}
