/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package booking tracks bookings against availability slots.
//
// A slot holds at most one active booking. Creation, confirmation and
// cancellation for a date run under the same date lock the availability store
// uses, inside one transaction, and the bookings.active_key unique index backs
// that up at the storage layer.
package booking

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

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
	ErrNotFound          = errors.New("booking not found")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrServiceNotFound   = errors.New("service offering not found")
	ErrServiceInactive   = errors.New("service offering inactive")
	ErrInvalidTransition = errors.New("invalid booking transition")
	ErrInvalidRequest    = errors.New("invalid booking request")
)

// Options configures a Ledger.
type Options struct {
	Locker     *datelock.Locker
	Clock      clock.Clock
	Bus        events.Publisher
	Cache      *cache.Cache
	PendingTTL time.Duration // 0 keeps pending bookings until acted on
}

// Ledger owns the booking lifecycle.
type Ledger struct {
	db         *gorm.DB
	locks      *datelock.Locker
	clock      clock.Clock
	bus        events.Publisher
	cache      *cache.Cache
	pendingTTL time.Duration
	payment    PaymentConfig
	logger     zerolog.Logger
}

// NewLedger builds a Ledger. Pass the availability store's locker so slot
// edits and bookings for a date serialise together.
func NewLedger(db *gorm.DB, opts Options, logger zerolog.Logger) *Ledger {
	if opts.Locker == nil {
		opts.Locker = datelock.New()
	}
	return &Ledger{
		db:         db,
		locks:      opts.Locker,
		clock:      clock.Or(opts.Clock),
		bus:        opts.Bus,
		cache:      opts.Cache,
		pendingTTL: opts.PendingTTL,
		logger:     logger.With().Str("component", "booking").Logger(),
	}
}

// CreateRequest asks for one slot on one date.
type CreateRequest struct {
	Date       string          `json:"date"`
	SlotLabel  string          `json:"slot_label"`
	OfferingID string          `json:"offering_id,omitempty"`
	Customer   models.Customer `json:"customer"`

	// Adhoc books a service that is not in the catalog. Only administrators
	// may set it, so it is never decoded from a request body.
	Adhoc *models.ServiceRef `json:"-"`
}

func (r *CreateRequest) normalize() error {
	if _, err := slots.ParseDate(r.Date); err != nil {
		return err
	}
	label, err := slots.Canonical(r.SlotLabel)
	if err != nil {
		return err
	}
	r.SlotLabel = label

	r.Customer.Name = strings.TrimSpace(r.Customer.Name)
	r.Customer.Email = strings.TrimSpace(r.Customer.Email)
	if r.Customer.Name == "" {
		return fmt.Errorf("%w: customer name is required", ErrInvalidRequest)
	}
	if _, err := mail.ParseAddress(r.Customer.Email); err != nil {
		return fmt.Errorf("%w: customer email is invalid", ErrInvalidRequest)
	}
	if r.OfferingID == "" && (r.Adhoc == nil || strings.TrimSpace(r.Adhoc.Title) == "") {
		return fmt.Errorf("%w: an offering or service snapshot is required", ErrInvalidRequest)
	}
	return nil
}

// CreateBooking claims the slot for a new pending_payment booking.
func (l *Ledger) CreateBooking(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	service, err := l.resolveService(ctx, req)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(req.Date)
	defer unlock()

	now := l.now()
	booking := models.NewBooking(req.Date, req.SlotLabel, service, req.Customer)
	if l.pendingTTL > 0 {
		exp := now.Add(l.pendingTTL)
		booking.ExpiresAt = &exp
	}

	var expired []models.Booking
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slot models.AvailabilitySlot
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("date = ? AND label = ?", req.Date, req.SlotLabel).
			First(&slot).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSlotUnavailable
		}
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}

		var holders []models.Booking
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("active_key = ?", models.SlotKey(req.Date, req.SlotLabel)).
			Find(&holders).Error; err != nil {
			return fmt.Errorf("load slot holders: %w", err)
		}
		for i := range holders {
			if !holders[i].Stale(now) {
				return ErrSlotUnavailable
			}
			if err := cancelTx(tx, &holders[i], models.CancelReasonExpired, now); err != nil {
				return err
			}
			expired = append(expired, holders[i])
		}

		if err := tx.Create(booking).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrSlotUnavailable
			}
			return fmt.Errorf("create booking: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			telemetry.SlotConflictsTotal.Inc()
			l.logger.Debug().Str("date", req.Date).Str("slot", req.SlotLabel).Msg("slot already taken")
		}
		return nil, err
	}

	for i := range expired {
		l.emit(ctx, events.EventBookingExpired, &expired[i])
	}
	telemetry.BookingsTotal.WithLabelValues("created").Inc()
	l.emit(ctx, events.EventBookingCreated, booking)

	l.logger.Info().
		Str("booking_id", booking.ID).
		Str("date", booking.Date).
		Str("slot", booking.SlotLabel).
		Str("service", booking.Service.Title).
		Msg("booking created")
	return booking, nil
}

func (l *Ledger) resolveService(ctx context.Context, req CreateRequest) (models.ServiceRef, error) {
	if req.OfferingID == "" {
		ref := *req.Adhoc
		ref.Kind = models.ServiceKindAdhoc
		ref.OfferingID = ""
		ref.OfferingVersion = 0
		ref.Title = strings.TrimSpace(ref.Title)
		if ref.PriceCents < 0 {
			return models.ServiceRef{}, fmt.Errorf("%w: price must not be negative", ErrInvalidRequest)
		}
		return ref, nil
	}

	var offering models.ServiceOffering
	err := l.db.WithContext(ctx).First(&offering, "id = ?", req.OfferingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ServiceRef{}, ErrServiceNotFound
	}
	if err != nil {
		return models.ServiceRef{}, fmt.Errorf("load offering: %w", err)
	}
	if !offering.Active {
		return models.ServiceRef{}, ErrServiceInactive
	}
	return offering.Ref(), nil
}

// ConfirmBooking marks a pending booking paid. Confirming twice is a no-op.
func (l *Ledger) ConfirmBooking(ctx context.Context, id string) (*models.Booking, error) {
	current, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(current.Date)
	defer unlock()

	now := l.now()
	var (
		booking models.Booking
		changed bool
	)
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockBooking(tx, id, &booking); err != nil {
			return err
		}
		switch booking.Status {
		case models.BookingConfirmed:
			return nil
		case models.BookingCancelled:
			return fmt.Errorf("%w: booking %s is cancelled", ErrInvalidTransition, id)
		}

		res := tx.Model(&models.Booking{}).
			Where("id = ? AND status = ?", id, models.BookingPendingPayment).
			Updates(map[string]any{
				"status":       models.BookingConfirmed,
				"is_paid":      true,
				"confirmed_at": now,
				"expires_at":   nil,
			})
		if res.Error != nil {
			return fmt.Errorf("confirm booking: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: booking %s changed concurrently", ErrInvalidTransition, id)
		}
		booking.Status = models.BookingConfirmed
		booking.IsPaid = true
		booking.ConfirmedAt = &now
		booking.ExpiresAt = nil
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		telemetry.BookingsTotal.WithLabelValues("confirmed").Inc()
		l.emit(ctx, events.EventBookingConfirmed, &booking)
		l.logger.Info().Str("booking_id", id).Msg("booking confirmed")
	}
	return &booking, nil
}

// CancelBooking releases the booking's slot. Cancelling a cancelled booking
// returns it unchanged.
func (l *Ledger) CancelBooking(ctx context.Context, id, reason string) (*models.Booking, error) {
	if reason == "" {
		reason = models.CancelReasonAdmin
	}
	current, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(current.Date)
	defer unlock()

	now := l.now()
	var (
		booking models.Booking
		changed bool
	)
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockBooking(tx, id, &booking); err != nil {
			return err
		}
		if booking.Status == models.BookingCancelled {
			return nil
		}
		if err := cancelTx(tx, &booking, reason, now); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		telemetry.BookingsTotal.WithLabelValues("cancelled").Inc()
		l.emit(ctx, events.EventBookingCancelled, &booking)
		l.logger.Info().Str("booking_id", id).Str("reason", reason).Msg("booking cancelled")
	}
	return &booking, nil
}

// ExpirePending cancels pending bookings whose payment window has passed and
// returns how many it expired.
func (l *Ledger) ExpirePending(ctx context.Context) (int, error) {
	now := l.now()

	var stale []models.Booking
	err := l.db.WithContext(ctx).
		Where("status = ? AND active_key IS NOT NULL AND expires_at IS NOT NULL AND expires_at <= ?", models.BookingPendingPayment, now).
		Order("date ASC").
		Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("find stale bookings: %w", err)
	}

	expired := 0
	for i := range stale {
		ok, err := l.expireOne(ctx, &stale[i], now)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		l.logger.Info().Int("count", expired).Msg("expired pending bookings")
	}
	return expired, nil
}

func (l *Ledger) expireOne(ctx context.Context, b *models.Booking, now time.Time) (bool, error) {
	unlock := l.locks.Lock(b.Date)
	defer unlock()

	var booking models.Booking
	changed := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockBooking(tx, b.ID, &booking); err != nil {
			return err
		}
		// Confirmed or cancelled since we listed it.
		if !booking.Stale(now) || booking.ActiveKey == nil {
			return nil
		}
		if err := cancelTx(tx, &booking, models.CancelReasonExpired, now); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if changed {
		telemetry.PendingExpiredTotal.Inc()
		l.emit(ctx, events.EventBookingExpired, &booking)
	}
	return changed, nil
}

// Get loads a booking by id.
func (l *Ledger) Get(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	err := l.db.WithContext(ctx).First(&booking, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	return &booking, nil
}

// ListFilter narrows List.
type ListFilter struct {
	Date   string
	From   string
	To     string
	Status models.BookingStatus
	Email  string
	Limit  int
	Offset int
}

// List returns bookings ordered by date, slot time and creation.
func (l *Ledger) List(ctx context.Context, f ListFilter) ([]models.Booking, error) {
	q := l.db.WithContext(ctx).Model(&models.Booking{})
	if f.Date != "" {
		q = q.Where("date = ?", f.Date)
	}
	if f.From != "" {
		q = q.Where("date >= ?", f.From)
	}
	if f.To != "" {
		q = q.Where("date <= ?", f.To)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Email != "" {
		q = q.Where("customer_email = ?", f.Email)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var out []models.Booking
	err := q.Order("date ASC").Order("created_at ASC").Limit(limit).Offset(f.Offset).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	sortBySlot(out)
	return out, nil
}

func (l *Ledger) emit(ctx context.Context, eventType events.EventType, b *models.Booking) {
	if l.cache.IsAvailable() {
		_ = l.cache.InvalidateOpenSlots(ctx, b.Date)
	}
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventType, events.Payload{
		"booking_id": b.ID,
		"date":       b.Date,
		"slot_label": b.SlotLabel,
		"status":     string(b.Status),
		"reason":     b.CancelReason,
	})
}

func (l *Ledger) now() time.Time {
	return l.clock.Now().UTC()
}

func lockBooking(tx *gorm.DB, id string, dest *models.Booking) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(dest, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load booking: %w", err)
	}
	return nil
}

func cancelTx(tx *gorm.DB, b *models.Booking, reason string, now time.Time) error {
	res := tx.Model(&models.Booking{}).
		Where("id = ? AND status <> ?", b.ID, models.BookingCancelled).
		Updates(map[string]any{
			"status":        models.BookingCancelled,
			"is_paid":       false,
			"active_key":    nil,
			"cancelled_at":  now,
			"cancel_reason": reason,
		})
	if res.Error != nil {
		return fmt.Errorf("cancel booking %s: %w", b.ID, res.Error)
	}
	b.Status = models.BookingCancelled
	b.IsPaid = false
	b.ActiveKey = nil
	b.CancelledAt = &now
	b.CancelReason = reason
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// sortBySlot orders bookings by date then slot clock time.
func sortBySlot(list []models.Booking) {
	minutes := func(label string) int {
		m, err := slots.ParseLabel(label)
		if err != nil {
			return -1
		}
		return m
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Date != list[j].Date {
			return list[i].Date < list[j].Date
		}
		return minutes(list[i].SlotLabel) < minutes(list[j].SlotLabel)
	})
}
