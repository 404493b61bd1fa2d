/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package publishing holds scheduled content and publishes it when due.
package publishing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/timegate/internal/clock"
	"github.com/friendsincode/timegate/internal/events"
	"github.com/friendsincode/timegate/internal/models"
	"github.com/friendsincode/timegate/internal/slots"
)

var (
	ErrNotFound         = errors.New("scheduled item not found")
	ErrInvalidItem      = errors.New("invalid scheduled item")
	ErrItemDraft        = errors.New("item is a draft")
	ErrAlreadyPublished = errors.New("item already published")
	ErrPublishWrite     = errors.New("content store write failed")
)

// Observer is told about every item whose schedule may have changed.
type Observer interface {
	Notify(item *models.ScheduledItem)
	Forget(id string)
}

// ItemInput is the editable part of a scheduled item. TargetDate and
// TargetTime are wall-clock values in the queue's location.
type ItemInput struct {
	Kind       models.ItemKind    `json:"kind"`
	Payload    models.ItemPayload `json:"payload"`
	TargetDate string             `json:"target_date"`
	TargetTime string             `json:"target_time"`
}

// Queue stores scheduled items.
type Queue struct {
	db       *gorm.DB
	clock    clock.Clock
	location *time.Location
	bus      events.Publisher
	observer Observer
	logger   zerolog.Logger
}

// NewQueue creates a queue. A nil location means UTC.
func NewQueue(db *gorm.DB, loc *time.Location, clk clock.Clock, bus events.Publisher, logger zerolog.Logger) *Queue {
	if loc == nil {
		loc = time.UTC
	}
	return &Queue{
		db:       db,
		clock:    clock.Or(clk),
		location: loc,
		bus:      bus,
		logger:   logger.With().Str("component", "queue").Logger(),
	}
}

// SetObserver registers the scheduler so it can re-arm its timer.
func (q *Queue) SetObserver(o Observer) {
	q.observer = o
}

// Location returns the zone target times are interpreted in.
func (q *Queue) Location() *time.Location {
	return q.location
}

// TargetInstant resolves a wall-clock date and HH:MM time to a UTC instant.
func (q *Queue) TargetInstant(date, hhmm string) (time.Time, error) {
	if _, err := slots.ParseDate(date); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	minutes, err := slots.ParseClock(hhmm)
	if err != nil || minutes >= 24*60 {
		return time.Time{}, fmt.Errorf("%w: invalid target time %q", ErrInvalidItem, hhmm)
	}
	t, err := time.ParseInLocation(slots.DateLayout+" 15:04", date+" "+slots.FormatClock(minutes), q.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	return t.UTC(), nil
}

func (q *Queue) validate(in *ItemInput, needTarget bool) (time.Time, error) {
	if !in.Kind.Valid() {
		return time.Time{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, in.Kind)
	}
	in.Payload.Title = strings.TrimSpace(in.Payload.Title)
	if in.Payload.Title == "" {
		return time.Time{}, fmt.Errorf("%w: title is required", ErrInvalidItem)
	}
	if in.TargetDate == "" && in.TargetTime == "" {
		if needTarget {
			return time.Time{}, fmt.Errorf("%w: target date and time are required", ErrInvalidItem)
		}
		return time.Time{}, nil
	}
	return q.TargetInstant(in.TargetDate, in.TargetTime)
}

// Enqueue stores a new scheduled item.
func (q *Queue) Enqueue(ctx context.Context, in ItemInput) (*models.ScheduledItem, error) {
	at, err := q.validate(&in, true)
	if err != nil {
		return nil, err
	}
	item := models.NewScheduledItem(in.Kind, in.Payload)
	item.Status = models.ItemStatusScheduled
	item.TargetDate, item.TargetTime, item.TargetAt = in.TargetDate, in.TargetTime, at

	if err := q.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, fmt.Errorf("enqueue item: %w", err)
	}
	q.changed(events.EventItemScheduled, item)
	q.logger.Info().Str("item_id", item.ID).Time("target_at", at).Msg("item scheduled")
	return item, nil
}

// SaveDraft stores a new draft. The scheduler never touches drafts.
func (q *Queue) SaveDraft(ctx context.Context, in ItemInput) (*models.ScheduledItem, error) {
	at, err := q.validate(&in, false)
	if err != nil {
		return nil, err
	}
	item := models.NewScheduledItem(in.Kind, in.Payload)
	item.TargetDate, item.TargetTime, item.TargetAt = in.TargetDate, in.TargetTime, at

	if err := q.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}
	return item, nil
}

// Update replaces an unpublished item's content and target.
func (q *Queue) Update(ctx context.Context, id string, in ItemInput) (*models.ScheduledItem, error) {
	item, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status == models.ItemStatusPublished {
		return nil, ErrAlreadyPublished
	}
	if in.Kind == "" {
		in.Kind = item.Kind
	}
	at, err := q.validate(&in, item.Status == models.ItemStatusScheduled)
	if err != nil {
		return nil, err
	}

	res := q.db.WithContext(ctx).Model(&models.ScheduledItem{}).
		Where("id = ? AND status <> ?", id, models.ItemStatusPublished).
		Select("kind", "payload", "target_date", "target_time", "target_at", "retry_at", "updated_at").
		Updates(&models.ScheduledItem{
			Kind:       in.Kind,
			Payload:    in.Payload,
			TargetDate: in.TargetDate,
			TargetTime: in.TargetTime,
			TargetAt:   at,
			UpdatedAt:  q.clock.Now().UTC(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyPublished
	}

	item, err = q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	q.changed(events.EventItemUpdated, item)
	return item, nil
}

// Delete removes an unpublished item.
func (q *Queue) Delete(ctx context.Context, id string) error {
	item, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	res := q.db.WithContext(ctx).
		Where("id = ? AND status <> ?", id, models.ItemStatusPublished).
		Delete(&models.ScheduledItem{})
	if res.Error != nil {
		return fmt.Errorf("delete item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyPublished
	}
	if q.observer != nil {
		q.observer.Forget(id)
	}
	if q.bus != nil {
		q.bus.Publish(events.EventItemUpdated, events.Payload{"item_id": id, "kind": string(item.Kind), "deleted": true})
	}
	return nil
}

// Schedule moves a draft to scheduled. Empty date and time keep the draft's
// existing target.
func (q *Queue) Schedule(ctx context.Context, id, date, hhmm string) (*models.ScheduledItem, error) {
	item, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch item.Status {
	case models.ItemStatusPublished:
		return nil, ErrAlreadyPublished
	case models.ItemStatusScheduled:
		if date == "" && hhmm == "" {
			return item, nil
		}
	}
	if date == "" && hhmm == "" {
		date, hhmm = item.TargetDate, item.TargetTime
	}
	at, err := q.TargetInstant(date, hhmm)
	if err != nil {
		return nil, err
	}

	res := q.db.WithContext(ctx).Model(&models.ScheduledItem{}).
		Where("id = ? AND status <> ?", id, models.ItemStatusPublished).
		Updates(map[string]any{
			"status":      models.ItemStatusScheduled,
			"target_date": date,
			"target_time": hhmm,
			"target_at":   at,
			"retry_at":    nil,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("schedule item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyPublished
	}

	item.Status = models.ItemStatusScheduled
	item.TargetDate, item.TargetTime, item.TargetAt, item.RetryAt = date, hhmm, at, nil
	q.changed(events.EventItemScheduled, item)
	return item, nil
}

// Unschedule moves a scheduled item back to draft.
func (q *Queue) Unschedule(ctx context.Context, id string) (*models.ScheduledItem, error) {
	res := q.db.WithContext(ctx).Model(&models.ScheduledItem{}).
		Where("id = ? AND status = ?", id, models.ItemStatusScheduled).
		Update("status", models.ItemStatusDraft)
	if res.Error != nil {
		return nil, fmt.Errorf("unschedule item: %w", res.Error)
	}
	item, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && item.Status == models.ItemStatusPublished {
		return nil, ErrAlreadyPublished
	}
	q.changed(events.EventItemUpdated, item)
	return item, nil
}

// Get loads one item.
func (q *Queue) Get(ctx context.Context, id string) (*models.ScheduledItem, error) {
	var item models.ScheduledItem
	err := q.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	return &item, nil
}

// ListFilter narrows List.
type ListFilter struct {
	Status models.ItemStatus
	Kind   models.ItemKind
	Limit  int
	Offset int
}

// List returns items by target instant, most recent first.
func (q *Queue) List(ctx context.Context, f ListFilter) ([]models.ScheduledItem, error) {
	query := q.db.WithContext(ctx).Order("target_at DESC").Order("id DESC")
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Kind != "" {
		query = query.Where("kind = ?", f.Kind)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.ScheduledItem
	if err := query.Limit(limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return out, nil
}

// ListDue returns scheduled items whose target instant is at or before now
// and that are not waiting out a retry delay, oldest first.
func (q *Queue) ListDue(ctx context.Context, now time.Time) ([]models.ScheduledItem, error) {
	now = now.UTC()
	var out []models.ScheduledItem
	err := q.db.WithContext(ctx).
		Where("status = ? AND target_at <= ?", models.ItemStatusScheduled, now).
		Where("retry_at IS NULL OR retry_at <= ?", now).
		Order("target_at ASC").Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list due items: %w", err)
	}
	return out, nil
}

// pending returns the schedule of every scheduled item for the in-memory index.
func (q *Queue) pending(ctx context.Context) ([]models.ScheduledItem, error) {
	var out []models.ScheduledItem
	err := q.db.WithContext(ctx).
		Select("id", "status", "target_at", "retry_at").
		Where("status = ?", models.ItemStatusScheduled).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list scheduled items: %w", err)
	}
	return out, nil
}

func (q *Queue) changed(eventType events.EventType, item *models.ScheduledItem) {
	if q.observer != nil {
		q.observer.Notify(item)
	}
	if q.bus != nil {
		q.bus.Publish(eventType, events.Payload{
			"item_id":   item.ID,
			"kind":      string(item.Kind),
			"status":    string(item.Status),
			"target_at": item.TargetAt,
		})
	}
}
