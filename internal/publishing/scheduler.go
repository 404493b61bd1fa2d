/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package publishing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/timegate/internal/clock"
	"github.com/friendsincode/timegate/internal/content"
	"github.com/friendsincode/timegate/internal/events"
	"github.com/friendsincode/timegate/internal/models"
	"github.com/friendsincode/timegate/internal/telemetry"
)

// PublishResult reports what a publish attempt did.
type PublishResult string

const (
	ResultPublished        PublishResult = "published"
	ResultAlreadyPublished PublishResult = "already_published"
	ResultRetryScheduled   PublishResult = "retry_scheduled"
	ResultSkipped          PublishResult = "skipped"
)

// settleTimeout bounds the storage calls that finish a publish once the item
// has been claimed. They run detached from the caller's context.
const settleTimeout = 10 * time.Second

// Config tunes the scheduler.
type Config struct {
	Interval      time.Duration // resync cadence and longest sleep
	RetryDelay    time.Duration
	ExcerptLength int
}

type dueEntry struct {
	at time.Time
	id string
}

func dueLess(a, b dueEntry) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.id < b.id
}

// Scheduler publishes due items. It keeps an ordered index of upcoming
// instants so it can sleep until the earliest one, and resyncs the index from
// storage every Interval. Storage stays authoritative: every publish is a
// conditional scheduled -> published update, so a stale index entry or a
// concurrent PublishNow can never publish an item twice.
type Scheduler struct {
	db     *gorm.DB
	queue  *Queue
	store  content.Writer
	clock  clock.Clock
	bus    events.Publisher
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex
	index *btree.BTreeG[dueEntry]
	byID  map[string]time.Time
	wake  chan struct{}
}

// NewScheduler creates a scheduler and registers it with the queue.
func NewScheduler(db *gorm.DB, queue *Queue, store content.Writer, clk clock.Clock, bus events.Publisher, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = cfg.Interval
	}
	if cfg.ExcerptLength <= 0 {
		cfg.ExcerptLength = DefaultExcerptLength
	}
	s := &Scheduler{
		db:     db,
		queue:  queue,
		store:  store,
		clock:  clock.Or(clk),
		bus:    bus,
		cfg:    cfg,
		logger: logger.With().Str("component", "publisher").Logger(),
		index:  btree.NewG[dueEntry](16, dueLess),
		byID:   make(map[string]time.Time),
		wake:   make(chan struct{}, 1),
	}
	queue.SetObserver(s)
	return s
}

// Notify re-indexes item after a queue change.
func (s *Scheduler) Notify(item *models.ScheduledItem) {
	s.mu.Lock()
	s.removeLocked(item.ID)
	if item.Status == models.ItemStatusScheduled && !item.TargetAt.IsZero() {
		at := item.TargetAt
		if item.RetryAt != nil && item.RetryAt.After(at) {
			at = *item.RetryAt
		}
		s.insertLocked(item.ID, at)
	}
	telemetry.SchedulerQueueDepth.Set(float64(s.index.Len()))
	s.mu.Unlock()
	s.poke()
}

// Forget drops id from the index.
func (s *Scheduler) Forget(id string) {
	s.mu.Lock()
	s.removeLocked(id)
	telemetry.SchedulerQueueDepth.Set(float64(s.index.Len()))
	s.mu.Unlock()
}

func (s *Scheduler) insertLocked(id string, at time.Time) {
	at = at.UTC()
	s.index.ReplaceOrInsert(dueEntry{at: at, id: id})
	s.byID[id] = at
}

func (s *Scheduler) removeLocked(id string) {
	if at, ok := s.byID[id]; ok {
		s.index.Delete(dueEntry{at: at, id: id})
		delete(s.byID, id)
	}
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of indexed items.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Len()
}

// NextDue returns the earliest indexed instant.
func (s *Scheduler) NextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.index.Min()
	return e.at, ok
}

// Resync rebuilds the index from storage.
func (s *Scheduler) Resync(ctx context.Context) error {
	items, err := s.queue.pending(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.index.Clear(false)
	s.byID = make(map[string]time.Time, len(items))
	for i := range items {
		at := items[i].TargetAt
		if items[i].RetryAt != nil && items[i].RetryAt.After(at) {
			at = *items[i].RetryAt
		}
		s.insertLocked(items[i].ID, at)
	}
	telemetry.SchedulerQueueDepth.Set(float64(s.index.Len()))
	s.mu.Unlock()
	return nil
}

// Run publishes due items until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Resync(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initial resync failed")
		telemetry.SchedulerErrorsTotal.WithLabelValues("resync").Inc()
	}

	resync := time.NewTicker(s.cfg.Interval)
	defer resync.Stop()
	timer := time.NewTimer(s.sleepFor())
	defer timer.Stop()

	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("publisher started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("publisher stopped")
			return ctx.Err()
		case <-resync.C:
			if err := s.Resync(ctx); err != nil {
				s.logger.Error().Err(err).Msg("resync failed")
				telemetry.SchedulerErrorsTotal.WithLabelValues("resync").Inc()
			}
			s.tick(ctx)
		case <-timer.C:
			s.tick(ctx)
		case <-s.wake:
		}
		timer.Reset(s.sleepFor())
	}
}

func (s *Scheduler) sleepFor() time.Duration {
	next, ok := s.NextDue()
	if !ok {
		return s.cfg.Interval
	}
	d := next.Sub(s.clock.Now())
	if d < 0 {
		return 0
	}
	if d > s.cfg.Interval {
		return s.cfg.Interval
	}
	return d
}

func (s *Scheduler) tick(ctx context.Context) {
	telemetry.SchedulerTicksTotal.Inc()
	if _, err := s.PublishDue(ctx); err != nil {
		s.logger.Error().Err(err).Msg("publish pass failed")
		telemetry.SchedulerErrorsTotal.WithLabelValues("publish_due").Inc()
	}
}

// PublishDue publishes every item due at the current instant and returns how
// many were published.
func (s *Scheduler) PublishDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.queue.ListDue(ctx, now)
	if err != nil {
		return 0, err
	}
	s.pruneStale(now, due)

	published := 0
	for i := range due {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		res, err := s.publish(ctx, due[i].ID, now, true)
		if err != nil {
			s.logger.Error().Err(err).Str("item_id", due[i].ID).Msg("publish failed")
			telemetry.SchedulerErrorsTotal.WithLabelValues("publish").Inc()
			continue
		}
		if res == ResultPublished {
			published++
		}
	}
	return published, nil
}

// pruneStale drops index entries at or before now that storage no longer
// reports as due, such as items published or unscheduled by another process.
// Left in place they would keep the run loop's timer at zero.
func (s *Scheduler) pruneStale(now time.Time, due []models.ScheduledItem) {
	keep := make(map[string]struct{}, len(due))
	for i := range due {
		keep[due[i].ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []string
	s.index.AscendLessThan(dueEntry{at: now.UTC().Add(time.Nanosecond)}, func(e dueEntry) bool {
		if _, ok := keep[e.id]; !ok {
			stale = append(stale, e.id)
		}
		return true
	})
	for _, id := range stale {
		s.removeLocked(id)
	}
	if len(stale) > 0 {
		telemetry.SchedulerQueueDepth.Set(float64(s.index.Len()))
		s.logger.Debug().Int("count", len(stale)).Msg("dropped stale index entries")
	}
}

// PublishNow publishes one scheduled item regardless of its target instant.
// A content store failure is reported as ResultRetryScheduled, not an error.
func (s *Scheduler) PublishNow(ctx context.Context, id string) (PublishResult, error) {
	return s.publish(ctx, id, s.now(), false)
}

func (s *Scheduler) publish(ctx context.Context, id string, now time.Time, dueOnly bool) (PublishResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "publisher", "publish")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"item_id": id})

	claim := s.db.WithContext(ctx).Model(&models.ScheduledItem{}).
		Where("id = ? AND status = ?", id, models.ItemStatusScheduled)
	if dueOnly {
		claim = claim.Where("target_at <= ?", now)
	}
	res := claim.Updates(map[string]any{
		"status":       models.ItemStatusPublished,
		"published_at": now,
	})
	if res.Error != nil {
		telemetry.RecordError(span, res.Error)
		return "", fmt.Errorf("claim item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.explainLostClaim(ctx, id)
	}

	// The item is claimed. Finishing or undoing the claim must not depend on
	// the caller staying around.
	settle, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	item, err := s.queue.Get(settle, id)
	if err != nil {
		telemetry.RecordError(span, err)
		return s.rollback(settle, id, nil, now, fmt.Errorf("load claimed item: %w", err))
	}

	contentID, err := s.write(ctx, item, now)
	if err != nil {
		telemetry.RecordError(span, err)
		return s.rollback(settle, id, item, now, err)
	}

	if err := s.db.WithContext(settle).Model(&models.ScheduledItem{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"content_id": contentID,
			"last_error": "",
			"retry_at":   nil,
		}).Error; err != nil {
		s.logger.Warn().Err(err).Str("item_id", id).Msg("failed to record content id")
	}
	item.ContentID = contentID

	s.Forget(id)
	telemetry.PublishResultsTotal.WithLabelValues(string(item.Kind), string(ResultPublished)).Inc()
	telemetry.PublishLagSeconds.Observe(now.Sub(item.TargetAt).Seconds())
	if s.bus != nil {
		s.bus.Publish(events.EventItemPublished, events.Payload{
			"item_id":    item.ID,
			"kind":       string(item.Kind),
			"content_id": contentID,
		})
	}
	s.logger.Info().Str("item_id", id).Str("kind", string(item.Kind)).Str("content_id", contentID).Msg("item published")
	return ResultPublished, nil
}

// explainLostClaim reports why the claim matched nothing and corrects the
// index for the item.
func (s *Scheduler) explainLostClaim(ctx context.Context, id string) (PublishResult, error) {
	item, err := s.queue.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.Forget(id)
		}
		return "", err
	}
	switch item.Status {
	case models.ItemStatusDraft:
		s.Forget(id)
		return "", ErrItemDraft
	case models.ItemStatusPublished:
		s.Forget(id)
		return ResultAlreadyPublished, nil
	case models.ItemStatusScheduled:
		// Not yet due; index it at its stored instant.
		s.Notify(item)
		return ResultSkipped, nil
	}
	s.Forget(id)
	return ResultSkipped, nil
}

func (s *Scheduler) write(ctx context.Context, item *models.ScheduledItem, now time.Time) (string, error) {
	p := item.Payload
	switch item.Kind {
	case models.ItemKindContentPost:
		excerpt := p.Excerpt
		if excerpt == "" {
			excerpt = Excerpt(p.Body, s.cfg.ExcerptLength)
		}
		post := &models.ContentPost{
			SourceItemID:  item.ID,
			Title:         p.Title,
			Excerpt:       excerpt,
			Body:          p.Body,
			Image:         p.Image,
			Author:        p.Author,
			PublishedDate: now,
			Category:      p.Category,
		}
		if err := s.store.WritePost(ctx, post); err != nil {
			return "", fmt.Errorf("%w: %v", ErrPublishWrite, err)
		}
		return post.ID, nil
	case models.ItemKindEventFlyer:
		flyer := &models.EventFlyer{
			SourceItemID: item.ID,
			Title:        p.Title,
			Image:        p.Image,
			Date:         p.EventDate,
			Description:  p.Description,
		}
		if err := s.store.WriteFlyer(ctx, flyer); err != nil {
			return "", fmt.Errorf("%w: %v", ErrPublishWrite, err)
		}
		return flyer.ID, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrPublishWrite, item.Kind)
}

// rollback returns a claimed item to scheduled after a failed write. item is
// nil when the claimed row could not be loaded.
func (s *Scheduler) rollback(ctx context.Context, id string, item *models.ScheduledItem, now time.Time, cause error) (PublishResult, error) {
	retryAt := now.Add(s.cfg.RetryDelay)

	res := s.db.WithContext(ctx).Model(&models.ScheduledItem{}).
		Where("id = ? AND status = ?", id, models.ItemStatusPublished).
		Updates(map[string]any{
			"status":       models.ItemStatusScheduled,
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   cause.Error(),
			"retry_at":     retryAt,
			"published_at": nil,
		})
	if res.Error != nil {
		telemetry.SchedulerErrorsTotal.WithLabelValues("rollback").Inc()
		s.logger.Error().
			Err(res.Error).
			AnErr("cause", cause).
			Str("item_id", id).
			Msg("failed to re-queue claimed item")
		return "", errors.Join(cause, fmt.Errorf("roll back item %s: %w", id, res.Error))
	}

	kind := "unknown"
	attempts := 0
	if item != nil {
		item.Status = models.ItemStatusScheduled
		item.Attempts++
		item.LastError = cause.Error()
		item.RetryAt = &retryAt
		item.PublishedAt = nil
		s.Notify(item)
		kind = string(item.Kind)
		attempts = item.Attempts
	} else {
		s.mu.Lock()
		s.removeLocked(id)
		s.insertLocked(id, retryAt)
		s.mu.Unlock()
		s.poke()
	}

	telemetry.PublishResultsTotal.WithLabelValues(kind, string(ResultRetryScheduled)).Inc()
	if s.bus != nil {
		s.bus.Publish(events.EventItemPublishFailed, events.Payload{
			"item_id":  id,
			"kind":     kind,
			"attempts": attempts,
			"error":    cause.Error(),
			"retry_at": retryAt,
		})
	}
	s.logger.Warn().
		Err(cause).
		Str("item_id", id).
		Int("attempt", attempts).
		Time("retry_at", retryAt).
		Msg("content write failed, item re-queued")
	return ResultRetryScheduled, nil
}

func (s *Scheduler) now() time.Time {
	return s.clock.Now().UTC()
}
