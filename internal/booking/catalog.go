/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/timegate/internal/cache"
	"github.com/friendsincode/timegate/internal/events"
	"github.com/friendsincode/timegate/internal/models"
)

// ErrVersionConflict is returned when an offering changed since it was read.
var ErrVersionConflict = errors.New("offering was modified concurrently")

// Catalog manages the service offerings customers can book.
type Catalog struct {
	db     *gorm.DB
	bus    events.Publisher
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewCatalog creates a catalog.
func NewCatalog(db *gorm.DB, bus events.Publisher, c *cache.Cache, logger zerolog.Logger) *Catalog {
	return &Catalog{
		db:     db,
		bus:    bus,
		cache:  c,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

// OfferingInput carries editable offering fields. Nil pointers are left alone
// on update.
type OfferingInput struct {
	Title         *string `json:"title"`
	DurationLabel *string `json:"duration_label"`
	PriceCents    *int64  `json:"price_cents"`
	Description   *string `json:"description"`
	Active        *bool   `json:"active"`
}

func (in OfferingInput) apply(o *models.ServiceOffering) error {
	if in.Title != nil {
		o.Title = strings.TrimSpace(*in.Title)
	}
	if in.DurationLabel != nil {
		o.DurationLabel = strings.TrimSpace(*in.DurationLabel)
	}
	if in.PriceCents != nil {
		o.PriceCents = *in.PriceCents
	}
	if in.Description != nil {
		o.Description = *in.Description
	}
	if in.Active != nil {
		o.Active = *in.Active
	}
	if o.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if o.PriceCents < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidRequest)
	}
	return nil
}

// CreateOffering adds an offering. New offerings are active unless the input
// says otherwise.
func (c *Catalog) CreateOffering(ctx context.Context, in OfferingInput) (*models.ServiceOffering, error) {
	o := &models.ServiceOffering{
		ID:      uuid.NewString(),
		Active:  true,
		Version: 1,
	}
	if err := in.apply(o); err != nil {
		return nil, err
	}
	if err := c.db.WithContext(ctx).Create(o).Error; err != nil {
		return nil, fmt.Errorf("create offering: %w", err)
	}
	c.changed(ctx, o)
	c.logger.Info().Str("offering_id", o.ID).Str("title", o.Title).Msg("offering created")
	return o, nil
}

// UpdateOffering applies in to the offering if its version still equals
// expectedVersion, bumping the version. expectedVersion 0 skips the check.
// Bookings keep the snapshot they were created with.
func (c *Catalog) UpdateOffering(ctx context.Context, id string, expectedVersion int, in OfferingInput) (*models.ServiceOffering, error) {
	o, err := c.GetOffering(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion != 0 && o.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	read := o.Version
	if err := in.apply(o); err != nil {
		return nil, err
	}
	o.Version = read + 1

	res := c.db.WithContext(ctx).Model(&models.ServiceOffering{}).
		Where("id = ? AND version = ?", id, read).
		Updates(map[string]any{
			"title":          o.Title,
			"duration_label": o.DurationLabel,
			"price_cents":    o.PriceCents,
			"description":    o.Description,
			"active":         o.Active,
			"version":        o.Version,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update offering: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrVersionConflict
	}

	c.changed(ctx, o)
	c.logger.Info().Str("offering_id", id).Int("version", o.Version).Msg("offering updated")
	return o, nil
}

// SetActive toggles whether customers can book the offering.
func (c *Catalog) SetActive(ctx context.Context, id string, active bool) (*models.ServiceOffering, error) {
	return c.UpdateOffering(ctx, id, 0, OfferingInput{Active: &active})
}

// GetOffering loads one offering.
func (c *Catalog) GetOffering(ctx context.Context, id string) (*models.ServiceOffering, error) {
	var o models.ServiceOffering
	err := c.db.WithContext(ctx).First(&o, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load offering: %w", err)
	}
	return &o, nil
}

// ListOfferings returns offerings by title, optionally including inactive ones.
func (c *Catalog) ListOfferings(ctx context.Context, includeInactive bool) ([]models.ServiceOffering, error) {
	q := c.db.WithContext(ctx).Order("title ASC")
	if !includeInactive {
		q = q.Where("active = ?", true)
	}
	var out []models.ServiceOffering
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list offerings: %w", err)
	}
	return out, nil
}

// PublicOfferings is the cached visitor view of active offerings.
func (c *Catalog) PublicOfferings(ctx context.Context) ([]cache.CachedOffering, error) {
	if list, ok := c.cache.GetOfferings(ctx); ok {
		return list, nil
	}
	active, err := c.ListOfferings(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]cache.CachedOffering, 0, len(active))
	for _, o := range active {
		out = append(out, cache.CachedOffering{
			ID:            o.ID,
			Title:         o.Title,
			DurationLabel: o.DurationLabel,
			PriceCents:    o.PriceCents,
			Description:   o.Description,
			Version:       o.Version,
		})
	}
	if c.cache.IsAvailable() {
		_ = c.cache.SetOfferings(ctx, out)
	}
	return out, nil
}

func (c *Catalog) changed(ctx context.Context, o *models.ServiceOffering) {
	if c.cache.IsAvailable() {
		_ = c.cache.InvalidateOfferings(ctx)
	}
	if c.bus != nil {
		c.bus.Publish(events.EventOfferingUpdated, events.Payload{
			"offering_id": o.ID,
			"version":     o.Version,
			"active":      o.Active,
		})
	}
}
