/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package content holds the published records the public site reads.
package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/timegate/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("content not found")

// Writer accepts published records. Writes are keyed by the source item, so
// writing the same item twice leaves one record.
type Writer interface {
	WritePost(ctx context.Context, post *models.ContentPost) error
	WriteFlyer(ctx context.Context, flyer *models.EventFlyer) error
}

// DBStore is the primary content store.
type DBStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewDBStore creates a database-backed content store.
func NewDBStore(db *gorm.DB, logger zerolog.Logger) *DBStore {
	return &DBStore{db: db, logger: logger.With().Str("component", "content").Logger()}
}

// WritePost inserts post. If the source item was already written, post.ID is
// set to the existing record's id.
func (s *DBStore) WritePost(ctx context.Context, post *models.ContentPost) error {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "source_item_id"}}, DoNothing: true}).
		Create(post).Error
	if err != nil {
		return fmt.Errorf("write post: %w", err)
	}
	var existing models.ContentPost
	if err := s.db.WithContext(ctx).Select("id").First(&existing, "source_item_id = ?", post.SourceItemID).Error; err != nil {
		return fmt.Errorf("read back post: %w", err)
	}
	post.ID = existing.ID
	return nil
}

// WriteFlyer inserts flyer with the same semantics as WritePost.
func (s *DBStore) WriteFlyer(ctx context.Context, flyer *models.EventFlyer) error {
	if flyer.ID == "" {
		flyer.ID = uuid.NewString()
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "source_item_id"}}, DoNothing: true}).
		Create(flyer).Error
	if err != nil {
		return fmt.Errorf("write flyer: %w", err)
	}
	var existing models.EventFlyer
	if err := s.db.WithContext(ctx).Select("id").First(&existing, "source_item_id = ?", flyer.SourceItemID).Error; err != nil {
		return fmt.Errorf("read back flyer: %w", err)
	}
	flyer.ID = existing.ID
	return nil
}

// ListPosts returns posts newest first, optionally filtered by category.
func (s *DBStore) ListPosts(ctx context.Context, category string, limit, offset int) ([]models.ContentPost, error) {
	q := s.db.WithContext(ctx).Order("published_date DESC").Limit(clampLimit(limit)).Offset(offset)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var out []models.ContentPost
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return out, nil
}

// GetPost loads one post.
func (s *DBStore) GetPost(ctx context.Context, id string) (*models.ContentPost, error) {
	var post models.ContentPost
	err := s.db.WithContext(ctx).First(&post, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load post: %w", err)
	}
	return &post, nil
}

// ListFlyers returns flyers ordered by event date.
func (s *DBStore) ListFlyers(ctx context.Context, limit, offset int) ([]models.EventFlyer, error) {
	var out []models.EventFlyer
	err := s.db.WithContext(ctx).Order("date ASC").Limit(clampLimit(limit)).Offset(offset).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list flyers: %w", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
