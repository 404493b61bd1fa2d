/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/google/uuid"
)

// ItemKind distinguishes what a scheduled item turns into once published.
type ItemKind string

const (
	ItemKindContentPost ItemKind = "content_post"
	ItemKindEventFlyer  ItemKind = "event_flyer"
)

// Valid reports whether k is a known kind.
func (k ItemKind) Valid() bool {
	return k == ItemKindContentPost || k == ItemKindEventFlyer
}

// ItemStatus tracks the publish lifecycle.
type ItemStatus string

const (
	ItemStatusScheduled ItemStatus = "scheduled"
	ItemStatusPublished ItemStatus = "published"
	ItemStatusDraft     ItemStatus = "draft"
)

// ItemPayload carries the kind-specific content of a scheduled item.
// Posts use Title/Body/Excerpt/Image/Category/Author; flyers use
// Title/Image/Description/EventDate.
type ItemPayload struct {
	Title       string `json:"title"`
	Body        string `json:"body,omitempty"`
	Excerpt     string `json:"excerpt,omitempty"`
	Image       string `json:"image,omitempty"`
	Category    string `json:"category,omitempty"`
	Author      string `json:"author,omitempty"`
	Description string `json:"description,omitempty"`
	EventDate   string `json:"event_date,omitempty"`
}

// ScheduledItem is content waiting for its publish instant.
type ScheduledItem struct {
	ID      string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	Kind    ItemKind    `gorm:"type:varchar(16);not null;index" json:"kind"`
	Payload ItemPayload `gorm:"type:text;serializer:json" json:"payload"`

	// TargetDate/TargetTime are what the administrator entered (local wall time);
	// TargetAt is the same instant in UTC and is what due checks compare against.
	TargetDate string    `gorm:"type:varchar(10)" json:"target_date"`
	TargetTime string    `gorm:"type:varchar(5)" json:"target_time"`
	TargetAt   time.Time `gorm:"index:idx_scheduled_items_due,priority:2" json:"target_at"`

	Status      ItemStatus `gorm:"type:varchar(16);not null;index:idx_scheduled_items_due,priority:1" json:"status"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	RetryAt     *time.Time `json:"retry_at,omitempty"`
	ContentID   string     `gorm:"type:varchar(36)" json:"content_id,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (ScheduledItem) TableName() string {
	return "scheduled_items"
}

// NewScheduledItem returns an item with a time-ordered ID.
func NewScheduledItem(kind ItemKind, payload ItemPayload) *ScheduledItem {
	return &ScheduledItem{
		ID:      uuid.Must(uuid.NewV7()).String(),
		Kind:    kind,
		Payload: payload,
		Status:  ItemStatusDraft,
	}
}

// IsDue reports whether a scheduled item should be published at now.
func (i *ScheduledItem) IsDue(now time.Time) bool {
	if i.Status != ItemStatusScheduled || i.TargetAt.IsZero() || i.TargetAt.After(now) {
		return false
	}
	return i.RetryAt == nil || !i.RetryAt.After(now)
}
