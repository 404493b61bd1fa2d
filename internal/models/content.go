/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ContentPost is a published article in the content store.
type ContentPost struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	SourceItemID  string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"-"`
	Title         string    `gorm:"type:varchar(255);not null" json:"title"`
	Excerpt       string    `gorm:"type:text" json:"excerpt"`
	Body          string    `gorm:"type:text" json:"body"`
	Image         string    `gorm:"type:varchar(512)" json:"image"`
	Author        string    `gorm:"type:varchar(255)" json:"author"`
	PublishedDate time.Time `gorm:"index" json:"publishedDate"`
	Category      string    `gorm:"type:varchar(64);index" json:"category"`
}

// TableName returns the table name for GORM.
func (ContentPost) TableName() string {
	return "content_posts"
}

// EventFlyer is a published event announcement in the content store.
type EventFlyer struct {
	ID           string `gorm:"type:varchar(36);primaryKey" json:"id"`
	SourceItemID string `gorm:"type:varchar(36);not null;uniqueIndex" json:"-"`
	Title        string `gorm:"type:varchar(255);not null" json:"title"`
	Image        string `gorm:"type:varchar(512)" json:"image"`
	Date         string `gorm:"type:varchar(32);index" json:"date"`
	Description  string `gorm:"type:text" json:"description"`
}

// TableName returns the table name for GORM.
func (EventFlyer) TableName() string {
	return "event_flyers"
}
