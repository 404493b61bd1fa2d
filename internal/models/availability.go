/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AvailabilitySlot is one bookable label on a calendar date.
type AvailabilitySlot struct {
	ID      string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Date    string `gorm:"type:varchar(10);not null;uniqueIndex:idx_availability_date_label,priority:1" json:"date"`
	Label   string `gorm:"type:varchar(16);not null;uniqueIndex:idx_availability_date_label,priority:2" json:"label"`
	Minutes int    `gorm:"not null" json:"minutes"` // minutes since midnight, sort key

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (AvailabilitySlot) TableName() string {
	return "availability_slots"
}

// TimeSlot is the read model handed to booking clients.
type TimeSlot struct {
	Label       string `json:"label"`
	IsAvailable bool   `json:"isAvailable"`
}
