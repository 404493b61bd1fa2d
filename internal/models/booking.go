/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BookingStatus tracks where a booking is in its lifecycle.
type BookingStatus string

const (
	BookingPendingPayment BookingStatus = "pending_payment"
	BookingConfirmed      BookingStatus = "confirmed"
	BookingCancelled      BookingStatus = "cancelled"
)

// Cancel reasons recorded on bookings.
const (
	CancelReasonCustomer    = "customer"
	CancelReasonAdmin       = "admin"
	CancelReasonExpired     = "expired"
	CancelReasonSlotRemoved = "slot_removed"
)

// Active reports whether the booking still holds its slot.
func (s BookingStatus) Active() bool {
	return s == BookingPendingPayment || s == BookingConfirmed
}

// ServiceKind tags what a ServiceRef points at.
type ServiceKind string

const (
	ServiceKindOffering ServiceKind = "offering"
	ServiceKindAdhoc    ServiceKind = "adhoc"
)

// ServiceRef is the snapshot of what was booked, frozen at booking time.
type ServiceRef struct {
	Kind            ServiceKind `json:"kind"`
	OfferingID      string      `json:"offering_id,omitempty"`
	OfferingVersion int         `json:"offering_version,omitempty"`
	Title           string      `json:"title"`
	DurationLabel   string      `json:"duration_label,omitempty"`
	PriceCents      int64       `json:"price_cents"`
}

// Customer holds the contact details a visitor leaves with a booking.
type Customer struct {
	Name  string `gorm:"type:varchar(255);not null" json:"name"`
	Email string `gorm:"type:varchar(255);not null;index" json:"email"`
	Phone string `gorm:"type:varchar(64)" json:"phone,omitempty"`
	Notes string `gorm:"type:text" json:"notes,omitempty"`
}

// Booking is a customer's claim on a (date, slot) pair.
type Booking struct {
	ID                string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Service           ServiceRef `gorm:"type:text;serializer:json" json:"service"`
	ServiceOfferingID *string    `gorm:"type:varchar(36);index" json:"service_offering_id,omitempty"`
	Date              string     `gorm:"type:varchar(10);not null;index:idx_bookings_date_slot,priority:1" json:"date"`
	SlotLabel         string     `gorm:"type:varchar(16);not null;index:idx_bookings_date_slot,priority:2" json:"slot_label"`
	Customer          Customer   `gorm:"embedded;embeddedPrefix:customer_" json:"customer"`

	Status       BookingStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	IsPaid       bool          `gorm:"not null" json:"is_paid"`
	ExpiresAt    *time.Time    `gorm:"index" json:"expires_at,omitempty"`
	ConfirmedAt  *time.Time    `json:"confirmed_at,omitempty"`
	CancelledAt  *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason string        `gorm:"type:varchar(64)" json:"cancel_reason,omitempty"`

	// ActiveKey is "date|label" while the booking holds the slot and NULL after
	// cancellation. The unique index allows one active booking per slot.
	ActiveKey *string `gorm:"type:varchar(32);uniqueIndex" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Booking) TableName() string {
	return "bookings"
}

// SlotKey builds the ActiveKey value for a date and label.
func SlotKey(date, label string) string {
	return date + "|" + label
}

// NewBooking returns a pending booking holding date/label.
func NewBooking(date, label string, service ServiceRef, customer Customer) *Booking {
	key := SlotKey(date, label)
	b := &Booking{
		ID:        uuid.NewString(),
		Service:   service,
		Date:      date,
		SlotLabel: label,
		Customer:  customer,
		Status:    BookingPendingPayment,
		ActiveKey: &key,
	}
	if service.Kind == ServiceKindOffering && service.OfferingID != "" {
		id := service.OfferingID
		b.ServiceOfferingID = &id
	}
	return b
}

// Stale reports whether a pending booking has outlived its payment window.
func (b *Booking) Stale(now time.Time) bool {
	return b.Status == BookingPendingPayment && b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

// HoldingSlot scopes a booking query to bookings that currently occupy their
// slot: active, and not a pending booking past its expiry.
func HoldingSlot(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("active_key IS NOT NULL").
			Where("(status = ? OR expires_at IS NULL OR expires_at > ?)", BookingConfirmed, now)
	}
}

// ServiceOffering is an administrator-managed bookable service.
type ServiceOffering struct {
	ID            string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title         string `gorm:"type:varchar(255);not null" json:"title"`
	DurationLabel string `gorm:"type:varchar(64)" json:"duration_label"`
	PriceCents    int64  `gorm:"not null" json:"price_cents"`
	Description   string `gorm:"type:text" json:"description,omitempty"`
	Active        bool   `gorm:"not null;index" json:"active"`
	Version       int    `gorm:"not null" json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (ServiceOffering) TableName() string {
	return "service_offerings"
}

// Ref snapshots the offering for a booking.
func (o *ServiceOffering) Ref() ServiceRef {
	return ServiceRef{
		Kind:            ServiceKindOffering,
		OfferingID:      o.ID,
		OfferingVersion: o.Version,
		Title:           o.Title,
		DurationLabel:   o.DurationLabel,
		PriceCents:      o.PriceCents,
	}
}
