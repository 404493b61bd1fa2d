/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package booking

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/friendsincode/timegate/internal/auth"
	"github.com/friendsincode/timegate/internal/models"
)

var (
	ErrPaymentUnavailable = errors.New("payment handoff is not configured")
	ErrPaymentMismatch    = errors.New("payment does not match booking")
)

// PaymentConfig controls the checkout handoff. Secret signs the checkout
// reference handed to the visitor; ReturnSecret is shared only with the
// payment collaborator and verifies its paid signal.
type PaymentConfig struct {
	Secret       []byte
	ReturnSecret []byte
	TokenTTL     time.Duration
	CheckoutURL  string
}

// Handoff is what a client needs to send the customer to checkout.
type Handoff struct {
	BookingID   string    `json:"booking_id"`
	AmountCents int64     `json:"amount_cents"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	RedirectURL string    `json:"redirect_url,omitempty"`
}

// WithPayment enables PaymentHandoff and ConfirmFromToken.
func (l *Ledger) WithPayment(cfg PaymentConfig) *Ledger {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 2 * time.Hour
	}
	l.payment = cfg
	return l
}

// PaymentHandoff signs a checkout reference for a pending booking.
func (l *Ledger) PaymentHandoff(ctx context.Context, id string) (*Handoff, error) {
	if len(l.payment.Secret) == 0 {
		return nil, ErrPaymentUnavailable
	}
	b, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingPendingPayment {
		return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, id, b.Status)
	}

	now := l.now()
	ttl := l.payment.TokenTTL
	if b.ExpiresAt != nil && b.ExpiresAt.Sub(now) < ttl {
		ttl = b.ExpiresAt.Sub(now)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: booking %s payment window has closed", ErrInvalidTransition, id)
	}

	token, err := auth.IssueCheckoutToken(l.payment.Secret, b.ID, b.Service.PriceCents, now, ttl)
	if err != nil {
		return nil, fmt.Errorf("sign checkout token: %w", err)
	}

	h := &Handoff{
		BookingID:   b.ID,
		AmountCents: b.Service.PriceCents,
		Token:       token,
		ExpiresAt:   now.Add(ttl),
	}
	if l.payment.CheckoutURL != "" {
		u, err := url.Parse(l.payment.CheckoutURL)
		if err != nil {
			return nil, fmt.Errorf("parse checkout url: %w", err)
		}
		q := u.Query()
		q.Set("booking", b.ID)
		q.Set("token", token)
		u.RawQuery = q.Encode()
		h.RedirectURL = u.String()
	}
	return h, nil
}

// ConfirmFromToken confirms the booking named by the payment collaborator's
// paid signal. The signal must carry the booking's price.
func (l *Ledger) ConfirmFromToken(ctx context.Context, token string) (*models.Booking, error) {
	if len(l.payment.ReturnSecret) == 0 {
		return nil, ErrPaymentUnavailable
	}
	claims, err := auth.ParsePaymentReturn(l.payment.ReturnSecret, token, l.clock.Now)
	if err != nil {
		return nil, err
	}
	b, err := l.Get(ctx, claims.BookingID)
	if err != nil {
		return nil, err
	}
	if claims.AmountCents != b.Service.PriceCents {
		l.logger.Warn().
			Str("booking_id", b.ID).
			Int64("paid_cents", claims.AmountCents).
			Int64("price_cents", b.Service.PriceCents).
			Msg("payment return amount mismatch")
		return nil, ErrPaymentMismatch
	}
	return l.ConfirmBooking(ctx, b.ID)
}
