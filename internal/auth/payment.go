/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	checkoutAudience = "timegate-checkout"
	paymentAudience  = "timegate-payment"

	// PaymentIssuer is the issuer a payment collaborator puts on return
	// signals.
	PaymentIssuer = "timegate-payments"
)

// PaymentClaims name a booking and the amount involved. The same shape is
// used for the checkout reference handed to the visitor and for the return
// signal the payment collaborator sends back; audience and signing secret
// tell them apart.
type PaymentClaims struct {
	BookingID   string `json:"booking_id"`
	AmountCents int64  `json:"amount_cents"`
	jwt.RegisteredClaims
}

func paymentClaims(iss, aud, bookingID string, amountCents int64, now time.Time, ttl time.Duration) PaymentClaims {
	return PaymentClaims{
		BookingID:   bookingID,
		AmountCents: amountCents,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    iss,
			Audience:  jwt.ClaimStrings{aud},
			Subject:   bookingID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

// IssueCheckoutToken signs the reference a visitor carries to checkout. It
// identifies the booking to the payment collaborator and proves nothing about
// payment.
func IssueCheckoutToken(secret []byte, bookingID string, amountCents int64, now time.Time, ttl time.Duration) (string, error) {
	claims := paymentClaims(issuer, checkoutAudience, bookingID, amountCents, now, ttl)
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// IssuePaymentReturn signs a paid signal the way the payment collaborator
// does, with the return secret shared only with it.
func IssuePaymentReturn(returnSecret []byte, bookingID string, amountCents int64, now time.Time, ttl time.Duration) (string, error) {
	claims := paymentClaims(PaymentIssuer, paymentAudience, bookingID, amountCents, now, ttl)
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(returnSecret)
}

// ParsePaymentReturn validates a paid signal from the payment collaborator.
func ParsePaymentReturn(returnSecret []byte, token string, now func() time.Time) (*PaymentClaims, error) {
	claims := &PaymentClaims{}
	if err := parseInto(returnSecret, token, PaymentIssuer, paymentAudience, claims, now); err != nil {
		return nil, err
	}
	if claims.BookingID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
