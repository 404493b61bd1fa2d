/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/timegate/internal/auth"
	"github.com/friendsincode/timegate/internal/booking"
	"github.com/friendsincode/timegate/internal/models"
)

type bookingCreatedResponse struct {
	Booking *models.Booking  `json:"booking"`
	Payment *booking.Handoff `json:"payment,omitempty"`
}

// adminBookingRequest lets staff book an off-catalog service.
type adminBookingRequest struct {
	booking.CreateRequest
	Service *models.ServiceRef `json:"service,omitempty"`
}

func (a *API) handlePublicBookingCreate(w http.ResponseWriter, r *http.Request) {
	var req booking.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a.createBooking(w, r, req)
}

func (a *API) handleBookingsCreate(w http.ResponseWriter, r *http.Request) {
	var req adminBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CreateRequest.Adhoc = req.Service
	a.createBooking(w, r, req.CreateRequest)
}

func (a *API) createBooking(w http.ResponseWriter, r *http.Request, req booking.CreateRequest) {
	b, err := a.Ledger.CreateBooking(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err, "create booking failed")
		return
	}

	resp := bookingCreatedResponse{Booking: b}
	if h, err := a.Ledger.PaymentHandoff(r.Context(), b.ID); err == nil {
		resp.Payment = h
	} else {
		a.logger.Debug().Err(err).Str("booking_id", b.ID).Msg("no payment handoff")
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handlePaymentReturn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token_required")
		return
	}
	b, err := a.Ledger.ConfirmFromToken(r.Context(), req.Token)
	if err != nil {
		a.writeDomainError(w, err, "payment return failed")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) handleBookingsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := a.Ledger.List(r.Context(), booking.ListFilter{
		Date:   q.Get("date"),
		From:   q.Get("from"),
		To:     q.Get("to"),
		Status: models.BookingStatus(q.Get("status")),
		Email:  q.Get("email"),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		a.writeDomainError(w, err, "list bookings failed")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleBookingsGet(w http.ResponseWriter, r *http.Request) {
	b, err := a.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeDomainError(w, err, "get booking failed")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) handleBookingsConfirm(w http.ResponseWriter, r *http.Request) {
	b, err := a.Ledger.ConfirmBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeDomainError(w, err, "confirm booking failed")
		return
	}
	a.logger.Info().Str("booking_id", b.ID).Str("actor", auth.Actor(r.Context())).Msg("booking confirmed by admin")
	writeJSON(w, http.StatusOK, b)
}

func (a *API) handleBookingsCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	b, err := a.Ledger.CancelBooking(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		a.writeDomainError(w, err, "cancel booking failed")
		return
	}
	a.logger.Info().Str("booking_id", b.ID).Str("actor", auth.Actor(r.Context())).Str("reason", b.CancelReason).Msg("booking cancelled by admin")
	writeJSON(w, http.StatusOK, b)
}
