/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the booking and publishing engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/timegate/internal/auth"
	"github.com/friendsincode/timegate/internal/availability"
	"github.com/friendsincode/timegate/internal/booking"
	"github.com/friendsincode/timegate/internal/content"
	"github.com/friendsincode/timegate/internal/events"
	"github.com/friendsincode/timegate/internal/publishing"
	"github.com/friendsincode/timegate/internal/slots"
)

// Services groups the components the API serves.
type Services struct {
	Availability *availability.Store
	Ledger       *booking.Ledger
	Catalog      *booking.Catalog
	Queue        *publishing.Queue
	Scheduler    *publishing.Scheduler
	Content      *content.DBStore
	Bus          *events.Bus
}

// API exposes HTTP handlers.
type API struct {
	Services
	jwtSecret []byte
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(svc Services, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		Services:  svc,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all API endpoints.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Route("/public", func(r chi.Router) {
			r.Get("/availability/{date}", a.handlePublicAvailability)
			r.Get("/offerings", a.handlePublicOfferings)
			r.Post("/bookings", a.handlePublicBookingCreate)
			r.Post("/bookings/payment-return", a.handlePaymentReturn)
			r.Get("/posts", a.handlePublicPosts)
			r.Get("/flyers", a.handlePublicFlyers)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))
			pr.Use(auth.RequireRole(auth.RoleAdmin))

			pr.Get("/events", a.handleEvents)

			pr.Route("/availability", func(r chi.Router) {
				r.Get("/", a.handleAvailabilityDates)
				r.Post("/recurring", a.handleAvailabilityRecurring)
				r.Route("/{date}", func(r chi.Router) {
					r.Get("/", a.handleAvailabilityGet)
					r.Put("/", a.handleAvailabilitySet)
					r.Delete("/", a.handleAvailabilityClear)
					r.Post("/generate", a.handleAvailabilityGenerate)
					r.Post("/presets/{preset}", a.handleAvailabilityPreset)
					r.Delete("/slots", a.handleAvailabilityRemoveSlot)
				})
			})

			pr.Route("/offerings", func(r chi.Router) {
				r.Get("/", a.handleOfferingsList)
				r.Post("/", a.handleOfferingsCreate)
				r.Get("/{id}", a.handleOfferingsGet)
				r.Patch("/{id}", a.handleOfferingsUpdate)
			})

			pr.Route("/bookings", func(r chi.Router) {
				r.Get("/", a.handleBookingsList)
				r.Post("/", a.handleBookingsCreate)
				r.Get("/{id}", a.handleBookingsGet)
				r.Post("/{id}/confirm", a.handleBookingsConfirm)
				r.Post("/{id}/cancel", a.handleBookingsCancel)
			})

			pr.Route("/items", func(r chi.Router) {
				r.Get("/", a.handleItemsList)
				r.Post("/", a.handleItemsCreate)
				r.Get("/{id}", a.handleItemsGet)
				r.Patch("/{id}", a.handleItemsUpdate)
				r.Delete("/{id}", a.handleItemsDelete)
				r.Post("/{id}/publish", a.handleItemsPublish)
				r.Post("/{id}/schedule", a.handleItemsSchedule)
				r.Post("/{id}/unschedule", a.handleItemsUnschedule)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

// errorStatus maps domain errors to HTTP status codes and error codes.
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{slots.ErrInvalidRange, http.StatusBadRequest, "invalid_range"},
	{slots.ErrInvalidIncrement, http.StatusBadRequest, "invalid_increment"},
	{slots.ErrInvalidTime, http.StatusBadRequest, "invalid_time"},
	{slots.ErrInvalidDate, http.StatusBadRequest, "invalid_date"},
	{slots.ErrInvalidLabel, http.StatusBadRequest, "invalid_slot_label"},
	{slots.ErrUnknownPreset, http.StatusNotFound, "unknown_preset"},
	{availability.ErrSlotInUse, http.StatusConflict, "slot_in_use"},
	{availability.ErrSlotNotFound, http.StatusNotFound, "slot_not_found"},
	{availability.ErrInvalidRRule, http.StatusBadRequest, "invalid_rrule"},
	{availability.ErrSpanTooLong, http.StatusBadRequest, "span_too_long"},
	{booking.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
	{booking.ErrServiceInactive, http.StatusUnprocessableEntity, "service_inactive"},
	{booking.ErrServiceNotFound, http.StatusNotFound, "service_not_found"},
	{booking.ErrNotFound, http.StatusNotFound, "booking_not_found"},
	{booking.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{booking.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{booking.ErrVersionConflict, http.StatusConflict, "version_conflict"},
	{booking.ErrPaymentMismatch, http.StatusConflict, "payment_mismatch"},
	{booking.ErrPaymentUnavailable, http.StatusServiceUnavailable, "payment_unavailable"},
	{publishing.ErrNotFound, http.StatusNotFound, "item_not_found"},
	{publishing.ErrInvalidItem, http.StatusBadRequest, "invalid_item"},
	{publishing.ErrItemDraft, http.StatusConflict, "item_is_draft"},
	{publishing.ErrAlreadyPublished, http.StatusConflict, "already_published"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
}

// writeDomainError maps err to a response, logging anything unexpected.
func (a *API) writeDomainError(w http.ResponseWriter, err error, msg string) {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code)
			return
		}
	}
	a.logger.Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, "internal_error")
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
