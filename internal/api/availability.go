/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/timegate/internal/availability"
	"github.com/friendsincode/timegate/internal/slots"
)

type slotsResponse struct {
	Date  string   `json:"date"`
	Slots []string `json:"slots"`
}

func (a *API) handlePublicAvailability(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	open, err := a.Availability.Open(r.Context(), date)
	if err != nil {
		a.writeDomainError(w, err, "open slots lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, slotsResponse{Date: date, Slots: open})
}

func (a *API) handleAvailabilityDates(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" {
		from = time.Now().UTC().Format(slots.DateLayout)
	}
	if to == "" {
		start, err := slots.ParseDate(from)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date")
			return
		}
		to = start.AddDate(0, 0, 30).Format(slots.DateLayout)
	}

	dates, err := a.Availability.Dates(r.Context(), from, to)
	if err != nil {
		a.writeDomainError(w, err, "list availability dates failed")
		return
	}
	writeJSON(w, http.StatusOK, dates)
}

func (a *API) handleAvailabilityGet(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	list, err := a.Availability.Get(r.Context(), date)
	if err != nil {
		a.writeDomainError(w, err, "availability lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "slots": list})
}

func (a *API) respondSlots(w http.ResponseWriter, date string, list []slots.Slot, err error, msg string) {
	if err != nil {
		a.writeDomainError(w, err, msg)
		return
	}
	writeJSON(w, http.StatusOK, slotsResponse{Date: date, Slots: slots.Labels(list)})
}

func (a *API) handleAvailabilitySet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slots []string `json:"slots"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	date := chi.URLParam(r, "date")
	list, err := a.Availability.Set(r.Context(), date, req.Slots)
	a.respondSlots(w, date, list, err, "set availability failed")
}

func (a *API) handleAvailabilityClear(w http.ResponseWriter, r *http.Request) {
	if err := a.Availability.ClearDate(r.Context(), chi.URLParam(r, "date")); err != nil {
		a.writeDomainError(w, err, "clear availability failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAvailabilityGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Start     string `json:"start"`
		End       string `json:"end"`
		Increment int    `json:"increment"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	date := chi.URLParam(r, "date")
	list, err := a.Availability.Generate(r.Context(), date, req.Start, req.End, req.Increment)
	a.respondSlots(w, date, list, err, "generate availability failed")
}

func (a *API) handleAvailabilityPreset(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	list, err := a.Availability.AddPreset(r.Context(), date, chi.URLParam(r, "preset"))
	a.respondSlots(w, date, list, err, "apply preset failed")
}

func (a *API) handleAvailabilityRemoveSlot(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if label == "" {
		writeError(w, http.StatusBadRequest, "label_required")
		return
	}
	if err := a.Availability.RemoveSlot(r.Context(), chi.URLParam(r, "date"), label); err != nil {
		a.writeDomainError(w, err, "remove slot failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAvailabilityRecurring(w http.ResponseWriter, r *http.Request) {
	var req availability.RecurringRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	dates, err := a.Availability.ApplyRecurring(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err, "recurring availability failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": dates})
}
