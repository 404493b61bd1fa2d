/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/timegate/internal/booking"
)

func (a *API) handlePublicOfferings(w http.ResponseWriter, r *http.Request) {
	list, err := a.Catalog.PublicOfferings(r.Context())
	if err != nil {
		a.writeDomainError(w, err, "list public offerings failed")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleOfferingsList(w http.ResponseWriter, r *http.Request) {
	list, err := a.Catalog.ListOfferings(r.Context(), r.URL.Query().Get("active") != "true")
	if err != nil {
		a.writeDomainError(w, err, "list offerings failed")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleOfferingsCreate(w http.ResponseWriter, r *http.Request) {
	var req booking.OfferingInput
	if !decodeJSON(w, r, &req) {
		return
	}
	o, err := a.Catalog.CreateOffering(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err, "create offering failed")
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (a *API) handleOfferingsGet(w http.ResponseWriter, r *http.Request) {
	o, err := a.Catalog.GetOffering(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeDomainError(w, err, "get offering failed")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) handleOfferingsUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		booking.OfferingInput
		Version int `json:"version"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	o, err := a.Catalog.UpdateOffering(r.Context(), chi.URLParam(r, "id"), req.Version, req.OfferingInput)
	if err != nil {
		a.writeDomainError(w, err, "update offering failed")
		return
	}
	writeJSON(w, http.StatusOK, o)
}
