/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/timegate/internal/models"
	"github.com/friendsincode/timegate/internal/publishing"
)

type itemRequest struct {
	publishing.ItemInput
	Draft bool `json:"draft"`
}

func (a *API) handleItemsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := a.Queue.List(r.Context(), publishing.ListFilter{
		Status: models.ItemStatus(q.Get("status")),
		Kind:   models.ItemKind(q.Get("kind")),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		a.writeDomainError(w, err, "list items failed")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleItemsCreate(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var (
		item *models.ScheduledItem
		err  error
	)
	if req.Draft {
		item, err = a.Queue.SaveDraft(r.Context(), req.ItemInput)
	} else {
		item, err = a.Queue.Enqueue(r.Context(), req.ItemInput)
	}
	if err != nil {
		a.writeDomainError(w, err, "create item failed")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (a *API) handleItemsGet(w http.ResponseWriter, r *http.Request) {
	item, err := a.Queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeDomainError(w, err, "get item failed")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleItemsUpdate(w http.ResponseWriter, r *http.Request) {
	var req publishing.ItemInput
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := a.Queue.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeDomainError(w, err, "update item failed")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleItemsDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.Queue.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeDomainError(w, err, "delete item failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleItemsPublish(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := a.Scheduler.PublishNow(r.Context(), id)
	if err != nil {
		a.writeDomainError(w, err, "publish item failed")
		return
	}
	status := http.StatusOK
	if res == publishing.ResultRetryScheduled {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]string{"id": id, "result": string(res)})
}

func (a *API) handleItemsSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetDate string `json:"target_date"`
		TargetTime string `json:"target_time"`
	}
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	item, err := a.Queue.Schedule(r.Context(), chi.URLParam(r, "id"), req.TargetDate, req.TargetTime)
	if err != nil {
		a.writeDomainError(w, err, "schedule item failed")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleItemsUnschedule(w http.ResponseWriter, r *http.Request) {
	item, err := a.Queue.Unschedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeDomainError(w, err, "unschedule item failed")
		return
	}
	writeJSON(w, http.StatusOK, item)
}
