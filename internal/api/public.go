/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import "net/http"

func (a *API) handlePublicPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := a.Content.ListPosts(r.Context(), r.URL.Query().Get("category"), queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		a.writeDomainError(w, err, "list posts failed")
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (a *API) handlePublicFlyers(w http.ResponseWriter, r *http.Request) {
	flyers, err := a.Content.ListFlyers(r.Context(), queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		a.writeDomainError(w, err, "list flyers failed")
		return
	}
	writeJSON(w, http.StatusOK, flyers)
}
