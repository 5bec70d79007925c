/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starkindred/heimdall_scope/internal/models"
	"github.com/starkindred/heimdall_scope/internal/sky"
)

type sourceRequest struct {
	Name string `json:"name"`
	RA   string `json:"ra"`
	Dec  string `json:"dec"`
}

func (a *API) handleSourcesList(w http.ResponseWriter, r *http.Request) {
	sources, err := a.store.Sources()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (a *API) handleSourceUpsert(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if !sourceRe.MatchString(req.Name) {
		writeError(w, http.StatusBadRequest, "invalid_name")
		return
	}
	if _, err := sky.ParseRA(req.RA); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_ra")
		return
	}
	if _, err := sky.ParseDec(req.Dec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_dec")
		return
	}

	src := &models.Source{Name: req.Name, RA: req.RA, Dec: req.Dec}
	if err := a.store.UpsertSource(src); err != nil {
		a.logger.Error().Err(err).Str("source", req.Name).Msg("upsert source failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logger.Info().Str("source", req.Name).Msg("catalog source saved")
	writeJSON(w, http.StatusCreated, src)
}

func (a *API) handleSourceDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}

	src, err := a.store.Source(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if src == nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	if err := a.store.DeleteSource(name); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
