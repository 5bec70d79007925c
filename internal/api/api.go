/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP control surface: scan intake and
// lifecycle, the source catalog, station status, and operational
// endpoints for logs and live events.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/starkindred/heimdall_scope/internal/events"
	"github.com/starkindred/heimdall_scope/internal/logbuffer"
	"github.com/starkindred/heimdall_scope/internal/store"
)

// API exposes HTTP handlers.
type API struct {
	store     *store.Store
	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(st *store.Store, bus *events.Bus, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		store:     st,
		bus:       bus,
		logBuffer: logBuf,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Route("/scans", func(r chi.Router) {
			r.Get("/", a.handleScansList)
			r.Post("/", a.handleScanSubmit)
			r.Route("/{scanID}", func(r chi.Router) {
				r.Get("/", a.handleScanGet)
				r.Post("/cancel", a.handleScanCancel)
				r.Get("/results", a.handleScanResults)
			})
		})

		r.Get("/schedule", a.handleScheduleList)
		r.Get("/history", a.handleHistoryList)
		r.Get("/status", a.handleStatus)
		r.Get("/station", a.handleStationGet)
		r.Post("/telescope/reset", a.handleTelescopeReset)

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", a.handleSourcesList)
			r.Post("/", a.handleSourceUpsert)
			r.Delete("/{name}", a.handleSourceDelete)
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/logs", a.handleSystemLogs)
			r.Get("/logs/stats", a.handleLogStats)
			r.Delete("/logs", a.handleClearLogs)
		})

		r.Get("/events", a.handleEvents)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	params := logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		Search:     r.URL.Query().Get("search"),
		Descending: true,
	}

	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	} else {
		params.Limit = 500
	}

	if order := r.URL.Query().Get("order"); order == "asc" {
		params.Descending = false
	}

	entries := a.logBuffer.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.logBuffer.Stats())
}

func (a *API) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	a.logBuffer.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, events.EventType(strings.TrimSpace(part)))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
