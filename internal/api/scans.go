/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/starkindred/heimdall_scope/internal/events"
	"github.com/starkindred/heimdall_scope/internal/models"
	"github.com/starkindred/heimdall_scope/internal/scheduling"
)

const maxScanID = 1_000_000_000_000

var (
	nameRe     = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.\-]{0,63}$`)
	sourceRe   = regexp.MustCompile(`^[a-z0-9][a-z0-9+_.\-]{0,31}$`)
	durationRe = regexp.MustCompile(`^\d{1,2}h\d{1,2}m\d{1,2}s$`)
)

type scanSubmitRequest struct {
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	Source      string  `json:"source"`
	RA          string  `json:"ra"`
	Dec         string  `json:"dec"`
	Duration    string  `json:"duration"`
	FreqLowMHz  float64 `json:"freq_low_mhz"`
	FreqHighMHz float64 `json:"freq_high_mhz"`
	StepCount   int     `json:"step_count"`
}

func (a *API) handleScanSubmit(w http.ResponseWriter, r *http.Request) {
	var req scanSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if !nameRe.MatchString(req.Name) {
		writeError(w, http.StatusBadRequest, "invalid_name")
		return
	}
	kind := models.ScanKind(req.Kind)
	if kind != models.KindTrack && kind != models.KindDrift {
		writeError(w, http.StatusBadRequest, "invalid_kind")
		return
	}
	if !durationRe.MatchString(req.Duration) {
		writeError(w, http.StatusBadRequest, "invalid_duration")
		return
	}
	if req.StepCount < 1 || req.StepCount > 4096 {
		writeError(w, http.StatusBadRequest, "invalid_step_count")
		return
	}
	if req.Source != "" && !sourceRe.MatchString(req.Source) {
		writeError(w, http.StatusBadRequest, "invalid_source")
		return
	}

	scan := &models.ScanRequest{
		Name:        req.Name,
		Kind:        kind,
		Source:      req.Source,
		RA:          req.RA,
		Dec:         req.Dec,
		Duration:    req.Duration,
		FreqLowMHz:  req.FreqLowMHz,
		FreqHighMHz: req.FreqHighMHz,
		StepCount:   req.StepCount,
		CreatedAt:   time.Now().UTC(),
	}

	// Terminal validation failures are still recorded so the operator
	// can see why the request never reached the timetable.
	reject := a.resolveTarget(scan)
	if reject == "" {
		reject = a.checkFrequency(scan)
	}

	id, err := a.allocateScanID()
	if err != nil {
		a.logger.Error().Err(err).Msg("allocate scan id failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	scan.ID = id

	if reject != "" {
		if err := a.store.CreateScan(scan, models.ScanSubmitted); err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if err := a.store.RetireScan(scan, reject); err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		a.bus.Publish(events.EventScanRejected, events.Payload{
			"scan_id": scan.ID,
			"status":  string(reject),
		})
		writeJSON(w, http.StatusOK, map[string]any{"id": scan.ID, "status": string(reject)})
		return
	}

	if err := a.store.CreateScan(scan, models.ScanSubmitted); err != nil {
		a.logger.Error().Err(err).Msg("create scan failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.bus.Publish(events.EventScanSubmitted, events.Payload{
		"scan_id": scan.ID,
		"name":    scan.Name,
		"kind":    string(scan.Kind),
	})
	a.logger.Info().Int64("scan_id", scan.ID).Str("name", scan.Name).Msg("scan submitted")

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     scan.ID,
		"status": string(models.ScanSubmitted),
	})
}

// resolveTarget fills in catalog coordinates for named sources. The sun
// needs no coordinates; its position comes from the ephemeris at
// observation time.
func (a *API) resolveTarget(scan *models.ScanRequest) models.ScanState {
	if scan.Source == scheduling.SunSource {
		scan.RA, scan.Dec = "", ""
		return ""
	}
	if scan.Source != "" {
		src, err := a.store.Source(scan.Source)
		if err != nil {
			a.logger.Error().Err(err).Str("source", scan.Source).Msg("source lookup failed")
			return models.ScanSourceError
		}
		if src == nil {
			return models.ScanSourceError
		}
		scan.RA, scan.Dec = src.RA, src.Dec
		return ""
	}
	if scan.RA == "" || scan.Dec == "" {
		return models.ScanSourceError
	}
	return ""
}

func (a *API) checkFrequency(scan *models.ScanRequest) models.ScanState {
	cfg, err := a.store.StationConfig()
	if err != nil {
		a.logger.Error().Err(err).Msg("load station config failed")
		return models.ScanFreqBoundsError
	}
	if scan.FreqLowMHz >= scan.FreqHighMHz {
		return models.ScanFreqBoundsError
	}
	if scan.FreqLowMHz < cfg.FreqLowMHz || scan.FreqHighMHz > cfg.FreqHighMHz {
		return models.ScanFreqBoundsError
	}
	return ""
}

// allocateScanID draws random ids until one is free.
func (a *API) allocateScanID() (int64, error) {
	for {
		id := rand.Int63n(maxScanID) + 1
		existing, err := a.store.ScanRequest(id)
		if err != nil {
			return 0, err
		}
		if existing == nil {
			return id, nil
		}
	}
}

func (a *API) handleScansList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	scans, states, err := a.store.Scans(limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("list scans failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	type scanInfo struct {
		models.ScanRequest
		Status string `json:"status"`
	}
	out := make([]scanInfo, 0, len(scans))
	for _, s := range scans {
		out = append(out, scanInfo{ScanRequest: s, Status: string(states[s.ID])})
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": out})
}

func (a *API) handleScanGet(w http.ResponseWriter, r *http.Request) {
	id, ok := scanIDParam(w, r)
	if !ok {
		return
	}

	scan, err := a.store.ScanRequest(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if scan == nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	status, err := a.store.ScanStatus(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scan":   scan,
		"status": string(status),
	})
}

func (a *API) handleScanCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := scanIDParam(w, r)
	if !ok {
		return
	}

	scan, err := a.store.ScanRequest(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if scan == nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	status, err := a.store.ScanStatus(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if status.Terminal() {
		writeError(w, http.StatusConflict, "already_finished")
		return
	}

	// A submitted scan never reached the timetable; retire it directly.
	// Scheduled and running scans are marked and picked up by the
	// control loop on its next pass.
	if status == models.ScanSubmitted {
		if err := a.store.RetireScan(scan, models.ScanCancelled); err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
	} else {
		if err := a.store.SetScanStatus(id, models.ScanCancelled); err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
	}

	a.bus.Publish(events.EventScanCancelled, events.Payload{"scan_id": id})
	a.logger.Info().Int64("scan_id", id).Msg("scan cancel requested")
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": string(models.ScanCancelled)})
}

func (a *API) handleScanResults(w http.ResponseWriter, r *http.Request) {
	id, ok := scanIDParam(w, r)
	if !ok {
		return
	}

	results, err := a.store.Results(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	type sweepInfo struct {
		Seq       int       `json:"seq"`
		StartTime int64     `json:"start_time"`
		EndTime   int64     `json:"end_time"`
		Success   bool      `json:"success"`
		Spectrum  []float64 `json:"spectrum"`
	}
	out := make([]sweepInfo, 0, len(results))
	for _, res := range results {
		var spectrum []float64
		if err := msgpack.Unmarshal(res.Spectrum, &spectrum); err != nil {
			a.logger.Error().Err(err).Int64("scan_id", id).Int("seq", res.Seq).Msg("decode spectrum failed")
			continue
		}
		out = append(out, sweepInfo{
			Seq:       res.Seq,
			StartTime: res.StartTime,
			EndTime:   res.EndTime,
			Success:   res.Success,
			Spectrum:  spectrum,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scan_id": id,
		"sweeps":  out,
	})
}

func (a *API) handleScheduleList(w http.ResponseWriter, r *http.Request) {
	blocks, err := a.store.Blocks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
}

func (a *API) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	history, err := a.store.History(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.store.StationConfig()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	hw, err := a.store.TelescopeStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	running, err := a.store.Running()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	status := map[string]any{
		"azimuth":   cfg.Azimuth,
		"altitude":  cfg.Altitude,
		"telescope": string(hw.Code),
	}
	if running != nil {
		status["running_scan"] = running.ID
		status["running_name"] = running.Name
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleStationGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.store.StationConfig()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleTelescopeReset clears a remembered hardware timeout after the
// operator has inspected the positioner.
func (a *API) handleTelescopeReset(w http.ResponseWriter, r *http.Request) {
	if err := a.store.SetTelescopeStatus(0, models.TelescopeOK); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	a.bus.Publish(events.EventTelescopeReset, events.Payload{})
	a.logger.Info().Msg("telescope status reset by operator")
	writeJSON(w, http.StatusOK, map[string]string{"telescope": string(models.TelescopeOK)})
}

func scanIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "scanID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_scan_id")
		return 0, false
	}
	return id, true
}
