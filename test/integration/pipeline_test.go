/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package integration exercises the full observation pipeline: HTTP
// intake, timetable placement with the real ephemeris, the scan runner
// against fake hardware, and result retrieval.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/starkindred/heimdall_scope/internal/api"
	"github.com/starkindred/heimdall_scope/internal/db"
	"github.com/starkindred/heimdall_scope/internal/events"
	"github.com/starkindred/heimdall_scope/internal/hardware"
	"github.com/starkindred/heimdall_scope/internal/logbuffer"
	"github.com/starkindred/heimdall_scope/internal/models"
	"github.com/starkindred/heimdall_scope/internal/scan"
	"github.com/starkindred/heimdall_scope/internal/scheduling"
	"github.com/starkindred/heimdall_scope/internal/sky"
	"github.com/starkindred/heimdall_scope/internal/store"
)

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(3 * time.Second)
	return c.now
}

// fakePositioner reaches every target and reads a flat spectrum.
type fakePositioner struct {
	mu    sync.Mutex
	moves int
	reads int
}

func (p *fakePositioner) Move(_ context.Context, _, _, toAz, toAlt float64) (hardware.MoveOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moves++
	return hardware.MoveOutcome{AzDeg: toAz, AltDeg: toAlt, Completed: true}, nil
}

func (p *fakePositioner) ReadPower(_ context.Context, _ float64) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	return 1.25e5, nil
}

func TestObservationPipeline(t *testing.T) {
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Wide-open pointing bounds so a circumpolar target is reachable.
	cfg := models.StationConfig{
		ID: 1, Name: "integration site",
		Latitude: 42.5, Longitude: -71.5, Height: 100,
		Azimuth: 10, Altitude: 30,
		AzLower: 0, AzUpper: 360, AltLower: 0, AltUpper: 180,
		FreqLowMHz: 1390, FreqHighMHz: 1430,
		UpdatedAt: time.Now().UTC(),
	}
	if err := database.Create(&cfg).Error; err != nil {
		t.Fatalf("seed station config: %v", err)
	}

	st := store.New(database)
	if err := st.UpsertSource(&models.Source{
		Name: "polaris", RA: "02h31m49s", Dec: "89d15m51s",
	}); err != nil {
		t.Fatalf("seed source: %v", err)
	}

	bus := events.NewBus()
	router := chi.NewRouter()
	api.New(st, bus, logbuffer.New(64), zerolog.Nop()).Routes(router)

	// Submit through the HTTP surface.
	body, _ := json.Marshal(map[string]any{
		"name":          "polaris drift",
		"kind":          "drift",
		"source":        "polaris",
		"duration":      "00h00m30s",
		"freq_low_mhz":  1400.0,
		"freq_high_mhz": 1420.0,
		"step_count":    5,
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/scans", bytes.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	// Place it on a timetable using the real ephemeris. Polaris is
	// circumpolar from this latitude, so any instant works.
	req, err := st.NextSubmitted()
	if err != nil {
		t.Fatal(err)
	}
	if req == nil || req.ID != created.ID {
		t.Fatalf("queued scan = %+v, want id %d", req, created.ID)
	}

	validator := scheduling.NewValidator(sky.Meeus{})
	now := time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)
	sched := scheduling.New("night", now, now.Add(4*time.Hour))
	block, status := sched.Add(req, &cfg, now, validator)
	if status != models.ScanScheduled {
		t.Fatalf("placement status = %q, want scheduled", status)
	}
	if err := st.InsertBlock(&models.ScheduleBlock{
		ScanID: req.ID, Period: "night",
		StartTime: block.Start, EndTime: block.End,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetScanStatus(req.ID, models.ScanRunning); err != nil {
		t.Fatal(err)
	}

	// Observe against fake hardware.
	positioner := &fakePositioner{}
	clk := &steppingClock{now: time.Unix(block.Start, 0).UTC()}
	runner := scan.NewRunner(st, positioner, validator, clk, bus, zerolog.Nop())

	final := runner.Run(context.Background(), req)
	if final != models.ScanComplete {
		t.Fatalf("final state = %q, want complete", final)
	}
	if positioner.moves == 0 || positioner.reads == 0 {
		t.Fatalf("hardware untouched: moves = %d, reads = %d", positioner.moves, positioner.reads)
	}

	// The reservation is released and the outcome is in the history.
	blocks, err := st.Blocks()
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 0 {
		t.Fatalf("blocks = %d, want released", len(blocks))
	}
	history, err := st.History(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Status != models.ScanComplete {
		t.Fatalf("history = %+v, want one complete entry", history)
	}

	// Spectra come back decoded over HTTP.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/scans/%d/results", req.ID), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("results status = %d", rec.Code)
	}
	var results struct {
		Sweeps []struct {
			Success  bool      `json:"success"`
			Spectrum []float64 `json:"spectrum"`
		} `json:"sweeps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatal(err)
	}
	if len(results.Sweeps) == 0 {
		t.Fatal("no sweeps recorded")
	}
	first := results.Sweeps[0]
	if !first.Success || len(first.Spectrum) != 5 || first.Spectrum[0] != 1.25e5 {
		t.Fatalf("sweep = %+v", first)
	}
}
