/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scan executes a single observation: sweep after sweep of
// move-and-measure exchanges until the scheduled end time, a cancellation,
// or a positioner failure ends it.
package scan

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/starkindred/heimdall_scope/internal/clock"
	"github.com/starkindred/heimdall_scope/internal/events"
	"github.com/starkindred/heimdall_scope/internal/hardware"
	"github.com/starkindred/heimdall_scope/internal/models"
	"github.com/starkindred/heimdall_scope/internal/scheduling"
	"github.com/starkindred/heimdall_scope/internal/store"
	"github.com/starkindred/heimdall_scope/internal/telemetry"
	"github.com/vmihailenco/msgpack/v5"
)

// Positioner is the slice of the station the runner drives.
type Positioner interface {
	Move(ctx context.Context, curAz, curAlt, toAz, toAlt float64) (hardware.MoveOutcome, error)
	ReadPower(ctx context.Context, freqMHz float64) (float64, error)
}

// Runner performs observations against the station hardware.
type Runner struct {
	store     *store.Store
	station   Positioner
	validator *scheduling.Validator
	clock     clock.Clock
	bus       *events.Bus
	logger    zerolog.Logger
}

// NewRunner creates an observation runner.
func NewRunner(st *store.Store, station Positioner, validator *scheduling.Validator, clk clock.Clock, bus *events.Bus, logger zerolog.Logger) *Runner {
	return &Runner{
		store:     st,
		station:   station,
		validator: validator,
		clock:     clk,
		bus:       bus,
		logger:    logger.With().Str("component", "scan").Logger(),
	}
}

// Run executes the whole observation for req and retires it with its
// terminal state. It is meant to be launched on its own goroutine; the
// scan's status row must already be set to running.
func (r *Runner) Run(ctx context.Context, req *models.ScanRequest) models.ScanState {
	telemetry.ScanActive.Set(1)
	defer telemetry.ScanActive.Set(0)

	final := r.observe(ctx, req)

	if err := r.store.RetireScan(req, final); err != nil {
		r.logger.Error().Err(err).Int64("scan_id", req.ID).Msg("retire scan")
	}
	telemetry.ScansFinishedTotal.WithLabelValues(string(final)).Inc()
	r.bus.Publish(events.EventScanFinished, events.Payload{
		"scan_id": req.ID,
		"status":  string(final),
	})
	r.logger.Info().Int64("scan_id", req.ID).Str("status", string(final)).Msg("scan finished")
	return final
}

func (r *Runner) observe(ctx context.Context, req *models.ScanRequest) models.ScanState {
	seconds, err := scheduling.ParseDuration(req.Duration)
	if err != nil {
		return models.ScanDurationError
	}
	endTime := r.clock.Now().Add(time.Duration(seconds) * time.Second)

	// Claim the hardware status row for this scan.
	if err := r.store.SetTelescopeStatus(req.ID, models.TelescopeOK); err != nil {
		r.logger.Error().Err(err).Msg("claim telescope status")
	}

	// A drift scan resolves its pointing once and lets the sky drift past.
	if req.Kind == models.KindDrift {
		if _, state := r.point(ctx, req); state != models.ScanScheduled {
			return state
		}
	}

	for seq := 0; r.clock.Now().Before(endTime); seq++ {
		if ctx.Err() != nil {
			return models.ScanCancelled
		}

		status, err := r.store.ScanStatus(req.ID)
		if err != nil {
			r.logger.Error().Err(err).Msg("poll scan status")
		} else if status == models.ScanCancelled {
			return models.ScanCancelled
		}

		// A track scan re-resolves its pointing every sweep to follow
		// the target across the sky.
		if req.Kind == models.KindTrack {
			if _, state := r.point(ctx, req); state != models.ScanScheduled {
				return state
			}
		}

		// Detector failures are per-sweep: the failed sweep is recorded
		// and the observation carries on. Only the positioner may wedge
		// the telescope.
		sweep, _ := r.sweep(ctx, req, seq)
		if sweep != nil {
			if err := r.store.SaveResult(sweep); err != nil {
				r.logger.Error().Err(err).Msg("save sweep")
			}
			r.bus.Publish(events.EventSpectrumRecorded, events.Payload{
				"scan_id": req.ID,
				"seq":     seq,
			})
		}
	}

	return models.ScanComplete
}

// point moves the dish onto the target's current position. The best-known
// pointing is persisted whether or not the move completed.
func (r *Runner) point(ctx context.Context, req *models.ScanRequest) (*hardware.MoveOutcome, models.ScanState) {
	cfg, err := r.store.StationConfig()
	if err != nil {
		r.logger.Error().Err(err).Msg("load station config")
		return nil, models.ScanPositionError
	}

	hz, state := r.validator.Position(req, cfg, r.clock.Now())
	if state != models.ScanScheduled {
		return nil, state
	}

	outcome, moveErr := r.station.Move(ctx, cfg.Azimuth, cfg.Altitude, hz.AzDeg, hz.AltDeg)
	if err := r.store.SetPosition(outcome.AzDeg, outcome.AltDeg); err != nil {
		r.logger.Error().Err(err).Msg("persist position")
	}
	if moveErr != nil {
		r.logger.Warn().Err(moveErr).Int64("scan_id", req.ID).Msg("move failed")
		r.markTimeout(req.ID)
		return &outcome, models.ScanTimeout
	}

	r.bus.Publish(events.EventTelescopeMoved, events.Payload{
		"az":  outcome.AzDeg,
		"alt": outcome.AltDeg,
	})
	return &outcome, models.ScanScheduled
}

// sweep measures one spectrum across the scan's frequency range. The
// returned result is nil only when nothing at all was measured; ok is
// false when the detector failed partway, in which case the remaining
// bins are zero.
func (r *Runner) sweep(ctx context.Context, req *models.ScanRequest, seq int) (*models.ScanResult, bool) {
	start := r.clock.Now()
	spectrum := make([]float64, req.StepCount)
	ok := true

	for i, freq := range freqSteps(req.FreqLowMHz, req.FreqHighMHz, req.StepCount) {
		if !ok {
			break
		}
		power, err := r.station.ReadPower(ctx, freq)
		if err != nil {
			r.logger.Warn().Err(err).Float64("freq_mhz", freq).Msg("power reading failed")
			ok = false
			break
		}
		spectrum[i] = power
	}

	payload, err := msgpack.Marshal(spectrum)
	if err != nil {
		r.logger.Error().Err(err).Msg("encode spectrum")
		return nil, ok
	}

	return &models.ScanResult{
		ScanID:    req.ID,
		Seq:       seq,
		StartTime: start.Unix(),
		EndTime:   r.clock.Now().Unix(),
		Success:   ok,
		Spectrum:  payload,
	}, ok
}

func (r *Runner) markTimeout(scanID int64) {
	if err := r.store.SetTelescopeStatus(scanID, models.TelescopeTimeout); err != nil {
		r.logger.Error().Err(err).Msg("record telescope timeout")
	}
	r.bus.Publish(events.EventTelescopeTimeout, events.Payload{"scan_id": scanID})
}

// freqSteps spreads n sample frequencies evenly across [low, high].
func freqSteps(low, high float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{low}
	}
	steps := make([]float64, n)
	width := (high - low) / float64(n-1)
	for i := range steps {
		steps[i] = low + float64(i)*width
	}
	return steps
}
