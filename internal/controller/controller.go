/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package controller is the polling supervisor at the heart of the
// instrument. Every tick it rolls the timetables over day boundaries,
// sweeps out cancelled scans, places newly submitted requests, reaps the
// finished observation, and launches the next one when its slot arrives.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/starkindred/heimdall_scope/internal/almanac"
	"github.com/starkindred/heimdall_scope/internal/clock"
	"github.com/starkindred/heimdall_scope/internal/events"
	"github.com/starkindred/heimdall_scope/internal/models"
	"github.com/starkindred/heimdall_scope/internal/scheduling"
	"github.com/starkindred/heimdall_scope/internal/store"
	"github.com/starkindred/heimdall_scope/internal/telemetry"
)

// launchWindow is how far from a reservation's start time a launch may
// still happen.
const launchWindow = 5 * time.Second

// Launcher runs one observation to completion and returns its terminal
// state. Satisfied by *scan.Runner.
type Launcher interface {
	Run(ctx context.Context, req *models.ScanRequest) models.ScanState
}

// Controller owns the day and night timetables and the single
// observation slot.
type Controller struct {
	store     *store.Store
	launcher  Launcher
	validator *scheduling.Validator
	almanac   almanac.Almanac
	clock     clock.Clock
	bus       *events.Bus
	logger    zerolog.Logger
	interval  time.Duration

	day   *scheduling.Schedule
	night *scheduling.Schedule

	mu      sync.Mutex
	current int64 // scan id of the live observation, 0 when idle
	wg      sync.WaitGroup
}

// New creates a controller.
func New(st *store.Store, launcher Launcher, validator *scheduling.Validator, alm almanac.Almanac, clk clock.Clock, bus *events.Bus, interval time.Duration, logger zerolog.Logger) *Controller {
	return &Controller{
		store:     st,
		launcher:  launcher,
		validator: validator,
		almanac:   alm,
		clock:     clk,
		bus:       bus,
		interval:  interval,
		logger:    logger.With().Str("component", "controller").Logger(),
	}
}

// Run executes the controller loop until context cancellation.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.bootstrap(); err != nil {
		return fmt.Errorf("bootstrap controller: %w", err)
	}

	c.logger.Info().Msg("controller started")
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("controller stopping, waiting for active scan")
			c.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := c.tick(ctx); err != nil {
				c.logger.Error().Err(err).Msg("controller tick failed")
			}
			telemetry.ControllerTickDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// bootstrap builds today's timetables, restores persisted reservations,
// and clears out any observation left marked running by a crash.
func (c *Controller) bootstrap() error {
	now := c.clock.Now()
	if err := c.buildSchedules(now); err != nil {
		return err
	}

	blocks, err := c.store.Blocks()
	if err != nil {
		return err
	}
	for _, b := range blocks {
		switch b.Period {
		case "day":
			c.day.Restore(b.ScanID, b.StartTime, b.EndTime)
		case "night":
			c.night.Restore(b.ScanID, b.StartTime, b.EndTime)
		}
	}

	// A scan marked running with no worker behind it died with the
	// previous process.
	stale, err := c.store.Running()
	if err != nil {
		return err
	}
	if stale != nil {
		c.logger.Warn().Int64("scan_id", stale.ID).Msg("retiring scan orphaned by restart")
		if err := c.store.RetireScan(stale, models.ScanCancelled); err != nil {
			return err
		}
		c.day.Remove(stale.ID)
		c.night.Remove(stale.ID)
	}

	return nil
}

func (c *Controller) buildSchedules(now time.Time) error {
	dayWin, err := c.almanac.Day(now)
	if err != nil {
		return fmt.Errorf("day window: %w", err)
	}
	nightWin, err := c.almanac.Night(now)
	if err != nil {
		return fmt.Errorf("night window: %w", err)
	}

	c.day = scheduling.New("day", dayWin.Start, dayWin.End)
	c.night = scheduling.New("night", nightWin.Start, nightWin.End)

	c.bus.Publish(events.EventScheduleRebuilt, events.Payload{
		"day_start":   dayWin.Start.Unix(),
		"day_end":     dayWin.End.Unix(),
		"night_start": nightWin.Start.Unix(),
		"night_end":   nightWin.End.Unix(),
	})
	return nil
}

func (c *Controller) tick(ctx context.Context) error {
	now := c.clock.Now()

	if err := c.rollSchedules(now); err != nil {
		return err
	}
	c.sweepCancelled()
	if err := c.placeNext(now); err != nil {
		return err
	}
	c.reapFinished()
	return c.launchDue(ctx, now)
}

// rollSchedules replaces both timetables once the night has ended. Dawn
// falls after midnight, so rolling there also picks up the date change
// without tearing down a night still in progress.
func (c *Controller) rollSchedules(now time.Time) error {
	if now.Before(c.night.End()) {
		return nil
	}

	c.logger.Info().Msg("rebuilding timetables for a new period")
	return c.buildSchedules(now)
}

// currentSchedule picks the timetable for the instant: night between dusk
// and dawn, day otherwise.
func (c *Controller) currentSchedule(now time.Time) *scheduling.Schedule {
	if !now.Before(c.night.Start()) && !now.After(c.night.End()) {
		return c.night
	}
	return c.day
}

// sweepCancelled drops reservations whose scans were cancelled through
// the web surface.
func (c *Controller) sweepCancelled() {
	for _, sched := range []*scheduling.Schedule{c.day, c.night} {
		for _, id := range sched.ScanIDs() {
			status, err := c.store.ScanStatus(id)
			if err != nil {
				c.logger.Error().Err(err).Int64("scan_id", id).Msg("poll scan status")
				continue
			}
			if status != models.ScanCancelled {
				continue
			}
			req, err := c.store.ScanRequest(id)
			if err != nil || req == nil {
				c.logger.Error().Err(err).Int64("scan_id", id).Msg("load cancelled scan")
				continue
			}
			if err := c.store.RetireScan(req, models.ScanCancelled); err != nil {
				c.logger.Error().Err(err).Int64("scan_id", id).Msg("retire cancelled scan")
				continue
			}
			sched.Remove(id)
			c.bus.Publish(events.EventScanCancelled, events.Payload{"scan_id": id})
			c.logger.Info().Int64("scan_id", id).Msg("cancelled scan removed from timetable")
		}
	}
}

// placeNext takes the oldest submitted request and tries to reserve it a
// slot. Sun scans go to the day timetable, everything else observes at
// night.
func (c *Controller) placeNext(now time.Time) error {
	req, err := c.store.NextSubmitted()
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}

	cfg, err := c.store.StationConfig()
	if err != nil {
		return err
	}

	sched := c.night
	if req.Source == scheduling.SunSource {
		sched = c.day
	}

	block, status := sched.Add(req, cfg, now, c.validator)
	telemetry.ScansScheduledTotal.WithLabelValues(string(status)).Inc()

	if status != models.ScanScheduled {
		c.logger.Info().Int64("scan_id", req.ID).Str("status", string(status)).Msg("scan rejected")
		if err := c.store.RetireScan(req, status); err != nil {
			return err
		}
		c.bus.Publish(events.EventScanRejected, events.Payload{
			"scan_id": req.ID,
			"status":  string(status),
		})
		return nil
	}

	if err := c.store.InsertBlock(&models.ScheduleBlock{
		ScanID:    req.ID,
		Period:    sched.Period,
		StartTime: block.Start,
		EndTime:   block.End,
	}); err != nil {
		sched.Remove(req.ID)
		return err
	}
	if err := c.store.SetScanStatus(req.ID, models.ScanScheduled); err != nil {
		return err
	}

	c.bus.Publish(events.EventScanScheduled, events.Payload{
		"scan_id": req.ID,
		"start":   block.Start,
		"end":     block.End,
	})
	c.logger.Info().
		Int64("scan_id", req.ID).
		Int64("start", block.Start).
		Int64("end", block.End).
		Str("period", sched.Period).
		Msg("scan placed")
	return nil
}

// reapFinished frees the observation slot once the worker has retired
// its scan. The worker already released the reservation in the store.
func (c *Controller) reapFinished() {
	c.mu.Lock()
	id := c.current
	c.mu.Unlock()
	if id == 0 {
		return
	}

	status, err := c.store.ScanStatus(id)
	if err != nil {
		c.logger.Error().Err(err).Int64("scan_id", id).Msg("poll running scan")
		return
	}
	if status == models.ScanRunning {
		return
	}

	c.day.Remove(id)
	c.night.Remove(id)
	c.mu.Lock()
	c.current = 0
	c.mu.Unlock()
	c.logger.Info().Int64("scan_id", id).Str("status", string(status)).Msg("observation slot freed")
}

// launchDue starts the scan whose reservation covers right now, unless
// an observation is already live or the hardware is remembered as timed
// out.
func (c *Controller) launchDue(ctx context.Context, now time.Time) error {
	c.mu.Lock()
	busy := c.current != 0
	c.mu.Unlock()
	if busy {
		return nil
	}

	sched := c.currentSchedule(now)
	for _, block := range sched.Blocks() {
		start := time.Unix(block.Start, 0).UTC()
		if now.Before(start.Add(-launchWindow)) || now.After(start.Add(launchWindow)) {
			continue
		}

		req, err := c.store.ScanRequest(block.ScanID)
		if err != nil || req == nil {
			return fmt.Errorf("load due scan %d: %w", block.ScanID, err)
		}

		hw, err := c.store.TelescopeStatus()
		if err != nil {
			return err
		}
		if hw.Code == models.TelescopeTimeout {
			// The positioner is wedged; nothing can run until an
			// operator resets the status.
			c.logger.Warn().Int64("scan_id", req.ID).Msg("launch blocked by telescope timeout")
			if err := c.store.RetireScan(req, models.ScanTimeout); err != nil {
				return err
			}
			sched.Remove(req.ID)
			telemetry.ScansFinishedTotal.WithLabelValues(string(models.ScanTimeout)).Inc()
			return nil
		}

		if err := c.store.SetScanStatus(req.ID, models.ScanRunning); err != nil {
			return err
		}
		c.mu.Lock()
		c.current = req.ID
		c.mu.Unlock()

		c.bus.Publish(events.EventScanStarted, events.Payload{"scan_id": req.ID})
		c.logger.Info().Int64("scan_id", req.ID).Str("name", req.Name).Msg("launching observation")

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.launcher.Run(ctx, req)
		}()
		return nil
	}
	return nil
}

// Current returns the id of the live observation, 0 when idle.
func (c *Controller) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
