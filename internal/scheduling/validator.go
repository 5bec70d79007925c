/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduling builds and maintains the day and night timetables.
// A scan is placed at the earliest slot where its target is actually
// observable and the dish can legally point, or it is rejected with the
// most specific error the search encountered.
package scheduling

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/starkindred/heimdall_scope/internal/models"
	"github.com/starkindred/heimdall_scope/internal/sky"
)

// SunSource is the catalog name that switches a scan to solar pointing
// and the day timetable.
const SunSource = "sun"

// Validator resolves scan targets to dish coordinates and checks them
// against the instrument's movement limits.
type Validator struct {
	transform sky.Transform
}

// NewValidator creates a validator over a coordinate transform.
func NewValidator(transform sky.Transform) *Validator {
	return &Validator{transform: transform}
}

// Position resolves the target of req into the horizontal frame at the
// given instant. The returned state is ScanScheduled when the pointing is
// observable and legal, ScanPositionError when the target is not in the
// sky, and ScanMoveBoundsError when the dish cannot legally point there.
func (v *Validator) Position(req *models.ScanRequest, cfg *models.StationConfig, at time.Time) (sky.Horizontal, models.ScanState) {
	var eq sky.Equatorial
	if req.Source == SunSource {
		eq = v.transform.SunEquatorial(at)
	} else {
		ra, err := sky.ParseRA(req.RA)
		if err != nil {
			return sky.Horizontal{}, models.ScanPositionError
		}
		dec, err := sky.ParseDec(req.Dec)
		if err != nil {
			return sky.Horizontal{}, models.ScanPositionError
		}
		eq = sky.Equatorial{RADeg: ra, DecDeg: dec}
	}

	obs := sky.Observer{LatDeg: cfg.Latitude, LonDeg: cfg.Longitude}
	hz := v.transform.Horizontal(eq, obs, at)

	// The positioner's altitude axis runs 0..180, flipping over the
	// zenith; anything outside that span is below the horizon.
	if hz.AltDeg < 0 || hz.AltDeg > 180 {
		return hz, models.ScanPositionError
	}

	if hz.AzDeg < cfg.AzLower || hz.AzDeg > cfg.AzUpper {
		return hz, models.ScanMoveBoundsError
	}
	if hz.AltDeg < cfg.AltLower || hz.AltDeg > cfg.AltUpper {
		return hz, models.ScanMoveBoundsError
	}

	return hz, models.ScanScheduled
}

// Check validates a scan over a candidate time slot. A drift scan parks
// the dish, so only the start matters; a track scan follows its target
// and must stay legal at the start, midpoint and end. The midpoint check
// catches circumpolar targets dipping below the altitude limit mid-scan.
func (v *Validator) Check(req *models.ScanRequest, cfg *models.StationConfig, start, end time.Time) models.ScanState {
	_, state := v.Position(req, cfg, start)
	if state != models.ScanScheduled {
		return state
	}

	if req.Kind == models.KindTrack {
		mid := start.Add(end.Sub(start) / 2)
		if _, state := v.Position(req, cfg, mid); state != models.ScanScheduled {
			return state
		}
		if _, state := v.Position(req, cfg, end); state != models.ScanScheduled {
			return state
		}
	}

	return models.ScanScheduled
}

var durationPattern = regexp.MustCompile(`^(\d{1,2})h(\d{1,2})m(\d{1,2})s$`)

// ParseDuration converts a scan duration like "01h30m00s" into seconds.
func ParseDuration(s string) (int64, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("malformed duration %q", s)
	}
	hours, _ := strconv.ParseInt(m[1], 10, 64)
	minutes, _ := strconv.ParseInt(m[2], 10, 64)
	seconds, _ := strconv.ParseInt(m[3], 10, 64)
	if minutes >= 60 || seconds >= 60 {
		return 0, fmt.Errorf("duration %q out of range", s)
	}
	total := hours*3600 + minutes*60 + seconds
	if total <= 0 {
		return 0, fmt.Errorf("duration %q is zero", s)
	}
	return total, nil
}
