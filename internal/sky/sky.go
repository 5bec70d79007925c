/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sky converts catalog equatorial coordinates into the horizontal
// frame the positioner actually points in, and resolves the sun's
// equatorial position for solar observations.
package sky

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/soniakeys/meeus/v3/coord"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/meeus/v3/solar"
	"github.com/soniakeys/unit"
)

// Equatorial is a position in the equatorial frame, degrees.
type Equatorial struct {
	RADeg  float64
	DecDeg float64
}

// Horizontal is a position in the observer's horizontal frame, degrees.
// Azimuth is measured eastward from north.
type Horizontal struct {
	AzDeg  float64
	AltDeg float64
}

// Observer is a location on Earth, degrees east-positive.
type Observer struct {
	LatDeg float64
	LonDeg float64
}

// Transform maps between celestial frames at a given instant.
type Transform interface {
	Horizontal(eq Equatorial, obs Observer, at time.Time) Horizontal
	SunEquatorial(at time.Time) Equatorial
}

// Meeus implements Transform with the Meeus astronomical algorithms.
type Meeus struct{}

// Horizontal converts an equatorial position to the observer's horizontal
// frame at the given instant.
func (Meeus) Horizontal(eq Equatorial, obs Observer, at time.Time) Horizontal {
	jd := julian.TimeToJD(at.UTC())
	st := sidereal.Apparent(jd)

	// Meeus measures observer longitude west-positive and azimuth
	// westward from south; convert both to the east/north convention.
	a, h := coord.EqToHz(
		unit.RAFromDeg(eq.RADeg),
		unit.AngleFromDeg(eq.DecDeg),
		unit.AngleFromDeg(obs.LatDeg),
		unit.AngleFromDeg(-obs.LonDeg),
		st,
	)

	az := math.Mod(a.Deg()+180, 360)
	if az < 0 {
		az += 360
	}
	return Horizontal{AzDeg: az, AltDeg: h.Deg()}
}

// SunEquatorial returns the sun's apparent equatorial position.
func (Meeus) SunEquatorial(at time.Time) Equatorial {
	jd := julian.TimeToJD(at.UTC())
	ra, dec := solar.ApparentEquatorial(jd)
	return Equatorial{RADeg: ra.Deg(), DecDeg: dec.Deg()}
}

var (
	raPattern  = regexp.MustCompile(`^(\d{1,2})h(\d{1,2})m(\d{1,2}(?:\.\d+)?)s$`)
	decPattern = regexp.MustCompile(`^(-?)(\d{1,2})d(\d{1,2})m(\d{1,2}(?:\.\d+)?)s$`)
)

// ParseRA parses a sexagesimal right ascension like "05h34m31.9s" into
// degrees.
func ParseRA(s string) (float64, error) {
	m := raPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("malformed right ascension %q", s)
	}
	hours, _ := strconv.ParseFloat(m[1], 64)
	minutes, _ := strconv.ParseFloat(m[2], 64)
	seconds, _ := strconv.ParseFloat(m[3], 64)
	if hours >= 24 || minutes >= 60 || seconds >= 60 {
		return 0, fmt.Errorf("right ascension %q out of range", s)
	}
	return (hours + minutes/60 + seconds/3600) * 15, nil
}

// ParseDec parses a sexagesimal declination like "-22d00m52s" into degrees.
// The sign applies to all three components.
func ParseDec(s string) (float64, error) {
	m := decPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("malformed declination %q", s)
	}
	degrees, _ := strconv.ParseFloat(m[2], 64)
	minutes, _ := strconv.ParseFloat(m[3], 64)
	seconds, _ := strconv.ParseFloat(m[4], 64)
	if degrees > 90 || minutes >= 60 || seconds >= 60 {
		return 0, fmt.Errorf("declination %q out of range", s)
	}
	value := degrees + minutes/60 + seconds/3600
	if m[1] == "-" {
		value = -value
	}
	if value < -90 || value > 90 {
		return 0, fmt.Errorf("declination %q out of range", s)
	}
	return value, nil
}
