/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package almanac computes the daily observation windows from solar
// ephemerides. The day timetable opens well after sunrise and closes well
// before sunset so solar glare never touches a scan boundary; the night
// timetable runs dusk to the following dawn.
package almanac

import (
	"fmt"
	"time"

	"github.com/sj14/astral/pkg/astral"
)

// civilDepression is the solar depression angle for civil twilight.
const civilDepression = 6.0

// solarShoulder keeps scans clear of sunrise and sunset.
const solarShoulder = 2 * time.Hour

// Window is a half-open observation interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Almanac resolves observation windows for an observer location.
type Almanac interface {
	Day(date time.Time) (Window, error)
	Night(date time.Time) (Window, error)
}

// Solar implements Almanac with astronomical ephemerides.
type Solar struct {
	observer astral.Observer
}

// NewSolar creates an almanac for the given site.
func NewSolar(latDeg, lonDeg, heightM float64) *Solar {
	return &Solar{observer: astral.Observer{
		Latitude:  latDeg,
		Longitude: lonDeg,
		Elevation: heightM,
	}}
}

// Day returns the daytime window for the date at t: sunrise plus the
// solar shoulder through sunset minus the shoulder.
func (s *Solar) Day(date time.Time) (Window, error) {
	sunrise, err := astral.Sunrise(s.observer, date)
	if err != nil {
		return Window{}, fmt.Errorf("sunrise: %w", err)
	}
	sunset, err := astral.Sunset(s.observer, date)
	if err != nil {
		return Window{}, fmt.Errorf("sunset: %w", err)
	}

	w := Window{Start: sunrise.Add(solarShoulder), End: sunset.Add(-solarShoulder)}
	if !w.Start.Before(w.End) {
		return Window{}, fmt.Errorf("no usable daylight on %s", date.Format("2006-01-02"))
	}
	return w, nil
}

// Night returns the night window starting at dusk on the date at t and
// ending at dawn the following day.
func (s *Solar) Night(date time.Time) (Window, error) {
	dusk, err := astral.Dusk(s.observer, date, civilDepression)
	if err != nil {
		return Window{}, fmt.Errorf("dusk: %w", err)
	}
	dawn, err := astral.Dawn(s.observer, date.AddDate(0, 0, 1), civilDepression)
	if err != nil {
		return Window{}, fmt.Errorf("dawn: %w", err)
	}

	if !dusk.Before(dawn) {
		return Window{}, fmt.Errorf("no usable night on %s", date.Format("2006-01-02"))
	}
	return Window{Start: dusk, End: dawn}, nil
}
