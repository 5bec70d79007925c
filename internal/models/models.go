/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ScanState enumerates the lifecycle states of a scan request.
type ScanState string

const (
	ScanSubmitted ScanState = "submitted"
	ScanScheduled ScanState = "scheduled"
	ScanRunning   ScanState = "running"
	ScanComplete  ScanState = "complete"
	ScanCancelled ScanState = "cancelled"
	ScanTimeout   ScanState = "timeout"

	// Placement and intake failures. All terminal, never retried.
	ScanSourceError     ScanState = "sourceerror"
	ScanFreqBoundsError ScanState = "freqboundserror"
	ScanPositionError   ScanState = "positionerror"
	ScanMoveBoundsError ScanState = "moveboundserror"
	ScanDurationError   ScanState = "durationerror"
)

// Terminal reports whether a scan in this state will never run again.
func (s ScanState) Terminal() bool {
	switch s {
	case ScanSubmitted, ScanScheduled, ScanRunning:
		return false
	}
	return true
}

// ScanKind selects the observation mode.
type ScanKind string

const (
	KindTrack ScanKind = "track"
	KindDrift ScanKind = "drift"
)

// ScanRequest holds the immutable parameters of a submitted observation.
// RA and Dec are sexagesimal strings (e.g. "21h8m47s", "-88d57m23s"); for
// sun targets they are left empty and resolved per sample time instead.
type ScanRequest struct {
	ID          int64  `gorm:"primaryKey;autoIncrement:false"`
	Name        string `gorm:"type:varchar(64)"`
	Kind        ScanKind
	Source      string `gorm:"index"`
	RA          string
	Dec         string
	Duration    string  // "NNhNNmNNs"
	FreqLowMHz  float64 `gorm:"column:freq_low_mhz"`
	FreqHighMHz float64 `gorm:"column:freq_high_mhz"`
	StepCount   int
	CreatedAt   time.Time
}

// ScanStatus is the single mutable row tracking a scan's state machine.
type ScanStatus struct {
	ScanID    int64     `gorm:"primaryKey;autoIncrement:false"`
	Status    ScanState `gorm:"type:varchar(16);index"`
	UpdatedAt time.Time
}

// Source is a catalog entry mapping a name to equatorial coordinates.
type Source struct {
	Name string `gorm:"primaryKey"`
	RA   string
	Dec  string
}

// StationConfig is the singleton row describing the instrument: observer
// location, best-known pointing, and mechanical/frequency limits.
type StationConfig struct {
	ID          int `gorm:"primaryKey"`
	Name        string
	Latitude    float64
	Longitude   float64
	Height      float64
	Azimuth     float64
	Altitude    float64
	AzLower     float64
	AzUpper     float64
	AltLower    float64
	AltUpper    float64
	FreqLowMHz  float64 `gorm:"column:freq_low_mhz"`
	FreqHighMHz float64 `gorm:"column:freq_high_mhz"`
	UpdatedAt   time.Time
}

// TelescopeCode reports the instrument-wide hardware condition.
type TelescopeCode string

const (
	TelescopeOK      TelescopeCode = "ok"
	TelescopeTimeout TelescopeCode = "timeout"
)

// TelescopeStatus is the singleton hardware status row. A timeout here
// blocks all further launches until an operator resets it.
type TelescopeStatus struct {
	ID        int   `gorm:"primaryKey"`
	ScanID    int64 // scan that was active when the code was last set
	Code      TelescopeCode
	UpdatedAt time.Time
}

// ScheduleBlock is a persisted reservation in a timetable. Fence blocks
// marking the period boundaries live only in memory and are never stored.
type ScheduleBlock struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	ScanID    int64  `gorm:"index"`
	Period    string `gorm:"type:varchar(8)"` // "day" or "night"
	StartTime int64  // unix seconds
	EndTime   int64
	CreatedAt time.Time
}

// ScanHistory records the terminal outcome of a scan for the operator log.
type ScanHistory struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	ScanID     int64  `gorm:"index"`
	Name       string
	Kind       ScanKind
	Status     ScanState
	RecordedAt time.Time
}

// ScanResult stores one completed spectrum sweep. The spectrum payload is a
// msgpack-encoded []float64 of power readings, one per frequency step.
type ScanResult struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	ScanID    int64  `gorm:"index"`
	Seq       int
	StartTime int64
	EndTime   int64
	Success   bool
	Spectrum  []byte
	CreatedAt time.Time
}
