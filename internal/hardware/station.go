/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hardware

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/starkindred/heimdall_scope/internal/telemetry"
)

// stepsPerDegree is the positioner's gear ratio: motor steps per degree
// of dish travel, identical on both axes.
const stepsPerDegree = 11.7

// Axis direction codes understood by the stamp controller.
const (
	dirAzDecrease  = 0
	dirAzIncrease  = 1
	dirAltDecrease = 2
	dirAltIncrease = 3
)

// MoveOutcome reports where the dish actually ended up. Position is valid
// even when the move failed partway; callers must persist it regardless.
type MoveOutcome struct {
	AzDeg     float64
	AltDeg    float64
	Completed bool
}

// Station drives the positioner and power detector over a command link.
// Each public call is one scoped exchange: dial, converse, close.
type Station struct {
	dial    Dialer
	retries int
	logger  zerolog.Logger
}

// NewStation creates a station commander. retries bounds the exchanges
// spent on a single power reading before giving up.
func NewStation(dial Dialer, retries int, logger zerolog.Logger) *Station {
	return &Station{
		dial:    dial,
		retries: retries,
		logger:  logger.With().Str("component", "station").Logger(),
	}
}

// Move drives the dish from the current pointing to the target, azimuth
// axis fully before altitude. A stalled axis is not retried: the call
// fails and a fresh Move is needed once the operator clears the timeout.
// The returned outcome always carries the best-known position.
func (s *Station) Move(ctx context.Context, curAz, curAlt, toAz, toAlt float64) (MoveOutcome, error) {
	start := time.Now()
	defer func() {
		telemetry.CommandExchangeDuration.WithLabelValues("move").Observe(time.Since(start).Seconds())
	}()

	outcome := MoveOutcome{AzDeg: curAz, AltDeg: curAlt}

	// Already on target: nothing to say to the hardware.
	if axisSteps(curAz, toAz) == 0 && axisSteps(curAlt, toAlt) == 0 {
		outcome.AzDeg, outcome.AltDeg = toAz, toAlt
		outcome.Completed = true
		return outcome, nil
	}

	link, err := s.dial(ctx)
	if err != nil {
		telemetry.CommandFailuresTotal.WithLabelValues("move").Inc()
		return outcome, err
	}
	defer link.Close()

	az, err := s.moveAxis(ctx, link, axisAz, curAz, toAz)
	outcome.AzDeg = az
	if err != nil {
		telemetry.CommandFailuresTotal.WithLabelValues("move").Inc()
		return outcome, err
	}

	alt, err := s.moveAxis(ctx, link, axisAlt, curAlt, toAlt)
	outcome.AltDeg = alt
	if err != nil {
		telemetry.CommandFailuresTotal.WithLabelValues("move").Inc()
		return outcome, err
	}

	outcome.Completed = true
	return outcome, nil
}

type axis int

const (
	axisAz axis = iota
	axisAlt
)

func (a axis) String() string {
	if a == axisAz {
		return "az"
	}
	return "alt"
}

func (a axis) direction(delta float64) int {
	if a == axisAz {
		if delta > 0 {
			return dirAzIncrease
		}
		return dirAzDecrease
	}
	if delta > 0 {
		return dirAltIncrease
	}
	return dirAltDecrease
}

// axisSteps converts an angular delta into motor steps.
func axisSteps(cur, target float64) int {
	return int(math.Round(math.Abs(target-cur) * stepsPerDegree))
}

// moveAxis drives one axis in a single command exchange. Any reply other
// than an M or a full step count stalls the axis and fails the whole move.
// The returned position is best-known even on error.
func (s *Station) moveAxis(ctx context.Context, link Link, a axis, cur, target float64) (float64, error) {
	count := axisSteps(cur, target)
	if count == 0 {
		return target, nil
	}
	if err := ctx.Err(); err != nil {
		return cur, err
	}

	delta := target - cur
	direction := a.direction(delta)
	sign := 1.0
	if direction == dirAzDecrease || direction == dirAltDecrease {
		sign = -1.0
	}

	line := fmt.Sprintf(" move %d %d\n", direction, count)
	if err := link.Send(line); err != nil {
		return cur, err
	}
	reply, err := link.Drain()
	if err != nil {
		return cur, err
	}

	tokens := strings.Fields(reply)
	if len(tokens) == 0 {
		return cur, fmt.Errorf("%s axis: no reply from positioner", a)
	}

	// A leading M means the axis reached its target.
	if strings.HasPrefix(tokens[0], "M") {
		return target, nil
	}

	// Otherwise the controller timed out partway: token 1 carries the
	// completed step count, token 3 the requested count.
	if len(tokens) < 4 {
		return cur, fmt.Errorf("%s axis: unparseable reply %q", a, reply)
	}
	completed, errC := strconv.Atoi(tokens[1])
	requested, errR := strconv.Atoi(tokens[3])
	if errC != nil || errR != nil || completed < 0 || completed > count {
		return cur, fmt.Errorf("%s axis: unparseable reply %q", a, reply)
	}
	if completed == requested {
		// Target reached despite the controller-side timeout.
		return target, nil
	}

	cur += sign * float64(completed) / stepsPerDegree
	return cur, fmt.Errorf("%s axis stalled after %d of %d steps", a, completed, count)
}

// ReadPower tunes the detector to freqMHz and takes one power reading.
// The detector echoes the tuning command before the data words; an echo
// mismatch means the reading belongs to some other tuning and is retried.
func (s *Station) ReadPower(ctx context.Context, freqMHz float64) (float64, error) {
	start := time.Now()
	defer func() {
		telemetry.CommandExchangeDuration.WithLabelValues("freq").Observe(time.Since(start).Seconds())
	}()

	j := int(freqMHz/0.04 + 0.5)
	atten := 0
	b8 := atten
	b9 := j & 0x3f
	b10 := (j >> 6) & 0xff
	b11 := (j >> 14) & 0xff

	line := fmt.Sprintf(" freq %d %d %d %d\n", b11, b10, b9, b8)
	echo := []string{"freq", strconv.Itoa(b11), strconv.Itoa(b10), strconv.Itoa(b9), strconv.Itoa(b8)}

	link, err := s.dial(ctx)
	if err != nil {
		telemetry.CommandFailuresTotal.WithLabelValues("freq").Inc()
		return 0, err
	}
	defer link.Close()

	for attempt := 0; attempt < s.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if attempt > 0 {
			telemetry.CommandRetriesTotal.WithLabelValues("freq").Inc()
		}

		if err := link.Send(line); err != nil {
			return 0, err
		}
		reply, err := link.Drain()
		if err != nil {
			return 0, err
		}

		power, ok := decodePower(reply, echo, atten)
		if !ok {
			s.logger.Warn().Float64("freq_mhz", freqMHz).Str("reply", reply).Msg("detector echo mismatch")
			continue
		}
		telemetry.PowerReadingsTotal.Inc()
		return power, nil
	}

	telemetry.CommandFailuresTotal.WithLabelValues("freq").Inc()
	return 0, fmt.Errorf("detector gave up after %d attempts at %.2f MHz", s.retries, freqMHz)
}

// decodePower validates the command echo and converts the three data
// words into a power figure.
func decodePower(reply string, echo []string, atten int) (float64, bool) {
	tokens := strings.Fields(reply)
	if len(tokens) < len(echo)+3 {
		return 0, false
	}
	for i, want := range echo {
		if tokens[i] != want {
			return 0, false
		}
	}

	w2, err2 := strconv.Atoi(tokens[len(echo)])
	w1hi, errHi := strconv.Atoi(tokens[len(echo)+1])
	w1lo, errLo := strconv.Atoi(tokens[len(echo)+2])
	if err2 != nil || errHi != nil || errLo != nil {
		return 0, false
	}

	w1 := w1hi*256 + w1lo
	if w1 == 0 {
		return 0, false
	}

	power := 1e6 * float64(w2) / float64(w1)
	if atten != 0 {
		power *= 10
	}
	return power, true
}
