/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"sort"
	"time"

	"github.com/starkindred/heimdall_scope/internal/models"
)

// margin is the padding in seconds kept on both sides of every
// reservation, and the step the candidate search advances by.
const margin = 300

// Block is one reservation in a timetable. A block with ScanID zero is a
// fence marking a period boundary; fences are never persisted.
type Block struct {
	ScanID int64
	Start  int64 // unix seconds
	End    int64
}

func (b Block) fence() bool { return b.ScanID == 0 }

// checker validates a scan over a candidate slot.
type checker interface {
	Check(req *models.ScanRequest, cfg *models.StationConfig, start, end time.Time) models.ScanState
}

// Schedule is one period's timetable: an ordered list of blocks between
// two fences. It lives in memory; successful placements are mirrored to
// the store by the caller.
type Schedule struct {
	Period string // "day" or "night"
	blocks []Block
}

// New creates a timetable fenced to [start, end].
func New(period string, start, end time.Time) *Schedule {
	s := start.Unix()
	e := end.Unix()
	return &Schedule{
		Period: period,
		blocks: []Block{
			{Start: s, End: s},
			{Start: e, End: e},
		},
	}
}

// Start returns the period's opening fence time.
func (s *Schedule) Start() time.Time { return time.Unix(s.blocks[0].Start, 0).UTC() }

// End returns the period's closing fence time.
func (s *Schedule) End() time.Time { return time.Unix(s.blocks[len(s.blocks)-1].End, 0).UTC() }

// Blocks returns the reservations in start order, fences excluded.
func (s *Schedule) Blocks() []Block {
	var out []Block
	for _, b := range s.blocks {
		if !b.fence() {
			out = append(out, b)
		}
	}
	return out
}

// Find returns the reservation for a scan, if any.
func (s *Schedule) Find(scanID int64) (Block, bool) {
	for _, b := range s.blocks {
		if b.ScanID == scanID {
			return b, true
		}
	}
	return Block{}, false
}

// Add places a scan at the earliest valid slot. The search walks every
// gap between existing reservations in five-minute steps, keeping margin
// seconds clear on both sides, and asks the checker whether the target is
// observable in each candidate slot.
//
// The returned state is ScanScheduled on success. On failure it is the
// most specific rejection seen: a movement-bounds rejection is never
// downgraded by later slots failing for softer reasons, and a position
// rejection survives everything except movement bounds. ScanDurationError
// means no gap could hold the scan at all.
func (s *Schedule) Add(req *models.ScanRequest, cfg *models.StationConfig, now time.Time, check checker) (Block, models.ScanState) {
	seconds, err := ParseDuration(req.Duration)
	if err != nil {
		return Block{}, models.ScanDurationError
	}

	curtime := now.Unix()

	var start int64
	if curtime > s.blocks[0].End {
		start = curtime + margin
	} else {
		start = s.blocks[0].End + margin
	}
	end := start + seconds

	status := models.ScanDurationError

	for i := 0; i < len(s.blocks)-1; i++ {
		for start >= s.blocks[i].End+margin && end <= s.blocks[i+1].Start-margin {
			result := check.Check(req, cfg, time.Unix(start, 0).UTC(), time.Unix(end, 0).UTC())

			if status == models.ScanDurationError || status == models.ScanPositionError {
				status = result
			}

			if result == models.ScanScheduled {
				block := Block{ScanID: req.ID, Start: start, End: end}
				s.insert(block)
				return block, models.ScanScheduled
			}

			start += margin
			end += margin
		}

		start = s.blocks[i+1].End + margin
		if start < curtime {
			start = curtime + margin
		}
		end = start + seconds
	}

	return Block{}, status
}

// Restore re-inserts a persisted reservation, used to rebuild timetables
// after a restart.
func (s *Schedule) Restore(scanID, startUnix, endUnix int64) {
	s.insert(Block{ScanID: scanID, Start: startUnix, End: endUnix})
}

func (s *Schedule) insert(b Block) {
	s.blocks = append(s.blocks, b)
	sort.Slice(s.blocks, func(i, j int) bool {
		if s.blocks[i].Start != s.blocks[j].Start {
			return s.blocks[i].Start < s.blocks[j].Start
		}
		return s.blocks[i].End < s.blocks[j].End
	})
}

// Remove drops the reservation for a scan. It reports whether a block
// was actually removed.
func (s *Schedule) Remove(scanID int64) bool {
	if scanID == 0 {
		return false
	}
	for i, b := range s.blocks {
		if b.ScanID == scanID {
			s.blocks = append(s.blocks[:i], s.blocks[i+1:]...)
			return true
		}
	}
	return false
}

// ScanIDs lists the scans holding reservations.
func (s *Schedule) ScanIDs() []int64 {
	var ids []int64
	for _, b := range s.blocks {
		if !b.fence() {
			ids = append(ids, b.ScanID)
		}
	}
	return ids
}
