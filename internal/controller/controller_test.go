/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/starkindred/heimdall_scope/internal/almanac"
	"github.com/starkindred/heimdall_scope/internal/db"
	"github.com/starkindred/heimdall_scope/internal/events"
	"github.com/starkindred/heimdall_scope/internal/models"
	"github.com/starkindred/heimdall_scope/internal/scheduling"
	"github.com/starkindred/heimdall_scope/internal/sky"
	"github.com/starkindred/heimdall_scope/internal/store"
)

// base anchors all test timetables to a fixed instant.
var base = time.Unix(100000, 0).UTC()

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fixedAlmanac hands out one day and one night window and counts how
// often they were requested.
type fixedAlmanac struct {
	mu     sync.Mutex
	day    almanac.Window
	night  almanac.Window
	builds int
}

func (a *fixedAlmanac) Day(time.Time) (almanac.Window, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.builds++
	return a.day, nil
}

func (a *fixedAlmanac) Night(time.Time) (almanac.Window, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.night, nil
}

func (a *fixedAlmanac) buildCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.builds
}

type fakeLauncher struct {
	mu      sync.Mutex
	runs    []int64
	started chan int64
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{started: make(chan int64, 4)}
}

func (l *fakeLauncher) Run(_ context.Context, req *models.ScanRequest) models.ScanState {
	l.mu.Lock()
	l.runs = append(l.runs, req.ID)
	l.mu.Unlock()
	l.started <- req.ID
	return models.ScanComplete
}

func (l *fakeLauncher) runCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.runs)
}

type stubTransform struct{ hz sky.Horizontal }

func (s stubTransform) Horizontal(sky.Equatorial, sky.Observer, time.Time) sky.Horizontal {
	return s.hz
}

func (s stubTransform) SunEquatorial(time.Time) sky.Equatorial { return sky.Equatorial{} }

type fixture struct {
	store    *store.Store
	ctrl     *Controller
	clock    *fakeClock
	almanac  *fixedAlmanac
	launcher *fakeLauncher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := models.StationConfig{
		ID: 1, Name: "test site",
		Latitude: 42.5, Longitude: -71.5, Height: 100,
		Azimuth: 95, Altitude: 10,
		AzLower: 85, AzUpper: 295, AltLower: 0, AltUpper: 180,
		FreqLowMHz: 1390, FreqHighMHz: 1430,
		UpdatedAt: time.Now().UTC(),
	}
	if err := database.Create(&cfg).Error; err != nil {
		t.Fatalf("seed station config: %v", err)
	}

	st := store.New(database)
	clk := &fakeClock{now: base.Add(time.Second)}
	alm := &fixedAlmanac{
		day:   almanac.Window{Start: base, End: base.Add(6 * time.Hour)},
		night: almanac.Window{Start: base.Add(8 * time.Hour), End: base.Add(16 * time.Hour)},
	}
	launcher := newFakeLauncher()
	validator := scheduling.NewValidator(stubTransform{hz: sky.Horizontal{AzDeg: 180, AltDeg: 40}})

	ctrl := New(st, launcher, validator, alm, clk, events.NewBus(), 10*time.Millisecond, zerolog.Nop())
	if err := ctrl.bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	return &fixture{store: st, ctrl: ctrl, clock: clk, almanac: alm, launcher: launcher}
}

func nightScan(id int64) *models.ScanRequest {
	return &models.ScanRequest{
		ID: id, Name: "crab drift", Kind: models.KindDrift, Source: "crab",
		RA: "05h34m31.9s", Dec: "22d00m52s",
		Duration: "00h10m00s", FreqLowMHz: 1400, FreqHighMHz: 1420, StepCount: 5,
		CreatedAt: time.Now().UTC(),
	}
}

func TestTickPlacesSubmittedScanAtNight(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := nightScan(1)
	if err := f.store.CreateScan(req, models.ScanSubmitted); err != nil {
		t.Fatal(err)
	}

	if err := f.ctrl.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	state, err := f.store.ScanStatus(1)
	if err != nil {
		t.Fatal(err)
	}
	if state != models.ScanScheduled {
		t.Fatalf("state = %q, want scheduled", state)
	}

	blocks, err := f.store.Blocks()
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(blocks))
	}
	if blocks[0].Period != "night" {
		t.Fatalf("period = %q, want night", blocks[0].Period)
	}
	// First free slot: 300s after the night opens.
	if want := base.Add(8 * time.Hour).Unix() + 300; blocks[0].StartTime != want {
		t.Fatalf("start = %d, want %d", blocks[0].StartTime, want)
	}
}

func TestTickRoutesSunScanToDaySchedule(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := nightScan(2)
	req.Source = scheduling.SunSource
	req.RA, req.Dec = "", ""
	if err := f.store.CreateScan(req, models.ScanSubmitted); err != nil {
		t.Fatal(err)
	}

	if err := f.ctrl.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	blocks, err := f.store.Blocks()
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 || blocks[0].Period != "day" {
		t.Fatalf("blocks = %+v, want one day reservation", blocks)
	}
	// The day period is already underway, so the slot opens 300s from
	// now rather than 300s after sunrise.
	if want := f.clock.Now().Unix() + 300; blocks[0].StartTime != want {
		t.Fatalf("start = %d, want %d", blocks[0].StartTime, want)
	}
}

func TestTickRejectsMalformedDuration(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := nightScan(3)
	req.Duration = "ten minutes"
	if err := f.store.CreateScan(req, models.ScanSubmitted); err != nil {
		t.Fatal(err)
	}

	if err := f.ctrl.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	state, err := f.store.ScanStatus(3)
	if err != nil {
		t.Fatal(err)
	}
	if state != models.ScanDurationError {
		t.Fatalf("state = %q, want durationerror", state)
	}
	blocks, err := f.store.Blocks()
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 0 {
		t.Fatalf("blocks = %d, want none", len(blocks))
	}
	history, err := f.store.History(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].ScanID != 3 {
		t.Fatalf("history = %+v, want the rejected scan", history)
	}
}

func TestTickSweepsCancelledScan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := nightScan(4)
	if err := f.store.CreateScan(req, models.ScanSubmitted); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.tick(context.Background()); err != nil {
		t.Fatalf("place tick: %v", err)
	}
	if err := f.store.SetScanStatus(4, models.ScanCancelled); err != nil {
		t.Fatal(err)
	}

	if err := f.ctrl.tick(context.Background()); err != nil {
		t.Fatalf("sweep tick: %v", err)
	}

	blocks, err := f.store.Blocks()
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 0 {
		t.Fatalf("blocks = %d, want reservation released", len(blocks))
	}
	history, err := f.store.History(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Status != models.ScanCancelled {
		t.Fatalf("history = %+v, want cancelled entry", history)
	}
}

func TestLaunchDueStartsScan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := nightScan(5)
	if err := f.store.CreateScan(req, models.ScanScheduled); err != nil {
		t.Fatal(err)
	}
	start := f.clock.Now().Unix() + 2
	if err := f.store.InsertBlock(&models.ScheduleBlock{
		ScanID: 5, Period: "day", StartTime: start, EndTime: start + 600,
	}); err != nil {
		t.Fatal(err)
	}
	f.ctrl.day.Restore(5, start, start+600)

	if err := f.ctrl.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	select {
	case id := <-f.launcher.started:
		if id != 5 {
			t.Fatalf("launched scan %d, want 5", id)
		}
	case <-time.After(time.Second):
		t.Fatal("scan was not launched")
	}

	state, err := f.store.ScanStatus(5)
	if err != nil {
		t.Fatal(err)
	}
	if state != models.ScanRunning {
		t.Fatalf("state = %q, want running", state)
	}
	if f.ctrl.Current() != 5 {
		t.Fatalf("current = %d, want 5", f.ctrl.Current())
	}
}

func TestLaunchSkippedOutsideWindow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := nightScan(6)
	if err := f.store.CreateScan(req, models.ScanScheduled); err != nil {
		t.Fatal(err)
	}
	start := f.clock.Now().Unix() + 120
	f.ctrl.day.Restore(6, start, start+600)

	if err := f.ctrl.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if n := f.launcher.runCount(); n != 0 {
		t.Fatalf("launches = %d, want 0", n)
	}
	if f.ctrl.Current() != 0 {
		t.Fatalf("current = %d, want idle", f.ctrl.Current())
	}
}

func TestLaunchBlockedByTelescopeTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := nightScan(7)
	if err := f.store.CreateScan(req, models.ScanScheduled); err != nil {
		t.Fatal(err)
	}
	start := f.clock.Now().Unix()
	if err := f.store.InsertBlock(&models.ScheduleBlock{
		ScanID: 7, Period: "day", StartTime: start, EndTime: start + 600,
	}); err != nil {
		t.Fatal(err)
	}
	f.ctrl.day.Restore(7, start, start+600)
	if err := f.store.SetTelescopeStatus(0, models.TelescopeTimeout); err != nil {
		t.Fatal(err)
	}

	if err := f.ctrl.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if n := f.launcher.runCount(); n != 0 {
		t.Fatalf("launches = %d, want 0", n)
	}
	state, err := f.store.ScanStatus(7)
	if err != nil {
		t.Fatal(err)
	}
	if state != models.ScanTimeout {
		t.Fatalf("state = %q, want timeout", state)
	}
	blocks, err := f.store.Blocks()
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 0 {
		t.Fatalf("blocks = %d, want reservation released", len(blocks))
	}
}

func TestLaunchRefusedWhileObservationLive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ctrl.mu.Lock()
	f.ctrl.current = 99
	f.ctrl.mu.Unlock()

	req := nightScan(8)
	if err := f.store.CreateScan(req, models.ScanRunning); err != nil {
		t.Fatal(err)
	}
	start := f.clock.Now().Unix()
	f.ctrl.day.Restore(8, start, start+600)

	if err := f.ctrl.launchDue(context.Background(), f.clock.Now()); err != nil {
		t.Fatalf("launchDue: %v", err)
	}

	if n := f.launcher.runCount(); n != 0 {
		t.Fatalf("launches = %d, want 0", n)
	}
}

func TestReapFreesSlotAfterWorkerRetires(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := nightScan(9)
	if err := f.store.CreateScan(req, models.ScanRunning); err != nil {
		t.Fatal(err)
	}
	start := f.clock.Now().Unix()
	f.ctrl.day.Restore(9, start, start+600)
	f.ctrl.mu.Lock()
	f.ctrl.current = 9
	f.ctrl.mu.Unlock()

	// Worker finished and retired its scan.
	if err := f.store.RetireScan(req, models.ScanComplete); err != nil {
		t.Fatal(err)
	}

	if err := f.ctrl.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if f.ctrl.Current() != 0 {
		t.Fatalf("current = %d, want idle", f.ctrl.Current())
	}
	if _, ok := f.ctrl.day.Find(9); ok {
		t.Fatal("reservation still in timetable")
	}
}

func TestRollSchedulesAfterDawn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	before := f.almanac.buildCount()

	// Mid-period ticks keep the timetables.
	if err := f.ctrl.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := f.almanac.buildCount(); got != before {
		t.Fatalf("builds = %d, want %d", got, before)
	}

	f.clock.set(base.Add(17 * time.Hour))
	if err := f.ctrl.tick(context.Background()); err != nil {
		t.Fatalf("tick after dawn: %v", err)
	}
	if got := f.almanac.buildCount(); got != before+1 {
		t.Fatalf("builds = %d, want %d", got, before+1)
	}
}

func TestBootstrapRetiresOrphanedRunningScan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := nightScan(10)
	if err := f.store.CreateScan(req, models.ScanRunning); err != nil {
		t.Fatal(err)
	}
	start := f.clock.Now().Unix()
	if err := f.store.InsertBlock(&models.ScheduleBlock{
		ScanID: 10, Period: "day", StartTime: start, EndTime: start + 600,
	}); err != nil {
		t.Fatal(err)
	}

	if err := f.ctrl.bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	state, err := f.store.ScanStatus(10)
	if err != nil {
		t.Fatal(err)
	}
	if state != models.ScanCancelled {
		t.Fatalf("state = %q, want cancelled", state)
	}
	if _, ok := f.ctrl.day.Find(10); ok {
		t.Fatal("orphaned reservation survived bootstrap")
	}
}

func TestBootstrapRestoresPersistedBlocks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := nightScan(11)
	if err := f.store.CreateScan(req, models.ScanScheduled); err != nil {
		t.Fatal(err)
	}
	start := base.Add(9 * time.Hour).Unix()
	if err := f.store.InsertBlock(&models.ScheduleBlock{
		ScanID: 11, Period: "night", StartTime: start, EndTime: start + 600,
	}); err != nil {
		t.Fatal(err)
	}

	if err := f.ctrl.bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	block, ok := f.ctrl.night.Find(11)
	if !ok {
		t.Fatal("reservation not restored into night timetable")
	}
	if block.Start != start {
		t.Fatalf("start = %d, want %d", block.Start, start)
	}
}
