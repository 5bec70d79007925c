package scheduling

import (
	"testing"
	"time"

	"github.com/starkindred/heimdall_scope/internal/models"
	"github.com/starkindred/heimdall_scope/internal/sky"
)

// stubTransform returns positions from a script keyed by sample time.
type stubTransform struct {
	horizontal func(at time.Time) sky.Horizontal
	sunCalls   int
}

func (s *stubTransform) Horizontal(_ sky.Equatorial, _ sky.Observer, at time.Time) sky.Horizontal {
	return s.horizontal(at)
}

func (s *stubTransform) SunEquatorial(time.Time) sky.Equatorial {
	s.sunCalls++
	return sky.Equatorial{RADeg: 100, DecDeg: 15}
}

func fixed(hz sky.Horizontal) *stubTransform {
	return &stubTransform{horizontal: func(time.Time) sky.Horizontal { return hz }}
}

func trackScan(ra, dec string) *models.ScanRequest {
	return &models.ScanRequest{ID: 1, Kind: models.KindTrack, Source: "crab", RA: ra, Dec: dec}
}

func TestPositionStates(t *testing.T) {
	t.Parallel()

	at := time.Unix(20000, 0).UTC()
	cases := []struct {
		name string
		hz   sky.Horizontal
		want models.ScanState
	}{
		{"observable", sky.Horizontal{AzDeg: 180, AltDeg: 40}, models.ScanScheduled},
		{"below horizon", sky.Horizontal{AzDeg: 180, AltDeg: -5}, models.ScanPositionError},
		{"azimuth outside limits", sky.Horizontal{AzDeg: 40, AltDeg: 40}, models.ScanMoveBoundsError},
		{"altitude outside limits", sky.Horizontal{AzDeg: 180, AltDeg: 175}, models.ScanMoveBoundsError},
	}

	cfg := &models.StationConfig{AzLower: 85, AzUpper: 295, AltLower: 0, AltUpper: 170}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewValidator(fixed(tc.hz))
			_, state := v.Position(trackScan("05h34m31.9s", "22d00m52s"), cfg, at)
			if state != tc.want {
				t.Fatalf("state = %q, want %q", state, tc.want)
			}
		})
	}
}

func TestPositionMalformedCoordinates(t *testing.T) {
	t.Parallel()

	v := NewValidator(fixed(sky.Horizontal{AzDeg: 180, AltDeg: 40}))
	cfg := &models.StationConfig{AzLower: 0, AzUpper: 360, AltLower: 0, AltUpper: 180}

	_, state := v.Position(trackScan("garbage", "22d00m52s"), cfg, time.Now())
	if state != models.ScanPositionError {
		t.Fatalf("state = %q, want positionerror", state)
	}
}

func TestPositionSunTargetUsesSolarEphemeris(t *testing.T) {
	t.Parallel()

	transform := fixed(sky.Horizontal{AzDeg: 180, AltDeg: 40})
	v := NewValidator(transform)
	cfg := &models.StationConfig{AzLower: 0, AzUpper: 360, AltLower: 0, AltUpper: 180}

	// Sun scans carry no catalog coordinates at all.
	req := &models.ScanRequest{ID: 1, Kind: models.KindDrift, Source: SunSource}
	_, state := v.Position(req, cfg, time.Now())
	if state != models.ScanScheduled {
		t.Fatalf("state = %q", state)
	}
	if transform.sunCalls != 1 {
		t.Fatalf("expected solar ephemeris lookup, got %d calls", transform.sunCalls)
	}
}

func TestCheckTrackValidatesMidpoint(t *testing.T) {
	t.Parallel()

	start := time.Unix(20000, 0).UTC()
	end := time.Unix(23600, 0).UTC()
	mid := time.Unix(21800, 0).UTC()

	// Circumpolar target dips below the altitude limit exactly mid-scan.
	transform := &stubTransform{horizontal: func(at time.Time) sky.Horizontal {
		if at.Equal(mid) {
			return sky.Horizontal{AzDeg: 180, AltDeg: -2}
		}
		return sky.Horizontal{AzDeg: 180, AltDeg: 30}
	}}
	v := NewValidator(transform)
	cfg := &models.StationConfig{AzLower: 85, AzUpper: 295, AltLower: 0, AltUpper: 180}

	if state := v.Check(trackScan("2h31m49s", "89d15m50s"), cfg, start, end); state != models.ScanPositionError {
		t.Fatalf("track state = %q, want positionerror", state)
	}

	// A drift scan parks the dish at the start pointing; the dip at the
	// midpoint is irrelevant.
	drift := &models.ScanRequest{ID: 2, Kind: models.KindDrift, Source: "crab", RA: "05h34m31.9s", Dec: "22d00m52s"}
	if state := v.Check(drift, cfg, start, end); state != models.ScanScheduled {
		t.Fatalf("drift state = %q, want scheduled", state)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		seconds int64
		wantErr bool
	}{
		{in: "01h30m00s", seconds: 5400},
		{in: "0h0m30s", seconds: 30},
		{in: "12h59m59s", seconds: 46799},
		{in: "00h00m00s", wantErr: true},
		{in: "0h61m0s", wantErr: true},
		{in: "90m", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseDuration(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDuration(%q): %v", tc.in, err)
			continue
		}
		if got != tc.seconds {
			t.Errorf("ParseDuration(%q) = %d, want %d", tc.in, got, tc.seconds)
		}
	}
}
