package clock

import (
	"errors"
	"testing"
	"time"

	"github.com/beevik/ntp"
	"github.com/rs/zerolog"
)

func TestNTPAppliesOffsetFromFirstReachableServer(t *testing.T) {
	t.Parallel()

	c := NewNTP(zerolog.Nop(), "dead.example.com", "alive.example.com")
	c.query = func(server string) (*ntp.Response, error) {
		if server == "dead.example.com" {
			return nil, errors.New("no route to host")
		}
		return &ntp.Response{ClockOffset: 2 * time.Second, Stratum: 2}, nil
	}

	c.sync()

	if !c.Synced() {
		t.Fatal("expected clock to be synced")
	}
	diff := c.Now().Sub(time.Now().UTC())
	if diff < time.Second || diff > 3*time.Second {
		t.Fatalf("offset not applied, drift = %v", diff)
	}
}

func TestNTPFallsBackToLocalClock(t *testing.T) {
	t.Parallel()

	c := NewNTP(zerolog.Nop(), "dead.example.com")
	c.query = func(string) (*ntp.Response, error) {
		return nil, errors.New("timeout")
	}

	c.sync()

	if c.Synced() {
		t.Fatal("expected clock to be unsynced")
	}
	diff := c.Now().Sub(time.Now().UTC())
	if diff < -time.Second || diff > time.Second {
		t.Fatalf("expected local clock passthrough, drift = %v", diff)
	}
}

func TestSystemClockIsUTC(t *testing.T) {
	t.Parallel()

	if loc := (System{}).Now().Location(); loc != time.UTC {
		t.Fatalf("expected UTC, got %v", loc)
	}
}
