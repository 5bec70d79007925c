/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package clock abstracts the wall clock so scheduling and the controller
// can be driven by NTP-disciplined time in production and by a fake in tests.
package clock

import (
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/rs/zerolog"
)

// Clock yields the current UTC time.
type Clock interface {
	Now() time.Time
}

// System returns the machine's own clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// NTP queries the configured servers periodically and applies the measured
// offset to the local clock between queries. When every server is
// unreachable the offset decays to zero and the local clock stands alone.
type NTP struct {
	servers  []string
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.RWMutex
	offset time.Duration
	synced bool

	query func(server string) (*ntp.Response, error)
	stop  chan struct{}
	once  sync.Once
}

// NewNTP creates an NTP-backed clock. Servers are tried in order on each
// sync; the first that answers wins.
func NewNTP(logger zerolog.Logger, servers ...string) *NTP {
	return &NTP{
		servers:  servers,
		interval: 15 * time.Minute,
		logger:   logger.With().Str("component", "clock").Logger(),
		query:    ntp.Query,
		stop:     make(chan struct{}),
	}
}

// Start performs an initial sync and keeps re-syncing in the background
// until Stop is called.
func (c *NTP) Start() {
	c.sync()
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sync()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts background syncing.
func (c *NTP) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// Now returns the offset-corrected current time in UTC.
func (c *NTP) Now() time.Time {
	c.mu.RLock()
	offset := c.offset
	c.mu.RUnlock()
	return time.Now().Add(offset).UTC()
}

// Synced reports whether at least one NTP query has succeeded.
func (c *NTP) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

func (c *NTP) sync() {
	for _, server := range c.servers {
		resp, err := c.query(server)
		if err != nil {
			c.logger.Warn().Err(err).Str("server", server).Msg("ntp query failed")
			continue
		}
		if err := resp.Validate(); err != nil {
			c.logger.Warn().Err(err).Str("server", server).Msg("ntp response rejected")
			continue
		}

		c.mu.Lock()
		c.offset = resp.ClockOffset
		c.synced = true
		c.mu.Unlock()

		c.logger.Debug().
			Str("server", server).
			Dur("offset", resp.ClockOffset).
			Msg("clock synced")
		return
	}

	c.mu.Lock()
	c.offset = 0
	c.synced = false
	c.mu.Unlock()
	c.logger.Warn().Msg("all ntp servers unreachable, falling back to local clock")
}
