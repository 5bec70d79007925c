/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string
	MetricsBind string

	// Controller configuration
	PollInterval time.Duration

	// Station hardware link
	StationAddr     string // host:port of the ground station serial bridge
	LinkReadTimeout time.Duration
	CommandRetries  int

	// Time source configuration
	NTPServer       string
	NTPBackupServer string

	// Seed data
	SourcesFile string
	StationFile string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("HEIMDALL_ENV", "development"),
		HTTPBind:    getEnv("HEIMDALL_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("HEIMDALL_HTTP_PORT", 8080),
		DBBackend:   DatabaseBackend(getEnv("HEIMDALL_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:       getEnv("HEIMDALL_DB_DSN", "./heimdall.db"),
		MetricsBind: getEnv("HEIMDALL_METRICS_BIND", "127.0.0.1:9000"),

		PollInterval: time.Duration(getEnvInt("HEIMDALL_POLL_INTERVAL_MS", 2000)) * time.Millisecond,

		StationAddr:     getEnv("HEIMDALL_STATION_ADDR", "192.168.0.8:23"),
		LinkReadTimeout: time.Duration(getEnvInt("HEIMDALL_LINK_READ_TIMEOUT_MS", 1000)) * time.Millisecond,
		CommandRetries:  getEnvInt("HEIMDALL_COMMAND_RETRIES", 4),

		NTPServer:       getEnv("HEIMDALL_NTP_SERVER", "pool.ntp.org"),
		NTPBackupServer: getEnv("HEIMDALL_NTP_BACKUP_SERVER", "time.google.com"),

		SourcesFile: getEnv("HEIMDALL_SOURCES_FILE", ""),
		StationFile: getEnv("HEIMDALL_STATION_FILE", ""),

		TracingEnabled:    getEnvBool("HEIMDALL_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("HEIMDALL_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("HEIMDALL_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("HEIMDALL_DB_DSN must be provided")
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("HEIMDALL_POLL_INTERVAL_MS must be positive")
	}

	if cfg.CommandRetries < 1 {
		return nil, fmt.Errorf("HEIMDALL_COMMAND_RETRIES must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}
