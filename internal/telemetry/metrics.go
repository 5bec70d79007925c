/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// for the controller, the hardware link, and the web surface.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP surface.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heimdall_api_request_duration_seconds",
		Help:    "HTTP request duration by method, endpoint and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_api_requests_total",
		Help: "Total HTTP requests by method, endpoint and status code.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heimdall_api_active_connections",
		Help: "In-flight HTTP requests.",
	})

	// Database.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heimdall_db_query_duration_seconds",
		Help:    "Database operation duration by operation and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_db_errors_total",
		Help: "Database errors by operation and kind.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heimdall_db_connections_active",
		Help: "Open database connections.",
	})

	// Controller.
	ControllerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "heimdall_controller_tick_duration_seconds",
		Help:    "Duration of a single controller poll cycle.",
		Buckets: prometheus.DefBuckets,
	})

	ScansScheduledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_scans_scheduled_total",
		Help: "Scan placement outcomes by resulting status.",
	}, []string{"status"})

	ScansFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_scans_finished_total",
		Help: "Scans retired from the running state by terminal status.",
	}, []string{"status"})

	ScanActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heimdall_scan_active",
		Help: "1 while an observation worker is running, 0 otherwise.",
	})

	// Hardware link.
	CommandExchangeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heimdall_command_exchange_duration_seconds",
		Help:    "Station command exchange duration by command.",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	CommandRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_command_retries_total",
		Help: "Command attempts beyond the first, by command.",
	}, []string{"command"})

	CommandFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_command_failures_total",
		Help: "Commands abandoned after exhausting retries, by command.",
	}, []string{"command"})

	PowerReadingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heimdall_power_readings_total",
		Help: "Successful detector readings.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
