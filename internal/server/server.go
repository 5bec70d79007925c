/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires configuration, storage, hardware, the control
// loop, and the HTTP surface into one process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/starkindred/heimdall_scope/internal/almanac"
	"github.com/starkindred/heimdall_scope/internal/api"
	"github.com/starkindred/heimdall_scope/internal/clock"
	"github.com/starkindred/heimdall_scope/internal/config"
	"github.com/starkindred/heimdall_scope/internal/controller"
	"github.com/starkindred/heimdall_scope/internal/db"
	"github.com/starkindred/heimdall_scope/internal/events"
	"github.com/starkindred/heimdall_scope/internal/hardware"
	"github.com/starkindred/heimdall_scope/internal/logbuffer"
	"github.com/starkindred/heimdall_scope/internal/scan"
	"github.com/starkindred/heimdall_scope/internal/scheduling"
	"github.com/starkindred/heimdall_scope/internal/sky"
	"github.com/starkindred/heimdall_scope/internal/store"
	"github.com/starkindred/heimdall_scope/internal/telemetry"
	"github.com/starkindred/heimdall_scope/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db         *gorm.DB
	store      *store.Store
	ntpClock   *clock.NTP
	station    *hardware.Station
	runner     *scan.Runner
	controller *controller.Controller
	api        *api.API
	bus        *events.Bus
	logBuffer  *logbuffer.Buffer
	tracer     *telemetry.TracerProvider

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.MetricsMiddleware)
	// Skip the timeout for websocket upgrades; event streams are
	// long-lived by design.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 so the websocket event feed is not cut
		// off; the middleware timeout covers regular routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies() error {
	tracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "heimdall-scope",
		ServiceVersion: version.Version,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		Enabled:        s.cfg.TracingEnabled,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	s.tracer = tracer
	s.DeferClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.tracer.Shutdown(ctx)
	})

	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if s.cfg.StationFile != "" {
		if err := db.SeedStation(database, s.cfg.StationFile); err != nil {
			return fmt.Errorf("seed station config: %w", err)
		}
	}
	if s.cfg.SourcesFile != "" {
		n, err := db.SeedSources(database, s.cfg.SourcesFile)
		if err != nil {
			return fmt.Errorf("seed sources: %w", err)
		}
		s.logger.Info().Int("count", n).Msg("source catalog seeded")
	}

	s.store = store.New(database)

	cfgRow, err := s.store.StationConfig()
	if err != nil {
		return fmt.Errorf("load station config: %w", err)
	}

	s.ntpClock = clock.NewNTP(s.logger, s.cfg.NTPServer, s.cfg.NTPBackupServer)
	s.ntpClock.Start()
	s.DeferClose(func() error {
		s.ntpClock.Stop()
		return nil
	})

	transform := sky.Meeus{}
	alm := almanac.NewSolar(cfgRow.Latitude, cfgRow.Longitude, cfgRow.Height)
	validator := scheduling.NewValidator(transform)

	dialer := hardware.NewTCPDialer(s.cfg.StationAddr, s.cfg.LinkReadTimeout)
	s.station = hardware.NewStation(dialer, s.cfg.CommandRetries, s.logger)

	s.runner = scan.NewRunner(s.store, s.station, validator, s.ntpClock, s.bus, s.logger)
	s.controller = controller.New(s.store, s.runner, validator, alm, s.ntpClock, s.bus, s.cfg.PollInterval, s.logger)

	s.api = api.New(s.store, s.bus, s.logBuffer, s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("metrics server shutdown error")
		}
		cancel()
	}
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("controller loop exited")
		}
	}()

	// Database pool metrics updater.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	// Metrics endpoint on its own listener, kept off the public port.
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	s.metricsServer = &http.Server{
		Addr:              s.cfg.MetricsBind,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("metrics server exited")
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.api.Routes(s.router)
}
