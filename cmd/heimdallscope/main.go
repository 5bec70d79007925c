package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/starkindred/heimdall_scope/internal/config"
	"github.com/starkindred/heimdall_scope/internal/db"
	"github.com/starkindred/heimdall_scope/internal/logbuffer"
	"github.com/starkindred/heimdall_scope/internal/logging"
	"github.com/starkindred/heimdall_scope/internal/server"
	"github.com/starkindred/heimdall_scope/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "heimdallscope",
	Short: "Heimdall Scope - Small radio telescope controller",
	Long:  "Heimdall Scope schedules, points, and records observations for a ground station radio telescope with an alt-azimuth positioner and tunable power detector.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Heimdall Scope controller",
	Long:  "Start the HTTP API server and the observation control loop",
	RunE:  runServe,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load station configuration and the source catalog from YAML files",
	RunE:  runSeed,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	// Route logs through the in-memory ring buffer so the API can
	// serve them.
	logBuf := logbuffer.New(5000)
	logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logBuf, os.Stderr))

	logger.Info().Str("version", version.Version).Msg("Heimdall Scope starting")

	srv, err := server.New(cfg, logBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("Heimdall Scope stopped")
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	logger = logging.Setup(cfg.Environment)

	if cfg.StationFile == "" && cfg.SourcesFile == "" {
		return fmt.Errorf("nothing to seed: set HEIMDALL_STATION_FILE and/or HEIMDALL_SOURCES_FILE")
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(database); err != nil {
			logger.Error().Err(err).Msg("close database failed")
		}
	}()

	if err := db.Migrate(database); err != nil {
		return err
	}

	if cfg.StationFile != "" {
		if err := db.SeedStation(database, cfg.StationFile); err != nil {
			return fmt.Errorf("seed station config: %w", err)
		}
		logger.Info().Str("file", cfg.StationFile).Msg("station configuration seeded")
	}
	if cfg.SourcesFile != "" {
		n, err := db.SeedSources(database, cfg.SourcesFile)
		if err != nil {
			return fmt.Errorf("seed sources: %w", err)
		}
		logger.Info().Int("count", n).Str("file", cfg.SourcesFile).Msg("source catalog seeded")
	}

	return nil
}
