/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/starkindred/heimdall_scope/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gopkg.in/yaml.v3"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.ScanRequest{},
		&models.ScanStatus{},
		&models.Source{},
		&models.StationConfig{},
		&models.TelescopeStatus{},
		&models.ScheduleBlock{},
		&models.ScanHistory{},
		&models.ScanResult{},
	); err != nil {
		return err
	}

	if err := ensureTelescopeStatus(database); err != nil {
		return err
	}

	return nil
}

// ensureTelescopeStatus creates the singleton hardware status row when the
// database is fresh. An existing row is left untouched so a remembered
// timeout survives restarts.
func ensureTelescopeStatus(database *gorm.DB) error {
	var count int64
	if err := database.Model(&models.TelescopeStatus{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count telescope status: %w", err)
	}
	if count > 0 {
		return nil
	}
	status := models.TelescopeStatus{ID: 1, Code: models.TelescopeOK, UpdatedAt: time.Now().UTC()}
	if err := database.Create(&status).Error; err != nil {
		return fmt.Errorf("seed telescope status: %w", err)
	}
	return nil
}

// stationFile mirrors the YAML layout of a station definition.
type stationFile struct {
	Station struct {
		Name        string  `yaml:"name"`
		Latitude    float64 `yaml:"latitude"`
		Longitude   float64 `yaml:"longitude"`
		Height      float64 `yaml:"height"`
		Azimuth     float64 `yaml:"azimuth"`
		Altitude    float64 `yaml:"altitude"`
		AzLower     float64 `yaml:"az_lower"`
		AzUpper     float64 `yaml:"az_upper"`
		AltLower    float64 `yaml:"alt_lower"`
		AltUpper    float64 `yaml:"alt_upper"`
		FreqLowMHz  float64 `yaml:"freq_low_mhz"`
		FreqHighMHz float64 `yaml:"freq_high_mhz"`
	} `yaml:"station"`
}

// SeedStation loads a station definition from a YAML file and upserts the
// singleton config row. Stored pointing is preserved across re-seeds; the
// dish does not move just because the config file was re-applied.
func SeedStation(database *gorm.DB, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read station file: %w", err)
	}

	var file stationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse station file: %w", err)
	}
	s := file.Station

	var existing models.StationConfig
	err = database.First(&existing, 1).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		cfg := models.StationConfig{
			ID:          1,
			Name:        s.Name,
			Latitude:    s.Latitude,
			Longitude:   s.Longitude,
			Height:      s.Height,
			Azimuth:     s.Azimuth,
			Altitude:    s.Altitude,
			AzLower:     s.AzLower,
			AzUpper:     s.AzUpper,
			AltLower:    s.AltLower,
			AltUpper:    s.AltUpper,
			FreqLowMHz:  s.FreqLowMHz,
			FreqHighMHz: s.FreqHighMHz,
			UpdatedAt:   time.Now().UTC(),
		}
		if err := database.Create(&cfg).Error; err != nil {
			return fmt.Errorf("seed station config: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("load station config: %w", err)
	}

	updates := map[string]any{
		"name":          s.Name,
		"latitude":      s.Latitude,
		"longitude":     s.Longitude,
		"height":        s.Height,
		"az_lower":      s.AzLower,
		"az_upper":      s.AzUpper,
		"alt_lower":     s.AltLower,
		"alt_upper":     s.AltUpper,
		"freq_low_mhz":  s.FreqLowMHz,
		"freq_high_mhz": s.FreqHighMHz,
		"updated_at":    time.Now().UTC(),
	}
	if err := database.Model(&models.StationConfig{}).Where("id = ?", 1).Updates(updates).Error; err != nil {
		return fmt.Errorf("update station config: %w", err)
	}
	return nil
}

// sourcesFile mirrors the YAML layout of a source catalog.
type sourcesFile struct {
	Sources []struct {
		Name string `yaml:"name"`
		RA   string `yaml:"ra"`
		Dec  string `yaml:"dec"`
	} `yaml:"sources"`
}

// SeedSources loads a source catalog from a YAML file. Existing entries
// with the same name are overwritten.
func SeedSources(database *gorm.DB, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read sources file: %w", err)
	}

	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse sources file: %w", err)
	}

	for _, entry := range file.Sources {
		src := models.Source{Name: entry.Name, RA: entry.RA, Dec: entry.Dec}
		if err := database.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			UpdateAll: true,
		}).Create(&src).Error; err != nil {
			return 0, fmt.Errorf("seed source %q: %w", entry.Name, err)
		}
	}
	return len(file.Sources), nil
}
