/*
Copyright (C) 2026 Starkindred Observatory

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store is the single gateway to persistent state. The controller,
// the scan worker, and the web handlers all share one Store; a mutex
// serializes access so the sqlite backend never sees concurrent writers
// and read-modify-write sequences stay atomic.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/starkindred/heimdall_scope/internal/models"
	"gorm.io/gorm"
)

// Store wraps the database with serialized, typed accessors.
type Store struct {
	mu sync.Mutex
	db *gorm.DB
}

// New creates a store over an open database handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateScan persists a new request together with its initial status row.
func (s *Store) CreateScan(req *models.ScanRequest, initial models.ScanState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(req).Error; err != nil {
			return fmt.Errorf("create scan request: %w", err)
		}
		status := models.ScanStatus{ScanID: req.ID, Status: initial, UpdatedAt: time.Now().UTC()}
		if err := tx.Create(&status).Error; err != nil {
			return fmt.Errorf("create scan status: %w", err)
		}
		return nil
	})
}

// ScanRequest loads a request by id. Returns nil when absent.
func (s *Store) ScanRequest(id int64) (*models.ScanRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var req models.ScanRequest
	err := s.db.First(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load scan request: %w", err)
	}
	return &req, nil
}

// NextSubmitted returns the oldest request still awaiting placement, or
// nil when the intake queue is empty.
func (s *Store) NextSubmitted() (*models.ScanRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var req models.ScanRequest
	err := s.db.
		Joins("JOIN scan_statuses ON scan_statuses.scan_id = scan_requests.id").
		Where("scan_statuses.status = ?", models.ScanSubmitted).
		Order("scan_requests.created_at ASC").
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load next submitted scan: %w", err)
	}
	return &req, nil
}

// ScanStatus returns the current state of a scan.
func (s *Store) ScanStatus(id int64) (models.ScanState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status models.ScanStatus
	if err := s.db.First(&status, "scan_id = ?", id).Error; err != nil {
		return "", fmt.Errorf("load scan status: %w", err)
	}
	return status.Status, nil
}

// SetScanStatus overwrites the state of a scan.
func (s *Store) SetScanStatus(id int64, state models.ScanState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setScanStatus(s.db, id, state)
}

func (s *Store) setScanStatus(tx *gorm.DB, id int64, state models.ScanState) error {
	res := tx.Model(&models.ScanStatus{}).
		Where("scan_id = ?", id).
		Updates(map[string]any{"status": state, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("update scan status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update scan status: scan %d has no status row", id)
	}
	return nil
}

// RetireScan moves a scan to a terminal state, releases its timetable
// reservation, and appends the outcome to the history log, all in one
// transaction. A crash can therefore never leave a dead scan holding a
// reservation.
func (s *Store) RetireScan(req *models.ScanRequest, state models.ScanState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.setScanStatus(tx, req.ID, state); err != nil {
			return err
		}
		if err := tx.Delete(&models.ScheduleBlock{}, "scan_id = ?", req.ID).Error; err != nil {
			return fmt.Errorf("release schedule blocks: %w", err)
		}
		record := models.ScanHistory{
			ID:         uuid.NewString(),
			ScanID:     req.ID,
			Name:       req.Name,
			Kind:       req.Kind,
			Status:     state,
			RecordedAt: time.Now().UTC(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("append scan history: %w", err)
		}
		return nil
	})
}

// Running returns the scan currently marked running, or nil.
func (s *Store) Running() (*models.ScanRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var req models.ScanRequest
	err := s.db.
		Joins("JOIN scan_statuses ON scan_statuses.scan_id = scan_requests.id").
		Where("scan_statuses.status = ?", models.ScanRunning).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load running scan: %w", err)
	}
	return &req, nil
}

// Scans lists requests newest first, together with their states.
func (s *Store) Scans(limit int) ([]models.ScanRequest, map[int64]models.ScanState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reqs []models.ScanRequest
	q := s.db.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&reqs).Error; err != nil {
		return nil, nil, fmt.Errorf("list scans: %w", err)
	}

	states := make(map[int64]models.ScanState, len(reqs))
	if len(reqs) > 0 {
		ids := make([]int64, len(reqs))
		for i, r := range reqs {
			ids[i] = r.ID
		}
		var statuses []models.ScanStatus
		if err := s.db.Where("scan_id IN ?", ids).Find(&statuses).Error; err != nil {
			return nil, nil, fmt.Errorf("list scan statuses: %w", err)
		}
		for _, st := range statuses {
			states[st.ScanID] = st.Status
		}
	}
	return reqs, states, nil
}

// StationConfig loads the singleton instrument row.
func (s *Store) StationConfig() (*models.StationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cfg models.StationConfig
	if err := s.db.First(&cfg, 1).Error; err != nil {
		return nil, fmt.Errorf("load station config: %w", err)
	}
	return &cfg, nil
}

// SetPosition records the best-known pointing. Called after every move
// attempt, successful or not, so partial motion is never forgotten.
func (s *Store) SetPosition(azDeg, altDeg float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.Model(&models.StationConfig{}).
		Where("id = ?", 1).
		Updates(map[string]any{"azimuth": azDeg, "altitude": altDeg, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("update position: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.New("update position: station config missing")
	}
	return nil
}

// TelescopeStatus loads the singleton hardware status row.
func (s *Store) TelescopeStatus() (*models.TelescopeStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status models.TelescopeStatus
	if err := s.db.First(&status, 1).Error; err != nil {
		return nil, fmt.Errorf("load telescope status: %w", err)
	}
	return &status, nil
}

// SetTelescopeStatus records the instrument-wide hardware condition.
func (s *Store) SetTelescopeStatus(scanID int64, code models.TelescopeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.Model(&models.TelescopeStatus{}).
		Where("id = ?", 1).
		Updates(map[string]any{"scan_id": scanID, "code": code, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("update telescope status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.New("update telescope status: status row missing")
	}
	return nil
}

// InsertBlock persists a timetable reservation.
func (s *Store) InsertBlock(block *models.ScheduleBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	if err := s.db.Create(block).Error; err != nil {
		return fmt.Errorf("insert schedule block: %w", err)
	}
	return nil
}

// Blocks lists all persisted reservations ordered by start time.
func (s *Store) Blocks() ([]models.ScheduleBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var blocks []models.ScheduleBlock
	if err := s.db.Order("start_time ASC").Find(&blocks).Error; err != nil {
		return nil, fmt.Errorf("list schedule blocks: %w", err)
	}
	return blocks, nil
}

// History lists terminal outcomes newest first.
func (s *Store) History(limit int) ([]models.ScanHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []models.ScanHistory
	q := s.db.Order("recorded_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list scan history: %w", err)
	}
	return records, nil
}

// SaveResult stores one completed spectrum sweep.
func (s *Store) SaveResult(result *models.ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if err := s.db.Create(result).Error; err != nil {
		return fmt.Errorf("save scan result: %w", err)
	}
	return nil
}

// Results lists the sweeps recorded for a scan in capture order.
func (s *Store) Results(scanID int64) ([]models.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []models.ScanResult
	if err := s.db.Where("scan_id = ?", scanID).Order("seq ASC").Find(&results).Error; err != nil {
		return nil, fmt.Errorf("list scan results: %w", err)
	}
	return results, nil
}

// Source resolves a catalog entry by name. Returns nil when unknown.
func (s *Store) Source(name string) (*models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var src models.Source
	err := s.db.First(&src, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}
	return &src, nil
}

// Sources lists the catalog alphabetically.
func (s *Store) Sources() ([]models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sources []models.Source
	if err := s.db.Order("name ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// UpsertSource adds or replaces a catalog entry.
func (s *Store) UpsertSource(src *models.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Save(src).Error; err != nil {
		return fmt.Errorf("upsert source: %w", err)
	}
	return nil
}

// DeleteSource removes a catalog entry.
func (s *Store) DeleteSource(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Delete(&models.Source{}, "name = ?", name).Error; err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return nil
}
