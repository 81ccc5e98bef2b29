// Package riskevents persists monitoring-cycle risk assessments in a WAL for
// dashboards and post-trade review. Assessments are decision inputs, never
// authoritative state; the store is append-only history.
package riskevents

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/quantforge/helm/internal/domain"
)

const (
	DefaultDir   = "./wal/riskevents"
	segmentLimit = 1000
	maxSegments  = 10

	riskKeyPrefix = "risk_"
)

// Record one persisted risk assessment with its WAL position.
type Record struct {
	Index      uint64                `json:"index"`
	Assessment domain.RiskAssessment `json:"assessment"`
}

// WALStore persists risk assessments in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed risk event store.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "risk_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init risk event WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends an assessment.
func (s *WALStore) Save(assessment domain.RiskAssessment) error {
	if s == nil || s.wal == nil {
		return errors.New("risk event store is not initialized")
	}
	if assessment.PositionID == "" {
		return errors.New("assessment position id is required")
	}

	payload, err := json.Marshal(assessment)
	if err != nil {
		return errors.Wrap(err, "marshal risk assessment")
	}

	key := riskKeyPrefix + assessment.PositionID

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// EventsAfter returns all assessments written after the provided WAL index.
func (s *WALStore) EventsAfter(index uint64) ([]Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("risk event store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]Record, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(key, riskKeyPrefix) {
			continue
		}

		var assessment domain.RiskAssessment
		if err := json.Unmarshal(payload, &assessment); err != nil {
			return nil, errors.Wrap(err, "decode risk assessment")
		}
		records = append(records, Record{Index: idx, Assessment: assessment})
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("risk event store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
