// Package trades persists position snapshots in a WAL. The engine treats the
// store as an append/query sink: every open, fill and close appends a full
// snapshot, and open positions are recovered by replay.
package trades

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/quantforge/helm/internal/domain"
)

const (
	DefaultDir   = "./wal/trades"
	segmentLimit = 1000
	maxSegments  = 100

	tradeKeyPrefix = "trade_"
)

// Event what happened to the position at this snapshot.
type Event string

const (
	EventOpen  Event = "open"
	EventFill  Event = "fill"
	EventClose Event = "close"
)

// Record one persisted position snapshot.
type Record struct {
	Index    uint64          `json:"index"`
	Event    Event           `json:"event"`
	Position domain.Position `json:"position"`
	At       time.Time       `json:"at"`
}

// WALStore persists trade records in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed trade store.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "trade_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init trade WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends a position snapshot.
func (s *WALStore) Save(event Event, pos domain.Position) error {
	if s == nil || s.wal == nil {
		return errors.New("trade store is not initialized")
	}
	if pos.ID == "" {
		return errors.New("position id is required")
	}

	rec := Record{Event: event, Position: pos, At: time.Now()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal trade record")
	}

	key := tradeKeyPrefix + pos.ID

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// RecordsAfter returns all trade records written after the provided WAL index.
func (s *WALStore) RecordsAfter(index uint64) ([]Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("trade store is not initialized")
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
		if !strings.HasPrefix(key, tradeKeyPrefix) {
			continue
		}

		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, errors.Wrap(err, "decode trade record")
		}
		rec.Index = idx
		records = append(records, rec)
	}

	return records, nil
}

// OpenPositions replays the log and returns the latest snapshot of every
// position that has not closed.
func (s *WALStore) OpenPositions() ([]domain.Position, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("trade store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]domain.Position)
	order := make([]string, 0)

	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, tradeKeyPrefix) {
			continue
		}
		var rec Record
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			continue
		}
		if _, seen := latest[rec.Position.ID]; !seen {
			order = append(order, rec.Position.ID)
		}
		latest[rec.Position.ID] = rec.Position
	}

	open := make([]domain.Position, 0, len(latest))
	for _, id := range order {
		pos := latest[id]
		if !pos.IsClosed() {
			open = append(open, pos)
		}
	}

	return open, nil
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
		return errors.New("trade store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
