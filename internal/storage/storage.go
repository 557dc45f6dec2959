package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONStorage keeps the journal in a single JSON file.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *Data
}

// Data is the on-disk layout.
type Data struct {
	History     []SessionRecord    `json:"history"`
	DailyPnL    map[string]float64 `json:"daily_pnl"`
	Statistics  *Statistics        `json:"statistics"`
	LastUpdated time.Time          `json:"last_updated"`
}

func newData() *Data {
	return &Data{
		DailyPnL:   make(map[string]float64),
		Statistics: newStatistics(),
	}
}

// NewJSONStorage opens the journal at path, loading it if the file exists.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: path,
		data:     newData(),
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

// Load replaces the in-memory journal with the file contents.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	data := newData()
	if err := json.Unmarshal(raw, data); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptJournal, err)
	}
	if data.DailyPnL == nil {
		data.DailyPnL = make(map[string]float64)
	}
	if data.Statistics == nil {
		data.Statistics = newStatistics()
	}
	s.data = data
	return nil
}

// Save writes the journal atomically.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating storage dir: %w", err)
		}
	}

	// Write to temp file first
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return err
	}

	// Atomic rename
	if err := os.Rename(tmpFile, s.filepath); err != nil {
		_ = os.Remove(tmpFile)
		return err
	}
	return nil
}

// Record appends rec and persists the journal.
func (s *JSONStorage) Record(rec SessionRecord) error {
	if rec.ID == "" {
		return ErrMissingID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.data.History {
		if h.ID == rec.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.ID)
		}
	}

	s.data.History = append(s.data.History, rec.clone())
	if rec.Entered {
		s.data.Statistics.update(rec.PnL, rec.ExitReason)
		s.data.DailyPnL[rec.Date()] += rec.PnL
	}

	if err := s.saveLocked(); err != nil {
		return fmt.Errorf("saving journal: %w", err)
	}
	return nil
}

// GetHistory returns every record, oldest first.
func (s *JSONStorage) GetHistory() []SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionRecord, len(s.data.History))
	for i, r := range s.data.History {
		out[i] = r.clone()
	}
	return out
}

// HasInHistory reports whether a record with id exists.
func (s *JSONStorage) HasInHistory(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.data.History {
		if r.ID == id {
			return true
		}
	}
	return false
}

// GetStatistics returns a copy of the running statistics.
func (s *JSONStorage) GetStatistics() *Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Statistics.clone()
}

// GetDailyPnL returns the P&L booked on date (YYYY-MM-DD, IST).
func (s *JSONStorage) GetDailyPnL(date string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.DailyPnL[date]
}
