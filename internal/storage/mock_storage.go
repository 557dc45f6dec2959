package storage

import (
	"fmt"
	"sync"
)

// MockStorage is an in-memory journal. It backs tests and runs with no
// storage path configured.
type MockStorage struct {
	mu            sync.Mutex
	saveError     error
	history       []SessionRecord
	dailyPnL      map[string]float64
	statistics    *Statistics
	saveCallCount int
}

// NewMockStorage creates an empty in-memory journal.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		dailyPnL:   make(map[string]float64),
		statistics: newStatistics(),
	}
}

// SetSaveError makes subsequent Save and Record calls fail with err.
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// SaveCallCount returns how many saves were attempted.
func (m *MockStorage) SaveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCallCount
}

func (m *MockStorage) Record(rec SessionRecord) error {
	if rec.ID == "" {
		return ErrMissingID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saveCallCount++
	if m.saveError != nil {
		return fmt.Errorf("saving journal: %w", m.saveError)
	}
	for _, h := range m.history {
		if h.ID == rec.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.ID)
		}
	}
	m.history = append(m.history, rec.clone())
	if rec.Entered {
		m.statistics.update(rec.PnL, rec.ExitReason)
		m.dailyPnL[rec.Date()] += rec.PnL
	}
	return nil
}

func (m *MockStorage) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	return m.saveError
}

func (m *MockStorage) Load() error {
	return nil
}

func (m *MockStorage) GetHistory() []SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionRecord, len(m.history))
	for i, r := range m.history {
		out[i] = r.clone()
	}
	return out
}

func (m *MockStorage) HasInHistory(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.history {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (m *MockStorage) GetStatistics() *Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statistics.clone()
}

func (m *MockStorage) GetDailyPnL(date string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyPnL[date]
}
