package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/eddiefleurent/nifty_condor/internal/models"
)

func TestNewJSONStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.json")

	storage, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("NewJSONStorage failed: %v", err)
	}
	if storage == nil {
		t.Fatal("Expected non-nil storage")
	}
	if n := len(storage.GetHistory()); n != 0 {
		t.Errorf("Expected 0 initial records, got %d", n)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Opening should not create the file")
	}
}

func TestJSONStorage_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.json")

	first, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("NewJSONStorage failed: %v", err)
	}
	rec := record(27, 42, models.ExitTarget)
	if err := first.Record(rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file left behind after save")
	}

	second, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if !second.HasInHistory(rec.ID) {
		t.Error("Record lost across reopen")
	}
	got := second.GetHistory()[0]
	if got.EntryPrices[models.SellPut] != 90 || got.ExitReason != models.ExitTarget {
		t.Errorf("Record fields not preserved: %+v", got)
	}
	if second.GetStatistics().TotalTrades != 1 {
		t.Error("Statistics lost across reopen")
	}
	if second.GetDailyPnL("2025-01-27") != 42 {
		t.Error("Daily P&L lost across reopen")
	}
}

func TestJSONStorage_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewJSONStorage(path)
	if !errors.Is(err, ErrCorruptJournal) {
		t.Errorf("Expected ErrCorruptJournal, got %v", err)
	}
}

func TestNewStorage_EmptyPathIsMemory(t *testing.T) {
	s, err := NewStorage("")
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	if _, ok := s.(*MockStorage); !ok {
		t.Errorf("Expected in-memory journal, got %T", s)
	}
}
