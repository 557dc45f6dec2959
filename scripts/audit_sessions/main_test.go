package main

import (
	"strings"
	"testing"
	"time"

	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/storage"
)

func enteredRecord(id string, entry, exit models.Prices) storage.SessionRecord {
	at := time.Date(2025, 1, 27, 9, 25, 0, 0, models.IST)
	return storage.SessionRecord{
		ID:          id,
		Underlying:  "Nifty 50",
		Entered:     true,
		EntryTime:   at,
		ExitTime:    at.Add(2 * time.Hour),
		EntryPrices: entry,
		ExitPrices:  exit,
		EntryCredit: entry.NetCredit(),
		ExitCredit:  exit.NetCredit(),
		PnL:         exit.NetCredit() - entry.NetCredit(),
		ExitReason:  models.ExitTarget,
	}
}

func TestAnalyzeJournal_Clean(t *testing.T) {
	j := storage.NewMockStorage()
	entry := models.Prices{models.SellCall: 60, models.SellPut: 55, models.BuyCall: 20, models.BuyPut: 18}
	exit := models.Prices{models.SellCall: 30, models.SellPut: 25, models.BuyCall: 8, models.BuyPut: 7}
	if err := j.Record(enteredRecord("session-a", entry, exit)); err != nil {
		t.Fatal(err)
	}
	if err := j.Record(storage.SessionRecord{ID: "session-b", ExitReason: models.ExitNoEntry, ExitTime: time.Now()}); err != nil {
		t.Fatal(err)
	}

	if issues := analyzeJournal(j); len(issues) != 0 {
		t.Errorf("Expected no issues, got %v", issues)
	}
}

func TestAnalyzeJournal_Inconsistent(t *testing.T) {
	j := storage.NewMockStorage()
	entry := models.Prices{models.SellCall: 60, models.SellPut: 55, models.BuyCall: 20, models.BuyPut: 18}
	exit := models.Prices{models.SellCall: 30, models.SellPut: 25, models.BuyCall: 8, models.BuyPut: 7}
	rec := enteredRecord("session-c", entry, exit)
	rec.PnL = 99
	rec.EntryCredit = 10
	if err := j.Record(rec); err != nil {
		t.Fatal(err)
	}
	if err := j.Record(storage.SessionRecord{ID: "session-d", ExitReason: models.ExitTarget}); err != nil {
		t.Fatal(err)
	}

	issues := analyzeJournal(j)
	joined := strings.Join(issues, "\n")
	for _, want := range []string{"entry credit 10.00", "pnl 99.00", "never entered"} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected an issue mentioning %q, got:\n%s", want, joined)
		}
	}
}
