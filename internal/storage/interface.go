package storage

import (
	"time"

	"github.com/eddiefleurent/nifty_condor/internal/models"
)

// Interface defines the contract for the session journal.
//
// Implementations must be safe for concurrent use. Returned records and
// statistics are copies; mutating them does not affect the journal.
type Interface interface {
	// Record appends a finished session and updates statistics.
	Record(rec SessionRecord) error

	Save() error
	Load() error

	GetHistory() []SessionRecord
	HasInHistory(id string) bool
	GetStatistics() *Statistics
	GetDailyPnL(date string) float64
}

// SessionRecord is the journal entry for one trading day.
type SessionRecord struct {
	ID          string             `json:"id"`
	Underlying  string             `json:"underlying"`
	Expiry      string             `json:"expiry,omitempty"`
	Legs        models.Legs        `json:"legs,omitempty"`
	Entered     bool               `json:"entered"`
	EntryTime   time.Time          `json:"entry_time"`
	ExitTime    time.Time          `json:"exit_time"`
	EntryPrices models.Prices      `json:"entry_prices,omitempty"`
	ExitPrices  models.Prices      `json:"exit_prices,omitempty"`
	EntryCredit float64            `json:"entry_credit"`
	ExitCredit  float64            `json:"exit_credit"`
	PnL         float64            `json:"pnl"`
	ExitReason  models.ExitReason  `json:"exit_reason"`
	Underlyings map[string]float64 `json:"underlying_prices,omitempty"` // "entry" / "exit"
}

// Date is the IST trading date of the record, YYYY-MM-DD.
func (r SessionRecord) Date() string {
	t := r.EntryTime
	if t.IsZero() {
		t = r.ExitTime
	}
	return t.In(models.IST).Format("2006-01-02")
}

func (r SessionRecord) clone() SessionRecord {
	out := r
	out.Legs = r.Legs.Copy()
	out.EntryPrices = r.EntryPrices.Copy()
	out.ExitPrices = r.ExitPrices.Copy()
	if r.Underlyings != nil {
		out.Underlyings = make(map[string]float64, len(r.Underlyings))
		for k, v := range r.Underlyings {
			out.Underlyings[k] = v
		}
	}
	return out
}

// Statistics summarizes entered sessions. Sessions that never entered are
// journaled but not counted.
type Statistics struct {
	TotalTrades   int                       `json:"total_trades"`
	WinningTrades int                       `json:"winning_trades"`
	LosingTrades  int                       `json:"losing_trades"`
	WinRate       float64                   `json:"win_rate"`
	TotalPnL      float64                   `json:"total_pnl"`
	AverageWin    float64                   `json:"average_win"`
	AverageLoss   float64                   `json:"average_loss"`
	MaxDrawdown   float64                   `json:"max_drawdown"`
	CurrentStreak int                       `json:"current_streak"`
	ExitReasons   map[models.ExitReason]int `json:"exit_reasons"`
}

func newStatistics() *Statistics {
	return &Statistics{ExitReasons: make(map[models.ExitReason]int)}
}

func (s *Statistics) clone() *Statistics {
	out := *s
	out.ExitReasons = make(map[models.ExitReason]int, len(s.ExitReasons))
	for k, v := range s.ExitReasons {
		out.ExitReasons[k] = v
	}
	return &out
}

// update folds one entered session into the running statistics.
func (s *Statistics) update(pnl float64, reason models.ExitReason) {
	if s.ExitReasons == nil {
		s.ExitReasons = make(map[models.ExitReason]int)
	}
	s.ExitReasons[reason]++
	s.TotalTrades++
	s.TotalPnL += pnl

	if pnl > 0 {
		s.WinningTrades++
		if s.CurrentStreak >= 0 {
			s.CurrentStreak++
		} else {
			s.CurrentStreak = 1
		}
		s.AverageWin += (pnl - s.AverageWin) / float64(s.WinningTrades)
	} else {
		s.LosingTrades++
		if s.CurrentStreak <= 0 {
			s.CurrentStreak--
		} else {
			s.CurrentStreak = -1
		}
		s.AverageLoss += (pnl - s.AverageLoss) / float64(s.LosingTrades)
	}

	s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades)

	if pnl < s.MaxDrawdown {
		s.MaxDrawdown = pnl
	}
}

// NewStorage creates the journal (currently JSON-based). An empty path keeps
// the journal in memory only.
func NewStorage(path string) (Interface, error) {
	if path == "" {
		return NewMockStorage(), nil
	}
	return NewJSONStorage(path)
}

// Ensure both implementations satisfy Interface
var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
