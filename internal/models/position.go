package models

import (
	"errors"
	"fmt"
	"time"
)

// Default exit thresholds.
const (
	DefaultTargetFraction = 0.65
	DefaultStopFraction   = 0.5
)

var (
	// ErrAlreadyEntered is returned when Enter is called a second time.
	ErrAlreadyEntered = errors.New("position already entered")
	// ErrNotEntered is returned when a position is evaluated before entry.
	ErrNotEntered = errors.New("position not entered")
	// ErrAlreadyClosed is returned when Close is called a second time.
	ErrAlreadyClosed = errors.New("position already closed")
)

// Evaluation is the outcome of comparing a price snapshot against the entry.
type Evaluation struct {
	NetCredit float64 `json:"net_credit"`
	PnL       float64 `json:"pnl"`
	TargetHit bool    `json:"target_hit"`
	StopHit   bool    `json:"stop_hit"`
}

// Decision maps the evaluation onto an exit reason. Target wins when both
// conditions hold; an empty reason means keep polling.
func (e Evaluation) Decision() ExitReason {
	switch {
	case e.TargetHit:
		return ExitTarget
	case e.StopHit:
		return ExitStopLoss
	default:
		return ""
	}
}

// Position is the paper iron condor. It records the entry snapshot once and
// evaluates every later snapshot against it.
//
// TargetHit means the net credit decayed to TargetFraction of the entry
// credit. StopHit means the P&L (current net credit minus entry credit) fell
// to -StopFraction of the entry credit. With a positive entry credit the
// target always fires first; the stop is only reachable on a debit entry.
type Position struct {
	EntryTime      time.Time  `json:"entry_time"`
	ExitTime       time.Time  `json:"exit_time,omitempty"`
	EntryPrices    Prices     `json:"entry_prices"`
	CurrentPrices  Prices     `json:"current_prices"`
	ExitReason     ExitReason `json:"exit_reason,omitempty"`
	EntryCredit    float64    `json:"entry_credit"`
	TargetFraction float64    `json:"target_fraction"`
	StopFraction   float64    `json:"stop_fraction"`
	entered        bool
	closed         bool
	now            func() time.Time
}

// NewPosition creates an unentered position. Non-positive fractions fall back
// to the defaults.
func NewPosition(targetFraction, stopFraction float64) *Position {
	if targetFraction <= 0 {
		targetFraction = DefaultTargetFraction
	}
	if stopFraction <= 0 {
		stopFraction = DefaultStopFraction
	}
	return &Position{
		TargetFraction: targetFraction,
		StopFraction:   stopFraction,
		now:            time.Now,
	}
}

// SetClock replaces the source of entry and exit timestamps.
func (p *Position) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

func (p *Position) timestamp() time.Time {
	if p.now == nil {
		return time.Now().UTC()
	}
	return p.now().UTC()
}

// Enter records the entry snapshot and returns the entry credit.
func (p *Position) Enter(prices Prices) (float64, error) {
	if p.entered {
		return p.EntryCredit, ErrAlreadyEntered
	}
	p.EntryPrices = prices.Copy()
	if p.EntryPrices == nil {
		p.EntryPrices = Prices{}
	}
	p.CurrentPrices = p.EntryPrices.Copy()
	p.EntryCredit = p.EntryPrices.NetCredit()
	p.EntryTime = p.timestamp()
	p.entered = true
	return p.EntryCredit, nil
}

// Evaluate compares prices against the entry and refreshes the current snapshot.
func (p *Position) Evaluate(prices Prices) (Evaluation, error) {
	if !p.entered {
		return Evaluation{}, ErrNotEntered
	}
	p.CurrentPrices = prices.Copy()
	netCredit := prices.NetCredit()
	pnl := netCredit - p.EntryCredit
	return Evaluation{
		NetCredit: netCredit,
		PnL:       pnl,
		TargetHit: netCredit <= p.TargetLevel(),
		StopHit:   pnl <= p.StopLevel(),
	}, nil
}

// Close records the exit snapshot and reason.
func (p *Position) Close(reason ExitReason, prices Prices) error {
	if p.closed {
		return ErrAlreadyClosed
	}
	if !p.entered {
		return fmt.Errorf("closing with %s: %w", reason, ErrNotEntered)
	}
	if prices != nil {
		p.CurrentPrices = prices.Copy()
	}
	p.ExitReason = reason
	p.ExitTime = p.timestamp()
	p.closed = true
	return nil
}

// TargetLevel is the net credit at or below which the target is hit.
func (p *Position) TargetLevel() float64 {
	return p.EntryCredit * p.TargetFraction
}

// StopLevel is the P&L at or below which the stop is hit.
func (p *Position) StopLevel() float64 {
	return p.EntryCredit * -p.StopFraction
}

// Entered reports whether Enter has succeeded.
func (p *Position) Entered() bool {
	return p.entered
}

// Closed reports whether Close has succeeded.
func (p *Position) Closed() bool {
	return p.closed
}

// GetEntryPrices returns a copy of the entry snapshot.
func (p *Position) GetEntryPrices() Prices {
	return p.EntryPrices.Copy()
}

// GetCurrentPrices returns a copy of the latest snapshot.
func (p *Position) GetCurrentPrices() Prices {
	return p.CurrentPrices.Copy()
}

// CurrentPnL returns the P&L of the latest snapshot.
func (p *Position) CurrentPnL() float64 {
	if !p.entered {
		return 0
	}
	return p.CurrentPrices.NetCredit() - p.EntryCredit
}
