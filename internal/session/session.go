// Package session runs one trading day of the paper iron condor: wait for the
// entry time, build and price the legs, then poll until target, stop loss or
// the time cutoff.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/catalog"
	"github.com/eddiefleurent/nifty_condor/internal/metrics"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/status"
	"github.com/eddiefleurent/nifty_condor/internal/storage"
	"github.com/eddiefleurent/nifty_condor/internal/strategy"
	"github.com/eddiefleurent/nifty_condor/internal/util"
)

// ErrFinished is returned by Run on a session that already ran.
var ErrFinished = errors.New("session already finished")

// Default polling cadence.
const (
	DefaultEntryPollInterval = 2 * time.Second
	DefaultPollInterval      = 5 * time.Second
	finalPushTimeout         = 2 * time.Second
)

// Config holds the session schedule and exit thresholds.
type Config struct {
	Location          *time.Location
	Entry             models.TimeOfDay
	Exit              models.TimeOfDay
	EntryPollInterval time.Duration
	PollInterval      time.Duration
	Underlying        catalog.UnderlyingRef
	TargetFraction    float64
	StopFraction      float64
}

// Deps are the collaborators a session drives. Catalog, Builder and Sampler
// are required; the rest default to no-ops.
type Deps struct {
	Catalog  *catalog.Catalog
	Builder  *strategy.CondorBuilder
	Sampler  *strategy.Sampler
	Reporter status.Reporter
	Journal  storage.Interface
	Metrics  *metrics.Metrics
	Logs     *status.LogBuffer
	Clock    util.Clock
	Logger   logrus.FieldLogger
}

// Result summarizes a finished session.
type Result struct {
	ID          string
	ExitReason  models.ExitReason
	Entered     bool
	Plan        *strategy.CondorPlan
	EntryTime   time.Time
	ExitTime    time.Time
	EntryPrices models.Prices
	ExitPrices  models.Prices
	EntryCredit float64
	ExitCredit  float64
	PnL         float64
	Ticks       int
	States      []models.SessionState
}

// Session is single use: construct one per trading day.
type Session struct {
	id       string
	config   Config
	deps     Deps
	logger   logrus.FieldLogger
	sm       *models.StateMachine
	position *models.Position

	plan            *strategy.CondorPlan
	underlyingPrice float64
	lastPrices      models.Prices
	ticks           int
}

// New validates the configuration and creates a session.
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Catalog == nil || deps.Builder == nil || deps.Sampler == nil {
		return nil, errors.New("session: catalog, builder and sampler are required")
	}
	if cfg.Location == nil {
		cfg.Location = models.IST
	}
	if cfg.EntryPollInterval <= 0 {
		cfg.EntryPollInterval = DefaultEntryPollInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if !cfg.Entry.Before(cfg.Exit) {
		return nil, fmt.Errorf("session: entry %s must be before exit %s", cfg.Entry, cfg.Exit)
	}
	if deps.Reporter == nil {
		deps.Reporter = status.Nop{}
	}
	if deps.Journal == nil {
		deps.Journal = storage.NewMockStorage()
	}
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}
	if deps.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		deps.Logger = l
	}

	id := uuid.NewString()
	pos := models.NewPosition(cfg.TargetFraction, cfg.StopFraction)
	pos.SetClock(deps.Clock.Now)

	return &Session{
		id:       id,
		config:   cfg,
		deps:     deps,
		logger:   deps.Logger.WithField("session", id[:8]),
		sm:       models.NewStateMachine(),
		position: pos,
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() models.SessionState {
	return s.sm.GetCurrentState()
}

// Run drives the session to completion. Cancelling ctx stops it with an
// INTERRUPTED result and ctx.Err(). Errors from leg selection are fatal and
// returned without a result.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	if s.sm.GetCurrentState() != models.StateWaitingForEntry || s.position.Entered() {
		return nil, ErrFinished
	}
	s.setState(models.StateWaitingForEntry)

	price, reason, err := s.waitForEntry(ctx)
	if reason != "" {
		return s.finish(ctx, reason, nil), err
	}

	if err := s.transition(models.StateSampling, models.CondEntryTime); err != nil {
		return nil, err
	}
	if err := s.enter(ctx, price); err != nil {
		if ctx.Err() != nil {
			return s.finish(ctx, models.ExitInterrupted, nil), ctx.Err()
		}
		return nil, err
	}
	if err := s.transition(models.StateEnteredPolling, models.CondEntered); err != nil {
		return nil, err
	}

	reason, prices := s.poll(ctx)
	res := s.finish(ctx, reason, prices)
	if reason == models.ExitInterrupted {
		return res, ctx.Err()
	}
	return res, nil
}

// waitForEntry blocks until the entry time has passed and the underlying has
// a price. A non-empty reason ends the session before entry.
func (s *Session) waitForEntry(ctx context.Context) (float64, models.ExitReason, error) {
	loc := s.config.Location
	ref := s.config.Underlying
	logged := false
	for {
		if err := ctx.Err(); err != nil {
			return 0, models.ExitInterrupted, err
		}
		now := s.deps.Clock.Now()

		if !s.config.Entry.Reached(now, loc) {
			if !logged {
				s.logger.WithField("entry_time", s.config.Entry.String()).Info("Waiting for entry time")
				logged = true
			}
			if err := s.sleep(ctx, s.config.EntryPollInterval); err != nil {
				return 0, models.ExitInterrupted, err
			}
			continue
		}

		if s.config.Exit.Reached(now, loc) {
			s.logger.WithField("exit_time", s.config.Exit.String()).
				Warn("Exit cutoff reached before the underlying could be priced, not entering")
			return 0, models.ExitNoEntry, nil
		}

		price, kind := s.deps.Sampler.UnderlyingPrice(ctx, ref.Exchange, ref.Symbol, ref.Token)
		if price > 0 {
			s.logger.WithFields(logrus.Fields{
				"symbol": ref.Symbol,
				"price":  price,
			}).Info("Underlying priced")
			s.underlyingPrice = price
			return price, "", nil
		}
		if err := ctx.Err(); err != nil {
			return 0, models.ExitInterrupted, err
		}
		s.logger.WithFields(logrus.Fields{
			"symbol": ref.Symbol,
			"token":  ref.Token,
			"reason": kind,
		}).Warn("Underlying price unavailable, retrying")
		if err := s.sleep(ctx, s.config.EntryPollInterval); err != nil {
			return 0, models.ExitInterrupted, err
		}
	}
}

// enter builds the legs and records the entry snapshot.
func (s *Session) enter(ctx context.Context, price float64) error {
	today := s.deps.Clock.Now().In(s.config.Location)
	plan, err := s.deps.Builder.BuildLegs(s.deps.Catalog, price, today)
	if err != nil {
		return fmt.Errorf("building legs: %w", err)
	}
	s.plan = plan
	for _, role := range models.AllLegRoles {
		s.logger.WithField("leg", plan.Legs[role].String()).Info("Selected leg")
	}

	sample := s.deps.Sampler.Sample(ctx, plan.Legs)
	if err := ctx.Err(); err != nil {
		return err
	}
	s.recordFailures(sample)

	credit, err := s.position.Enter(sample.Prices)
	if err != nil {
		return err
	}
	s.lastPrices = sample.Prices.Copy()
	s.deps.Metrics.Entered(credit)

	fields := logrus.Fields{
		"entry_credit": credit,
		"target":       s.position.TargetLevel(),
		"stop_loss":    s.position.StopLevel(),
		"expiry":       plan.Expiry.Long(),
	}
	s.logger.WithFields(fields).Info("Entered paper iron condor")
	if credit <= 0 {
		s.logger.WithField("entry_credit", credit).Warn("Entry is not a net credit")
	}

	s.push(ctx, s.snapshot(sample.Prices, 0, ""))
	return nil
}

// poll samples until an exit condition holds and returns the reason and the
// last snapshot.
func (s *Session) poll(ctx context.Context) (models.ExitReason, models.Prices) {
	loc := s.config.Location
	for {
		if ctx.Err() != nil {
			return models.ExitInterrupted, s.lastPrices
		}

		cutoff := s.config.Exit.Reached(s.deps.Clock.Now(), loc)

		sample := s.deps.Sampler.Sample(ctx, s.plan.Legs)
		if ctx.Err() != nil {
			return models.ExitInterrupted, s.lastPrices
		}
		s.recordFailures(sample)
		s.lastPrices = sample.Prices.Copy()

		eval, err := s.position.Evaluate(sample.Prices)
		if err != nil {
			// unreachable once entered
			s.logger.WithError(err).Error("Evaluating position failed")
			return models.ExitInterrupted, s.lastPrices
		}
		s.ticks++
		s.deps.Metrics.Tick(eval.NetCredit, eval.PnL)

		if cutoff {
			s.logger.WithFields(logrus.Fields{"net_credit": eval.NetCredit, "pnl": eval.PnL}).
				Info("Exit cutoff reached")
			return models.ExitTime, s.lastPrices
		}

		if u, _ := s.deps.Sampler.UnderlyingPrice(ctx, s.config.Underlying.Exchange, s.config.Underlying.Symbol, s.config.Underlying.Token); u > 0 {
			s.underlyingPrice = u
		}
		s.logger.WithFields(logrus.Fields{
			"net_credit": eval.NetCredit,
			"pnl":        eval.PnL,
		}).Info("Polled position")
		s.push(ctx, s.snapshot(sample.Prices, eval.PnL, ""))

		if reason := eval.Decision(); reason != "" {
			return reason, s.lastPrices
		}

		if err := s.sleep(ctx, s.config.PollInterval); err != nil {
			return models.ExitInterrupted, s.lastPrices
		}
	}
}

// finish closes the position, pushes the final status and journals the day.
func (s *Session) finish(ctx context.Context, reason models.ExitReason, prices models.Prices) *Result {
	cond := models.CondExitConditions
	switch reason {
	case models.ExitInterrupted:
		cond = models.CondInterrupted
	case models.ExitNoEntry:
		cond = models.CondEntryWindowGone
	}
	if err := s.transition(models.StateExited, cond); err != nil {
		s.logger.WithError(err).Error("Unexpected state transition")
	}

	now := s.deps.Clock.Now()
	res := &Result{
		ID:         s.id,
		ExitReason: reason,
		Entered:    s.position.Entered(),
		Plan:       s.plan,
		ExitTime:   now,
		Ticks:      s.ticks,
		States:     s.sm.History(),
	}

	if s.position.Entered() {
		if prices == nil {
			prices = s.position.GetCurrentPrices()
		}
		if err := s.position.Close(reason, prices); err != nil {
			s.logger.WithError(err).Error("Closing position failed")
		}
		res.EntryTime = s.position.EntryTime
		res.ExitTime = s.position.ExitTime
		res.EntryPrices = s.position.GetEntryPrices()
		res.ExitPrices = s.position.GetCurrentPrices()
		res.EntryCredit = s.position.EntryCredit
		res.ExitCredit = res.ExitPrices.NetCredit()
		res.PnL = s.position.CurrentPnL()
	}

	s.logger.WithFields(logrus.Fields{
		"exit_reason":  reason,
		"entry_credit": res.EntryCredit,
		"exit_credit":  res.ExitCredit,
		"pnl":          res.PnL,
	}).Info("Session exited")

	// The final push must go out even when the host is stopping.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalPushTimeout)
	defer cancel()
	s.push(pushCtx, s.snapshot(res.ExitPrices, res.PnL, reason))

	if err := s.deps.Journal.Record(s.record(res)); err != nil {
		s.logger.WithError(err).Error("Failed to journal session")
	}
	s.deps.Metrics.Exited(string(reason), res.PnL)
	return res
}

func (s *Session) record(res *Result) storage.SessionRecord {
	rec := storage.SessionRecord{
		ID:          res.ID,
		Underlying:  s.config.Underlying.Symbol,
		Entered:     res.Entered,
		EntryTime:   res.EntryTime,
		ExitTime:    res.ExitTime,
		EntryPrices: res.EntryPrices,
		ExitPrices:  res.ExitPrices,
		EntryCredit: res.EntryCredit,
		ExitCredit:  res.ExitCredit,
		PnL:         res.PnL,
		ExitReason:  res.ExitReason,
	}
	if res.Plan != nil {
		rec.Expiry = res.Plan.Expiry.Long()
		rec.Legs = res.Plan.Legs
		rec.Underlyings = map[string]float64{
			"entry": res.Plan.UnderlyingPrice,
			"exit":  s.underlyingPrice,
		}
	}
	return rec
}

func (s *Session) snapshot(prices models.Prices, pnl float64, reason models.ExitReason) status.Snapshot {
	var legs models.Legs
	if s.plan != nil {
		legs = s.plan.Legs
	}
	var logs []string
	if s.deps.Logs != nil {
		logs = s.deps.Logs.Lines()
	} else {
		logs = []string{fmt.Sprintf("Loop credit=%.2f, pnl=%.2f", prices.NetCredit(), pnl)}
	}
	snap := status.NewSnapshot(s.deps.Clock.Now().In(s.config.Location), s.underlyingPrice, legs, prices, pnl, logs)
	snap.ExitReason = reason
	return snap
}

func (s *Session) push(ctx context.Context, snap status.Snapshot) {
	if err := s.deps.Reporter.Push(ctx, snap); err != nil {
		s.deps.Metrics.PushFailed()
	}
}

func (s *Session) recordFailures(sample strategy.Sample) {
	if sample.OK() {
		return
	}
	fields := logrus.Fields{}
	for role, kind := range sample.Failures {
		fields[string(role)] = kind
		s.deps.Metrics.SampleFailed(string(role), string(kind))
	}
	s.logger.WithFields(fields).Warn("Some legs priced at zero")
}

func (s *Session) transition(to models.SessionState, cond string) error {
	if err := s.sm.Transition(to, cond); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"from": s.sm.GetPreviousState(),
		"to":   to,
		"at":   s.sm.TransitionTime().Format(time.TimeOnly),
	}).Debug(s.sm.GetStateDescription())
	s.setState(to)
	return nil
}

var allStates = []string{
	string(models.StateWaitingForEntry),
	string(models.StateSampling),
	string(models.StateEnteredPolling),
	string(models.StateExited),
}

func (s *Session) setState(state models.SessionState) {
	s.deps.Metrics.SetState(string(state), allStates)
}

func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.deps.Clock.After(d):
		return nil
	}
}
