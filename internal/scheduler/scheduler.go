// Package scheduler starts one session per trading day.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/util"
)

// Config describes the trading calendar.
type Config struct {
	Location *time.Location
	Entry    models.TimeOfDay
	Exit     models.TimeOfDay
	// Lead starts the session this long before the entry time so login and
	// reference data are ready.
	Lead time.Duration
	// Holidays are YYYY-MM-DD dates with no session.
	Holidays []string
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return models.IST
	}
	return c.Location
}

// TradingDay reports whether t's calendar date is a weekday that is not a
// configured holiday.
func (c Config) TradingDay(t time.Time) bool {
	t = t.In(c.location())
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	date := t.Format("2006-01-02")
	for _, h := range c.Holidays {
		if h == date {
			return false
		}
	}
	return true
}

// NextRun returns when the next session should start. A session can still
// start today while now is before the exit cutoff; it then starts at the
// lead time or immediately, whichever is later. skipToday forces the next
// trading day.
func NextRun(now time.Time, cfg Config, skipToday bool) time.Time {
	loc := cfg.location()
	now = now.In(loc)

	if !skipToday && cfg.TradingDay(now) && !cfg.Exit.Reached(now, loc) {
		start := cfg.Entry.On(now, loc).Add(-cfg.Lead)
		if now.After(start) {
			return now
		}
		return start
	}

	day := now
	for i := 0; i < 366; i++ {
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 12, 0, 0, 0, loc)
		if cfg.TradingDay(day) {
			return cfg.Entry.On(day, loc).Add(-cfg.Lead)
		}
	}
	// a whole year of holidays; nothing sensible to return
	return cfg.Entry.On(day, loc)
}

// Scheduler runs a job once per trading day until its context ends.
type Scheduler struct {
	config  Config
	clock   util.Clock
	logger  logrus.FieldLogger
	lastRun string
}

// New creates a scheduler.
func New(cfg Config, clock util.Clock, logger logrus.FieldLogger) *Scheduler {
	if clock == nil {
		clock = util.RealClock{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{config: cfg, clock: clock, logger: logger}
}

// Run waits for each trading day and calls job. Job errors are logged and the
// scheduler moves on to the next day. Run returns when ctx is done.
func (s *Scheduler) Run(ctx context.Context, job func(ctx context.Context) error) error {
	loc := s.config.location()
	for {
		now := s.clock.Now()
		today := now.In(loc).Format("2006-01-02")
		next := NextRun(now, s.config, s.lastRun == today)
		wait := next.Sub(now)

		s.logger.WithFields(logrus.Fields{
			"next_run": next.Format(time.RFC3339),
			"wait":     wait.Round(time.Second).String(),
		}).Info("Sleeping until next session")

		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(wait):
			}
		}

		s.lastRun = s.clock.Now().In(loc).Format("2006-01-02")
		s.logger.WithField("date", s.lastRun).Info("Starting session")
		err := job(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			s.logger.WithError(err).Error("Session failed, will schedule next day")
		default:
			s.logger.Info("Session finished, will schedule next day")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
