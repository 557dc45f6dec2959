package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/broker"
	"github.com/eddiefleurent/nifty_condor/internal/catalog"
	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/metrics"
	"github.com/eddiefleurent/nifty_condor/internal/mock"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/refdata"
	"github.com/eddiefleurent/nifty_condor/internal/retry"
	"github.com/eddiefleurent/nifty_condor/internal/scheduler"
	"github.com/eddiefleurent/nifty_condor/internal/session"
	"github.com/eddiefleurent/nifty_condor/internal/status"
	"github.com/eddiefleurent/nifty_condor/internal/storage"
	"github.com/eddiefleurent/nifty_condor/internal/strategy"
	"github.com/eddiefleurent/nifty_condor/internal/util"
)

// simulatedVol is the annualized volatility of the simulated underlying.
const simulatedVol = 0.15

type botOptions struct {
	Spot  float64
	Clock util.Clock
	// Records replaces the scrip master; tests use it to skip the download.
	Records []models.InstrumentRecord
	// Random replaces the simulator's random source.
	Random func() float64
}

// Bot wires the collaborators of a session from the configuration.
type Bot struct {
	config        *config.Config
	opts          botOptions
	logger        *logrus.Logger
	logs          *status.LogBuffer
	registry      *prometheus.Registry
	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	journal       storage.Interface
	reporter      status.Reporter
	clock         util.Clock
	redis         *redis.Client
}

// NewBot builds the long-lived parts: logging, metrics, journal and the
// status reporter.
func NewBot(cfg *config.Config, opts botOptions) (*Bot, error) {
	logs := status.NewLogBuffer(cfg.Status.LogLines)
	logger := newLogger(cfg.Environment.LogLevel, cfg.Environment.LogFormat, logs)

	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Spot <= 0 {
		opts.Spot = 25000
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	journal, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	b := &Bot{
		config:   cfg,
		opts:     opts,
		logger:   logger,
		logs:     logs,
		registry: registry,
		metrics:  metrics.New(registry),
		journal:  journal,
		reporter: status.NewHTTPReporter(cfg.Status.URL, cfg.StatusTimeout(), logger.WithField("component", "status")).
			WithAuthToken(cfg.Status.AuthToken),
		clock: opts.Clock,
	}

	if cfg.Metrics.Addr != "" {
		b.metricsServer = metrics.NewServer(cfg.Metrics.Addr, registry, logger)
		b.metricsServer.Start()
	}

	if cfg.Environment.Simulate {
		logger.Info("SIMULATION MODE - prices come from the built-in simulator")
	} else {
		logger.Info("PAPER TRADING MODE - no orders are placed")
	}
	return b, nil
}

// Close releases the metrics listener and the redis connection.
func (b *Bot) Close() {
	if b.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.metricsServer.Stop(ctx); err != nil {
			b.logger.WithError(err).Warn("Metrics server shutdown failed")
		}
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

// Schedule runs one session per trading day until ctx ends.
func (b *Bot) Schedule(ctx context.Context) error {
	s := scheduler.New(b.config.SchedulerConfig(), b.clock, b.logger.WithField("component", "scheduler"))
	return s.Run(ctx, func(ctx context.Context) error {
		_, err := b.RunSession(ctx)
		return err
	})
}

// RunSession loads the reference data, logs in and runs one session.
// Reference data and login failures are fatal for the session.
func (b *Bot) RunSession(ctx context.Context) (*session.Result, error) {
	records, err := b.loadRecords(ctx)
	if err != nil {
		return nil, err
	}
	cat := catalog.New(records)

	brk, sess, err := b.connect(ctx, records)
	if err != nil {
		return nil, err
	}

	sc := b.config.SessionConfig()
	sc.Underlying = cat.ResolveUnderlying(b.config.Strategy.Underlying, b.config.Strategy.UnderlyingExchange, b.config.UnderlyingFallback())
	b.logger.WithFields(logrus.Fields{
		"exchange": sc.Underlying.Exchange,
		"symbol":   sc.Underlying.Symbol,
		"token":    sc.Underlying.Token,
	}).Info("Resolved underlying")

	s, err := session.New(sc, session.Deps{
		Catalog:  cat,
		Builder:  strategy.NewCondorBuilder(b.config.CondorConfig(), b.logger.WithField("component", "strategy")),
		Sampler:  strategy.NewSampler(broker.NewPriceProvider(brk, sess)),
		Reporter: b.reporter,
		Journal:  b.journal,
		Metrics:  b.metrics,
		Logs:     b.logs,
		Clock:    b.clock,
		Logger:   b.logger,
	})
	if err != nil {
		return nil, err
	}

	res, err := s.Run(ctx)
	if res != nil {
		b.logResult(res)
	}
	return res, err
}

func (b *Bot) logResult(res *session.Result) {
	stats := b.journal.GetStatistics()
	b.logger.WithFields(logrus.Fields{
		"session":      shortID(res.ID),
		"exit_reason":  res.ExitReason,
		"entry_credit": res.EntryCredit,
		"exit_credit":  res.ExitCredit,
		"pnl":          res.PnL,
		"ticks":        res.Ticks,
		"total_pnl":    stats.TotalPnL,
		"win_rate":     stats.WinRate,
	}).Info("Session finished")
}

// loadRecords returns the scrip master: the synthetic chain in simulation,
// the cached or downloaded file otherwise.
func (b *Bot) loadRecords(ctx context.Context) ([]models.InstrumentRecord, error) {
	if b.opts.Records != nil {
		return b.opts.Records, nil
	}
	if b.config.Environment.Simulate {
		recs := mock.SyntheticChain(mock.ChainConfig{
			Underlying: b.config.Strategy.Underlying,
			Spot:       b.opts.Spot,
		}, b.clock.Now())
		b.logger.WithField("records", len(recs)).Info("Using synthetic option chain")
		return recs, nil
	}

	loader := refdata.NewLoader(b.config.LoaderConfig(), b.refdataCache(),
		retry.NewClient(b.logger.WithField("component", "retry")),
		b.logger.WithField("component", "refdata"))
	res, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading reference data: %w", err)
	}
	b.logger.WithFields(logrus.Fields{
		"records":    len(res.Records),
		"source":     res.Source,
		"fetched_at": res.FetchedAt.Format(time.RFC3339),
	}).Info("Reference data loaded")
	return res.Records, nil
}

func (b *Bot) refdataCache() refdata.Cache {
	rc := b.config.ReferenceData
	if rc.RedisAddr != "" {
		if b.redis == nil {
			b.redis = redis.NewClient(&redis.Options{Addr: rc.RedisAddr})
		}
		ttl, _ := time.ParseDuration(rc.CacheTTL)
		return refdata.NewRedisCache(b.redis, rc.RedisKey, 7*ttl)
	}
	return refdata.NewFileCache(rc.CachePath)
}

// connect logs in to the broker.
func (b *Bot) connect(ctx context.Context, records []models.InstrumentRecord) (broker.Broker, *broker.Session, error) {
	var brk broker.Broker
	if b.config.Environment.Simulate {
		sim := mock.NewSimulatedBroker(records, b.opts.Spot, simulatedVol, b.clock)
		if b.opts.Random != nil {
			sim.SetRandom(b.opts.Random)
		}
		brk = sim
	} else {
		client := broker.NewSmartAPIClient(b.config.SmartAPIConfig(), b.logger.WithField("component", "smartapi"))
		brk = broker.NewCircuitBreakerBroker(client, broker.DefaultCircuitBreakerSettings(), b.logger.WithField("component", "breaker"))
	}

	sess, err := brk.Login(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("broker login: %w", err)
	}
	b.logger.WithField("client", sess.ClientCode).Info("Broker session established")
	return brk, sess, nil
}
