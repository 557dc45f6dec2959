package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/broker"
	"github.com/eddiefleurent/nifty_condor/internal/catalog"
	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/dashboard"
	"github.com/eddiefleurent/nifty_condor/internal/metrics"
	"github.com/eddiefleurent/nifty_condor/internal/mock"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/session"
	"github.com/eddiefleurent/nifty_condor/internal/status"
	"github.com/eddiefleurent/nifty_condor/internal/storage"
	"github.com/eddiefleurent/nifty_condor/internal/strategy"
)

// End-to-end run of one simulated session against an in-process dashboard.
// The session clock is virtual, so a whole trading day takes seconds.
func main() {
	fmt.Println("=== NIFTY Condor - End-to-End Integration Test ===")
	fmt.Println()

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Default config invalid: %v", err)
	}

	logs := status.NewLogBuffer(cfg.Status.LogLines)
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	logger.AddHook(logs)

	// Dashboard on a free local port
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	dash := dashboard.NewServer(dashboard.Config{AuthToken: "integration"}, m, registry, logger)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}
	srv := &http.Server{Handler: dash.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Dashboard stopped: %v", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()
	baseURL := "http://" + ln.Addr().String()

	// Journal in a temp dir
	dir, err := os.MkdirTemp("", "nifty-condor-e2e")
	if err != nil {
		log.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)
	journal, err := storage.NewJSONStorage(filepath.Join(dir, "sessions.json"))
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}

	// Monday before the entry time
	start := time.Date(2025, 1, 27, 9, 20, 0, 0, models.IST)
	clock := mock.NewClock(start)
	records := mock.SyntheticChain(mock.ChainConfig{Underlying: cfg.Strategy.Underlying, Spot: 25000}, start)
	cat := catalog.New(records)
	sim := mock.NewSimulatedBroker(records, 25000, 0.15, clock)

	fmt.Println("✅ All components initialized successfully")
	fmt.Println()

	sess, err := sim.Login(context.Background())
	if err != nil {
		log.Fatalf("Simulated login failed: %v", err)
	}

	sc := cfg.SessionConfig()
	sc.Underlying = cat.ResolveUnderlying(cfg.Strategy.Underlying, cfg.Strategy.UnderlyingExchange, cfg.UnderlyingFallback())
	s, err := session.New(sc, session.Deps{
		Catalog:  cat,
		Builder:  strategy.NewCondorBuilder(cfg.CondorConfig(), logger),
		Sampler:  strategy.NewSampler(broker.NewPriceProvider(sim, sess)),
		Reporter: status.NewHTTPReporter(baseURL+"/api/update", time.Second, logger).WithAuthToken("integration"),
		Journal:  journal,
		Metrics:  m,
		Logs:     logs,
		Clock:    clock,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	res, runErr := s.Run(context.Background())

	checks := []struct {
		name string
		fn   func() error
	}{
		{"Session Completes", func() error {
			if runErr != nil {
				return runErr
			}
			fmt.Printf("   exit=%s entry_credit=%.2f exit_credit=%.2f pnl=%.2f ticks=%d\n",
				res.ExitReason, res.EntryCredit, res.ExitCredit, res.PnL, res.Ticks)
			if !res.Entered {
				return fmt.Errorf("session never entered (%s)", res.ExitReason)
			}
			return nil
		}},
		{"Legs Resolved", func() error {
			for _, role := range models.AllLegRoles {
				leg := res.Plan.Legs[role]
				fmt.Printf("   %-9s %s token=%s\n", role, leg.Symbol, leg.Token)
				if !leg.HasToken() {
					return fmt.Errorf("%s has no token", role)
				}
			}
			return nil
		}},
		{"Dashboard Received Final Status", func() error {
			return checkDashboard(baseURL, res)
		}},
		{"Journal Recorded Session", func() error {
			if !journal.HasInHistory(res.ID) {
				return fmt.Errorf("session %s missing from journal", res.ID)
			}
			stats := journal.GetStatistics()
			fmt.Printf("   trades=%d total_pnl=%.2f\n", stats.TotalTrades, stats.TotalPnL)
			return nil
		}},
	}

	passed := 0
	for i, c := range checks {
		title := fmt.Sprintf("Test %d: %s", i+1, c.name)
		fmt.Println(title)
		if err := c.fn(); err != nil {
			fmt.Printf("❌ FAILED: %v\n\n", err)
			continue
		}
		passed++
		fmt.Print("✅ PASSED\n\n")
	}

	fmt.Printf("=== %d/%d checks passed ===\n", passed, len(checks))
	if passed != len(checks) {
		os.Exit(1)
	}
}

func checkDashboard(baseURL string, res *session.Result) error {
	resp, err := http.Get(baseURL + "/api/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var st struct {
		ExitReason models.ExitReason `json:"exit_reason"`
		PnL        *float64          `json:"pnl"`
		Legs       map[string]any    `json:"legs"`
		Logs       []string          `json:"logs"`
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}
	if st.ExitReason != res.ExitReason {
		return fmt.Errorf("dashboard exit reason %q, session %q", st.ExitReason, res.ExitReason)
	}
	if st.PnL == nil || len(st.Legs) != len(models.AllLegRoles) {
		return fmt.Errorf("dashboard status incomplete: %s", body)
	}
	fmt.Printf("   pnl=%.2f log_lines=%d\n", *st.PnL, len(st.Logs))
	return nil
}
