package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/dashboard"
	"github.com/eddiefleurent/nifty_condor/internal/metrics"
)

var (
	cfgFile   string
	addr      string
	authToken string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "nifty-condor-dashboard",
		Short:        "Status service for the condor session",
		Long:         `Receives status pushes on POST /api/update and serves the latest snapshot on /api/status and /api/stream.`,
		SilenceUsage: true,
		RunE:         runDashboard,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml; defaults apply when absent)")
	rootCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides dashboard.addr")
	rootCmd.Flags().StringVar(&authToken, "token", os.Getenv("DASHBOARD_TOKEN"), "token required on updates, overrides dashboard.auth_token")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && cfgFile == "" {
		return config.Default(), nil
	}
	// the dashboard never talks to the broker
	return config.Load(path, func(c *config.Config) { c.Environment.Simulate = true })
}

func runDashboard(cmd *cobra.Command, _ []string) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Environment.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Environment.LogLevel)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	dc := dashboard.Config{Addr: cfg.Dashboard.Addr, AuthToken: cfg.Dashboard.AuthToken}
	if addr != "" {
		dc.Addr = addr
	}
	if authToken != "" {
		dc.AuthToken = authToken
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	srv := dashboard.NewServer(dc, metrics.New(registry), registry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down dashboard")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
