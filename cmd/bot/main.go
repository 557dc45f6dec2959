package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/nifty_condor/internal/config"
)

var (
	cfgFile  string
	simulate bool
	logLevel string
	spot     float64
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "nifty-condor",
		Short:         "Daily NIFTY iron condor paper-trading session",
		Long:          `Builds a four-leg condor at the entry time, tracks its net credit and exits on target, stop-loss or the time cutoff.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "price legs from the built-in simulator; no credentials needed")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override environment.log_level")
	rootCmd.PersistentFlags().Float64Var(&spot, "spot", 25000, "starting underlying price in simulation")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run one session now",
			RunE:  runOnce,
		},
		&cobra.Command{
			Use:   "schedule",
			Short: "Run one session every trading day",
			RunE:  runSchedule,
		},
		newFindTokenCmd(),
	)
	return rootCmd
}

// loadConfig reads the config file. In simulation a missing file falls back
// to the defaults.
func loadConfig() (*config.Config, error) {
	overrides := []config.Override{func(c *config.Config) {
		if simulate {
			c.Environment.Simulate = true
		}
		if logLevel != "" {
			c.Environment.LogLevel = logLevel
		}
	}}

	cfg, err := config.Load(cfgFile, overrides...)
	if err != nil {
		if simulate && cfgFile == "" && errors.Is(err, os.ErrNotExist) {
			cfg = config.Default()
			overrides[0](cfg)
			return cfg, cfg.Validate()
		}
		return nil, err
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	bot, err := NewBot(cfg, botOptions{Spot: spot})
	if err != nil {
		return err
	}
	defer bot.Close()

	ctx, cancel := signalContext()
	defer cancel()

	_, err = bot.RunSession(ctx)
	if errors.Is(err, context.Canceled) {
		bot.logger.Info("Session interrupted")
		return nil
	}
	return err
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	bot, err := NewBot(cfg, botOptions{Spot: spot})
	if err != nil {
		return err
	}
	defer bot.Close()

	ctx, cancel := signalContext()
	defer cancel()

	err = bot.Schedule(ctx)
	if errors.Is(err, context.Canceled) {
		bot.logger.Info("Scheduler stopped")
		return nil
	}
	return err
}
