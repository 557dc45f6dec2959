package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/nifty_condor/internal/broker"
	"github.com/eddiefleurent/nifty_condor/internal/catalog"
	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/mock"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/status"
	"github.com/eddiefleurent/nifty_condor/internal/storage"
)

var mondayMorning = time.Date(2025, 1, 27, 9, 24, 0, 0, models.IST)

func quietConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Environment.LogLevel = "error"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRunSession_Simulated(t *testing.T) {
	cfg := quietConfig(t)
	bot, err := NewBot(cfg, botOptions{
		Spot:   25000,
		Clock:  mock.NewClock(mondayMorning),
		Random: func() float64 { return 0.5 },
	})
	require.NoError(t, err)
	defer bot.Close()

	res, err := bot.RunSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Entered)
	assert.Contains(t, []models.ExitReason{models.ExitTarget, models.ExitStopLoss, models.ExitTime}, res.ExitReason)
	assert.Greater(t, res.EntryCredit, 0.0)
	require.NotNil(t, res.Plan)
	assert.Equal(t, "30JAN2025", res.Plan.Expiry.Long())
	for _, role := range models.AllLegRoles {
		assert.True(t, res.Plan.Legs[role].HasToken(), "leg %s unresolved", role)
	}

	// the journal survives a reload
	journal, err := storage.NewStorage(cfg.Storage.Path)
	require.NoError(t, err)
	assert.True(t, journal.HasInHistory(res.ID))
	assert.Equal(t, 1, journal.GetStatistics().TotalTrades)
}

func TestRunSession_LoginFailureIsFatal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid MPIN","errorcode":"AB1050","data":null}`))
	}))
	defer ts.Close()

	cfg := quietConfig(t)
	cfg.Environment.Simulate = false
	cfg.Broker.APIKey = "key"
	cfg.Broker.ClientCode = "A123"
	cfg.Broker.MPIN = "0000"
	cfg.Broker.BaseURL = ts.URL
	require.NoError(t, cfg.Validate())

	bot, err := NewBot(cfg, botOptions{
		Clock:   mock.NewClock(mondayMorning),
		Records: mock.SyntheticChain(mock.ChainConfig{Spot: 25000}, mondayMorning),
	})
	require.NoError(t, err)
	defer bot.Close()

	res, err := bot.RunSession(context.Background())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrLoginFailed), "got %v", err)
	assert.Contains(t, err.Error(), "broker login")
	assert.Empty(t, bot.journal.GetHistory())
}

func TestRunSession_Interrupted(t *testing.T) {
	cfg := quietConfig(t)
	clock := mock.NewClock(mondayMorning)
	bot, err := NewBot(cfg, botOptions{Clock: clock, Random: func() float64 { return 0.5 }})
	require.NoError(t, err)
	defer bot.Close()

	ctx, cancel := context.WithCancel(context.Background())
	clock.OnAdvance(func(now time.Time) {
		if now.After(mondayMorning.Add(10 * time.Minute)) {
			cancel()
		}
	})

	res, err := bot.RunSession(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, models.ExitInterrupted, res.ExitReason)
	assert.True(t, res.Entered)
}

func TestFindToken(t *testing.T) {
	cat := catalog.New(mock.SyntheticChain(mock.ChainConfig{Spot: 25000, Width: 200, Weeks: 1}, mondayMorning))

	tests := []struct {
		name    string
		flags   findTokenFlags
		symbol  string
		wantErr bool
	}{
		{
			name:   "exact option",
			flags:  findTokenFlags{exchange: "nfo", symbol: "NIFTY30JAN2525100CE", exact: true},
			symbol: "NIFTY30JAN2525100CE",
		},
		{
			name:   "future by type and expiry",
			flags:  findTokenFlags{exchange: "NFO", symbol: "NIFTY", instrumentType: "futidx", expiry: "30jan2025"},
			symbol: "NIFTY30JAN25FUT",
		},
		{
			name:   "option by strike",
			flags:  findTokenFlags{exchange: "NFO", symbol: "NIFTY", instrumentType: "OPTIDX", strike: 24900},
			symbol: "NIFTY30JAN2524900CE",
		},
		{
			name:   "index by name",
			flags:  findTokenFlags{exchange: "NSE", symbol: "Nifty 50"},
			symbol: mock.UnderlyingSymbol,
		},
		{
			name:    "exact miss",
			flags:   findTokenFlags{exchange: "NFO", symbol: "NIFTY30JAN25", exact: true},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := findToken(&buf, cat, tt.flags)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			var rec models.InstrumentRecord
			require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
			assert.Equal(t, tt.symbol, rec.Symbol)
			assert.NotEmpty(t, rec.Token)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logs := status.NewLogBuffer(5)
	logger := newLogger("warn", "json", logs)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	require.Len(t, logs.Lines(), 1)
	assert.Contains(t, logs.Lines()[0], "shown")

	fallback := newLogger("loud", "text", nil)
	assert.Equal(t, logrus.InfoLevel, fallback.GetLevel())
}

func TestLoadConfig_SimulateWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfgFile, simulate, logLevel = "", true, "debug"
	t.Cleanup(func() { cfgFile, simulate, logLevel = "", false, "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Environment.Simulate)
	assert.Equal(t, "debug", cfg.Environment.LogLevel)

	simulate = false
	_, err = loadConfig()
	assert.Error(t, err)
}
