// Package status pushes session snapshots to the dashboard service.
package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/models"
)

// DefaultTimeout bounds a single push.
const DefaultTimeout = time.Second

// LegView is the dashboard rendering of one leg.
type LegView struct {
	Symbol string  `json:"symbol"`
	Token  string  `json:"token"`
	Price  float64 `json:"price"`
}

// Snapshot is one status update. The JSON keys are what the dashboard merges.
type Snapshot struct {
	Timestamp       time.Time                  `json:"timestamp"`
	UnderlyingPrice float64                    `json:"nifty_ltp"`
	Legs            map[models.LegRole]LegView `json:"legs"`
	NetCredit       float64                    `json:"net_credit"`
	PnL             float64                    `json:"pnl"`
	Logs            []string                   `json:"logs"`
	ExitReason      models.ExitReason          `json:"exit_reason,omitempty"`
}

// NewSnapshot builds a snapshot from the legs and their prices.
func NewSnapshot(at time.Time, underlying float64, legs models.Legs, prices models.Prices, pnl float64, logs []string) Snapshot {
	views := make(map[models.LegRole]LegView, len(legs))
	for role, leg := range legs {
		views[role] = LegView{Symbol: leg.Symbol, Token: leg.Token, Price: prices[role]}
	}
	return Snapshot{
		Timestamp:       at,
		UnderlyingPrice: underlying,
		Legs:            views,
		NetCredit:       prices.NetCredit(),
		PnL:             pnl,
		Logs:            logs,
	}
}

// Copy returns a snapshot that shares no maps or slices with s.
func (s Snapshot) Copy() Snapshot {
	out := s
	if s.Legs != nil {
		out.Legs = make(map[models.LegRole]LegView, len(s.Legs))
		for k, v := range s.Legs {
			out.Legs[k] = v
		}
	}
	if s.Logs != nil {
		out.Logs = append([]string(nil), s.Logs...)
	}
	return out
}

// Reporter receives snapshots. Implementations must not block the caller for
// long and must never fail the session.
type Reporter interface {
	Push(ctx context.Context, snap Snapshot) error
}

// Nop discards every snapshot.
type Nop struct{}

// Push does nothing.
func (Nop) Push(context.Context, Snapshot) error { return nil }

// HTTPReporter POSTs snapshots as JSON to the dashboard's update endpoint.
type HTTPReporter struct {
	url       string
	authToken string
	client    *http.Client
	timeout   time.Duration
	logger    logrus.FieldLogger
}

// NewHTTPReporter creates a reporter for url. An empty url disables pushing.
func NewHTTPReporter(url string, timeout time.Duration, logger logrus.FieldLogger) *HTTPReporter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTPReporter{
		url:     url,
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger,
	}
}

// WithAuthToken sends token in the X-Auth-Token header.
func (r *HTTPReporter) WithAuthToken(token string) *HTTPReporter {
	r.authToken = token
	return r
}

// Push sends a copy of snap. Failures are logged at debug level and returned
// only so callers can count them; nothing about a failed push is fatal.
func (r *HTTPReporter) Push(ctx context.Context, snap Snapshot) error {
	if r.url == "" {
		return nil
	}
	payload, err := json.Marshal(snap.Copy())
	if err != nil {
		r.logger.WithError(err).Debug("Encoding status snapshot failed")
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		r.logger.WithError(err).Debug("Building status request failed")
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.authToken != "" {
		req.Header.Set("X-Auth-Token", r.authToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.WithError(err).Debug("Dashboard update failed")
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode/100 != 2 {
		err := fmt.Errorf("dashboard update: HTTP %d", resp.StatusCode)
		r.logger.WithError(err).Debug("Dashboard update rejected")
		return err
	}
	return nil
}
