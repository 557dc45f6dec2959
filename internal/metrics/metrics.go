// Package metrics exposes prometheus metrics for the session loop and the
// dashboard service.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "nifty_condor"

// Metrics holds the session loop metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	SessionsTotal      *prometheus.CounterVec // labels: exit_reason
	TicksTotal         prometheus.Counter
	SampleFailures     *prometheus.CounterVec // labels: role, kind
	StatusPushFailures prometheus.Counter
	EntryCredit        prometheus.Gauge
	NetCredit          prometheus.Gauge
	PnL                prometheus.Gauge
	SessionState       *prometheus.GaugeVec // labels: state; 1 for the current one
	RealizedPnL        prometheus.Histogram

	// dashboard service
	DashboardUpdates prometheus.Counter
	StreamClients    prometheus.Gauge
}

// New creates the metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Completed sessions by exit reason",
		}, []string{"exit_reason"}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Price polling ticks while a position is open",
		}),
		SampleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_failures_total",
			Help:      "Leg prices that reduced to 0",
		}, []string{"role", "kind"}),
		StatusPushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_push_failures_total",
			Help:      "Dashboard pushes that failed",
		}),
		EntryCredit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entry_credit",
			Help:      "Net credit captured at entry",
		}),
		NetCredit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "net_credit",
			Help:      "Net credit at the last tick",
		}),
		PnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pnl",
			Help:      "Mark-to-market P&L at the last tick",
		}),
		SessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the state the session is in",
		}, []string{"state"}),
		RealizedPnL: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "realized_pnl",
			Help:      "P&L at exit",
			Buckets:   []float64{-200, -100, -50, -20, 0, 20, 50, 100, 200},
		}),
		DashboardUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dashboard_updates_total",
			Help:      "Status updates merged by the dashboard",
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dashboard_stream_clients",
			Help:      "Connected websocket stream clients",
		}),
	}

	reg.MustRegister(
		m.SessionsTotal,
		m.TicksTotal,
		m.SampleFailures,
		m.StatusPushFailures,
		m.EntryCredit,
		m.NetCredit,
		m.PnL,
		m.SessionState,
		m.RealizedPnL,
		m.DashboardUpdates,
		m.StreamClients,
	)
	return m
}

// SetState marks state as current and clears the others.
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.SessionState.WithLabelValues(s).Set(0)
	}
	m.SessionState.WithLabelValues(state).Set(1)
}

// Tick records one polling tick.
func (m *Metrics) Tick(netCredit, pnl float64) {
	if m == nil {
		return
	}
	m.TicksTotal.Inc()
	m.NetCredit.Set(netCredit)
	m.PnL.Set(pnl)
}

// Entered records the entry credit.
func (m *Metrics) Entered(credit float64) {
	if m == nil {
		return
	}
	m.EntryCredit.Set(credit)
	m.NetCredit.Set(credit)
	m.PnL.Set(0)
}

// SampleFailed counts one leg that could not be priced.
func (m *Metrics) SampleFailed(role, kind string) {
	if m == nil {
		return
	}
	m.SampleFailures.WithLabelValues(role, kind).Inc()
}

// PushFailed counts a failed dashboard push.
func (m *Metrics) PushFailed() {
	if m == nil {
		return
	}
	m.StatusPushFailures.Inc()
}

// Exited records a finished session.
func (m *Metrics) Exited(reason string, pnl float64) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(reason).Inc()
	m.RealizedPnL.Observe(pnl)
}

// DashboardUpdated counts one merged status update.
func (m *Metrics) DashboardUpdated() {
	if m == nil {
		return
	}
	m.DashboardUpdates.Inc()
}

// SetStreamClients sets the number of connected stream clients.
func (m *Metrics) SetStreamClients(n int) {
	if m == nil {
		return
	}
	m.StreamClients.Set(float64(n))
}

// Handler serves the metrics gathered by g. A nil g uses the default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Server serves /metrics on its own address for the bot process.
type Server struct {
	srv    *http.Server
	logger logrus.FieldLogger
}

// NewServer creates a metrics server on addr.
func NewServer(addr string, g prometheus.Gatherer, logger logrus.FieldLogger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.logger.WithField("addr", s.srv.Addr).Info("Metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("Metrics server failed")
		}
	}()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
