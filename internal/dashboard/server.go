// Package dashboard is the status service: the bot pushes snapshots to it
// and browsers read them back, either polled or streamed.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/metrics"
)

const maxUpdateBytes = 1 << 20

type Server struct {
	router    *chi.Mux
	server    *http.Server
	state     *State
	hub       *Hub
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	logger    *logrus.Logger
	addr      string
	authToken string
}

type Config struct {
	Addr string
	// AuthToken, when set, is required on POST /api/update.
	AuthToken string
}

func NewServer(cfg Config, m *metrics.Metrics, g prometheus.Gatherer, logger *logrus.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":5000"
	}
	s := &Server{
		router:    chi.NewRouter(),
		state:     NewState(),
		hub:       NewHub(m, logger.WithField("component", "stream")),
		metrics:   m,
		gatherer:  g,
		logger:    logger,
		addr:      cfg.Addr,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(corsMiddleware)

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler(s.gatherer))

	// the stream outlives any request timeout
	s.router.Get("/api/stream", s.handleStream)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/api/status", s.handleStatus)
		r.With(s.authMiddleware).Post("/api/update", s.handleUpdate)
	})
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// State returns the merged status.
func (s *Server) State() *State {
	return s.state
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Auth-Token")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.logger.Infof("Starting dashboard server on %s", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpdateBytes))
	if err != nil {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var patch map[string]json.RawMessage
	if err := json.Unmarshal(body, &patch); err != nil || patch == nil {
		s.logger.WithError(err).Debug("Rejected status update")
		http.Error(w, "Expected a JSON object", http.StatusBadRequest)
		return
	}

	doc, err := s.state.Merge(patch)
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode merged state")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.metrics.DashboardUpdated()
	s.hub.Broadcast(doc)

	s.writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	doc, err := s.state.JSON()
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode state")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(doc); err != nil {
		s.logger.WithError(err).Debug("Failed to write status")
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	doc, err := s.state.JSON()
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode state")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.hub.serve(w, r, doc)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().Unix(),
		"stream_clients": s.hub.Count(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
