// Package api serves the read-only query API over a Unix domain socket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tonywalker1/vigilant-canine/pkg/storage"
)

// DefaultSocketPath is where the daemon's API socket lives.
const DefaultSocketPath = "/run/vigilant-canine/api.sock"

// socketMode restricts the API to root and the daemon's group.
const socketMode = 0o660

// Server answers queries against the stores. It never writes to baselines
// or events; the only mutation it allows is alert acknowledgement.
type Server struct {
	socketPath string
	logger     zerolog.Logger

	alerts        *storage.AlertStore
	baselines     *storage.BaselineStore
	journalEvents *storage.JournalEventStore
	auditEvents   *storage.AuditEventStore

	registry *prometheus.Registry
	requests *prometheus.CounterVec

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a server over the given database.
func NewServer(socketPath string, db *storage.DB, logger zerolog.Logger) *Server {
	s := &Server{
		socketPath:    socketPath,
		logger:        logger.With().Str("component", "api").Logger(),
		alerts:        db.Alerts(),
		baselines:     db.Baselines(),
		journalEvents: db.JournalEvents(),
		auditEvents:   db.AuditEvents(),
		registry:      prometheus.NewRegistry(),
	}

	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigilant_canine",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "API requests by route and status code.",
	}, []string{"route", "code"})
	s.registry.MustRegister(
		s.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s.httpServer = &http.Server{Handler: s.router()}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/alerts", s.handleListAlerts)
		r.Get("/alerts/{id}", s.handleGetAlert)
		r.Post("/alerts/{id}/acknowledge", s.handleAcknowledge)
		r.Delete("/alerts/{id}/acknowledge", s.handleUnacknowledge)
		r.Get("/baselines", s.handleListBaselines)
		r.Get("/journal-events", s.handleListJournalEvents)
		r.Get("/audit-events", s.handleListAuditEvents)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return r
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.requests.WithLabelValues(r.URL.Path, fmt.Sprintf("%d", ww.Status())).Inc()
	})
}

// Start binds the Unix socket (replacing any stale one), restricts its mode,
// and serves in the background.
func (s *Server) Start() error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	if dir := filepath.Dir(s.socketPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create socket directory: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, socketMode); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server failed")
		}
	}()

	s.logger.Info().Str("socket", s.socketPath).Msg("API server started")
	return nil
}

// Stop shuts the server down and removes the socket file.
func (s *Server) Stop(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if rmErr := os.Remove(s.socketPath); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}
