// Package server exposes the read API over chi. Every payload travels
// in a {success, data|error} envelope; mutating endpoints delegate to
// the engine and map its sentinel errors onto HTTP status codes.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ftahirops/pingmon/analytics"
	"github.com/ftahirops/pingmon/engine"
	"github.com/ftahirops/pingmon/incident"
	"github.com/ftahirops/pingmon/inventory"
	"github.com/ftahirops/pingmon/snapshot"
	"github.com/ftahirops/pingmon/tracker"
)

const maxResultLimit = 1000

// Server bundles the API handlers and their dependencies.
type Server struct {
	engine *engine.Engine
	snap   *snapshot.Store
	trk    *tracker.Tracker
	ana    *analytics.Store
	recon  *inventory.Reconciler
	inc    *incident.Manager
	log    *zap.Logger

	started time.Time
}

// New returns a server; inc may be nil when incident escalation is
// disabled.
func New(eng *engine.Engine, snap *snapshot.Store, trk *tracker.Tracker,
	ana *analytics.Store, recon *inventory.Reconciler, inc *incident.Manager,
	log *zap.Logger) *Server {
	return &Server{
		engine: eng, snap: snap, trk: trk, ana: ana,
		recon: recon, inc: inc, log: log, started: time.Now(),
	}
}

// Router builds the full route tree.
func (s *Server) Router(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Route("/api/ping", func(r chi.Router) {
		r.Get("/latest", s.handleLatest)
		r.Get("/device/{id}", s.handleDevice)
		r.Get("/statistics", s.handleStatistics)
		r.Get("/status", s.handleStatus)
		r.Get("/summary/offline", s.handleOffline)
		r.Post("/test/{address}", s.handleTestProbe)

		r.Get("/service/status", s.handleServiceStatus)
		r.Post("/service/start", s.handleServiceStart)
		r.Post("/service/stop", s.handleServiceStop)

		r.Get("/csv/files", s.handleCSVFiles)
		r.Post("/csv/rebuild", s.handleCSVRebuild)

		r.Get("/database/monitoring", s.handleDBMonitoring)
		r.Post("/database/reload", s.handleDBReload)

		r.Route("/timeout", func(r chi.Router) {
			r.Get("/summary", s.handleTimeoutSummary)
			r.Get("/devices", s.handleTimeoutDevices)
			r.Get("/critical", s.handleTimeoutCritical)
			r.Get("/report", s.handleTimeoutReport)
			r.Post("/reset", s.handleTimeoutReset)
			r.Get("/analytics/chart", s.handleAnalyticsChart)
			r.Get("/analytics/multi-day", s.handleAnalyticsMultiDay)
			r.Get("/analytics/summary", s.handleAnalyticsSummary)
		})

		if s.inc != nil {
			r.Get("/incidents", s.handleIncidents)
		}
	})
	return r
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("api listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (s *Server) writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		s.log.Warn("response encoding failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: msg})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}
