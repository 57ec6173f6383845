// Package httpapi is the operations HTTP surface: health, metrics and
// manual billing runs.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"membership_billing/internal/app"
)

// BatchRunner runs one billing batch.
type BatchRunner interface {
	RunOnce(ctx context.Context, now time.Time) (app.RunSummary, error)
}

// LastRunReporter knows the most recent finished run.
type LastRunReporter interface {
	LastRun() (app.RunSummary, bool)
}

// Server serves the ops endpoints.
type Server struct {
	runner     BatchRunner
	lastRun    LastRunReporter
	gatherer   prometheus.Gatherer
	runTimeout time.Duration
	runToken   string
	logger     *logrus.Entry
	now        func() time.Time
}

// NewServer builds the ops server. POST /runs requires runToken as a
// bearer token; an empty runToken refuses every manual run.
func NewServer(runner BatchRunner, lastRun LastRunReporter, gatherer prometheus.Gatherer, runTimeout time.Duration, runToken string, logger *logrus.Entry) *Server {
	return &Server{
		runner:     runner,
		lastRun:    lastRun,
		gatherer:   gatherer,
		runTimeout: runTimeout,
		runToken:   runToken,
		logger:     logger.WithField("component", "httpapi"),
		now:        time.Now,
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/runs", func(r chi.Router) {
		r.With(s.requireRunToken).Post("/", s.handleRun)
		r.Get("/last", s.handleLastRun)
	})
	return r
}

func (s *Server) requireRunToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := s.logger.WithFields(logrus.Fields{
			"request_id":  middleware.GetReqID(r.Context()),
			"remote_addr": r.RemoteAddr,
		})
		if s.runToken == "" {
			log.Warn("Manual billing run refused, no run token configured")
			writeError(w, http.StatusForbidden, "manual runs are disabled")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.runToken)) != 1 {
			log.Warn("Unauthorized billing run attempt")
			w.Header().Set("WWW-Authenticate", `Bearer realm="billing"`)
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type runRequest struct {
	At *time.Time `json:"at,omitempty"`
}

// handleRun runs the batch synchronously at the current time. A run for
// another moment goes through the CLI, so a body naming "at" is refused.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.At != nil {
		writeError(w, http.StatusBadRequest, `"at" is not accepted over HTTP; use "billing run --at"`)
		return
	}
	at := s.now()

	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout)
	defer cancel()

	log := s.logger.WithField("request_id", middleware.GetReqID(r.Context()))
	log.WithField("at", at.Format(time.RFC3339)).Info("Billing run requested over HTTP")

	summary, err := s.runner.RunOnce(ctx, at)
	if err != nil {
		log.WithError(err).Error("Billing run failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.lastRun.LastRun()
	if !ok {
		writeError(w, http.StatusNotFound, "no billing run has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
