// Package api exposes the scanner over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"

	"github.com/censys/url-reputation/pkg/app"
	"github.com/censys/url-reputation/pkg/cache"
	"github.com/censys/url-reputation/pkg/history"
	"github.com/censys/url-reputation/pkg/scan"
	"github.com/censys/url-reputation/pkg/storage"
)

const maxRequestBytes = 1 << 16

type Scanner interface {
	Navigate(ctx context.Context, nav scan.Navigation) (scan.Result, error)
}

type Verdicts interface {
	Lookup(ctx context.Context, url string) (cache.Outcome, error)
}

type History interface {
	List(ctx context.Context, f history.Filter) ([]storage.HistoryEntry, error)
	Clear(ctx context.Context) (int, error)
	Stats(ctx context.Context) (history.Stats, error)
}

type HealthReporter interface {
	Health(ctx context.Context) app.HealthReport
}

// Server serves the /v1 API. Navigations accepted asynchronously run on the
// server's base context, not the request's.
type Server struct {
	base     context.Context
	scanner  Scanner
	verdicts Verdicts
	history  History
	health   HealthReporter
	logger   logr.Logger

	wg sync.WaitGroup
}

func NewServer(base context.Context, scanner Scanner, verdicts Verdicts, hist History, health HealthReporter, logger logr.Logger) *Server {
	return &Server{
		base:     base,
		scanner:  scanner,
		verdicts: verdicts,
		history:  hist,
		health:   health,
		logger:   logger,
	}
}

// FromApp builds a server over a wired App.
func FromApp(base context.Context, a *app.App) *Server {
	return NewServer(base, a.Orchestrator, a.Cache, a.Ledger, a, a.Logger.WithName("api"))
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.getHealth)

		r.Post("/navigations", s.postNavigation)
		r.Post("/scans", s.postScan)
		r.Get("/urls/*", s.getURL)

		r.Get("/history", s.listHistory)
		r.Delete("/history", s.clearHistory)
		r.Get("/history/stats", s.historyStats)
	})
	return r
}

// Wait blocks until every accepted navigation finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.V(1).Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type navigationRequest struct {
	URL     string `json:"url"`
	Surface string `json:"surface"`
}

func decodeNavigation(w http.ResponseWriter, r *http.Request) (scan.Navigation, error) {
	var req navigationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return scan.Navigation{}, fmt.Errorf("decode body: %w", err)
	}
	if _, err := scan.Canonicalize(req.URL); err != nil {
		return scan.Navigation{}, err
	}
	return scan.Navigation{URL: req.URL, Surface: req.Surface}, nil
}

func (s *Server) postNavigation(w http.ResponseWriter, r *http.Request) {
	nav, err := decodeNavigation(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.scanner.Navigate(s.base, nav); err != nil {
			s.logger.Error(err, "Navigation failed", "url", nav.URL)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "url": nav.URL})
}

func (s *Server) postScan(w http.ResponseWriter, r *http.Request) {
	nav, err := decodeNavigation(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.scanner.Navigate(r.Context(), nav)
	switch {
	case errors.Is(err, scan.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	case res.Phase == scan.Cancelled:
		writeJSON(w, http.StatusServiceUnavailable, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) getURL(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	u, err := scan.Canonicalize(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := s.verdicts.Lookup(r.Context(), u.String())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if out.Kind == cache.Miss {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no scan record", "url": u.String()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"freshness": out.Kind.String(),
		"record":    out.Record,
	})
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	f, err := history.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := s.history.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := s.history.Clear(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

func (s *Server) historyStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.history.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Health(r.Context())
	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
