// Package server exposes the detector catalog and sweeps over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/swarmguard/binscan/core/otelinit"
	"github.com/swarmguard/binscan/core/resilience"
	"github.com/swarmguard/binscan/detector"
	"github.com/swarmguard/binscan/internal/pipeline"
	"github.com/swarmguard/binscan/internal/target"
)

const maxBodyBytes = 1 << 20

// AnalyzeRequest is the body of POST /v1/analyze.
type AnalyzeRequest struct {
	Path      string   `json:"path"`
	Detectors []string `json:"detectors,omitempty"`
}

// ReloadRequest is the optional body of POST /v1/detectors/reload.
type ReloadRequest struct {
	Detectors []string `json:"detectors,omitempty"`
}

// DetectorStatus is one entry of GET /v1/detectors.
type DetectorStatus struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	State       string `json:"state"`
	LastError   string `json:"last_error,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Server is an http.Handler.
type Server struct {
	pipeline *pipeline.Pipeline
	limiter  *resilience.RateLimiter
	mux      *http.ServeMux

	mu    sync.RWMutex
	stats map[string]func() any
}

// New wires the routes. limiter may be nil to disable rate limiting.
func New(p *pipeline.Pipeline, limiter *resilience.RateLimiter) *Server {
	s := &Server{
		pipeline: p,
		limiter:  limiter,
		mux:      http.NewServeMux(),
		stats:    make(map[string]func() any),
	}
	s.mux.HandleFunc("/health", s.health)
	s.mux.HandleFunc("/v1/detectors", s.detectors)
	s.mux.HandleFunc("/v1/detectors/reload", s.reload)
	var analyze http.Handler = http.HandlerFunc(s.analyze)
	if limiter != nil {
		analyze = limiter.Middleware(analyze)
	}
	s.mux.Handle("/v1/analyze", analyze)
	s.mux.HandleFunc("/stats", s.statsHandler)
	return s
}

// AddStats adds a named section to GET /stats.
func (s *Server) AddStats(name string, fn func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[name] = fn
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("http server started", "addr", addr)
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	ctxSd, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctxSd)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) detectors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list := s.pipeline.Runner.Catalog().List()
	out := make([]DetectorStatus, 0, len(list))
	for _, d := range list {
		st := DetectorStatus{ID: d.ID(), Description: d.Description(), State: d.State().String()}
		if err := d.LastError(); err != nil {
			st.LastError = err.Error()
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"detectors": out})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, end := otelinit.WithSpan(r.Context(), "http.analyze")
	defer end()

	var req AnalyzeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	rep, err := s.pipeline.Analyze(ctx, req.Path, req.Detectors...)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rep)
	case errors.Is(err, detector.ErrUnknownDetector), errors.Is(err, target.ErrNotRegular):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, os.ErrNotExist):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, os.ErrPermission):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error("analyze failed", "path", req.Path, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req ReloadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	t0 := time.Now()
	if err := s.pipeline.Reload(r.Context(), req.Detectors...); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reset := req.Detectors
	if len(reset) == 0 {
		for _, d := range s.pipeline.Runner.Catalog().Descriptors() {
			reset = append(reset, d.ID)
		}
	}
	slog.Info("detectors reset", "detectors", reset)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"reset":            reset,
		"duration_seconds": time.Since(t0).Seconds(),
	})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	st := map[string]any{
		"sweeps":     s.pipeline.Runner.Stats().Snapshot(),
		"detectors":  len(s.pipeline.Runner.Catalog().List()),
		"goroutines": runtime.NumGoroutine(),
	}
	s.mu.RLock()
	names := make([]string, 0, len(s.stats))
	for name := range s.stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st[name] = s.stats[name]()
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
