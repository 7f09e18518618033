// Package statusd serves a read-only view of the training loop over HTTP.
package statusd

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/GoSim-25-26J-441/agent-tuner/internal/progress"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/training"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/versioner"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/logger"
)

// StatusSource reports the loop's current state
type StatusSource interface {
	Status() training.Status
}

type HTTPServer struct {
	mux      *http.ServeMux
	source   StatusSource
	progress *progress.Recorder
	versions *versioner.Versioner
}

func NewHTTPServer(source StatusSource) *HTTPServer {
	s := &HTTPServer{
		mux:    http.NewServeMux(),
		source: source,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/status", s.handleStatus)
	s.mux.HandleFunc("/v1/progress", s.handleProgress)
	s.mux.HandleFunc("/v1/versions", s.handleVersions)

	return s
}

// WithMetrics mounts a Prometheus handler at /metrics
func (s *HTTPServer) WithMetrics(h http.Handler) *HTTPServer {
	s.mux.Handle("/metrics", h)
	return s
}

// WithProgress exposes the progress log at /v1/progress
func (s *HTTPServer) WithProgress(r *progress.Recorder) *HTTPServer {
	s.progress = r
	return s
}

// WithVersions exposes the pool's iteration files at /v1/versions
func (s *HTTPServer) WithVersions(v *versioner.Versioner) *HTTPServer {
	s.versions = v
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

// Serve listens on addr until ctx is done, then shuts down gracefully
func (s *HTTPServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx is done
func (s *HTTPServer) ServeListener(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server listening", "addr", lis.Addr().String())
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus handles GET /v1/status
func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": s.source.Status(),
	})
}

// handleProgress handles GET /v1/progress with an optional ?limit=<n> for the latest rows
func (s *HTTPServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.progress == nil {
		s.writeError(w, http.StatusNotFound, "progress log not available")
		return
	}
	header, rows, err := s.progress.Load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit: "+limitStr)
			return
		}
		if limit < len(rows) {
			rows = rows[len(rows)-limit:]
		}
	}

	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]string, len(header))
		for i, h := range header {
			m[h] = row[i]
		}
		out = append(out, m)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"columns": header,
		"rows":    out,
	})
}

// handleVersions handles GET /v1/versions
func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.versions == nil {
		s.writeError(w, http.StatusNotFound, "pool directory not available")
		return
	}
	versions, err := s.versions.Versions()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items := make([]map[string]any, 0, len(versions))
	for _, n := range versions {
		items = append(items, map[string]any{
			"version": n,
			"path":    s.versions.Path(n),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"versions": items,
	})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": message,
	})
}
