// Package api exposes the HTTP control plane: engine start/stop/status,
// mirror sync, and the published document.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xxllxllxlllx/live-graph-system/internal/config"
	"github.com/xxllxllxlllx/live-graph-system/internal/engine"
	"github.com/xxllxllxlllx/live-graph-system/internal/metrics"
	"github.com/xxllxllxlllx/live-graph-system/internal/publish"
)

// Server wires HTTP handlers to the supervisor and publisher.
type Server struct {
	router     chi.Router
	supervisor *engine.Supervisor
	publisher  *publish.Publisher
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(supervisor *engine.Supervisor, publisher *publish.Publisher, cfg config.Config, logger *zap.Logger) *Server {
	s := &Server{
		supervisor: supervisor,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/data.json", s.dataDocument)

	r.Route("/api", func(r chi.Router) {
		r.Post("/start", s.startHTTP)
		r.Post("/stop", s.stopSlot(engine.SlotHTTP))
		r.Route("/toc", func(r chi.Router) {
			r.Post("/start", s.startToc)
			r.Post("/stop", s.stopSlot(engine.SlotToc))
		})
		r.Route("/onionsearch", func(r chi.Router) {
			r.Post("/start", s.startOnionSearch)
			r.Post("/stop", s.stopSlot(engine.SlotOnionSearch))
		})
		r.Route("/torbot", func(r chi.Router) {
			r.Post("/start", s.startTorBot)
			r.Post("/stop", s.stopSlot(engine.SlotTorBot))
			r.Get("/progress", s.torbotProgress)
		})
		r.Get("/status", s.status)
		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", s.syncStatus)
			r.Post("/force", s.syncForce)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ready"})
}

// dataDocument serves the current primary document verbatim.
func (s *Server) dataDocument(w http.ResponseWriter, _ *http.Request) {
	data, err := s.publisher.ReadPrimary()
	if err != nil {
		writeError(w, http.StatusNotFound, "no document published")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if _, werr := w.Write(data); werr != nil {
		s.logger.Warn("write document", zap.Error(werr))
	}
}

// engineStatus maps a supervisor error to the wire status code.
func engineStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrBusy),
		errors.Is(err, engine.ErrValidation),
		errors.Is(err, engine.ErrNotRunning):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
