package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/crawler"
	"github.com/JakeFAU/serialwatch/internal/metrics"
	"github.com/JakeFAU/serialwatch/internal/session"
)

const (
	requestTimeout    = 30 * time.Second
	defaultRecentDays = 7
	maxRecentDays     = 90
)

// StatusSource reports what the session controller is doing.
type StatusSource interface {
	Phase() session.Phase
	LastSession() (crawler.SessionSummary, bool)
}

// RecentLister lists stored records scraped since a point in time.
type RecentLister interface {
	Recent(ctx context.Context, since time.Time) ([]crawler.Record, error)
}

// Options wires the server to its collaborators. Recent and Trigger are optional.
type Options struct {
	Store  crawler.StateStore
	Status StatusSource
	Recent RecentLister
	// Trigger starts a session in the background and reports false when one is already running.
	Trigger func() bool
	Clock   crawler.Clock
	Logger  *zap.Logger
}

// Server exposes crawl state and session status over HTTP.
type Server struct {
	router chi.Router
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil || opts.Status == nil || opts.Clock == nil {
		return nil, errors.New("api: store, status, and clock are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{opts: opts, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.getState)
		r.Get("/status", s.getStatus)
		r.Post("/sessions", s.triggerSession)
		r.Get("/sessions/last", s.getLastSession)
		r.Get("/records/recent", s.getRecentRecords)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.opts.Store.Load(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "state store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	state, err := s.opts.Store.Load(r.Context())
	if err != nil {
		s.logger.Error("load state failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load state")
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	phase := s.opts.Status.Phase()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"phase":   phase.String(),
		"running": phase != session.PhaseIdle,
		"time":    s.opts.Clock.Now(),
	})
}

func (s *Server) getLastSession(w http.ResponseWriter, _ *http.Request) {
	summary, ok := s.opts.Status.LastSession()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no session has finished yet")
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) triggerSession(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Trigger == nil {
		s.writeError(w, http.StatusNotImplemented, "manual sessions are disabled")
		return
	}
	if !s.opts.Trigger() {
		s.writeError(w, http.StatusConflict, "a session is already running")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) getRecentRecords(w http.ResponseWriter, r *http.Request) {
	if s.opts.Recent == nil {
		s.writeError(w, http.StatusNotImplemented, "record sink does not support listing")
		return
	}
	days := defaultRecentDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRecentDays {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", maxRecentDays))
			return
		}
		days = n
	}
	since := s.opts.Clock.Now().AddDate(0, 0, -days)
	records, err := s.opts.Recent.Recent(r.Context(), since)
	if err != nil {
		s.logger.Error("list recent records failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"since": since, "count": len(records), "records": records})
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
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
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

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
