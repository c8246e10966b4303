// Package httpapi serves and describes the nexusd JSON API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// maxBodyBytes bounds request bodies.
	maxBodyBytes = 1 << 20
	shutdownWait = 5 * time.Second
)

// HandlerFunc processes a request and returns a JSON response payload or error.
type HandlerFunc func(r *http.Request) (any, error)

// Middleware wraps a HandlerFunc.
type Middleware func(HandlerFunc) HandlerFunc

// StatusError is an error carrying the HTTP status it should be reported with.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string { return e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }

// Errorf returns a StatusError with a formatted message.
func Errorf(code int, format string, args ...any) error {
	return &StatusError{Code: code, Err: fmt.Errorf(format, args...)}
}

// Server dispatches JSON requests to registered handlers.
type Server struct {
	addr     string
	mux      *http.ServeMux
	srv      *http.Server
	listener net.Listener
	ready    chan struct{}
	mu       sync.Mutex
	logger   *slog.Logger
}

// NewServer creates a server that will listen on addr.
func NewServer(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:   addr,
		mux:    http.NewServeMux(),
		ready:  make(chan struct{}),
		logger: logger,
	}
	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handle registers a handler for a method+path pattern.
func (s *Server) Handle(pattern string, h HandlerFunc, mw ...Middleware) {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	s.mux.Handle(pattern, s.serve(h))
}

// Handler exposes the routing table, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)
	s.logger.Info("server listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown", "err", err)
	}
}

func (s *Server) serve(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

		result, err := h(r)
		if err != nil {
			code := http.StatusInternalServerError
			var se *StatusError
			if errors.As(err, &se) {
				code = se.Code
			}
			s.logger.Error("request failed",
				"method", r.Method, "path", r.URL.Path, "status", code, "request_id", reqID, "err", err)
			s.writeJSON(w, code, ErrorResponse{Success: false, Error: err.Error()})
			return
		}
		s.writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", "err", err)
	}
}

// Decode reads a JSON request body into v.
func Decode(r *http.Request, v any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return Errorf(http.StatusBadRequest, "read body: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return Errorf(http.StatusBadRequest, "invalid request: %v", err)
	}
	return nil
}

// RateLimit rejects requests beyond limit with 429.
func RateLimit(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(r *http.Request) (any, error) {
			if !limiter.Allow() {
				return nil, Errorf(http.StatusTooManyRequests, "rate limited")
			}
			return next(r)
		}
	}
}
