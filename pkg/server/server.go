// Package server exposes the governance kernel's boundary operations
// over HTTP: assumption and action registration, evaluation, execution
// gating, outcome reporting, and audit trail access. Errors are RFC
// 7807 problem responses; auth and rate limiting are middleware around
// an otherwise thin translation layer — all decision logic stays in
// pkg/governance.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/credalabs/credence/pkg/governance"
	"github.com/credalabs/credence/pkg/observability"
)

// Server routes HTTP requests to a single kernel instance.
type Server struct {
	kernel    *governance.Kernel
	logger    *slog.Logger
	clock     governance.Clock
	validator *JWTValidator
	limiter   LimiterStore
	telemetry *observability.Provider
}

// ServerOption customizes server construction.
type ServerOption func(*Server)

// WithAuth enables bearer authentication with the given HS256 secret.
func WithAuth(secret string) ServerOption {
	return func(s *Server) { s.validator = NewJWTValidator(secret) }
}

// WithLimiter sets the rate limiting backend.
func WithLimiter(store LimiterStore) ServerOption {
	return func(s *Server) { s.limiter = store }
}

// WithServerLogger sets the request logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithServerClock injects the time source used for evaluation and
// outcome timestamps. Tests pin it.
func WithServerClock(c governance.Clock) ServerOption {
	return func(s *Server) { s.clock = c }
}

// WithTelemetry records request metrics and spans on the provider.
func WithTelemetry(p *observability.Provider) ServerOption {
	return func(s *Server) { s.telemetry = p }
}

// New builds a server around a kernel.
func New(kernel *governance.Kernel, opts ...ServerOption) *Server {
	s := &Server{
		kernel: kernel,
		logger: slog.Default(),
		clock:  governance.WallClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed handler with the full middleware chain:
// request id, logging, auth, then rate limiting. Auth runs before the
// limiter so buckets key on the authenticated subject rather than the
// client IP; callers behind one proxy do not share a bucket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/assumptions", s.handleAddAssumption)
	mux.HandleFunc("GET /v1/assumptions", s.handleListAssumptions)
	mux.HandleFunc("GET /v1/assumptions/{id}", s.handleGetAssumption)
	mux.HandleFunc("POST /v1/assumptions/{id}/revalidate", s.handleRevalidate)
	mux.HandleFunc("POST /v1/assumptions/{id}/adjust", s.handleAdjust)
	mux.HandleFunc("POST /v1/assumptions/{id}/links", s.handleLink)

	mux.HandleFunc("POST /v1/actions", s.handleRegisterAction)
	mux.HandleFunc("GET /v1/actions", s.handleListActions)
	mux.HandleFunc("GET /v1/actions/{id}", s.handleGetAction)
	mux.HandleFunc("POST /v1/actions/{id}/evaluate", s.handleEvaluate)
	mux.HandleFunc("POST /v1/actions/{id}/execute", s.handleExecute)
	mux.HandleFunc("POST /v1/actions/{id}/outcome", s.handleOutcome)

	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/audit", s.handleAudit)
	mux.HandleFunc("GET /v1/audit/verify", s.handleAuditVerify)

	var h http.Handler = mux
	h = rateLimitMiddleware(s.limiter)(h)
	h = authMiddleware(s.validator)(h)
	h = s.logging(h)
	h = requestIDMiddleware(h)
	return h
}

// logging records one line per request and feeds the RED metrics when
// telemetry is attached.
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)

		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", w.Header().Get("X-Request-ID"))

		if s.telemetry != nil {
			s.telemetry.RecordRequest(r.Context())
			s.telemetry.RecordDuration(r.Context(), elapsed)
			if sw.status >= http.StatusInternalServerError {
				s.telemetry.RecordError(r.Context(), errors.New(http.StatusText(sw.status)))
			}
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Run serves on addr until ctx is cancelled, then drains in-flight
// requests for up to ten seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("credence listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
