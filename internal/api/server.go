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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-ingest/internal/config"
	"github.com/JakeFAU/evidence-ingest/internal/connector"
	"github.com/JakeFAU/evidence-ingest/internal/evidence"
	"github.com/JakeFAU/evidence-ingest/internal/metrics"
	"github.com/JakeFAU/evidence-ingest/internal/orchestrator"
	"github.com/JakeFAU/evidence-ingest/internal/sources"
)

const (
	requestTimeout = 60 * time.Second
	enqueueTimeout = 5 * time.Second
)

// Store is the read side of the evidence store used by the API.
type Store interface {
	Ping(ctx context.Context) error
	GetRunReport(ctx context.Context, runID string) (evidence.RunReport, error)
	GetSourceState(ctx context.Context, sourceID string) (evidence.SourceState, error)
	ListProposals(ctx context.Context, category string) ([]evidence.BenchmarkProposal, error)
}

// Runner executes ingestion runs and dry-run previews.
type Runner interface {
	Run(ctx context.Context, req orchestrator.RunRequest) (evidence.RunReport, error)
	TestScrape(ctx context.Context, conn connector.Connector) orchestrator.Preview
}

// ConnectorBuilder binds a source descriptor to a connector.
type ConnectorBuilder func(src evidence.SourceDescriptor) (connector.Connector, error)

// Enqueuer accepts queued run jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job RunJob) error
}

// Deps are the collaborators of the Server.
type Deps struct {
	Store      Store
	Registry   *sources.Registry
	Runner     Runner
	Connectors ConnectorBuilder
	Queue      Enqueuer
	IDs        evidence.IDGenerator
	Clock      evidence.Clock
	Config     config.Config
	Logger     *zap.Logger
}

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router     chi.Router
	handler    http.Handler
	store      Store
	registry   *sources.Registry
	runner     Runner
	connectors ConnectorBuilder
	queue      Enqueuer
	ids        evidence.IDGenerator
	clock      evidence.Clock
	runs       *RunTracker
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:      deps.Store,
		registry:   deps.Registry,
		runner:     deps.Runner,
		connectors: deps.Connectors,
		queue:      deps.Queue,
		ids:        deps.IDs,
		clock:      deps.Clock,
		runs:       NewRunTracker(),
		logger:     logger,
	}
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
		if deps.Config.Auth.Enabled {
			r.Use(apiKeyMiddleware(deps.Config.Auth.APIKey))
		}
		r.Get("/sources", s.listSources)
		r.Route("/sources/{source_id}", func(r chi.Router) {
			r.Post("/run", s.runSource)
			r.Post("/test", s.testSource)
		})
		r.Post("/runs", s.submitRun)
		r.Get("/runs/{run_id}", s.getRun)
		r.Get("/proposals", s.listProposals)
	})

	s.router = r
	s.handler = otelhttp.NewHandler(r, "evidence-api")
	return s
}

// Handler returns the traced router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Runs exposes the tracker of queued and running jobs.
func (s *Server) Runs() *RunTracker {
	return s.runs
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
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
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", reqID),
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := writeJSON(w, status, payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return nil
}
