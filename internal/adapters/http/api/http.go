// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/stresstrack/internal/domain/model"
	"github.com/okian/stresstrack/pkg/logger"
	"github.com/okian/stresstrack/pkg/metrics"
)

// BatchIDHeader carries the idempotency key of an uploaded batch.
const BatchIDHeader = "X-Batch-ID"

const defaultMaxBodyBytes = 5 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Track merges one behavior record. duplicate reports a replayed batch id.
	Track(ctx context.Context, batchID string, rec model.BehaviorRecord) (doc model.Behavior, duplicate bool, err error)

	// All returns every stored document, newest date first.
	All(ctx context.Context) ([]model.Behavior, error)

	// Ping reports store reachability.
	Ping(ctx context.Context) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	trackHandler  *TrackHandler
	queryHandler  *QueryHandler

	limiter      *RateLimiter
	maxBodyBytes int64
	logger       logger.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRateLimit enables per-client rate limiting on the /api routes.
// rps <= 0 leaves limiting off.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.limiter = NewRateLimiter(rps, burst)
		}
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	s := &Server{
		maxBodyBytes: defaultMaxBodyBytes,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.healthHandler = NewHealthHandler(deps)
	s.statsHandler = NewStatsHandler(statsProvider)
	s.trackHandler = NewTrackHandler(deps, s.maxBodyBytes, s.logger)
	s.queryHandler = NewQueryHandler(deps, s.logger)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("POST /api/track", s.api(s.trackHandler.HandleTrack, "track"))
	mux.HandleFunc("GET /api/get-all", s.api(s.queryHandler.HandleGetAll, "get_all"))

	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
}

// api stacks the middleware shared by the public data routes.
func (s *Server) api(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	h := next
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	return RequestIDMiddleware(MetricsMiddleware(h, endpoint))
}

type trackResponse struct {
	Success   bool           `json:"success"`
	Data      model.Behavior `json:"data"`
	Duplicate bool           `json:"duplicate,omitempty"`
}

type listResponse struct {
	Success bool             `json:"success"`
	Data    []model.Behavior `json:"data"`
	Total   int              `json:"total"`
}

type failureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, failureResponse{Success: false, Error: msg})
}
