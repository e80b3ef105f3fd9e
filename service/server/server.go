package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/symfeed/service/metrics"
	"github.com/brojonat/symfeed/service/session"
	"github.com/brojonat/symfeed/service/symbol"
	"github.com/brojonat/symfeed/service/tracker"
	"github.com/brojonat/symfeed/service/transfer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// DefaultKeepalive is the interval between SSE keepalive comments.
const DefaultKeepalive = 10 * time.Second

// Feed is the tracked-account state the server exposes.
type Feed interface {
	Records(ctx context.Context) ([]tracker.Record, error)
	Record(ctx context.Context, hash string) (tracker.Record, bool, error)
	Status(ctx context.Context) (session.Status, error)
	Balance(ctx context.Context) (symbol.Balance, error)
	SwitchAccount(address string) (*session.Session, error)
	Subscribe() (<-chan tracker.Event, func())
}

// Submitter signs and announces transactions.
type Submitter interface {
	Submit(ctx context.Context, payloadHex string) (*transfer.Result, error)
}

// Server represents the HTTP server for the account feed.
type Server struct {
	addr         string
	feed         Feed
	submitter    Submitter
	writeLimiter *rate.Limiter
	keepalive    time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The submitter is optional - if nil, transaction submission answers 503.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, feed Feed, submitter Submitter, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Server{
		addr:      addr,
		feed:      feed,
		submitter: submitter,
		keepalive: DefaultKeepalive,
		metrics:   m,
		logger:    logger,
	}
}

// WithWriteRateLimit limits account switches and transaction submissions to
// perMinute requests across all clients.
func (s *Server) WithWriteRateLimit(perMinute int) *Server {
	if perMinute > 0 {
		s.writeLimiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return s
}

// WithKeepalive sets the SSE keepalive interval.
func (s *Server) WithKeepalive(d time.Duration) *Server {
	if d > 0 {
		s.keepalive = d
	}
	return s
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Feed routes
	route("GET /api/v1/records", "/api/v1/records", handleListRecords(s.feed, s.logger))
	route("GET /api/v1/records/{hash}", "/api/v1/records/{hash}", handleGetRecord(s.feed, s.logger))
	route("GET /api/v1/stream/records", "/api/v1/stream/records", handleStreamRecords(s.feed, s.keepalive, s.metrics, s.logger))
	route("GET /api/v1/status", "/api/v1/status", handleStatus(s.feed, s.logger))

	// Account routes
	route("GET /api/v1/account", "/api/v1/account", handleGetAccount(s.feed, s.logger))
	route("PUT /api/v1/account", "/api/v1/account", s.limitWrites(handleSwitchAccount(s.feed, s.logger)))

	// Submission
	route("POST /api/v1/transactions", "/api/v1/transactions", s.limitWrites(handleSubmitTransaction(s.submitter, s.logger)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: record streams stay open indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) limitWrites(next http.Handler) http.Handler {
	if s.writeLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.writeLimiter.Allow() {
			s.logger.Warn("write rate limit exceeded", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			writeError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
