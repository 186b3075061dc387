package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/km200-bridge/internal/audit"
	"github.com/nerrad567/km200-bridge/internal/infrastructure/config"
	"github.com/nerrad567/km200-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/km200-bridge/internal/km200"
	"github.com/nerrad567/km200-bridge/internal/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Server timeouts.
const (
	readTimeout  = 10 * time.Second
	writeTimeout = 30 * time.Second
	idleTimeout  = 60 * time.Second
)

// HealthSource provides the current bridge health. Implemented by *km200.HealthReporter.
type HealthSource interface {
	Snapshot() km200.HealthPayload
}

// WritableSource lists cached write constraints. Implemented by *km200.Registry.
type WritableSource interface {
	Writables() []km200.WritableSpec
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.MetricsConfig
	Logger  *logging.Logger
	Metrics *metrics.Metrics

	// Optional.
	Health    HealthSource
	Writables WritableSource
	Audit     audit.Repository
	DB        *sql.DB
	Hub       *Hub

	Version string
}

// Server is the HTTP listener of the bridge.
type Server struct {
	cfg       config.MetricsConfig
	logger    *logging.Logger
	metrics   *metrics.Metrics
	health    HealthSource
	writables WritableSource
	auditRepo audit.Repository
	db        *sql.DB
	hub       *Hub
	version   string
	startTime time.Time

	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. Audit and Hub are
// optional; their endpoints answer 503 when unset.
//
// Parameters:
//   - deps: Logger and Metrics are required
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Metrics == nil {
		return nil, fmt.Errorf("metrics are required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		health:    deps.Health,
		writables: deps.Writables,
		auditRepo: deps.Audit,
		hub:       deps.Hub,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if s.cfg.Path == "" {
		s.cfg.Path = "/metrics"
	}
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It binds the listener synchronously so errors such as a port in use are
// returned directly, then serves the router in a background goroutine.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(_ context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	s.logger.Info("HTTP server listening", "address", ln.Addr().String(), "metrics_path", s.cfg.Path)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("HTTP server shutting down")
	if s.hub != nil {
		s.hub.Close()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	return nil
}

// HealthCheck verifies the server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
