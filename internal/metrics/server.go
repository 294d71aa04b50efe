package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig holds configuration for the metrics server.
type ServerConfig struct {
	Port        int
	MetricsPath string
	HealthPath  string
	ReadyPath   string
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:        9090,
		MetricsPath: "/metrics",
		HealthPath:  "/health",
		ReadyPath:   "/ready",
	}
}

// Status values reported by checks.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
}

// Check represents a single health check.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Healthy reports whether the check passed.
func (c Check) Healthy() bool {
	return c.Status == StatusHealthy
}

// HealthChecker is a function that performs a health check.
type HealthChecker func() Check

// Server handles metrics, health and readiness endpoints. Health checks
// feed /health; readiness checks gate /ready in addition to them.
type Server struct {
	cfg        ServerConfig
	httpServer *http.Server
	startTime  time.Time
	logger     *slog.Logger

	mu        sync.RWMutex
	checkers  map[string]HealthChecker
	readiness map[string]HealthChecker
}

// NewServer creates a new metrics server.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadyPath == "" {
		cfg.ReadyPath = "/ready"
	}

	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		logger:    logger,
		checkers:  make(map[string]HealthChecker),
		readiness: make(map[string]HealthChecker),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc(s.cfg.HealthPath, s.healthHandler)
	mux.HandleFunc(s.cfg.ReadyPath, s.readyHandler)
	mux.HandleFunc("/live", s.liveHandler)
	return mux
}

// RegisterHealthCheck registers a health checker.
func (s *Server) RegisterHealthCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
}

// RegisterReadinessCheck registers a checker that only gates readiness,
// such as the risk state having been rebuilt.
func (s *Server) RegisterReadinessCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readiness[name] = checker
}

// Start starts the metrics server. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}

	s.logger.Info("starting metrics server",
		"addr", ln.Addr().String(),
		"metrics_path", s.cfg.MetricsPath,
		"health_path", s.cfg.HealthPath,
		"ready_path", s.cfg.ReadyPath,
	)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "err", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) runChecks(includeReadiness bool) (map[string]Check, bool) {
	s.mu.RLock()
	checkers := make(map[string]HealthChecker, len(s.checkers)+len(s.readiness))
	for k, v := range s.checkers {
		checkers[k] = v
	}
	if includeReadiness {
		for k, v := range s.readiness {
			checkers[k] = v
		}
	}
	s.mu.RUnlock()

	checks := make(map[string]Check, len(checkers))
	ok := true
	for name, checker := range checkers {
		check := checker()
		checks[name] = check
		if !check.Healthy() {
			ok = false
		}
	}
	return checks, ok
}

// healthHandler handles the /health endpoint.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	checks, ok := s.runChecks(false)

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).String(),
		Checks:    checks,
	}
	if !ok {
		status.Status = StatusUnhealthy
	}

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// readyHandler handles the readiness probe.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks, ok := s.runChecks(true)
	if !ok {
		for name, c := range checks {
			if !c.Healthy() {
				s.logger.Debug("readiness check failing", "check", name, "message", c.Message)
			}
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// liveHandler handles the /live endpoint (Kubernetes liveness probe).
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}
