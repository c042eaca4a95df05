// Package server exposes the limiter over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SmitUplenchwar2687/Throttle/internal/limiter"
)

const healthTimeout = 2 * time.Second

// Config configures a Server.
type Config struct {
	Addr    string
	Limiter *limiter.Limiter
	// TrustRemoteAddr keys anonymous checks by remote host when no
	// X-Forwarded-For header is present.
	TrustRemoteAddr bool
	// Hub streams decisions on /ws. Nil disables the route.
	Hub *Hub
	// Gatherer backs /metrics. Nil uses the default Prometheus registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the throttle HTTP server.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	limiter    *limiter.Limiter
	hub        *Hub
	logger     *slog.Logger
}

// New creates a Server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router:  chi.NewRouter(),
		limiter: cfg.Limiter,
		hub:     cfg.Hub,
		logger:  logger,
	}
	s.routes(cfg, gatherer)
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(cfg Config, gatherer prometheus.Gatherer) {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/api/policies", s.handlePolicies)

	byClient := RateLimit(MiddlewareConfig{
		Limiter:  s.limiter,
		Policy:   PolicyFromURL("policy"),
		Identify: limiter.ClientIdentifier(cfg.TrustRemoteAddr),
		Logger:   s.logger,
	})
	byKey := RateLimit(MiddlewareConfig{
		Limiter:  s.limiter,
		Policy:   PolicyFromURL("policy"),
		Identify: func(r *http.Request) string { return chi.URLParam(r, "key") },
		Logger:   s.logger,
	})
	r.With(byClient).Get("/api/check/{policy}", s.handleCheck)
	r.With(byKey).Get("/api/check/{policy}/{key}", s.handleCheck)

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWebSocket)
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "throttle",
		"status":  "running",
		"mode":    string(s.limiter.Mode()),
		"time":    s.limiter.Clock().Now().UTC().Format(time.RFC3339),
	})
}

// handleHealth reports "degraded" rather than failing when the shared store
// is down, since checks are still served from local counters.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	body := map[string]string{
		"status": "healthy",
		"mode":   string(s.limiter.Mode()),
	}
	status := http.StatusOK
	if err := s.limiter.Ping(ctx); err != nil {
		body["error"] = err.Error()
		if s.limiter.Mode() == limiter.ModeShared {
			body["status"] = "degraded"
		} else {
			body["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, body)
}

type policyView struct {
	Name          string `json:"name"`
	Limit         int    `json:"limit"`
	Window        string `json:"window"`
	WindowSeconds int64  `json:"window_seconds"`
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	policies := s.limiter.Registry().Policies()
	out := make([]policyView, 0, len(policies))
	for _, p := range policies {
		out = append(out, policyView{
			Name:          p.Name,
			Limit:         p.Limit,
			Window:        p.Window.String(),
			WindowSeconds: int64(p.Window / time.Second),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	d, ok := DecisionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "no rate limit decision")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener serves on ln. A clean shutdown returns nil.
func (s *Server) StartOnListener(ln net.Listener) error {
	s.logger.Info("throttle server listening", "addr", ln.Addr().String(), "mode", s.limiter.Mode())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
