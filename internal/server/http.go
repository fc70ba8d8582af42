package server

import (
	"context"
	"net/http"
	"path"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"promptkeeper/config"
	"promptkeeper/internal/core"
	"promptkeeper/internal/history"
	"promptkeeper/internal/observability"
	"promptkeeper/internal/search"
)

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	APIKey          string   // Optional: API key for authentication
	AvailableModels []string // Model identifiers served by /v1/models
	MetricsEnabled  bool     // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string   // HTTP path for metrics endpoint (default: /metrics)
	BodySizeLimit   int64    // Max request body size in bytes (default: 10MB)
}

// New creates a new HTTP server. recorder, engine, and metrics follow the
// nil rules of NewHandler.
func New(provider core.Provider, recorder history.RecorderInterface, engine *search.Engine, metrics *observability.Metrics, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true

	var (
		apiKey          string
		models          []string
		bodySizeLimit   = config.DefaultBodySizeLimit
		metricsEnabled  bool
		metricsEndpoint string
	)
	if cfg != nil {
		apiKey = cfg.APIKey
		models = cfg.AvailableModels
		metricsEnabled = cfg.MetricsEnabled
		metricsEndpoint = cfg.MetricsEndpoint
		if cfg.BodySizeLimit > 0 {
			bodySizeLimit = cfg.BodySizeLimit
		}
	}

	handler := NewHandler(provider, recorder, engine, models, metrics)

	// Build list of paths that skip authentication
	authSkipPaths := []string{"/health"}

	metricsPath := "/metrics"
	if metricsEnabled {
		if metricsEndpoint != "" {
			// Normalize path to prevent traversal attacks
			metricsPath = path.Clean(metricsEndpoint)
		}
		authSkipPaths = append(authSkipPaths, metricsPath)
	}

	// Global middleware stack (order matters)
	e.Use(middleware.Recover())
	if metrics != nil {
		e.Use(metrics.Middleware())
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))
	e.Use(AuthMiddleware(apiKey, authSkipPaths))

	// Public routes
	e.GET("/health", handler.Health)
	if metricsEnabled {
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	// API routes, served with and without the /v1 prefix
	for _, prefix := range []string{"/v1", ""} {
		e.GET(prefix+"/models", handler.ListModels)
		e.POST(prefix+"/chat/completions", handler.ChatCompletion)
		e.POST(prefix+"/completions", handler.Completion)
	}
	e.POST("/search", handler.Search)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
