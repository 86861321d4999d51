// Package http exposes the orchestrator over a JSON HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ultrathink/internal/events"
	"github.com/fyrsmithlabs/ultrathink/internal/logging"
	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
)

// maxBodySize bounds POST bodies; 100 source documents fit comfortably.
const maxBodySize = "4M"

// Processor is the orchestrator surface served over HTTP.
type Processor interface {
	Process(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	Stats() orchestrator.Stats
}

// Server provides HTTP endpoints for the orchestrator.
type Server struct {
	echo    *echo.Echo
	proc    Processor
	logger  *logging.Logger
	config  *Config
	events  *events.Publisher
	metrics http.Handler
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// Option configures a Server.
type Option func(*Server)

// WithEvents enables GET /api/v1/events.
func WithEvents(p *events.Publisher) Option {
	return func(s *Server) { s.events = p }
}

// WithMetricsHandler replaces the default Prometheus handler on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer creates a new HTTP server.
func NewServer(proc Processor, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if proc == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		proc:    proc,
		logger:  logger.Named("http"),
		config:  cfg,
		metrics: promhttp.Handler(),
	}
	for _, opt := range opts {
		opt(s)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(newRouteMetrics(otel.Meter(meterName), s.logger).middleware)
	e.Use(s.requestLogger)

	s.registerRoutes()

	return s, nil
}

// requestLogger tags the request context with the echo request id, so
// handler logs correlate with the access line, then logs the request.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if id := c.Response().Header().Get(echo.HeaderXRequestID); logging.ValidID(id) {
			c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), id)))
		}
		err := next(c)
		if c.Path() == "/health" || c.Path() == "/metrics" {
			return err
		}
		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", responseStatus(c, err)),
			zap.Duration("duration", time.Since(start)),
			zap.String("http_request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return err
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/process", s.handleProcess)
	v1.GET("/stats", s.handleStats)
	if s.events != nil {
		v1.GET("/events", s.handleEvents)
		v1.GET("/requests/:request_id/events", s.handleEvents)
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  s.config.Version,
		Events:   s.events != nil,
		Requests: s.proc.Stats().Requests,
	})
}

// handleProcess runs one request to completion. Unsuccessful results are
// still 200: the body carries the error category.
func (s *Server) handleProcess(c echo.Context) error {
	var req ProcessRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid process request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "invalid request body"})
	}

	res, err := s.proc.Process(c.Request().Context(), orchestrator.Request{Prompt: req.Prompt, Options: req.Options})
	if errors.Is(err, orchestrator.ErrInvalidOptions) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_options", Message: err.Error()})
	}
	if err != nil {
		s.logger.Error(c.Request().Context(), "process failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "processing failed"})
	}
	return c.JSON(http.StatusOK, res.Document())
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.proc.Stats())
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
