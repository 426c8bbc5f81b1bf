// Package server provides the HTTP surface of the remediation pipeline.
//
// It exposes health, Prometheus metrics, and a status endpoint aggregating
// orchestrator, consumer, and cost-tracker state, behind a sliding-window
// per-client rate limit.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fyrsmithlabs/eureka/internal/config"
	"github.com/fyrsmithlabs/eureka/internal/consumer"
	"github.com/fyrsmithlabs/eureka/internal/cost"
	"github.com/fyrsmithlabs/eureka/internal/logging"
	"github.com/fyrsmithlabs/eureka/internal/orchestrator"
	"github.com/fyrsmithlabs/eureka/internal/ratelimit"
)

// Server is the HTTP server.
type Server struct {
	cfg     config.ServerConfig
	echo    *echo.Echo
	limiter *ratelimit.SlidingWindow

	orch *orchestrator.EurekaOrchestrator
	cons *consumer.APVConsumer
	cost *cost.Tracker
}

// HealthResponse is the JSON response for the /health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// StatusResponse aggregates pipeline state for the /status endpoint.
type StatusResponse struct {
	Pipeline orchestrator.Snapshot `json:"pipeline"`
	Consumer consumer.Stats        `json:"consumer"`
	Cost     cost.Summary          `json:"cost"`
}

// New creates the HTTP server. cons and tracker may be nil when the
// corresponding subsystem is disabled; their status sections render empty.
func New(cfg config.ServerConfig, orch *orchestrator.EurekaOrchestrator, cons *consumer.APVConsumer, tracker *cost.Tracker) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	// Carry the generated request id on the request context so anything
	// logging downstream picks it up as a correlation field.
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
			return next(c)
		}
	})

	s := &Server{
		cfg:     cfg,
		echo:    e,
		limiter: ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow, 0),
		orch:    orch,
		cons:    cons,
		cost:    tracker,
	}

	e.Use(s.rateLimitMiddleware)
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// rateLimitMiddleware rejects clients that exceed the sliding window.
func (s *Server) rateLimitMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.limiter.Allow(c.RealIP()) {
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "eureka"})
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{}
	if s.orch != nil {
		resp.Pipeline = s.orch.Snapshot()
	}
	if s.cons != nil {
		resp.Consumer = s.cons.Stats()
	}
	if s.cost != nil {
		resp.Cost = s.cost.Summarize()
	}
	return c.JSON(http.StatusOK, resp)
}

// Start runs the server and blocks until ctx is canceled, then shuts down
// gracefully within the configured timeout. Returns http.ErrServerClosed on
// graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		s.limiter.Close()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
