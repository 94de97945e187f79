// Package http provides the taskrelay HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/loop"
	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"github.com/fyrsmithlabs/taskrelay/internal/tasks"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodySize = 1024 * 1024

// TaskStarter launches tasks. *tasks.Runner implements it.
type TaskStarter interface {
	Start(tr loop.Transcript) (string, error)
	Running() []string
}

// SnapshotSource exposes current task progress. *progress.Aggregator implements it.
type SnapshotSource interface {
	Snapshot(taskID string) (progress.Snapshot, bool)
}

// Deps are the collaborators behind the endpoints. Any of them may be nil,
// in which case the endpoints that need it answer 503.
type Deps struct {
	Runner        TaskStarter
	Snapshots     SnapshotSource
	NATS          *nats.Conn
	SubjectPrefix string
	Gatherer      prometheus.Gatherer
}

// Server provides HTTP endpoints for taskrelay.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// KeepAlive is the interval of SSE keepalive comments.
	KeepAlive time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if deps.SubjectPrefix == "" {
		deps.SubjectPrefix = "taskrelay"
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/v1")
	v1.POST("/tasks", s.handleStartTask)
	v1.GET("/tasks", s.handleListTasks)
	v1.GET("/tasks/:task_id", s.handleGetTask)
	v1.GET("/tasks/:task_id/events", s.handleEvents)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", NATS: "disabled"}
	if s.deps.NATS != nil {
		resp.NATS = s.deps.NATS.Status().String()
		if !s.deps.NATS.IsConnected() {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleStartTask starts a task from a transcript body (YAML or JSON).
func (s *Server) handleStartTask(c echo.Context) error {
	if s.deps.Runner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "task runner not configured")
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read request body")
	}
	if len(body) > maxBodySize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "transcript too large")
	}

	tr, err := loop.ParseTranscript(body)
	if err != nil {
		s.logger.Warn("invalid transcript", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := tr.InlineOnly(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	id, err := s.deps.Runner.Start(tr)
	switch {
	case errors.Is(err, tasks.ErrTaskExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, tasks.ErrInvalidTaskID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, tasks.ErrShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.logger.Error("failed to start task", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start task")
	}

	return c.JSON(http.StatusAccepted, StartTaskResponse{TaskID: id})
}

// handleListTasks lists running task ids.
func (s *Server) handleListTasks(c echo.Context) error {
	if s.deps.Runner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "task runner not configured")
	}
	return c.JSON(http.StatusOK, ListTasksResponse{Running: s.deps.Runner.Running()})
}

// handleGetTask returns the current progress snapshot of a task.
func (s *Server) handleGetTask(c echo.Context) error {
	if s.deps.Snapshots == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "progress state not available")
	}
	snap, ok := s.deps.Snapshots.Snapshot(c.Param("task_id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	return c.JSON(http.StatusOK, snap)
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
