// Package http provides the HTTP API for validationd.
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
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/validationd/internal/checkpoint"
	"github.com/fyrsmithlabs/validationd/internal/evidence"
	"github.com/fyrsmithlabs/validationd/internal/gate"
	"github.com/fyrsmithlabs/validationd/internal/logging"
	"github.com/fyrsmithlabs/validationd/internal/run"
	"github.com/fyrsmithlabs/validationd/internal/store"
	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// Server exposes run lifecycle, evidence ingestion, and checkpoint
// decisions over HTTP.
type Server struct {
	echo    *echo.Echo
	runs    *run.Controller
	limiter *rate.Limiter
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// RateLimit caps requests per second across all clients; RateBurst
	// is the token-bucket burst. Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// DefaultConfig returns the server defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:      "localhost",
		Port:      9090,
		RateLimit: 50,
		RateBurst: 100,
	}
}

// NewServer creates the HTTP server around a run controller.
func NewServer(runs *run.Controller, logger *zap.Logger, cfg *Config) (*Server, error) {
	if runs == nil {
		return nil, fmt.Errorf("run controller cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(correlationMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			fields := append(logging.ContextFields(c.Request().Context()),
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
			)
			logger.Info("http request", fields...)

			return err
		}
	})

	s := &Server{
		echo:   e,
		runs:   runs,
		logger: logger,
		config: cfg,
	}

	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
		e.Use(s.rateLimitMiddleware())
	}

	metrics := NewHTTPMetrics(logger)
	e.Use(metrics.MetricsMiddleware())

	// Register routes
	s.registerRoutes()

	return s, nil
}

// correlationMiddleware enriches the request context with the request
// ID and, on run-scoped routes, the run ID, so downstream log lines
// carry them. IDs from headers and URLs are untrusted and skipped when
// they fail the correlation ID rules.
func correlationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if rid := c.Response().Header().Get(echo.HeaderXRequestID); logging.ValidID(rid) {
				ctx = logging.WithRequestID(ctx, rid)
			}
			if id := c.Param("id"); logging.ValidID(id) {
				ctx = logging.WithRunID(ctx, id)
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// rateLimitMiddleware sheds load once the shared token bucket is dry.
func (s *Server) rateLimitMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !s.limiter.Allow() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check and Prometheus scrape target
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/runs", s.handleStartRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.POST("/runs/:id/evidence", s.handleIngestEvidence)
	v1.POST("/runs/:id/complete", s.handleCompletePhase)
	v1.GET("/runs/:id/checkpoint", s.handleGetCheckpoint)
	v1.GET("/runs/:id/pivots", s.handleListPivots)
	v1.POST("/decisions", s.handleDecision)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStartRun creates a validation run and kicks off its first
// phase.
func (s *Server) handleStartRun(c echo.Context) error {
	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid start run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ProjectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id field is required")
	}

	record, err := s.runs.Start(c.Request().Context(), req.ProjectID)
	if err != nil {
		return s.mapError(err)
	}

	return c.JSON(http.StatusCreated, runResponseFrom(record))
}

// handleListRuns returns all runs, newest first.
func (s *Server) handleListRuns(c echo.Context) error {
	records, err := s.runs.List(c.Request().Context())
	if err != nil {
		return s.mapError(err)
	}

	out := make([]RunResponse, 0, len(records))
	for _, r := range records {
		out = append(out, runResponseFrom(r))
	}
	return c.JSON(http.StatusOK, ListRunsResponse{Runs: out})
}

// handleGetRun returns a run plus the evidence summary for its
// current phase.
func (s *Server) handleGetRun(c echo.Context) error {
	record, err := s.runs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}

	summary := s.runs.Summarize(record)
	return c.JSON(http.StatusOK, RunDetailResponse{
		RunResponse: runResponseFrom(record),
		Summary:     summaryResponseFrom(summary),
	})
}

// handleIngestEvidence appends out-of-band evidence to a run's ledger.
func (s *Server) handleIngestEvidence(c echo.Context) error {
	var req EvidenceRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid evidence request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	phase, err := validation.ParsePhase(req.Phase)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	typ := evidence.Type(req.Type)
	if !typ.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown evidence type %q", req.Type))
	}
	if req.Metric == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "metric field is required")
	}

	item := evidence.Item{
		Phase:     phase,
		Type:      typ,
		Metric:    req.Metric,
		Value:     req.Value,
		SourceRef: req.SourceRef,
	}
	if err := s.runs.Ingest(c.Request().Context(), c.Param("id"), item); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

// handleCompletePhase marks the run's current phase as done and
// evaluates its exit gate against the ledger. This is how runs whose
// phase work happens outside the daemon move forward: ingest evidence,
// then complete. An incomplete ledger leaves the run untouched.
func (s *Server) handleCompletePhase(c echo.Context) error {
	id := c.Param("id")
	if err := s.runs.CompletePhase(c.Request().Context(), id); err != nil {
		return s.mapError(err)
	}

	record, err := s.runs.Get(c.Request().Context(), id)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, runResponseFrom(record))
}

// handleGetCheckpoint returns the run's pending checkpoint, if any.
func (s *Server) handleGetCheckpoint(c echo.Context) error {
	cp, err := s.runs.PendingCheckpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, checkpointResponseFrom(cp))
}

// handleListPivots returns the run's applied pivots, oldest first.
func (s *Server) handleListPivots(c echo.Context) error {
	records, err := s.runs.PivotHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}

	out := make([]PivotResponse, 0, len(records))
	for _, p := range records {
		out = append(out, PivotResponse{
			PivotType: string(p.PivotType),
			FromPhase: string(p.FromPhase),
			ToPhase:   string(p.ToPhase),
			AppliedAt: p.AppliedAt,
		})
	}
	return c.JSON(http.StatusOK, ListPivotsResponse{Pivots: out})
}

// handleDecision settles a checkpoint by resume token. Replays are
// safe: the original outcome is reported without re-applying side
// effects.
func (s *Server) handleDecision(c echo.Context) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid decision request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ResumeToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resume_token field is required")
	}
	decision, err := validation.ParseDecision(req.Decision)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Feedback != "" {
		s.logger.Info("decision feedback",
			zap.String("decision", req.Decision),
			zap.String("feedback", req.Feedback))
	}

	result, err := s.runs.OnCheckpointDecision(c.Request().Context(), req.ResumeToken, decision)
	if err != nil {
		return s.mapError(err)
	}

	resp := DecisionResponse{
		Outcome: string(result.Outcome),
		Run:     runResponseFrom(result.Run),
	}
	switch result.Outcome {
	case checkpoint.OutcomeApplied, checkpoint.OutcomeAlreadyDecided:
		return c.JSON(http.StatusOK, resp)
	case checkpoint.OutcomeExpired:
		return c.JSON(http.StatusGone, resp)
	default:
		return c.JSON(http.StatusUnprocessableEntity, resp)
	}
}

// mapError translates domain errors into HTTP status codes.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, run.ErrRunTerminal),
		errors.Is(err, run.ErrInvalidTransition),
		errors.Is(err, store.ErrPendingCheckpointExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, run.ErrLoopLimitExceeded),
		errors.Is(err, gate.ErrEvidenceIncomplete):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, run.ErrTransientConflict):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "transient conflict, retry")
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
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

// Echo exposes the underlying router for route registration in main.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
