package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/validationd/internal/checkpoint"
	"github.com/fyrsmithlabs/validationd/internal/evidence"
	"github.com/fyrsmithlabs/validationd/internal/gate"
	"github.com/fyrsmithlabs/validationd/internal/pivot"
	"github.com/fyrsmithlabs/validationd/internal/run"
	"github.com/fyrsmithlabs/validationd/internal/store"
	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// nopExecutor satisfies the executor interface without running
// anything; tests drive phase completions through the controller.
type nopExecutor struct{}

func (nopExecutor) TriggerPhase(context.Context, string, validation.Phase) error { return nil }
func (nopExecutor) Close()                                                       {}

func newTestServer(t *testing.T, cfg *Config) (*Server, *run.Controller) {
	t.Helper()
	return newTestServerWithLogger(t, cfg, zaptest.NewLogger(t))
}

func newTestServerWithLogger(t *testing.T, cfg *Config, logger *zap.Logger) (*Server, *run.Controller) {
	t.Helper()
	st := store.NewMemoryStore()

	evaluator, err := gate.NewEvaluator(nil)
	require.NoError(t, err)
	limiter, err := pivot.NewLimiter(pivot.DefaultCaps())
	require.NoError(t, err)
	manager, err := checkpoint.NewManager(checkpoint.DefaultConfig(), st, nil, logger)
	require.NoError(t, err)
	ctrl, err := run.NewController(st, evidence.NewAggregator(logger), evaluator, limiter,
		manager, nil, logger)
	require.NoError(t, err)
	ctrl.SetExecutor(nopExecutor{})

	server, err := NewServer(ctrl, logger, cfg)
	require.NoError(t, err)
	return server, ctrl
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

// pauseAtDesirability drives a run to its first checkpoint so
// checkpoint and decision endpoints have something to work with.
func pauseAtDesirability(t *testing.T, ctrl *run.Controller) (runID, token string) {
	t.Helper()
	ctx := context.Background()

	record, err := ctrl.Start(ctx, "proj-http")
	require.NoError(t, err)

	item := func(metric string, value float64) evidence.Item {
		return evidence.Item{Type: evidence.TypeDODirect, Metric: metric, Value: value}
	}
	require.NoError(t, ctrl.OnPhaseComplete(ctx, record.RunID, validation.PhaseQuickStart,
		[]evidence.Item{item(evidence.MetricOpportunityScore, 0.8)}))
	require.NoError(t, ctrl.OnPhaseComplete(ctx, record.RunID, validation.PhaseDiscovery,
		[]evidence.Item{item(evidence.MetricSegmentCoverage, 0.9)}))
	require.NoError(t, ctrl.OnPhaseComplete(ctx, record.RunID, validation.PhaseDesirability,
		[]evidence.Item{
			item(evidence.MetricProblemResonance, 0.2),
			item(evidence.MetricZombieRatio, 0.1),
		}))

	cp, err := ctrl.PendingCheckpoint(ctx, record.RunID)
	require.NoError(t, err)
	return record.RunID, cp.ResumeToken
}

func TestNewServer(t *testing.T) {
	t.Run("creates server with valid config", func(t *testing.T) {
		cfg := &Config{Host: "localhost", Port: 9090}
		server, ctrl := newTestServer(t, cfg)
		assert.NotNil(t, server)
		assert.NotNil(t, ctrl)
		assert.Equal(t, cfg, server.config)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, _ := newTestServer(t, nil)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9090, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		server, _ := newTestServer(t, nil)
		_, err := NewServer(server.runs, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when controller is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "run controller cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server, _ := newTestServer(t, nil)

	rec := doJSON(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleStartRun(t *testing.T) {
	server, _ := newTestServer(t, nil)

	t.Run("creates a run", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/runs",
			StartRunRequest{ProjectID: "proj-1"})
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp RunResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.RunID)
		assert.Equal(t, "proj-1", resp.ProjectID)
		assert.Equal(t, string(validation.StatusRunning), resp.Status)
		assert.Equal(t, string(validation.PhaseQuickStart), resp.CurrentPhase)
	})

	t.Run("rejects missing project_id", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/runs", StartRunRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleGetRun(t *testing.T) {
	server, ctrl := newTestServer(t, nil)

	t.Run("returns 404 for unknown run", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodGet, "/api/v1/runs/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("returns run with evidence summary", func(t *testing.T) {
		record, err := ctrl.Start(context.Background(), "proj-2")
		require.NoError(t, err)
		require.NoError(t, ctrl.Ingest(context.Background(), record.RunID, evidence.Item{
			Phase:  validation.PhaseQuickStart,
			Type:   evidence.TypeDODirect,
			Metric: evidence.MetricOpportunityScore,
			Value:  0.7,
		}))

		rec := doJSON(t, server, http.MethodGet, "/api/v1/runs/"+record.RunID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp RunDetailResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, record.RunID, resp.RunID)
		assert.Equal(t, string(validation.PhaseQuickStart), resp.Summary.Phase)
		assert.Equal(t, 1, resp.Summary.EvidenceCount)
		assert.Equal(t, 1, resp.Summary.ExperimentCount)
		assert.InDelta(t, 1.0, resp.Summary.ReadinessScore, 1e-9)
	})
}

func TestHandleListRuns(t *testing.T) {
	server, ctrl := newTestServer(t, nil)

	for i := 0; i < 3; i++ {
		_, err := ctrl.Start(context.Background(), fmt.Sprintf("proj-%d", i))
		require.NoError(t, err)
	}

	rec := doJSON(t, server, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListRunsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Runs, 3)
}

func TestHandleIngestEvidence(t *testing.T) {
	server, ctrl := newTestServer(t, nil)
	record, err := ctrl.Start(context.Background(), "proj-3")
	require.NoError(t, err)

	t.Run("accepts evidence", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/runs/"+record.RunID+"/evidence",
			EvidenceRequest{
				Phase:  string(validation.PhaseQuickStart),
				Type:   string(evidence.TypeSAY),
				Metric: evidence.MetricOpportunityScore,
				Value:  0.5,
			})
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("rejects unknown phase", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/runs/"+record.RunID+"/evidence",
			EvidenceRequest{Phase: "ideation", Type: string(evidence.TypeSAY), Metric: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unknown evidence type", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/runs/"+record.RunID+"/evidence",
			EvidenceRequest{Phase: string(validation.PhaseQuickStart), Type: "GUESS", Metric: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns 404 for unknown run", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/runs/nope/evidence",
			EvidenceRequest{
				Phase:  string(validation.PhaseQuickStart),
				Type:   string(evidence.TypeSAY),
				Metric: evidence.MetricOpportunityScore,
			})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleCompletePhase(t *testing.T) {
	server, ctrl := newTestServer(t, nil)

	t.Run("returns 404 for unknown run", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/runs/nope/complete", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rejects completion with incomplete evidence", func(t *testing.T) {
		record, err := ctrl.Start(context.Background(), "proj-incomplete")
		require.NoError(t, err)

		rec := doJSON(t, server, http.MethodPost, "/api/v1/runs/"+record.RunID+"/complete", nil)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		// The run is untouched: still running the same phase.
		record, err = ctrl.Get(context.Background(), record.RunID)
		require.NoError(t, err)
		assert.Equal(t, validation.StatusRunning, record.Status)
		assert.Equal(t, validation.PhaseQuickStart, record.CurrentPhase)
	})

	t.Run("evaluates the gate once evidence is ingested", func(t *testing.T) {
		record, err := ctrl.Start(context.Background(), "proj-complete")
		require.NoError(t, err)

		rec := doJSON(t, server, http.MethodPost, "/api/v1/runs/"+record.RunID+"/evidence",
			EvidenceRequest{
				Phase:  string(validation.PhaseQuickStart),
				Type:   string(evidence.TypeDODirect),
				Metric: evidence.MetricOpportunityScore,
				Value:  0.8,
			})
		require.Equal(t, http.StatusAccepted, rec.Code)

		rec = doJSON(t, server, http.MethodPost, "/api/v1/runs/"+record.RunID+"/complete", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp RunResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, string(validation.StatusRunning), resp.Status)
		assert.Equal(t, string(validation.PhaseDiscovery), resp.CurrentPhase)
	})

	t.Run("rejects completion of a paused run", func(t *testing.T) {
		runID, _ := pauseAtDesirability(t, ctrl)

		rec := doJSON(t, server, http.MethodPost, "/api/v1/runs/"+runID+"/complete", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHandleGetCheckpoint(t *testing.T) {
	server, ctrl := newTestServer(t, nil)

	t.Run("returns 404 when no checkpoint pending", func(t *testing.T) {
		record, err := ctrl.Start(context.Background(), "proj-4")
		require.NoError(t, err)
		rec := doJSON(t, server, http.MethodGet, "/api/v1/runs/"+record.RunID+"/checkpoint", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("returns pending checkpoint with options", func(t *testing.T) {
		runID, token := pauseAtDesirability(t, ctrl)

		rec := doJSON(t, server, http.MethodGet, "/api/v1/runs/"+runID+"/checkpoint", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp CheckpointResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, runID, resp.RunID)
		assert.Equal(t, token, resp.ResumeToken)
		assert.Equal(t, "desirability_gate", resp.Name)
		assert.Equal(t, []string{"segment_pivot", "override_proceed", "kill"}, resp.Options)
	})
}

func TestHandleDecision(t *testing.T) {
	server, ctrl := newTestServer(t, nil)
	runID, token := pauseAtDesirability(t, ctrl)

	t.Run("returns 404 for unknown token", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/decisions",
			DecisionRequest{ResumeToken: "bogus", Decision: "kill"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rejects unparseable decision", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/decisions",
			DecisionRequest{ResumeToken: token, Decision: "shrug"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unoffered decision", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/decisions",
			DecisionRequest{ResumeToken: token, Decision: "value_pivot"})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var resp DecisionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, string(checkpoint.OutcomeInvalidDecision), resp.Outcome)
	})

	t.Run("applies an offered pivot", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/decisions",
			DecisionRequest{ResumeToken: token, Decision: "segment_pivot"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp DecisionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, string(checkpoint.OutcomeApplied), resp.Outcome)
		assert.Equal(t, runID, resp.Run.RunID)
		assert.Equal(t, string(validation.PhaseDiscovery), resp.Run.CurrentPhase)
		assert.Equal(t, 1, resp.Run.PivotCounters["segment"])
	})

	t.Run("replay reports already decided", func(t *testing.T) {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/decisions",
			DecisionRequest{ResumeToken: token, Decision: "segment_pivot"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp DecisionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, string(checkpoint.OutcomeAlreadyDecided), resp.Outcome)
	})
}

func TestHandleListPivots(t *testing.T) {
	server, ctrl := newTestServer(t, nil)
	runID, token := pauseAtDesirability(t, ctrl)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/decisions",
		DecisionRequest{ResumeToken: token, Decision: "segment_pivot"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/runs/"+runID+"/pivots", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListPivotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Pivots, 1)
	assert.Equal(t, "segment", resp.Pivots[0].PivotType)
	assert.Equal(t, string(validation.PhaseDesirability), resp.Pivots[0].FromPhase)
	assert.Equal(t, string(validation.PhaseDiscovery), resp.Pivots[0].ToPhase)
}

func TestRequestLogCarriesCorrelationIDs(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	server, ctrl := newTestServerWithLogger(t, nil, zap.New(core))

	record, err := ctrl.Start(context.Background(), "proj-corr")
	require.NoError(t, err)

	rec := doJSON(t, server, http.MethodGet, "/api/v1/runs/"+record.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	entries := observed.FilterMessage("http request").All()
	require.NotEmpty(t, entries)

	fields := entries[len(entries)-1].ContextMap()
	assert.Equal(t, record.RunID, fields["run.id"])
	assert.NotEmpty(t, fields["request.id"])
}

func TestRateLimitMiddleware(t *testing.T) {
	server, _ := newTestServer(t, &Config{
		Host:      "localhost",
		Port:      9090,
		RateLimit: 1,
		RateBurst: 1,
	})

	rec := doJSON(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
