// Package http provides the HTTP API for validationd.
package http

import (
	"time"

	"github.com/fyrsmithlabs/validationd/internal/evidence"
	"github.com/fyrsmithlabs/validationd/internal/store"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StartRunRequest is the request body for POST /api/v1/runs.
type StartRunRequest struct {
	ProjectID string `json:"project_id"`
}

// RunResponse is the wire form of a validation run.
type RunResponse struct {
	RunID           string         `json:"run_id"`
	ProjectID       string         `json:"project_id"`
	Status          string         `json:"status"`
	CurrentPhase    string         `json:"current_phase"`
	TotalIterations int            `json:"total_iterations"`
	PivotCounters   map[string]int `json:"pivot_counters"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ListRunsResponse is the response body for GET /api/v1/runs.
type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

// MetricResponse is one aggregated metric inside a summary.
type MetricResponse struct {
	Weighted float64 `json:"weighted"`
	Last     float64 `json:"last"`
	Count    int     `json:"count"`
}

// SummaryResponse is the evidence aggregate for the run's current
// phase.
type SummaryResponse struct {
	Phase           string                    `json:"phase"`
	Metrics         map[string]MetricResponse `json:"metrics"`
	EvidenceCount   int                       `json:"evidence_count"`
	ExperimentCount int                       `json:"experiment_count"`
	ReadinessScore  float64                   `json:"readiness_score"`
}

// RunDetailResponse is the response body for GET /api/v1/runs/:id.
type RunDetailResponse struct {
	RunResponse
	Summary SummaryResponse `json:"summary"`
}

// EvidenceRequest is the request body for POST /api/v1/runs/:id/evidence.
type EvidenceRequest struct {
	Phase     string  `json:"phase"`
	Type      string  `json:"type"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	SourceRef string  `json:"source_ref,omitempty"`
}

// CheckpointResponse is the wire form of a pending checkpoint.
type CheckpointResponse struct {
	CheckpointID    string    `json:"checkpoint_id"`
	RunID           string    `json:"run_id"`
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	ResumeToken     string    `json:"resume_token"`
	Options         []string  `json:"options"`
	EscalationLevel int       `json:"escalation_level"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// PivotResponse is one applied pivot in a run's history.
type PivotResponse struct {
	PivotType string    `json:"pivot_type"`
	FromPhase string    `json:"from_phase"`
	ToPhase   string    `json:"to_phase"`
	AppliedAt time.Time `json:"applied_at"`
}

// ListPivotsResponse is the response body for GET /api/v1/runs/:id/pivots.
type ListPivotsResponse struct {
	Pivots []PivotResponse `json:"pivots"`
}

// DecisionRequest is the request body for POST /api/v1/decisions. The
// resume token alone identifies the checkpoint; feedback is free text
// recorded for the audit trail.
type DecisionRequest struct {
	ResumeToken string `json:"resume_token"`
	Decision    string `json:"decision"`
	Feedback    string `json:"feedback,omitempty"`
}

// DecisionResponse reports how a submitted decision settled.
type DecisionResponse struct {
	Outcome string      `json:"outcome"`
	Run     RunResponse `json:"run"`
}

func runResponseFrom(r *store.RunRecord) RunResponse {
	counters := make(map[string]int, len(r.PivotCounters))
	for t, n := range r.PivotCounters {
		counters[string(t)] = n
	}
	return RunResponse{
		RunID:           r.RunID,
		ProjectID:       r.ProjectID,
		Status:          string(r.Status),
		CurrentPhase:    string(r.CurrentPhase),
		TotalIterations: r.TotalIterations,
		PivotCounters:   counters,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func summaryResponseFrom(s *evidence.Summary) SummaryResponse {
	metrics := make(map[string]MetricResponse, len(s.Metrics))
	for name, m := range s.Metrics {
		metrics[name] = MetricResponse{Weighted: m.Weighted, Last: m.Last, Count: m.Count}
	}
	return SummaryResponse{
		Phase:           string(s.Phase),
		Metrics:         metrics,
		EvidenceCount:   s.EvidenceCount,
		ExperimentCount: s.ExperimentCount,
		ReadinessScore:  s.ReadinessScore,
	}
}

func checkpointResponseFrom(cp *store.CheckpointRecord) CheckpointResponse {
	return CheckpointResponse{
		CheckpointID:    cp.CheckpointID,
		RunID:           cp.RunID,
		Name:            cp.Name,
		Status:          string(cp.Status),
		ResumeToken:     cp.ResumeToken,
		Options:         cp.Options.Strings(),
		EscalationLevel: cp.EscalationLevel,
		CreatedAt:       cp.CreatedAt,
		ExpiresAt:       cp.ExpiresAt,
	}
}
