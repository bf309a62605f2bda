package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// runCmd groups run lifecycle subcommands
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage validation runs",
	Long: `Start, inspect, and list validation runs.

Examples:
  # Start a new run for a project
  valctl run start my-project

  # Show a run with its current evidence summary
  valctl run status run-1a2b3c

  # Complete the current phase and evaluate its gate
  valctl run complete run-1a2b3c

  # List all runs
  valctl run list

  # Show a run's applied pivots
  valctl run pivots run-1a2b3c`,
}

func init() {
	runCmd.AddCommand(runStartCmd)
	runCmd.AddCommand(runStatusCmd)
	runCmd.AddCommand(runCompleteCmd)
	runCmd.AddCommand(runListCmd)
	runCmd.AddCommand(runPivotsCmd)
}

var runStartCmd = &cobra.Command{
	Use:   "start <project-id>",
	Short: "Start a new validation run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

var runStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run and its evidence summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var runCompleteCmd = &cobra.Command{
	Use:   "complete <run-id>",
	Short: "Complete the current phase and evaluate its exit gate",
	Args:  cobra.ExactArgs(1),
	RunE:  runComplete,
}

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all validation runs",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var runPivotsCmd = &cobra.Command{
	Use:   "pivots <run-id>",
	Short: "Show a run's applied pivots",
	Args:  cobra.ExactArgs(1),
	RunE:  runPivots,
}

// StartRunRequest matches internal/http/types.go StartRunRequest
type StartRunRequest struct {
	ProjectID string `json:"project_id"`
}

// RunResponse matches internal/http/types.go RunResponse
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

// ListRunsResponse matches internal/http/types.go ListRunsResponse
type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

// MetricResponse matches internal/http/types.go MetricResponse
type MetricResponse struct {
	Weighted float64 `json:"weighted"`
	Last     float64 `json:"last"`
	Count    int     `json:"count"`
}

// SummaryResponse matches internal/http/types.go SummaryResponse
type SummaryResponse struct {
	Phase           string                    `json:"phase"`
	Metrics         map[string]MetricResponse `json:"metrics"`
	EvidenceCount   int                       `json:"evidence_count"`
	ExperimentCount int                       `json:"experiment_count"`
	ReadinessScore  float64                   `json:"readiness_score"`
}

// RunDetailResponse matches internal/http/types.go RunDetailResponse
type RunDetailResponse struct {
	RunResponse
	Summary SummaryResponse `json:"summary"`
}

// PivotResponse matches internal/http/types.go PivotResponse
type PivotResponse struct {
	PivotType string    `json:"pivot_type"`
	FromPhase string    `json:"from_phase"`
	ToPhase   string    `json:"to_phase"`
	AppliedAt time.Time `json:"applied_at"`
}

// ListPivotsResponse matches internal/http/types.go ListPivotsResponse
type ListPivotsResponse struct {
	Pivots []PivotResponse `json:"pivots"`
}

func runStart(cmd *cobra.Command, args []string) error {
	var run RunResponse
	if err := postJSON("/api/v1/runs", StartRunRequest{ProjectID: args[0]}, &run); err != nil {
		return err
	}

	fmt.Printf("Started run %s for project %s (phase: %s)\n", run.RunID, run.ProjectID, run.CurrentPhase)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	var detail RunDetailResponse
	if err := getJSON("/api/v1/runs/"+args[0], &detail); err != nil {
		return err
	}

	fmt.Printf("Run:        %s\n", detail.RunID)
	fmt.Printf("Project:    %s\n", detail.ProjectID)
	fmt.Printf("Status:     %s\n", detail.Status)
	fmt.Printf("Phase:      %s\n", detail.CurrentPhase)
	fmt.Printf("Iterations: %d\n", detail.TotalIterations)
	if len(detail.PivotCounters) > 0 {
		fmt.Printf("Pivots:     %s\n", formatCounters(detail.PivotCounters))
	}

	fmt.Printf("\nEvidence (%s): %d items across %d experiments, readiness %.2f\n",
		detail.Summary.Phase, detail.Summary.EvidenceCount,
		detail.Summary.ExperimentCount, detail.Summary.ReadinessScore)
	for name, m := range detail.Summary.Metrics {
		fmt.Printf("  %-24s weighted=%.3f last=%.3f n=%d\n", name, m.Weighted, m.Last, m.Count)
	}
	return nil
}

func runComplete(cmd *cobra.Command, args []string) error {
	var run RunResponse
	if err := postJSON("/api/v1/runs/"+args[0]+"/complete", nil, &run); err != nil {
		return err
	}

	fmt.Printf("Run %s is now %s (phase: %s)\n", run.RunID, run.Status, run.CurrentPhase)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	var list ListRunsResponse
	if err := getJSON("/api/v1/runs", &list); err != nil {
		return err
	}

	if len(list.Runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tPROJECT\tSTATUS\tPHASE\tITERATIONS\tUPDATED")
	for _, r := range list.Runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.RunID, r.ProjectID, r.Status, r.CurrentPhase,
			r.TotalIterations, r.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runPivots(cmd *cobra.Command, args []string) error {
	var list ListPivotsResponse
	if err := getJSON("/api/v1/runs/"+args[0]+"/pivots", &list); err != nil {
		return err
	}

	if len(list.Pivots) == 0 {
		fmt.Println("No pivots applied")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tFROM\tTO\tAPPLIED")
	for _, p := range list.Pivots {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			p.PivotType, p.FromPhase, p.ToPhase, p.AppliedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

// formatCounters renders pivot counters as "segment=1 value=0" style
// pairs in stable order.
func formatCounters(counters map[string]int) string {
	order := []string{"segment", "value", "feature_downgrade", "strategic"}
	out := ""
	for _, t := range order {
		n, ok := counters[t]
		if !ok {
			continue
		}
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", t, n)
	}
	return out
}
