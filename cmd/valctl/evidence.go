package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	evidenceType      string
	evidenceSourceRef string
)

// evidenceCmd submits evidence to a run
var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Submit evidence to a validation run",
}

var evidenceAddCmd = &cobra.Command{
	Use:   "add <run-id> <phase> <metric> <value>",
	Short: "Add one evidence item to a run",
	Long: `Add one evidence item to a run's phase ledger.

Evidence type weights observed behavior over stated intent: DO-direct
counts fully, DO-indirect at 0.8, SAY at 0.3.

Examples:
  # Record an observed signup conversion
  valctl evidence add run-1a2b3c desirability problem_resonance 0.45

  # Record interview feedback with a source reference
  valctl evidence add run-1a2b3c desirability zombie_ratio 0.2 \
    --type SAY --source-ref interview-07`,
	Args: cobra.ExactArgs(4),
	RunE: runEvidenceAdd,
}

func init() {
	evidenceAddCmd.Flags().StringVar(&evidenceType, "type", "DO-direct", "evidence type (DO-direct, DO-indirect, SAY)")
	evidenceAddCmd.Flags().StringVar(&evidenceSourceRef, "source-ref", "", "experiment or source identifier")
	evidenceCmd.AddCommand(evidenceAddCmd)
}

// EvidenceRequest matches internal/http/types.go EvidenceRequest
type EvidenceRequest struct {
	Phase     string  `json:"phase"`
	Type      string  `json:"type"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	SourceRef string  `json:"source_ref,omitempty"`
}

func runEvidenceAdd(cmd *cobra.Command, args []string) error {
	value, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[3], err)
	}

	req := EvidenceRequest{
		Phase:     args[1],
		Type:      evidenceType,
		Metric:    args[2],
		Value:     value,
		SourceRef: evidenceSourceRef,
	}
	if err := postJSON("/api/v1/runs/"+args[0]+"/evidence", req, nil); err != nil {
		return err
	}

	fmt.Printf("Recorded %s %s=%g for run %s\n", args[1], args[2], value, args[0])
	return nil
}
