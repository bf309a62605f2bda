package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// checkpointCmd inspects a run's pending checkpoint
var checkpointCmd = &cobra.Command{
	Use:   "checkpoint <run-id>",
	Short: "Show a run's pending checkpoint",
	Long: `Show a run's pending checkpoint, including the resume token and the
decision options on offer.

Examples:
  valctl checkpoint run-1a2b3c`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckpoint,
}

// decideCmd resolves a pending checkpoint
var decideCmd = &cobra.Command{
	Use:   "decide <resume-token> <decision>",
	Short: "Resolve a pending checkpoint",
	Long: `Resolve a pending checkpoint by its single-use resume token.

The decision must be one of the options the checkpoint offers; anything
else is rejected without touching the run. Replaying a token that has
already settled reports the original outcome.

Examples:
  valctl decide 4f1c...e9a0 segment_pivot
  valctl decide 4f1c...e9a0 kill --feedback "no path to pricing power"`,
	Args: cobra.ExactArgs(2),
	RunE: runDecide,
}

var decideFeedback string

func init() {
	decideCmd.Flags().StringVar(&decideFeedback, "feedback", "", "free-text rationale recorded with the decision")
}

// CheckpointResponse matches internal/http/types.go CheckpointResponse
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

// DecisionRequest matches internal/http/types.go DecisionRequest
type DecisionRequest struct {
	ResumeToken string `json:"resume_token"`
	Decision    string `json:"decision"`
	Feedback    string `json:"feedback,omitempty"`
}

// DecisionResponse matches internal/http/types.go DecisionResponse
type DecisionResponse struct {
	Outcome string      `json:"outcome"`
	Run     RunResponse `json:"run"`
}

func runCheckpoint(cmd *cobra.Command, args []string) error {
	var cp CheckpointResponse
	if err := getJSON("/api/v1/runs/"+args[0]+"/checkpoint", &cp); err != nil {
		return err
	}

	fmt.Printf("Checkpoint: %s (%s)\n", cp.CheckpointID, cp.Name)
	fmt.Printf("Run:        %s\n", cp.RunID)
	fmt.Printf("Options:    %s\n", strings.Join(cp.Options, ", "))
	fmt.Printf("Token:      %s\n", cp.ResumeToken)
	fmt.Printf("Expires:    %s\n", cp.ExpiresAt.Format(time.RFC3339))
	if cp.EscalationLevel > 0 {
		fmt.Printf("Escalation: level %d\n", cp.EscalationLevel)
	}
	return nil
}

func runDecide(cmd *cobra.Command, args []string) error {
	var result DecisionResponse
	req := DecisionRequest{ResumeToken: args[0], Decision: args[1], Feedback: decideFeedback}
	if err := postJSON("/api/v1/decisions", req, &result); err != nil {
		return err
	}

	fmt.Printf("Decision %s: %s\n", args[1], result.Outcome)
	fmt.Printf("Run %s is now %s (phase: %s)\n",
		result.Run.RunID, result.Run.Status, result.Run.CurrentPhase)
	return nil
}
