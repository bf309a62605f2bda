package executor

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/validationd/internal/evidence"
	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// PhaseInput identifies one phase execution.
type PhaseInput struct {
	RunID string           `json:"run_id"`
	Phase validation.Phase `json:"phase"`
}

// PhaseResult reports how a phase execution ended.
type PhaseResult struct {
	RunID     string           `json:"run_id"`
	Phase     validation.Phase `json:"phase"`
	Succeeded bool             `json:"succeeded"`
	Reason    string           `json:"reason,omitempty"`
}

// PhaseWorkflow executes one phase and reports the outcome.
//
// The runner activity carries the retry policy: transient failures
// retry with backoff, and only after the attempts are exhausted does
// the workflow report the phase as failed. The report activities
// retry hard because losing a completion report would strand the run
// in running status forever.
func PhaseWorkflow(ctx workflow.Context, input PhaseInput) (*PhaseResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting phase execution",
		"run_id", input.RunID,
		"phase", input.Phase)

	runCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Minute,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Hour,
			MaximumAttempts:    3,
		},
	})

	result := &PhaseResult{RunID: input.RunID, Phase: input.Phase}

	var a *Activities
	var items []evidence.Item
	runErr := workflow.ExecuteActivity(runCtx, a.RunPhaseActivity, input).Get(runCtx, &items)

	reportCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    10,
		},
	})

	if runErr != nil {
		result.Reason = runErr.Error()
		logger.Error("Phase execution failed", "run_id", input.RunID, "error", runErr)

		if err := workflow.ExecuteActivity(reportCtx, a.ReportFailureActivity, FailureInput{
			PhaseInput: input,
			Reason:     runErr.Error(),
		}).Get(reportCtx, nil); err != nil {
			return result, err
		}
		return result, nil
	}

	if err := workflow.ExecuteActivity(reportCtx, a.ReportCompletionActivity, CompletionInput{
		PhaseInput: input,
		Items:      items,
	}).Get(reportCtx, nil); err != nil {
		return result, err
	}

	result.Succeeded = true
	logger.Info("Phase execution complete", "run_id", input.RunID, "phase", input.Phase)
	return result, nil
}

// CompletionInput carries the collected evidence to the report
// activity.
type CompletionInput struct {
	PhaseInput
	Items []evidence.Item `json:"items,omitempty"`
}

// FailureInput carries the failure reason to the report activity.
type FailureInput struct {
	PhaseInput
	Reason string `json:"reason"`
}

// Activities are the executor's Temporal activities. They hold the
// non-deterministic dependencies the workflow must not touch.
type Activities struct {
	runner    PhaseRunner
	completer PhaseCompleter
}

// NewActivities creates the activity set.
func NewActivities(runner PhaseRunner, completer PhaseCompleter) *Activities {
	if runner == nil {
		runner = NoopRunner{}
	}
	return &Activities{runner: runner, completer: completer}
}

// RunPhaseActivity performs the phase work and returns the collected
// evidence.
func (a *Activities) RunPhaseActivity(ctx context.Context, input PhaseInput) ([]evidence.Item, error) {
	return a.runner.RunPhase(ctx, input.RunID, input.Phase)
}

// ReportCompletionActivity hands the finished phase and its evidence
// to the run controller for gate evaluation.
func (a *Activities) ReportCompletionActivity(ctx context.Context, input CompletionInput) error {
	return a.completer.OnPhaseComplete(ctx, input.RunID, input.Phase, input.Items)
}

// ReportFailureActivity marks the run failed.
func (a *Activities) ReportFailureActivity(ctx context.Context, input FailureInput) error {
	return a.completer.OnPhaseFailed(ctx, input.RunID, input.Phase, input.Reason)
}
