package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/validationd/internal/evidence"
	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// stubRunner fails a configurable number of times before succeeding.
type stubRunner struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	items     []evidence.Item
}

func (r *stubRunner) RunPhase(context.Context, string, validation.Phase) ([]evidence.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failFirst {
		return nil, errors.New("interview tooling unavailable")
	}
	return r.items, nil
}

type stubCompleter struct {
	mu        sync.Mutex
	completed []validation.Phase
	items     []evidence.Item
	failed    []string
}

func (c *stubCompleter) OnPhaseComplete(_ context.Context, _ string, phase validation.Phase, items []evidence.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, phase)
	c.items = append(c.items, items...)
	return nil
}

func (c *stubCompleter) OnPhaseFailed(_ context.Context, _ string, _ validation.Phase, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, reason)
	return nil
}

func TestPhaseWorkflow(t *testing.T) {
	t.Run("reports completion on success", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		runner := &stubRunner{items: []evidence.Item{{
			ID:     "ev-1",
			RunID:  "run-1",
			Phase:  validation.PhaseDesirability,
			Type:   evidence.TypeDODirect,
			Metric: evidence.MetricProblemResonance,
			Value:  0.55,
		}}}
		completer := &stubCompleter{}
		acts := NewActivities(runner, completer)

		env.RegisterWorkflow(PhaseWorkflow)
		env.RegisterActivity(acts.RunPhaseActivity)
		env.RegisterActivity(acts.ReportCompletionActivity)
		env.RegisterActivity(acts.ReportFailureActivity)

		env.ExecuteWorkflow(PhaseWorkflow, PhaseInput{
			RunID: "run-1",
			Phase: validation.PhaseDesirability,
		})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result PhaseResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.True(t, result.Succeeded)
		assert.Equal(t, []validation.Phase{validation.PhaseDesirability}, completer.completed)
		require.Len(t, completer.items, 1)
		assert.Equal(t, evidence.MetricProblemResonance, completer.items[0].Metric)
		assert.Empty(t, completer.failed)
	})

	t.Run("retries transient runner failures", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		runner := &stubRunner{failFirst: 2}
		completer := &stubCompleter{}
		acts := NewActivities(runner, completer)

		env.RegisterWorkflow(PhaseWorkflow)
		env.RegisterActivity(acts.RunPhaseActivity)
		env.RegisterActivity(acts.ReportCompletionActivity)
		env.RegisterActivity(acts.ReportFailureActivity)

		env.ExecuteWorkflow(PhaseWorkflow, PhaseInput{
			RunID: "run-1",
			Phase: validation.PhaseFeasibility,
		})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result PhaseResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.True(t, result.Succeeded)
		assert.Equal(t, 3, runner.calls)
		assert.Empty(t, completer.failed)
	})

	t.Run("reports failure after attempts exhausted", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		runner := &stubRunner{failFirst: 100}
		completer := &stubCompleter{}
		acts := NewActivities(runner, completer)

		env.RegisterWorkflow(PhaseWorkflow)
		env.RegisterActivity(acts.RunPhaseActivity)
		env.RegisterActivity(acts.ReportCompletionActivity)
		env.RegisterActivity(acts.ReportFailureActivity)

		env.ExecuteWorkflow(PhaseWorkflow, PhaseInput{
			RunID: "run-1",
			Phase: validation.PhaseViability,
		})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result PhaseResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.False(t, result.Succeeded)
		assert.Contains(t, result.Reason, "interview tooling unavailable")
		assert.Equal(t, 3, runner.calls)
		require.Len(t, completer.failed, 1)
		assert.Empty(t, completer.completed)
	})
}
