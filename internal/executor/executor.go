// Package executor launches phase work. A phase execution runs the
// configured phase runner (the crew doing the actual research for a
// phase) and reports the outcome back to the run controller, which
// then evaluates the exit gate. The production executor is backed by
// Temporal so phase work survives daemon restarts and gets bounded
// retries; a local in-process executor covers single-node deployments
// and tests.
package executor

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/validationd/internal/evidence"
	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// PhaseRunner performs the actual work of a phase: running the
// experiments, interviews, and analyses that produce evidence, and
// returns the evidence items it collected. The daemon ships with a
// no-op runner; deployments plug in their own.
type PhaseRunner interface {
	RunPhase(ctx context.Context, runID string, phase validation.Phase) ([]evidence.Item, error)
}

// PhaseCompleter receives phase outcomes. The run controller
// implements this; the executor never touches run state directly.
type PhaseCompleter interface {
	// OnPhaseComplete ingests the phase's evidence and evaluates the
	// exit gate.
	OnPhaseComplete(ctx context.Context, runID string, phase validation.Phase, items []evidence.Item) error

	// OnPhaseFailed marks the run failed after retries are exhausted.
	OnPhaseFailed(ctx context.Context, runID string, phase validation.Phase, reason string) error
}

// Executor triggers asynchronous phase work.
type Executor interface {
	TriggerPhase(ctx context.Context, runID string, phase validation.Phase) error
	Close()
}

// NoopRunner completes every phase immediately without producing
// evidence. Deployments using the evidence ingestion API instead of
// an automated runner wire this and submit evidence out of band
// before completing phases.
type NoopRunner struct{}

func (NoopRunner) RunPhase(context.Context, string, validation.Phase) ([]evidence.Item, error) {
	return nil, nil
}

// LocalExecutor runs phases on in-process goroutines. No durability:
// a crash loses in-flight phase work.
type LocalExecutor struct {
	runner    PhaseRunner
	completer PhaseCompleter
	logger    *zap.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewLocalExecutor creates an in-process executor.
func NewLocalExecutor(runner PhaseRunner, completer PhaseCompleter, logger *zap.Logger) (*LocalExecutor, error) {
	if runner == nil {
		runner = NoopRunner{}
	}
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalExecutor{runner: runner, completer: completer, logger: logger}, nil
}

func (e *LocalExecutor) TriggerPhase(_ context.Context, runID string, phase validation.Phase) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.New("executor is closed")
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		// Detached from the trigger's request context: phase work
		// outlives the HTTP request that started it.
		ctx := context.Background()

		items, err := e.runner.RunPhase(ctx, runID, phase)
		if err != nil {
			e.logger.Warn("phase run failed",
				zap.String("run_id", runID),
				zap.String("phase", string(phase)),
				zap.Error(err))
			if ferr := e.completer.OnPhaseFailed(ctx, runID, phase, err.Error()); ferr != nil {
				e.logger.Error("report phase failure", zap.String("run_id", runID), zap.Error(ferr))
			}
			return
		}
		if err := e.completer.OnPhaseComplete(ctx, runID, phase, items); err != nil {
			e.logger.Error("report phase completion",
				zap.String("run_id", runID),
				zap.String("phase", string(phase)),
				zap.Error(err))
		}
	}()
	return nil
}

// Close waits for in-flight phases to finish.
func (e *LocalExecutor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}
