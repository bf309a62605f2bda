// Package run implements the validation run state machine. The
// controller owns every status and phase transition: phases complete
// into gate evaluations, gate signals either auto-advance the run or
// suspend it into a checkpoint, and human decisions resume, redirect,
// or terminate it. All state lives in the store; the controller holds
// none, so any replica (or a restarted daemon) can pick up any run.
package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/validationd/internal/checkpoint"
	"github.com/fyrsmithlabs/validationd/internal/events"
	"github.com/fyrsmithlabs/validationd/internal/evidence"
	"github.com/fyrsmithlabs/validationd/internal/executor"
	"github.com/fyrsmithlabs/validationd/internal/gate"
	"github.com/fyrsmithlabs/validationd/internal/pivot"
	"github.com/fyrsmithlabs/validationd/internal/store"
	"github.com/fyrsmithlabs/validationd/internal/validation"
)

const instrumentationName = "github.com/fyrsmithlabs/validationd/internal/run"

// casRetries bounds how many times an operation re-reads and re-applies
// after losing a version race before giving up with ErrTransientConflict.
const casRetries = 5

// Controller drives validation runs.
type Controller struct {
	store       store.Store
	aggregator  *evidence.Aggregator
	evaluator   *gate.Evaluator
	limiter     *pivot.Limiter
	checkpoints *checkpoint.Manager
	publisher   events.Publisher
	logger      *zap.Logger
	clock       func() time.Time

	// exec is set after construction: the executor needs the
	// controller as its completer, so the wiring is circular.
	execMu sync.RWMutex
	exec   executor.Executor

	tracer            trace.Tracer
	meter             metric.Meter
	startCounter      metric.Int64Counter
	transitionCounter metric.Int64Counter
	pivotCounter      metric.Int64Counter
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) { c.clock = clock }
}

// NewController creates a controller. Call SetExecutor before starting
// runs.
func NewController(
	st store.Store,
	aggregator *evidence.Aggregator,
	evaluator *gate.Evaluator,
	limiter *pivot.Limiter,
	checkpoints *checkpoint.Manager,
	publisher events.Publisher,
	logger *zap.Logger,
	opts ...Option,
) (*Controller, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if aggregator == nil || evaluator == nil || limiter == nil || checkpoints == nil {
		return nil, errors.New("aggregator, evaluator, limiter, and checkpoint manager are required")
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Controller{
		store:       st,
		aggregator:  aggregator,
		evaluator:   evaluator,
		limiter:     limiter,
		checkpoints: checkpoints,
		publisher:   publisher,
		logger:      logger,
		clock:       func() time.Time { return time.Now().UTC() },
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.initMetrics()
	return c, nil
}

func (c *Controller) initMetrics() {
	var err error

	c.startCounter, err = c.meter.Int64Counter(
		"validationd.runs.started_total",
		metric.WithDescription("Total number of validation runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		c.logger.Warn("failed to create start counter", zap.Error(err))
	}

	c.transitionCounter, err = c.meter.Int64Counter(
		"validationd.runs.transitions_total",
		metric.WithDescription("Total number of applied status transitions, by target status"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		c.logger.Warn("failed to create transition counter", zap.Error(err))
	}

	c.pivotCounter, err = c.meter.Int64Counter(
		"validationd.runs.pivots_applied_total",
		metric.WithDescription("Total number of applied pivot decisions, by pivot type"),
		metric.WithUnit("{pivot}"),
	)
	if err != nil {
		c.logger.Warn("failed to create pivot counter", zap.Error(err))
	}
}

// SetExecutor wires the phase executor. Must be called exactly once
// before Start.
func (c *Controller) SetExecutor(exec executor.Executor) {
	c.execMu.Lock()
	defer c.execMu.Unlock()
	c.exec = exec
}

func (c *Controller) executor() executor.Executor {
	c.execMu.RLock()
	defer c.execMu.RUnlock()
	return c.exec
}

// Get returns a run by ID.
func (c *Controller) Get(ctx context.Context, runID string) (*store.RunRecord, error) {
	return c.store.GetRun(ctx, runID)
}

// List returns all runs, newest first.
func (c *Controller) List(ctx context.Context) ([]*store.RunRecord, error) {
	return c.store.ListRuns(ctx)
}

// PendingCheckpoint returns the run's pending checkpoint, or
// store.ErrNotFound.
func (c *Controller) PendingCheckpoint(ctx context.Context, runID string) (*store.CheckpointRecord, error) {
	return c.checkpoints.Pending(ctx, runID)
}

// PivotHistory returns the run's applied pivots, oldest first.
func (c *Controller) PivotHistory(ctx context.Context, runID string) ([]*store.PivotRecord, error) {
	return c.store.ListPivotRecords(ctx, runID)
}

// Summarize computes the evidence summary for the run's current phase.
func (c *Controller) Summarize(run *store.RunRecord) *evidence.Summary {
	return c.aggregator.Summarize(run.Ledger, run.CurrentPhase)
}

// Start creates a run and triggers its first phase.
func (c *Controller) Start(ctx context.Context, projectID string) (*store.RunRecord, error) {
	ctx, span := c.tracer.Start(ctx, "run.start")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))

	now := c.clock()
	run := store.NewRunRecord(uuid.New().String(), projectID, now)
	if err := c.store.CreateRun(ctx, run); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create run: %w", err)
	}

	run.Status = validation.StatusRunning
	run.UpdatedAt = now
	if err := c.store.UpdateRun(ctx, run); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("start run %s: %w", run.RunID, err)
	}

	if c.startCounter != nil {
		c.startCounter.Add(ctx, 1)
	}
	c.publish(ctx, events.Event{
		Kind:   events.KindRunCreated,
		RunID:  run.RunID,
		Phase:  run.CurrentPhase,
		Status: run.Status,
	})
	c.logger.Info("run started",
		zap.String("run_id", run.RunID),
		zap.String("project_id", projectID))

	if err := c.triggerPhase(ctx, run); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.failRun(ctx, run.RunID, run.CurrentPhase, fmt.Sprintf("trigger first phase: %v", err))
		return nil, err
	}
	return run, nil
}

// Ingest appends one evidence item to a run's ledger. Evidence may
// arrive while the run is running or paused; terminal runs reject it.
func (c *Controller) Ingest(ctx context.Context, runID string, item evidence.Item) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		run, err := c.store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status.Terminal() {
			return fmt.Errorf("%w: status %s", ErrRunTerminal, run.Status)
		}

		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.RunID = runID
		if item.CreatedAt.IsZero() {
			item.CreatedAt = c.clock()
		}
		if err := c.aggregator.Ingest(ctx, run.Ledger, item); err != nil {
			return err
		}

		run.UpdatedAt = c.clock()
		err = c.store.UpdateRun(ctx, run)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		return err
	}
	return ErrTransientConflict
}

// CompletePhase evaluates the exit gate for the run's current phase
// against evidence already in the ledger. It is the completion path
// for phase work done outside the daemon: evidence arrives through
// Ingest, then a completion request drives the gate. Unlike executor
// callbacks, an explicit completion against a non-running run is an
// error rather than a drop.
func (c *Controller) CompletePhase(ctx context.Context, runID string) error {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: status %s", ErrRunTerminal, run.Status)
	}
	if run.Status != validation.StatusRunning {
		return fmt.Errorf("%w: phase completion requires running, run %s is %s",
			ErrInvalidTransition, runID, run.Status)
	}
	return c.OnPhaseComplete(ctx, runID, run.CurrentPhase, nil)
}

// OnPhaseComplete ingests the phase's evidence, evaluates the exit
// gate, and applies the outcome: auto-advance, suspend into a
// checkpoint, or terminate. Stale completions (a phase that is no
// longer the run's current phase) are ignored.
func (c *Controller) OnPhaseComplete(ctx context.Context, runID string, phase validation.Phase, items []evidence.Item) error {
	ctx, span := c.tracer.Start(ctx, "run.on_phase_complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("phase", string(phase)),
	)

	for attempt := 0; attempt < casRetries; attempt++ {
		run, err := c.store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status.Terminal() {
			c.logger.Debug("ignoring phase completion for terminal run",
				zap.String("run_id", runID), zap.String("status", string(run.Status)))
			return nil
		}
		if run.Status != validation.StatusRunning {
			return fmt.Errorf("%w: phase completion requires running, run %s is %s",
				ErrInvalidTransition, runID, run.Status)
		}
		if run.CurrentPhase != phase {
			c.logger.Warn("ignoring stale phase completion",
				zap.String("run_id", runID),
				zap.String("reported_phase", string(phase)),
				zap.String("current_phase", string(run.CurrentPhase)))
			return nil
		}

		for _, item := range items {
			item.RunID = runID
			item.Phase = phase
			if item.ID == "" {
				item.ID = uuid.New().String()
			}
			if item.CreatedAt.IsZero() {
				item.CreatedAt = c.clock()
			}
			if err := c.aggregator.Ingest(ctx, run.Ledger, item); err != nil {
				return fmt.Errorf("ingest phase evidence: %w", err)
			}
		}

		summary := c.aggregator.Summarize(run.Ledger, phase)
		signal, err := c.evaluator.Evaluate(summary)
		if err != nil {
			// Includes gate.ErrEvidenceIncomplete: the gate never
			// guesses, and the run is left untouched so more evidence
			// can arrive.
			span.RecordError(err)
			return err
		}
		span.SetAttributes(attribute.String("signal", string(signal)))

		err = c.applySignal(ctx, run, phase, signal)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		return err
	}
	return ErrTransientConflict
}

// applySignal turns a gate signal into a persisted transition.
func (c *Controller) applySignal(ctx context.Context, run *store.RunRecord, phase validation.Phase, signal validation.Signal) error {
	switch signal {
	case validation.SignalProceed:
		next, ok := validation.NextPhase(phase)
		if !ok {
			return c.completeRun(ctx, run)
		}
		return c.advanceTo(ctx, run, next)

	case validation.SignalKill:
		// A gate-computed kill is terminal. No checkpoint: the
		// evidence already made the call.
		return c.terminate(ctx, run, validation.StatusKilled, events.KindRunKilled)

	default:
		return c.suspend(ctx, run, phase, signal)
	}
}

// advanceTo moves a running run into the next phase and triggers it.
func (c *Controller) advanceTo(ctx context.Context, run *store.RunRecord, next validation.Phase) error {
	prev := run.CurrentPhase
	run.CurrentPhase = next
	run.Status = validation.StatusRunning
	run.UpdatedAt = c.clock()
	if err := c.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	c.recordTransition(ctx, validation.StatusRunning)
	c.publish(ctx, events.Event{
		Kind:  events.KindPhaseCompleted,
		RunID: run.RunID,
		Phase: prev,
	})
	c.publish(ctx, events.Event{
		Kind:   events.KindPhaseStarted,
		RunID:  run.RunID,
		Phase:  next,
		Status: run.Status,
	})
	c.logger.Info("run advanced",
		zap.String("run_id", run.RunID),
		zap.String("from_phase", string(prev)),
		zap.String("to_phase", string(next)))

	return c.triggerPhase(ctx, run)
}

// suspend pauses the run into a checkpoint offering the gate's
// options, narrowed by remaining pivot budget. A fully spent budget
// collapses the offer to {kill}, but the human still makes that call
// at a checkpoint.
func (c *Controller) suspend(ctx context.Context, run *store.RunRecord, phase validation.Phase, signal validation.Signal) error {
	raw := gate.RawOptions(signal)
	if raw == nil {
		return fmt.Errorf("no options for signal %q", signal)
	}
	options := c.limiter.FilterOptions(c.countersOf(run), raw)

	_, err := c.checkpoints.Suspend(ctx, run, checkpointName(phase), options)
	if errors.Is(err, store.ErrPendingCheckpointExists) {
		// Duplicate completion report; the earlier one already
		// suspended the run.
		c.logger.Warn("run already suspended", zap.String("run_id", run.RunID))
		return nil
	}
	if err != nil {
		return err
	}
	c.recordTransition(ctx, validation.StatusPaused)
	return nil
}

// OnPhaseFailed marks the run failed after the executor exhausted its
// retries. Reports racing a suspend or termination are dropped.
func (c *Controller) OnPhaseFailed(ctx context.Context, runID string, phase validation.Phase, reason string) error {
	return c.failRun(ctx, runID, phase, reason)
}

func (c *Controller) failRun(ctx context.Context, runID string, phase validation.Phase, reason string) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		run, err := c.store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status.Terminal() {
			return nil
		}
		if !canTransition(run.Status, validation.StatusFailed) {
			c.logger.Warn("dropping failure report",
				zap.String("run_id", runID),
				zap.String("status", string(run.Status)),
				zap.String("reason", reason))
			return nil
		}

		run.Status = validation.StatusFailed
		run.UpdatedAt = c.clock()
		err = c.store.UpdateRun(ctx, run)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		c.recordTransition(ctx, validation.StatusFailed)
		c.publish(ctx, events.Event{
			Kind:   events.KindRunFailed,
			RunID:  runID,
			Phase:  phase,
			Status: validation.StatusFailed,
		})
		c.logger.Error("run failed",
			zap.String("run_id", runID),
			zap.String("phase", string(phase)),
			zap.String("reason", reason))
		return nil
	}
	return ErrTransientConflict
}

// DecisionResult reports how a submitted decision landed.
type DecisionResult struct {
	Outcome    checkpoint.Outcome
	Run        *store.RunRecord
	Checkpoint *store.CheckpointRecord
}

// OnCheckpointDecision submits a human decision against a resume
// token. The call is idempotent: replaying a decision after the
// checkpoint settled reports the stored outcome without re-applying
// side effects. If a previous apply crashed between settling the
// checkpoint and updating the run, the replay finishes the apply.
func (c *Controller) OnCheckpointDecision(ctx context.Context, resumeToken string, decision validation.Decision) (*DecisionResult, error) {
	ctx, span := c.tracer.Start(ctx, "run.on_checkpoint_decision")
	defer span.End()
	span.SetAttributes(attribute.String("decision", string(decision)))

	cp, err := c.checkpoints.ByToken(ctx, resumeToken)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("run_id", cp.RunID),
		attribute.String("checkpoint_id", cp.CheckpointID),
	)

	run, err := c.store.GetRun(ctx, cp.RunID)
	if err != nil {
		return nil, err
	}

	// The synthetic expiry decision is never submittable.
	if decision == validation.DecisionTimeoutArchive {
		return &DecisionResult{Outcome: checkpoint.OutcomeInvalidDecision, Run: run, Checkpoint: cp}, nil
	}

	if cp.Status == store.CheckpointPending {
		if run.Status != validation.StatusPaused {
			return nil, fmt.Errorf("%w: decision requires paused, run %s is %s",
				ErrInvalidTransition, run.RunID, run.Status)
		}
		// Offered options were filtered at suspend time; Admit guards
		// the budget invariant against any skew since.
		if _, isPivot := validation.PivotTypeOf(decision); isPivot && cp.Options.Contains(decision) {
			if err := c.limiter.Admit(c.countersOf(run), decision); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrLoopLimitExceeded, err)
			}
		}
	}

	outcome, err := c.checkpoints.Settle(ctx, cp, decision)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))

	switch outcome {
	case checkpoint.OutcomeApplied:
		if err := c.finishDecision(ctx, run, cp, decision); err != nil {
			return nil, err
		}

	case checkpoint.OutcomeAlreadyDecided:
		// A crash may have settled the checkpoint without applying
		// the run transition; finish the original decision's apply.
		if run.Status == validation.StatusPaused {
			if err := c.finishDecision(ctx, run, cp, cp.Decision); err != nil {
				return nil, err
			}
		}

	case checkpoint.OutcomeExpired:
		if run.Status == validation.StatusPaused {
			if err := c.archiveRun(ctx, run); err != nil {
				return nil, err
			}
		}
	}

	return &DecisionResult{Outcome: outcome, Run: run, Checkpoint: cp}, nil
}

// finishDecision applies a settled decision to the run.
func (c *Controller) finishDecision(ctx context.Context, run *store.RunRecord, cp *store.CheckpointRecord, decision validation.Decision) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		err := c.applyDecision(ctx, run, decision)
		if errors.Is(err, store.ErrVersionConflict) {
			fresh, getErr := c.store.GetRun(ctx, run.RunID)
			if getErr != nil {
				return getErr
			}
			*run = *fresh
			if run.Status != validation.StatusPaused {
				// Another replica finished the apply.
				return nil
			}
			continue
		}
		return err
	}
	return ErrTransientConflict
}

func (c *Controller) applyDecision(ctx context.Context, run *store.RunRecord, decision validation.Decision) error {
	switch decision {
	case validation.DecisionKill:
		return c.terminate(ctx, run, validation.StatusKilled, events.KindRunKilled)

	case validation.DecisionProceed,
		validation.DecisionOverrideProceed,
		validation.DecisionProceedWithConstraints:
		next, ok := validation.NextPhase(run.CurrentPhase)
		if !ok {
			return c.completeRun(ctx, run)
		}
		if err := c.advanceTo(ctx, run, next); err != nil {
			return err
		}
		c.publish(ctx, events.Event{
			Kind:   events.KindRunResumed,
			RunID:  run.RunID,
			Phase:  run.CurrentPhase,
			Status: run.Status,
		})
		return nil
	}

	pivotType, ok := validation.PivotTypeOf(decision)
	if !ok {
		return fmt.Errorf("decision %q has no transition", decision)
	}
	return c.applyPivot(ctx, run, pivotType)
}

// applyPivot re-enters the pivot's target phase and consumes budget.
// Counters move only here, never at offer time.
func (c *Controller) applyPivot(ctx context.Context, run *store.RunRecord, pivotType validation.PivotType) error {
	from := run.CurrentPhase
	target := validation.PivotTarget(pivotType)

	run.CurrentPhase = target
	run.Status = validation.StatusRunning
	if run.PivotCounters == nil {
		run.PivotCounters = make(map[validation.PivotType]int)
	}
	run.PivotCounters[pivotType]++
	run.TotalIterations++
	run.UpdatedAt = c.clock()
	if err := c.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	now := c.clock()
	if err := c.store.AppendPivotRecord(ctx, &store.PivotRecord{
		RunID:     run.RunID,
		PivotType: pivotType,
		FromPhase: from,
		ToPhase:   target,
		AppliedAt: now,
	}); err != nil {
		// The pivot is applied; a missing audit row is log-worthy but
		// not grounds to unwind the transition.
		c.logger.Error("append pivot record",
			zap.String("run_id", run.RunID), zap.Error(err))
	}

	if c.pivotCounter != nil {
		c.pivotCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("pivot_type", string(pivotType))))
	}
	c.recordTransition(ctx, validation.StatusRunning)
	c.publish(ctx, events.Event{
		Kind:      events.KindPivotApplied,
		RunID:     run.RunID,
		Phase:     from,
		ToPhase:   target,
		PivotType: pivotType,
		Status:    run.Status,
	})
	c.logger.Info("pivot applied",
		zap.String("run_id", run.RunID),
		zap.String("pivot_type", string(pivotType)),
		zap.String("from_phase", string(from)),
		zap.String("to_phase", string(target)),
		zap.Int("type_count", run.PivotCounters[pivotType]),
		zap.Int("total_iterations", run.TotalIterations))

	return c.triggerPhase(ctx, run)
}

// ArchiveExpired applies the synthetic timeout_archive transition for
// a checkpoint the sweep expired. Implements checkpoint.RunArchiver.
func (c *Controller) ArchiveExpired(ctx context.Context, cp *store.CheckpointRecord) error {
	run, err := c.store.GetRun(ctx, cp.RunID)
	if err != nil {
		return err
	}
	return c.archiveRun(ctx, run)
}

func (c *Controller) archiveRun(ctx context.Context, run *store.RunRecord) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		if run.Status.Terminal() {
			return nil
		}
		if run.Status != validation.StatusPaused {
			c.logger.Warn("not archiving non-paused run",
				zap.String("run_id", run.RunID),
				zap.String("status", string(run.Status)))
			return nil
		}

		err := c.terminate(ctx, run, validation.StatusArchived, events.KindRunArchived)
		if errors.Is(err, store.ErrVersionConflict) {
			fresh, getErr := c.store.GetRun(ctx, run.RunID)
			if getErr != nil {
				return getErr
			}
			*run = *fresh
			continue
		}
		return err
	}
	return ErrTransientConflict
}

// terminate moves the run to a terminal status.
func (c *Controller) terminate(ctx context.Context, run *store.RunRecord, status validation.Status, kind string) error {
	if !canTransition(run.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, run.Status, status)
	}
	run.Status = status
	run.UpdatedAt = c.clock()
	if err := c.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	c.recordTransition(ctx, status)
	c.publish(ctx, events.Event{
		Kind:   kind,
		RunID:  run.RunID,
		Phase:  run.CurrentPhase,
		Status: status,
	})
	c.logger.Info("run terminated",
		zap.String("run_id", run.RunID),
		zap.String("status", string(status)),
		zap.String("phase", string(run.CurrentPhase)))
	return nil
}

// completeRun finishes a run that passed every gate.
func (c *Controller) completeRun(ctx context.Context, run *store.RunRecord) error {
	if !canTransition(run.Status, validation.StatusCompleted) {
		return fmt.Errorf("%w: %s -> completed", ErrInvalidTransition, run.Status)
	}
	run.Status = validation.StatusCompleted
	run.UpdatedAt = c.clock()
	if err := c.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	c.recordTransition(ctx, validation.StatusCompleted)
	c.publish(ctx, events.Event{
		Kind:   events.KindRunCompleted,
		RunID:  run.RunID,
		Phase:  run.CurrentPhase,
		Status: run.Status,
	})
	c.logger.Info("run completed", zap.String("run_id", run.RunID))
	return nil
}

func (c *Controller) triggerPhase(ctx context.Context, run *store.RunRecord) error {
	exec := c.executor()
	if exec == nil {
		return errors.New("no executor wired")
	}
	return exec.TriggerPhase(ctx, run.RunID, run.CurrentPhase)
}

func (c *Controller) countersOf(run *store.RunRecord) pivot.Counters {
	return pivot.Counters{PerType: run.PivotCounters, Total: run.TotalIterations}
}

func (c *Controller) recordTransition(ctx context.Context, to validation.Status) {
	if c.transitionCounter != nil {
		c.transitionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("to_status", string(to))))
	}
}

func (c *Controller) publish(ctx context.Context, evt events.Event) {
	if err := c.publisher.Publish(ctx, evt); err != nil {
		c.logger.Warn("publish event", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

func checkpointName(phase validation.Phase) string {
	return string(phase) + "_gate"
}
