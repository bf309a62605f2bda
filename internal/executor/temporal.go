package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// DefaultTaskQueue is the task queue phase workflows run on.
const DefaultTaskQueue = "validationd-phases"

// TemporalConfig configures the Temporal-backed executor.
type TemporalConfig struct {
	// HostPort is the Temporal frontend address.
	HostPort string `koanf:"host_port"`

	// Namespace defaults to the client default namespace.
	Namespace string `koanf:"namespace"`

	// TaskQueue defaults to DefaultTaskQueue.
	TaskQueue string `koanf:"task_queue"`
}

// TemporalExecutor starts phase workflows on a Temporal cluster and
// hosts the worker that executes them.
type TemporalExecutor struct {
	client    client.Client
	worker    worker.Worker
	taskQueue string
	logger    *zap.Logger
}

// NewTemporalExecutor dials the cluster, registers the phase workflow
// and activities, and starts the worker.
func NewTemporalExecutor(cfg TemporalConfig, runner PhaseRunner, completer PhaseCompleter, logger *zap.Logger) (*TemporalExecutor, error) {
	if cfg.HostPort == "" {
		return nil, errors.New("temporal host_port is required")
	}
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TaskQueue == "" {
		cfg.TaskQueue = DefaultTaskQueue
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal: %w", err)
	}

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(PhaseWorkflow)
	w.RegisterActivity(NewActivities(runner, completer))

	if err := w.Start(); err != nil {
		c.Close()
		return nil, fmt.Errorf("start temporal worker: %w", err)
	}

	logger.Info("temporal executor ready",
		zap.String("host_port", cfg.HostPort),
		zap.String("task_queue", cfg.TaskQueue))
	return &TemporalExecutor{
		client:    c,
		worker:    w,
		taskQueue: cfg.TaskQueue,
		logger:    logger,
	}, nil
}

func (e *TemporalExecutor) TriggerPhase(ctx context.Context, runID string, phase validation.Phase) error {
	// A run re-enters phases on pivots, so the workflow ID carries a
	// unique suffix rather than just run+phase.
	workflowID := fmt.Sprintf("phase/%s/%s/%s", runID, phase, uuid.New().String())

	_, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: e.taskQueue,
	}, PhaseWorkflow, PhaseInput{RunID: runID, Phase: phase})
	if err != nil {
		return fmt.Errorf("start phase workflow: %w", err)
	}

	e.logger.Info("phase workflow started",
		zap.String("workflow_id", workflowID),
		zap.String("run_id", runID),
		zap.String("phase", string(phase)))
	return nil
}

func (e *TemporalExecutor) Close() {
	e.worker.Stop()
	e.client.Close()
}
