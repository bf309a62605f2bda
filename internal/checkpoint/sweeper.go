package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/validationd/internal/events"
	"github.com/fyrsmithlabs/validationd/internal/store"
	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// RunArchiver archives the run owning an expired checkpoint. The run
// controller implements this; the indirection keeps the sweeper free
// of run state-machine knowledge.
type RunArchiver interface {
	ArchiveExpired(ctx context.Context, cp *store.CheckpointRecord) error
}

// Sweeper walks pending checkpoints on an interval, escalating the
// ones that have waited too long and expiring the ones past their
// deadline. Escalation levels fire at most once per checkpoint; the
// highest level already notified is persisted so a restart never
// re-sends reminders.
type Sweeper struct {
	config    Config
	interval  time.Duration
	store     store.Store
	archiver  RunArchiver
	publisher events.Publisher
	logger    *zap.Logger
	clock     func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweep runs. Default: 1 minute.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = interval }
}

// WithSweeperClock overrides the time source for tests.
func WithSweeperClock(clock func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.clock = clock }
}

// NewSweeper creates a stopped sweeper; call Start to begin sweeping.
func NewSweeper(cfg Config, st store.Store, archiver RunArchiver, pub events.Publisher, logger *zap.Logger, opts ...SweeperOption) (*Sweeper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if archiver == nil {
		return nil, errors.New("archiver is required")
	}
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Sweeper{
		config:    cfg,
		interval:  time.Minute,
		store:     st,
		archiver:  archiver,
		publisher: pub,
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the background sweep loop. Idempotent: starting a
// running sweeper is an error.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("sweeper is already running")
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	s.logger.Info("checkpoint sweeper started", zap.Duration("interval", s.interval))
	go s.run()
	return nil
}

// Stop signals the loop to exit and waits for it to drain.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info("checkpoint sweeper stopped")
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.Sweep(context.Background()); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep performs one pass over all pending checkpoints. Exported so
// the daemon can force a pass on startup and tests can drive it
// directly.
func (s *Sweeper) Sweep(ctx context.Context) error {
	pending, err := s.store.ListPendingCheckpoints(ctx)
	if err != nil {
		return err
	}

	now := s.clock()
	for _, cp := range pending {
		if !now.Before(cp.ExpiresAt) {
			s.expire(ctx, cp, now)
			continue
		}
		s.escalate(ctx, cp, now)
	}
	return nil
}

// expire settles the checkpoint as timed out and archives its run.
// Losing the settle race to a concurrent decision is not an error.
func (s *Sweeper) expire(ctx context.Context, cp *store.CheckpointRecord, now time.Time) {
	err := s.store.ExpireCheckpoint(ctx, cp.CheckpointID, now)
	if errors.Is(err, store.ErrCheckpointNotPending) {
		return
	}
	if err != nil {
		s.logger.Error("expire checkpoint",
			zap.String("checkpoint_id", cp.CheckpointID), zap.Error(err))
		return
	}

	s.publish(ctx, events.Event{
		Kind:         events.KindCheckpointExpired,
		RunID:        cp.RunID,
		CheckpointID: cp.CheckpointID,
		Decision:     validation.DecisionTimeoutArchive,
	})
	s.logger.Warn("checkpoint expired without a decision",
		zap.String("run_id", cp.RunID),
		zap.String("checkpoint_id", cp.CheckpointID),
		zap.Time("created_at", cp.CreatedAt))

	if err := s.archiver.ArchiveExpired(ctx, cp); err != nil {
		// The checkpoint is settled; the next sweep will not retry the
		// archive, so this failure needs an operator.
		s.logger.Error("archive expired run",
			zap.String("run_id", cp.RunID), zap.Error(err))
	}
}

// escalate fires any escalation levels the checkpoint's age has
// crossed since the last sweep.
func (s *Sweeper) escalate(ctx context.Context, cp *store.CheckpointRecord, now time.Time) {
	age := now.Sub(cp.CreatedAt)

	level := 0
	for i, after := range s.config.EscalationAfter {
		if age >= after {
			level = i + 1
		}
	}
	if level <= cp.EscalationLevel {
		return
	}

	if err := s.store.SetEscalationLevel(ctx, cp.CheckpointID, level); err != nil {
		s.logger.Error("set escalation level",
			zap.String("checkpoint_id", cp.CheckpointID), zap.Error(err))
		return
	}

	s.publish(ctx, events.Event{
		Kind:            events.KindCheckpointEscalated,
		RunID:           cp.RunID,
		CheckpointID:    cp.CheckpointID,
		EscalationLevel: level,
		ExpiresAt:       &cp.ExpiresAt,
	})
	s.logger.Info("checkpoint escalated",
		zap.String("run_id", cp.RunID),
		zap.String("checkpoint_id", cp.CheckpointID),
		zap.Int("level", level),
		zap.Duration("pending_for", age))
}

func (s *Sweeper) publish(ctx context.Context, evt events.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish event", zap.String("kind", evt.Kind), zap.Error(err))
	}
}
