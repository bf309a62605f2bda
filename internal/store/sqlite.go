package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// SQLiteStore is the durable Store backed by an embedded SQLite
// database. No server process is required; CAS semantics come from
// conditional UPDATEs inside transactions.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// Path is the database file location. The parent directory is
	// created if missing.
	Path string `koanf:"path"`
}

// OpenSQLite opens (creating if needed) the database and applies
// migrations.
func OpenSQLite(cfg SQLiteConfig, logger *zap.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids
	// SQLITE_BUSY churn under concurrent CAS attempts.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	logger.Info("sqlite store ready", zap.String("path", cfg.Path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *RunRecord) error {
	ledgerJSON, err := run.marshalLedger()
	if err != nil {
		return err
	}
	countersJSON, err := run.marshalCounters()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validation_runs
		 (run_id, project_id, current_phase, status, version, evidence_ledger, pivot_counters, total_iterations, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		run.RunID, run.ProjectID, string(run.CurrentPhase), string(run.Status), run.Version,
		string(ledgerJSON), string(countersJSON), run.TotalIterations, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRunExists
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = `run_id, project_id, current_phase, status, version, evidence_ledger, pivot_counters, total_iterations, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM validation_runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM validation_runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *RunRecord) error {
	res, err := s.updateRunExec(ctx, s.db, run)
	if err != nil {
		return err
	}
	return s.finishRunUpdate(ctx, res, run)
}

// execer covers *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) updateRunExec(ctx context.Context, ex execer, run *RunRecord) (sql.Result, error) {
	ledgerJSON, err := run.marshalLedger()
	if err != nil {
		return nil, err
	}
	countersJSON, err := run.marshalCounters()
	if err != nil {
		return nil, err
	}

	return ex.ExecContext(ctx,
		`UPDATE validation_runs
		 SET current_phase = ?, status = ?, version = version + 1,
		     evidence_ledger = ?, pivot_counters = ?, total_iterations = ?, updated_at = ?
		 WHERE run_id = ? AND version = ?`,
		string(run.CurrentPhase), string(run.Status),
		string(ledgerJSON), string(countersJSON), run.TotalIterations, run.UpdatedAt,
		run.RunID, run.Version,
	)
}

// finishRunUpdate maps the CAS result: zero rows means either a lost
// race or a missing run.
func (s *SQLiteStore) finishRunUpdate(ctx context.Context, res sql.Result, run *RunRecord) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM validation_runs WHERE run_id = ?`, run.RunID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	run.Version++
	return nil
}

func (s *SQLiteStore) SuspendRun(ctx context.Context, run *RunRecord, cp *CheckpointRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var pending int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkpoints WHERE run_id = ? AND status = 'pending'`,
		run.RunID).Scan(&pending); err != nil {
		return err
	}
	if pending > 0 {
		return ErrPendingCheckpointExists
	}

	res, err := s.updateRunExec(ctx, tx, run)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	options, err := marshalOptions(cp.Options)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints
		 (checkpoint_id, run_id, checkpoint_name, status, resume_token, options_offered, escalation_level, created_at, expires_at, decision)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		cp.CheckpointID, cp.RunID, cp.Name, string(cp.Status), cp.ResumeToken,
		options, cp.EscalationLevel, cp.CreatedAt, cp.ExpiresAt, string(cp.Decision),
	); err != nil {
		if isUniqueViolation(err) {
			return ErrPendingCheckpointExists
		}
		return fmt.Errorf("insert checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	run.Version++
	return nil
}

const checkpointColumns = `checkpoint_id, run_id, checkpoint_name, status, resume_token, options_offered, escalation_level, created_at, expires_at, decided_at, decision`

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, checkpointID string) (*CheckpointRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE checkpoint_id = ?`, checkpointID)
	return scanCheckpoint(row)
}

func (s *SQLiteStore) GetCheckpointByToken(ctx context.Context, resumeToken string) (*CheckpointRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE resume_token = ?`, resumeToken)
	return scanCheckpoint(row)
}

func (s *SQLiteStore) PendingCheckpoint(ctx context.Context, runID string) (*CheckpointRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE run_id = ? AND status = 'pending'`, runID)
	return scanCheckpoint(row)
}

func (s *SQLiteStore) ListPendingCheckpoints(ctx context.Context) ([]*CheckpointRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CheckpointRecord
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DecideCheckpoint(ctx context.Context, checkpointID string, decision validation.Decision, decidedAt time.Time) error {
	return s.settle(ctx, checkpointID, CheckpointDecided, decision, decidedAt)
}

func (s *SQLiteStore) ExpireCheckpoint(ctx context.Context, checkpointID string, expiredAt time.Time) error {
	return s.settle(ctx, checkpointID, CheckpointExpired, validation.DecisionTimeoutArchive, expiredAt)
}

// settle is the single conditional UPDATE implementing the
// pending -> {decided|expired} CAS. Exactly one of a racing decision
// and the expiry sweep wins; the loser sees zero rows affected.
func (s *SQLiteStore) settle(ctx context.Context, checkpointID string, status CheckpointStatus, decision validation.Decision, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE checkpoints SET status = ?, decision = ?, decided_at = ?
		 WHERE checkpoint_id = ? AND status = 'pending'`,
		string(status), string(decision), at, checkpointID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM checkpoints WHERE checkpoint_id = ?`, checkpointID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrCheckpointNotPending
	}
	return nil
}

func (s *SQLiteStore) SetEscalationLevel(ctx context.Context, checkpointID string, level int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE checkpoints SET escalation_level = ? WHERE checkpoint_id = ?`,
		level, checkpointID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendPivotRecord(ctx context.Context, rec *PivotRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pivot_records (run_id, pivot_type, from_phase, to_phase, applied_at)
		 VALUES (?,?,?,?,?)`,
		rec.RunID, string(rec.PivotType), string(rec.FromPhase), string(rec.ToPhase), rec.AppliedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pivot record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

func (s *SQLiteStore) ListPivotRecords(ctx context.Context, runID string) ([]*PivotRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, pivot_type, from_phase, to_phase, applied_at
		 FROM pivot_records WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PivotRecord
	for rows.Next() {
		rec := &PivotRecord{}
		var pivotType, fromPhase, toPhase string
		if err := rows.Scan(&rec.ID, &rec.RunID, &pivotType, &fromPhase, &toPhase, &rec.AppliedAt); err != nil {
			return nil, err
		}
		rec.PivotType = validation.PivotType(pivotType)
		rec.FromPhase = validation.Phase(fromPhase)
		rec.ToPhase = validation.Phase(toPhase)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	run := &RunRecord{}
	var phase, status, ledgerJSON, countersJSON string
	err := row.Scan(&run.RunID, &run.ProjectID, &phase, &status, &run.Version,
		&ledgerJSON, &countersJSON, &run.TotalIterations, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if run.CurrentPhase, err = validation.ParsePhase(phase); err != nil {
		return nil, err
	}
	if run.Status, err = validation.ParseStatus(status); err != nil {
		return nil, err
	}
	if err := run.unmarshalState([]byte(ledgerJSON), []byte(countersJSON)); err != nil {
		return nil, err
	}
	return run, nil
}

func scanCheckpoint(row scanner) (*CheckpointRecord, error) {
	cp := &CheckpointRecord{}
	var status, options, decision string
	var decidedAt sql.NullTime
	err := row.Scan(&cp.CheckpointID, &cp.RunID, &cp.Name, &status, &cp.ResumeToken,
		&options, &cp.EscalationLevel, &cp.CreatedAt, &cp.ExpiresAt, &decidedAt, &decision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cp.Status = CheckpointStatus(status)
	cp.Decision = validation.Decision(decision)
	if decidedAt.Valid {
		t := decidedAt.Time
		cp.DecidedAt = &t
	}
	if cp.Options, err = unmarshalOptions(options); err != nil {
		return nil, fmt.Errorf("corrupt options for checkpoint %s: %w", cp.CheckpointID, err)
	}
	return cp, nil
}

func marshalOptions(options validation.DecisionSet) (string, error) {
	raw, err := json.Marshal(options.Strings())
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalOptions(raw string) (validation.DecisionSet, error) {
	var strs []string
	if err := json.Unmarshal([]byte(raw), &strs); err != nil {
		return nil, err
	}
	return validation.ParseDecisionSet(strs)
}

// isUniqueViolation detects SQLite unique-constraint failures without
// depending on driver-specific error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
