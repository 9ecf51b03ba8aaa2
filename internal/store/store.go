// Package store persists audit jobs in SQLite and implements the job
// state machine. All status transitions are guarded UPDATEs so that a
// terminal job is never mutated and two dispatchers can never claim the
// same job.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/auditforge/api/internal/model"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job not found")

const expiredMessage = "Job expired due to timeout"

// JobStore is the persistence surface used by the service, scheduler
// and workers.
type JobStore interface {
	Create(ctx context.Context, id string, payload json.RawMessage, idempotencyKey string) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*model.Job, error)
	SetRunning(ctx context.Context, id, workerID string) (*model.Job, error)
	SetPhase(ctx context.Context, id string, phase model.JobPhase, percent int) error
	SetMetrics(ctx context.Context, id string, metrics *model.Metrics) error
	SetResultRef(ctx context.Context, id, ref string) error
	SetTerminal(ctx context.Context, id string, status model.JobStatus, resultRef, errMsg *string) error
	FailQueued(ctx context.Context, id, errMsg string) error
	Cancel(ctx context.Context, id string) (*model.Job, error)
	ListQueued(ctx context.Context, limit int) ([]*model.Job, error)
	ListRunning(ctx context.Context) ([]*model.Job, error)
	ExpireStale(ctx context.Context, timeout time.Duration) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// SQLiteStore implements JobStore on a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path. Use
// ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "agent.db"
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite supports one writer at a time; the claim discipline relies
	// on serialized writes through a single connection.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	q := `
	CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		phase TEXT NOT NULL DEFAULT 'preflight',
		progress_percent INTEGER NOT NULL DEFAULT 0,
		queued_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT,
		idempotency_key TEXT UNIQUE,
		worker_id TEXT,
		payload_json TEXT NOT NULL,
		result_ref TEXT,
		error_message TEXT,
		metrics_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_queued_at ON jobs(queued_at);
	`
	_, err := s.db.Exec(q)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks database health.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Create inserts a queued job. When idempotencyKey is already present
// the existing job is returned instead; the UNIQUE constraint makes
// concurrent creates with the same key converge on one row.
func (s *SQLiteStore) Create(ctx context.Context, id string, payload json.RawMessage, idempotencyKey string) (*model.Job, error) {
	var key sql.NullString
	if idempotencyKey != "" {
		key = sql.NullString{String: idempotencyKey, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, status, phase, progress_percent, queued_at, idempotency_key, payload_json)
		VALUES (?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		id, model.JobStatusQueued, model.PhasePreflight, now(), key, string(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 && idempotencyKey != "" {
		return s.GetByIdempotencyKey(ctx, idempotencyKey)
	}
	return s.Get(ctx, id)
}

// Get returns the job by id, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.queryOne(ctx, `WHERE job_id = ?`, id)
}

// GetByIdempotencyKey returns the job created under key, or ErrNotFound.
func (s *SQLiteStore) GetByIdempotencyKey(ctx context.Context, key string) (*model.Job, error) {
	return s.queryOne(ctx, `WHERE idempotency_key = ?`, key)
}

// SetRunning atomically claims a queued job for workerID. A nil job
// with nil error means the job was not queued anymore (claimed by a
// racing dispatch or no longer pending) and should be skipped.
func (s *SQLiteStore) SetRunning(ctx context.Context, id, workerID string) (*model.Job, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = ?, worker_id = ?
		WHERE job_id = ? AND status = ?`,
		model.JobStatusRunning, now(), workerID, id, model.JobStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.Get(ctx, id)
}

// SetPhase persists the pipeline position for a running job. Writes to
// jobs that already left the running state are dropped so a concurrent
// cancel is never overwritten.
func (s *SQLiteStore) SetPhase(ctx context.Context, id string, phase model.JobPhase, percent int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET phase = ?, progress_percent = ?
		WHERE job_id = ? AND status = ?`,
		phase, percent, id, model.JobStatusRunning)
	return err
}

// SetMetrics stores LLM usage metrics on a running job.
func (s *SQLiteStore) SetMetrics(ctx context.Context, id string, metrics *model.Metrics) error {
	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET metrics_json = ? WHERE job_id = ? AND status = ?`,
		string(data), id, model.JobStatusRunning)
	return err
}

// SetResultRef records the artifact reference produced by reporting.
func (s *SQLiteStore) SetResultRef(ctx context.Context, id, ref string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET result_ref = ? WHERE job_id = ? AND status = ?`,
		ref, id, model.JobStatusRunning)
	return err
}

// SetTerminal moves a running job to its final status. The guard on
// status means a job canceled or expired underneath the worker keeps
// its earlier terminal state.
func (s *SQLiteStore) SetTerminal(ctx context.Context, id string, status model.JobStatus, resultRef, errMsg *string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, finished_at = ?,
			result_ref = COALESCE(?, result_ref),
			error_message = COALESCE(?, error_message)
		WHERE job_id = ? AND status = ?`,
		status, now(), resultRef, errMsg, id, model.JobStatusRunning)
	return err
}

// FailQueued marks a job that never left the queue as failed. The
// dispatcher uses it when the claim update itself errors; a job already
// claimed or finished elsewhere is left alone.
func (s *SQLiteStore) FailQueued(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, finished_at = ?, error_message = ?
		WHERE job_id = ? AND status = ?`,
		model.JobStatusFailed, now(), errMsg, id, model.JobStatusQueued)
	return err
}

// Cancel transitions a queued or running job to canceled. Returns
// (nil, nil) when the job is already terminal.
func (s *SQLiteStore) Cancel(ctx context.Context, id string) (*model.Job, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, finished_at = ?
		WHERE job_id = ? AND status IN (?, ?)`,
		model.JobStatusCanceled, now(), id, model.JobStatusQueued, model.JobStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.Get(ctx, id)
}

// ListQueued returns queued jobs in FIFO order by queued_at.
func (s *SQLiteStore) ListQueued(ctx context.Context, limit int) ([]*model.Job, error) {
	return s.queryMany(ctx, `WHERE status = ? ORDER BY queued_at ASC LIMIT ?`, model.JobStatusQueued, limit)
}

// ListRunning returns all running jobs.
func (s *SQLiteStore) ListRunning(ctx context.Context) ([]*model.Job, error) {
	return s.queryMany(ctx, `WHERE status = ?`, model.JobStatusRunning)
}

// ExpireStale force-finishes running jobs whose started_at is strictly
// older than the timeout and returns the count reclaimed. RFC3339 UTC
// strings order lexicographically, so the cutoff comparison is a plain
// string compare.
func (s *SQLiteStore) ExpireStale(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-timeout).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, finished_at = ?, error_message = ?
		WHERE status = ? AND started_at < ?`,
		model.JobStatusExpired, now(), expiredMessage, model.JobStatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const jobColumns = `job_id, status, phase, progress_percent, queued_at, started_at,
	finished_at, idempotency_key, worker_id, payload_json, result_ref, error_message, metrics_json`

func (s *SQLiteStore) queryOne(ctx context.Context, where string, args ...any) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs `+where, args...)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (s *SQLiteStore) queryMany(ctx context.Context, where string, args ...any) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.Job, error) {
	j := &model.Job{}
	var startedAt, finishedAt, idemKey, workerID, payload, resultRef, errMsg, metrics sql.NullString
	err := row.Scan(&j.ID, &j.Status, &j.Phase, &j.Progress, &j.QueuedAt,
		&startedAt, &finishedAt, &idemKey, &workerID, &payload, &resultRef, &errMsg, &metrics)
	if err != nil {
		return nil, err
	}
	j.StartedAt = optString(startedAt)
	j.FinishedAt = optString(finishedAt)
	j.IdempotencyKey = optString(idemKey)
	j.WorkerID = optString(workerID)
	j.ResultRef = optString(resultRef)
	j.Error = optString(errMsg)
	if payload.Valid {
		j.Payload = json.RawMessage(payload.String)
	}
	if metrics.Valid && metrics.String != "" {
		var m model.Metrics
		if err := json.Unmarshal([]byte(metrics.String), &m); err == nil {
			j.Metrics = &m
		}
	}
	return j, nil
}

func optString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
