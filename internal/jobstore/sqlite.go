package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/model"
)

// SQLiteStore is the default, durable Store backend.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore wraps an already-opened database (see internal/storage.Open).
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type jobRow struct {
	ID          int64        `db:"id"`
	Type        string       `db:"type"`
	Priority    int          `db:"priority"`
	PayloadJSON string       `db:"payload_json"`
	Status      string       `db:"status"`
	RetryCount  int          `db:"retry_count"`
	MaxRetries  int          `db:"max_retries"`
	LastError   string       `db:"last_error"`
	CreatedAt   time.Time    `db:"created_at"`
	StartedAt   sql.NullTime `db:"started_at"`
	Manual      bool         `db:"manual"`
}

func (r jobRow) toModel() model.Job {
	job := model.Job{
		ID:         r.ID,
		Type:       model.JobType(r.Type),
		Priority:   r.Priority,
		Status:     model.JobStatus(r.Status),
		RetryCount: r.RetryCount,
		MaxRetries: r.MaxRetries,
		LastError:  r.LastError,
		CreatedAt:  r.CreatedAt,
		Manual:     r.Manual,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		job.StartedAt = &t
	}
	var payload map[string]any
	_ = json.Unmarshal([]byte(r.PayloadJSON), &payload)
	job.Payload = payload
	return job
}

// Enqueue inserts a new pending job.
func (s *SQLiteStore) Enqueue(ctx context.Context, job model.Job) (int64, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return 0, apperr.New(apperr.Validation, err)
	}
	maxRetries := job.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_queue (type, priority, payload_json, status, retry_count, max_retries, manual, created_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?)
	`, string(job.Type), job.Priority, string(payload), maxRetries, job.Manual, now())
	if err != nil {
		return 0, apperr.New(apperr.Storage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.New(apperr.Storage, err)
	}
	return id, nil
}

// PickNext atomically claims the highest-priority, oldest pending job.
//
// This is the hardest invariant in the subsystem: the claim MUST be a single
// compare-and-set, never a SELECT followed by an UPDATE (spec.md §4.9). With
// a single shared sqlite connection (internal/storage.Open sets
// SetMaxOpenConns(1)) the transaction holds the only connection until it
// commits, which already serializes every caller, but the UPDATE...WHERE id = (SELECT ...) RETURNING * form is kept
// regardless: it is the same statement a Postgres-backed implementation of
// this interface would use, and it is correct even if a future backend
// widens the connection pool.
func (s *SQLiteStore) PickNext(ctx context.Context) (*model.Job, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, apperr.New(apperr.Storage, err)
	}
	defer tx.Rollback()

	var row jobRow
	err = tx.GetContext(ctx, &row, `
		UPDATE job_queue
		SET status = 'processing', started_at = ?
		WHERE id = (
			SELECT id FROM job_queue
			WHERE status = 'pending'
			ORDER BY priority ASC, created_at ASC
			LIMIT 1
		)
		RETURNING id, type, priority, payload_json, status, retry_count, max_retries, last_error, created_at, started_at, manual
	`, now())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.New(apperr.Storage, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.New(apperr.Storage, err)
	}
	job := row.toModel()
	return &job, nil
}

// Complete archives job as succeeded and removes it from job_queue.
func (s *SQLiteStore) Complete(ctx context.Context, jobID int64) error {
	return s.archive(ctx, jobID, model.OutcomeSucceeded, "")
}

// Fail records lastErr; retries if under max_retries, otherwise archives as failed.
func (s *SQLiteStore) Fail(ctx context.Context, jobID int64, lastErr string) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return apperr.New(apperr.Storage, err)
	}
	defer tx.Rollback()

	var row jobRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM job_queue WHERE id = ?`, jobID); err != nil {
		if err == sql.ErrNoRows {
			return apperr.Newf(apperr.NotFound, "jobstore: job %d not found", jobID)
		}
		return apperr.New(apperr.Storage, err)
	}

	if row.RetryCount < row.MaxRetries {
		_, err := tx.ExecContext(ctx, `
			UPDATE job_queue
			SET status = 'pending', retry_count = retry_count + 1, last_error = ?, started_at = NULL
			WHERE id = ?
		`, lastErr, jobID)
		if err != nil {
			return apperr.New(apperr.Storage, err)
		}
		return wrapCommit(tx)
	}

	if err := archiveTx(ctx, tx, row, model.OutcomeFailed, lastErr); err != nil {
		return err
	}
	return wrapCommit(tx)
}

// Abandon archives job as abandoned immediately, skipping the retry check.
func (s *SQLiteStore) Abandon(ctx context.Context, jobID int64, lastErr string) error {
	return s.archive(ctx, jobID, model.OutcomeAbandoned, lastErr)
}

func wrapCommit(tx *sqlx.Tx) error {
	if err := tx.Commit(); err != nil {
		return apperr.New(apperr.Storage, err)
	}
	return nil
}

func (s *SQLiteStore) archive(ctx context.Context, jobID int64, outcome model.HistoryOutcome, lastErr string) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return apperr.New(apperr.Storage, err)
	}
	defer tx.Rollback()

	var row jobRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM job_queue WHERE id = ?`, jobID); err != nil {
		if err == sql.ErrNoRows {
			return apperr.Newf(apperr.NotFound, "jobstore: job %d not found", jobID)
		}
		return apperr.New(apperr.Storage, err)
	}
	if err := archiveTx(ctx, tx, row, outcome, lastErr); err != nil {
		return err
	}
	return wrapCommit(tx)
}

func archiveTx(ctx context.Context, tx *sqlx.Tx, row jobRow, outcome model.HistoryOutcome, lastErr string) error {
	retention := model.RetentionCompleted
	if outcome == model.OutcomeFailed || outcome == model.OutcomeAbandoned {
		retention = model.RetentionFailed
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO job_history (job_id, type, priority, payload_json, outcome, last_error, retry_count, created_at, finished_at, retention)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.Type, row.Priority, row.PayloadJSON, string(outcome), lastErr, row.RetryCount, row.CreatedAt, now(), string(retention))
	if err != nil {
		return apperr.New(apperr.Storage, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM job_queue WHERE id = ?`, row.ID); err != nil {
		return apperr.New(apperr.Storage, err)
	}
	return nil
}

// ResetStalledJobs moves every `processing` row back to `pending` with
// started_at cleared. Called once at process start (spec.md §4.9).
func (s *SQLiteStore) ResetStalledJobs(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_queue SET status = 'pending', started_at = NULL WHERE status = 'processing'
	`)
	if err != nil {
		return 0, apperr.New(apperr.Storage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.New(apperr.Storage, err)
	}
	return int(n), nil
}

// CleanupHistory removes terminal records older than their class's cutoff.
func (s *SQLiteStore) CleanupHistory(ctx context.Context, spec HistoryCleanupSpec) (int, error) {
	completedCutoff := now().AddDate(0, 0, -spec.CompletedDays)
	failedCutoff := now().AddDate(0, 0, -spec.FailedDays)

	var total int64
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM job_history WHERE retention = 'completed' AND finished_at < ?`, completedCutoff)
	if err != nil {
		return 0, apperr.New(apperr.Storage, err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM job_history WHERE retention = 'failed' AND finished_at < ?`, failedCutoff)
	if err != nil {
		return 0, apperr.New(apperr.Storage, err)
	}
	n, _ = res.RowsAffected()
	total += n

	return int(total), nil
}

// Stats returns queue depth and staleness metrics.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.db.GetContext(ctx, &stats.Pending, `SELECT COUNT(*) FROM job_queue WHERE status = 'pending'`); err != nil {
		return Stats{}, apperr.New(apperr.Storage, err)
	}
	if err := s.db.GetContext(ctx, &stats.Processing, `SELECT COUNT(*) FROM job_queue WHERE status = 'processing'`); err != nil {
		return Stats{}, apperr.New(apperr.Storage, err)
	}
	stats.TotalActive = stats.Pending + stats.Processing

	var oldest sql.NullTime
	if err := s.db.GetContext(ctx, &oldest,
		`SELECT MIN(created_at) FROM job_queue WHERE status = 'pending'`); err != nil {
		return Stats{}, apperr.New(apperr.Storage, err)
	}
	if oldest.Valid {
		stats.OldestPendingAgeSeconds = now().Sub(oldest.Time).Seconds()
	}
	return stats, nil
}

// List returns active jobs matching filter. History rows are never included.
func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]model.Job, error) {
	query := `SELECT * FROM job_queue WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY priority ASC, created_at ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperr.New(apperr.Storage, err)
	}
	jobs := make([]model.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toModel())
	}
	return jobs, nil
}

// Get returns a single active job by id.
func (s *SQLiteStore) Get(ctx context.Context, jobID int64) (*model.Job, error) {
	var row jobRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM job_queue WHERE id = ?`, jobID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.New(apperr.Storage, err)
	}
	job := row.toModel()
	return &job, nil
}
