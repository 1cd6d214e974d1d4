package scan

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/model"
)

// SQLiteJobStore is the default JobStore backend.
type SQLiteJobStore struct {
	db *sqlx.DB
}

// NewSQLiteJobStore wraps an already-opened database (see internal/storage.Open).
func NewSQLiteJobStore(db *sqlx.DB) *SQLiteJobStore {
	return &SQLiteJobStore{db: db}
}

type scanJobRow struct {
	ID               int64        `db:"id"`
	LibraryID        int64        `db:"library_id"`
	Status           string       `db:"status"`
	TotalDirectories int          `db:"total_directories"`
	Discovered       int          `db:"discovered"`
	Updated          int          `db:"updated"`
	Queued           int          `db:"queued"`
	Errored          int          `db:"errored"`
	Skipped          int          `db:"skipped"`
	LastError        string       `db:"last_error"`
	CancelRequested  bool         `db:"cancel_requested"`
	CreatedAt        time.Time    `db:"created_at"`
	FinishedAt       sql.NullTime `db:"finished_at"`
}

func (r scanJobRow) toModel() model.ScanJob {
	j := model.ScanJob{
		ID:               r.ID,
		LibraryID:        r.LibraryID,
		Status:           model.ScanStatus(r.Status),
		TotalDirectories: r.TotalDirectories,
		Discovered:       r.Discovered,
		Updated:          r.Updated,
		Queued:           r.Queued,
		Errored:          r.Errored,
		Skipped:          r.Skipped,
		LastError:        r.LastError,
		CancelRequested:  r.CancelRequested,
		CreatedAt:        r.CreatedAt,
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		j.FinishedAt = &t
	}
	return j
}

func (s *SQLiteJobStore) Create(ctx context.Context, libraryID int64) (model.ScanJob, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO scan_jobs (library_id, status) VALUES (?, 'running')`, libraryID)
	if err != nil {
		return model.ScanJob{}, apperr.New(apperr.Storage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.ScanJob{}, apperr.New(apperr.Storage, err)
	}
	return s.Get(ctx, id)
}

func (s *SQLiteJobStore) Get(ctx context.Context, id int64) (model.ScanJob, error) {
	var row scanJobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM scan_jobs WHERE id = ?`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.ScanJob{}, apperr.Newf(apperr.NotFound, "scan job %d not found", id)
		}
		return model.ScanJob{}, apperr.New(apperr.Storage, err)
	}
	return row.toModel(), nil
}

func (s *SQLiteJobStore) SetTotal(ctx context.Context, id int64, total int) error {
	return s.exec(ctx, `UPDATE scan_jobs SET total_directories = ? WHERE id = ?`, total, id)
}

func (s *SQLiteJobStore) IncrementDiscovered(ctx context.Context, id int64) error {
	return s.exec(ctx, `UPDATE scan_jobs SET discovered = discovered + 1 WHERE id = ?`, id)
}

func (s *SQLiteJobStore) IncrementUpdated(ctx context.Context, id int64) error {
	return s.exec(ctx, `UPDATE scan_jobs SET updated = updated + 1 WHERE id = ?`, id)
}

func (s *SQLiteJobStore) IncrementQueued(ctx context.Context, id int64) error {
	return s.exec(ctx, `UPDATE scan_jobs SET queued = queued + 1 WHERE id = ?`, id)
}

func (s *SQLiteJobStore) IncrementErrored(ctx context.Context, id int64, lastErr string) error {
	return s.exec(ctx, `UPDATE scan_jobs SET errored = errored + 1, last_error = ? WHERE id = ?`, lastErr, id)
}

func (s *SQLiteJobStore) IncrementSkipped(ctx context.Context, id int64) error {
	return s.exec(ctx, `UPDATE scan_jobs SET skipped = skipped + 1 WHERE id = ?`, id)
}

func (s *SQLiteJobStore) RequestCancel(ctx context.Context, id int64) error {
	return s.exec(ctx, `UPDATE scan_jobs SET cancel_requested = 1 WHERE id = ?`, id)
}

func (s *SQLiteJobStore) IsCancelRequested(ctx context.Context, id int64) (bool, error) {
	var requested bool
	err := s.db.GetContext(ctx, &requested, `SELECT cancel_requested FROM scan_jobs WHERE id = ?`, id)
	if err != nil {
		return false, apperr.New(apperr.Storage, err)
	}
	return requested, nil
}

func (s *SQLiteJobStore) Finish(ctx context.Context, id int64, status model.ScanStatus) error {
	return s.exec(ctx, `UPDATE scan_jobs SET status = ?, finished_at = ? WHERE id = ?`, string(status), time.Now().UTC(), id)
}

func (s *SQLiteJobStore) exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return apperr.New(apperr.Storage, err)
	}
	return nil
}
