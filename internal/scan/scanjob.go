package scan

import (
	"context"

	"github.com/medialibrarian/curator/internal/model"
)

// JobStore persists scan_job progress rows. SQLiteStore is the default
// backend; MemStore backs unit tests.
type JobStore interface {
	Create(ctx context.Context, libraryID int64) (model.ScanJob, error)
	Get(ctx context.Context, id int64) (model.ScanJob, error)
	SetTotal(ctx context.Context, id int64, total int) error
	IncrementDiscovered(ctx context.Context, id int64) error
	IncrementUpdated(ctx context.Context, id int64) error
	IncrementQueued(ctx context.Context, id int64) error
	IncrementErrored(ctx context.Context, id int64, lastErr string) error
	IncrementSkipped(ctx context.Context, id int64) error
	RequestCancel(ctx context.Context, id int64) error
	IsCancelRequested(ctx context.Context, id int64) (bool, error)
	Finish(ctx context.Context, id int64, status model.ScanStatus) error
}
