// Package store defines the durable-state contract for jobs and batches,
// plus implementations: an in-memory store for tests and a Badger-backed
// store for single-binary durability.
package store

import (
	"context"
	"errors"

	"github.com/encodis/encodis/internal/model"
)

// ErrNotFound is returned when a lookup by ID finds no record.
var ErrNotFound = errors.New("store: not found")

// JobFilter narrows ListJobs results.
type JobFilter struct {
	// Status, if non-empty, restricts results to jobs in this state.
	Status model.JobStatus
	// BatchID, if non-empty, restricts results to jobs from this batch.
	BatchID string
	// IncludeCleared includes jobs marked Cleared (hidden from the default
	// queue view once a user dismisses them).
	IncludeCleared bool
	// Cursor is the last-seen job ID from a previous page; 0 starts from
	// the beginning. Results are ordered by ID ascending.
	Cursor int64
	// Limit bounds the page size. Zero means no limit.
	Limit int
}

// JobStore is the transactional CRUD contract the scheduler and dispatcher
// depend on. UpdateJob gives callers an atomic read-modify-write so status
// and progress transitions never race with a concurrent reader.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id int64) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*model.Job, error)
	UpdateJob(ctx context.Context, id int64, fn func(*model.Job) error) (*model.Job, error)
	// ClearFinished marks every terminal job as Cleared and returns how many
	// were affected. Cleared jobs are retained for history but excluded from
	// the default queue view.
	ClearFinished(ctx context.Context) (int, error)
	NextJobID(ctx context.Context) (int64, error)

	CreateBatch(ctx context.Context, batch *model.Batch) error
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	ListBatches(ctx context.Context) ([]*model.Batch, error)
	UpdateBatch(ctx context.Context, id string, fn func(*model.Batch) error) (*model.Batch, error)
	// DeleteBatch permanently removes a batch record. Used by the
	// scheduler's garbage collector once every job in the batch is terminal
	// and the batch has passed its GC retention window.
	DeleteBatch(ctx context.Context, id string) error

	Close() error
}

// PickerStore holds resumable file-picker snapshots with a TTL. Reads lazily
// purge expired entries rather than relying on a background sweep.
type PickerStore interface {
	Put(ctx context.Context, snapshot model.PickerSnapshot) error
	Get(ctx context.Context, key string) (*model.PickerSnapshot, error)
	Close() error
}
