// Package storage defines the persistence interfaces the core depends on.
// Concrete implementations live in storage/sqlite; tests use in-memory
// fakes in internal/testutil.
package storage

import (
	"context"
	"time"

	gateway "github.com/routellm/gateway/internal/gateway"
)

// KeyStore is the admin catalog of provider credentials plus the mutations
// the key pool applies during normal operation.
type KeyStore interface {
	CreateKey(ctx context.Context, key *gateway.ProviderKey) error
	GetKey(ctx context.Context, id string) (*gateway.ProviderKey, error)
	ListKeysByProvider(ctx context.Context, provider string) ([]*gateway.ProviderKey, error)
	ListKeys(ctx context.Context, provider, status string) ([]*gateway.ProviderKey, error)
	UpdateKey(ctx context.Context, key *gateway.ProviderKey) error
	DeleteKey(ctx context.Context, id string) error
}

// CursorStore persists the per-provider round-robin rotation cursor so
// fairness survives process restarts and is shared across HTTP and worker
// processes.
type CursorStore interface {
	NextCursor(ctx context.Context, provider string) (int, error)
}

// RunStore is the durable record of asynchronous runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *gateway.Run) error
	GetRun(ctx context.Context, id string) (*gateway.Run, error)
	GetRunByIdempotencyKey(ctx context.Context, key string) (*gateway.Run, error)
	UpdateRun(ctx context.Context, run *gateway.Run) error
}

// ScheduledJob is a durable record of a delayed re-enqueue: the
// RunDispatchWorker polls for jobs whose RunAt has passed and produces them
// onto the job queue.
type ScheduledJob struct {
	ID         string
	RunID      string
	Attempt    int
	RunAt      time.Time
	Dispatched bool
}

// ScheduledJobStore backs the delayed-enqueue primitive the async run
// engine needs (queue.DelayedQueue.EnqueueAt), independent of which message
// broker performs the actual dispatch.
type ScheduledJobStore interface {
	Schedule(ctx context.Context, job *ScheduledJob) error
	DueJobs(ctx context.Context, now time.Time, limit int) ([]*ScheduledJob, error)
	MarkDispatched(ctx context.Context, id string) error
}

// FileStore resolves attachment references to the stored-file metadata the
// provider adapters need (mime type, storage path/public URL).
type FileStore interface {
	GetFile(ctx context.Context, id string) (*gateway.StoredFile, error)
}

// TimeSeriesStore is the append-only shared sample store TokenTimeSeries is
// built on.
type TimeSeriesStore interface {
	Append(ctx context.Context, keyID string, ts time.Time, tokens int) error
	Samples(ctx context.Context, keyID string, since time.Time) ([]TokenSample, error)
	Prune(ctx context.Context, keyID string, olderThan time.Time) error
	KeysWithData(ctx context.Context) ([]string, error)
	SampleCount(ctx context.Context, keyID string) (int, error)
}

// TokenSample is one recorded usage observation.
type TokenSample struct {
	Timestamp time.Time
	Tokens    int
}

// Store composes every persistence interface the wiring layer needs to
// construct once and hand to each component.
type Store interface {
	KeyStore
	CursorStore
	RunStore
	ScheduledJobStore
	FileStore
	TimeSeriesStore
	Close() error
}
