package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/routellm/gateway/internal/queue"
	"github.com/routellm/gateway/internal/storage"
)

const (
	runDispatchInterval  = 2 * time.Second
	runDispatchBatchSize = 50
)

// RunDispatchWorker polls for due storage.ScheduledJob rows and produces
// them onto the job queue — the delayed half of process_run_job re-enqueue
// (the backoff computed by runengine.Worker lands here once it elapses).
type RunDispatchWorker struct {
	jobs     storage.ScheduledJobStore
	producer queue.Producer
	now      func() time.Time
}

// NewRunDispatchWorker constructs a RunDispatchWorker. now defaults to
// time.Now if nil.
func NewRunDispatchWorker(jobs storage.ScheduledJobStore, producer queue.Producer, now func() time.Time) *RunDispatchWorker {
	if now == nil {
		now = time.Now
	}
	return &RunDispatchWorker{jobs: jobs, producer: producer, now: now}
}

// Name returns the worker identifier.
func (w *RunDispatchWorker) Name() string { return "run_dispatch" }

// Run polls on a fixed interval until ctx is cancelled.
func (w *RunDispatchWorker) Run(ctx context.Context) error {
	if err := w.dispatchDue(ctx); err != nil {
		slog.Error("run_dispatch: initial poll failed", "error", err)
	}

	ticker := time.NewTicker(runDispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.dispatchDue(ctx); err != nil {
				slog.Error("run_dispatch: poll failed", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *RunDispatchWorker) dispatchDue(ctx context.Context) error {
	due, err := w.jobs.DueJobs(ctx, w.now(), runDispatchBatchSize)
	if err != nil {
		return err
	}
	for _, job := range due {
		if err := w.producer.Enqueue(ctx, queue.Job{RunID: job.RunID, Attempt: job.Attempt}); err != nil {
			slog.Error("run_dispatch: enqueue failed", "run_id", job.RunID, "attempt", job.Attempt, "error", err)
			continue
		}
		if err := w.jobs.MarkDispatched(ctx, job.ID); err != nil {
			slog.Error("run_dispatch: mark dispatched failed", "job_id", job.ID, "error", err)
		}
	}
	return nil
}
