package worker

import (
	"context"

	"github.com/routellm/gateway/internal/queue"
	"github.com/routellm/gateway/internal/runengine"
)

// RunProcessWorker drains the job queue and executes one process_run_job
// attempt per dequeued job against the run engine.
type RunProcessWorker struct {
	consumer queue.Consumer
	engine   *runengine.Worker
}

// NewRunProcessWorker constructs a RunProcessWorker.
func NewRunProcessWorker(consumer queue.Consumer, engine *runengine.Worker) *RunProcessWorker {
	return &RunProcessWorker{consumer: consumer, engine: engine}
}

// Name returns the worker identifier.
func (w *RunProcessWorker) Name() string { return "run_process" }

// Run consumes until ctx is cancelled.
func (w *RunProcessWorker) Run(ctx context.Context) error {
	return w.consumer.Consume(ctx, func(ctx context.Context, job queue.Job) error {
		return w.engine.Process(ctx, job.RunID, job.Attempt)
	})
}
