package testutil

import (
	"context"
	"sync"

	"github.com/routellm/gateway/internal/queue"
)

// FakeQueue is an in-memory queue.Producer that records every enqueued job,
// for asserting on Producer/RunDispatchWorker behavior without a broker.
type FakeQueue struct {
	mu   sync.Mutex
	jobs []queue.Job

	// EnqueueErr, if set, is returned by Enqueue instead of recording the job.
	EnqueueErr error
}

// Enqueue records job, or returns EnqueueErr if configured.
func (q *FakeQueue) Enqueue(_ context.Context, job queue.Job) error {
	if q.EnqueueErr != nil {
		return q.EnqueueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

// Jobs returns a snapshot of every job enqueued so far.
func (q *FakeQueue) Jobs() []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queue.Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}
