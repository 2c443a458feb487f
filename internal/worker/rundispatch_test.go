package worker

import (
	"context"
	"testing"
	"time"

	"github.com/routellm/gateway/internal/storage"
	"github.com/routellm/gateway/internal/testutil"
)

func TestRunDispatchWorker_DispatchesDueJobOnStartup(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Schedule(context.Background(), &storage.ScheduledJob{ID: "job-1", RunID: "run-1", Attempt: 2, RunAt: now.Add(-time.Second)})

	q := &testutil.FakeQueue{}
	w := NewRunDispatchWorker(store, q, func() time.Time { return now })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	jobs := q.Jobs()
	if len(jobs) != 1 || jobs[0].RunID != "run-1" || jobs[0].Attempt != 2 {
		t.Fatalf("jobs = %+v, want one job for run-1 attempt 2", jobs)
	}

	due, _ := store.DueJobs(context.Background(), now, 10)
	if len(due) != 0 {
		t.Errorf("due jobs remaining = %d, want 0 (marked dispatched)", len(due))
	}
}

func TestRunDispatchWorker_SkipsNotYetDueJobs(t *testing.T) {
	t.Parallel()

	store := testutil.NewFakeStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Schedule(context.Background(), &storage.ScheduledJob{ID: "job-1", RunID: "run-1", Attempt: 2, RunAt: now.Add(time.Hour)})

	q := &testutil.FakeQueue{}
	w := NewRunDispatchWorker(store, q, func() time.Time { return now })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if len(q.Jobs()) != 0 {
		t.Errorf("jobs = %+v, want none dispatched before RunAt", q.Jobs())
	}
}
