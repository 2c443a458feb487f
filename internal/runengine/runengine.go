// Package runengine implements the asynchronous run lifecycle: the
// Producer creates durable Run records and enqueues the first attempt; the
// Worker executes process_run_job, reusing SyncChatPath's inner failover
// loop for a single attempt and handling the outer retry/backoff itself.
package runengine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gateway "github.com/routellm/gateway/internal/gateway"
	"github.com/routellm/gateway/internal/queue"
	"github.com/routellm/gateway/internal/storage"
	"github.com/routellm/gateway/internal/syncchat"
	"github.com/routellm/gateway/internal/telemetry"
)

// Config holds the worker's outer attempt budget and backoff parameters,
// per spec §4.4.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Producer creates durable Run records and enqueues process_run_job's first
// attempt, per spec §4.4's Producer.
type Producer struct {
	runs     storage.RunStore
	producer queue.Producer
	now      func() time.Time
}

// NewProducer constructs a Producer. now defaults to time.Now if nil.
func NewProducer(runs storage.RunStore, producer queue.Producer, now func() time.Time) *Producer {
	if now == nil {
		now = time.Now
	}
	return &Producer{runs: runs, producer: producer, now: now}
}

// CreateRun inserts a pending Run (or returns the existing one on an
// idempotency-key collision) and enqueues attempt 1.
func (p *Producer) CreateRun(ctx context.Context, req *gateway.ChatRequest, idempotencyKey string) (*gateway.Run, error) {
	if idempotencyKey != "" {
		existing, err := p.runs.GetRunByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, gateway.ErrRunNotFound) {
			return nil, err
		}
	}

	now := p.now()
	run := &gateway.Run{
		ID:             uuid.NewString(),
		Status:         gateway.RunPending,
		Provider:       req.Provider,
		Model:          req.Model,
		MaxTokens:      req.MaxTokens,
		InputMessages:  req.Messages,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := p.runs.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	if idempotencyKey != "" {
		// CreateRun no-ops on a colliding key: a concurrent request won the
		// race. Re-read so both callers observe the same run.
		if existing, err := p.runs.GetRunByIdempotencyKey(ctx, idempotencyKey); err == nil && existing.ID != run.ID {
			return existing, nil
		}
	}

	if err := p.producer.Enqueue(ctx, queue.Job{RunID: run.ID, Attempt: 1}); err != nil {
		run.Status = gateway.RunFailed
		run.Error = "failed to enqueue: " + err.Error()
		run.FinishedAt = &now
		if uErr := p.runs.UpdateRun(ctx, run); uErr != nil {
			slog.Warn("runengine: persist enqueue failure failed", "run_id", run.ID, "error", uErr)
		}
		return run, err
	}

	run.Status = gateway.RunQueued
	if err := p.runs.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Worker executes process_run_job: check-on-entry cancellation, one
// SyncChatPath attempt, then a terminal transition or a scheduled retry.
type Worker struct {
	runs    storage.RunStore
	jobs    storage.ScheduledJobStore
	chat    *syncchat.Service
	metrics *telemetry.Metrics
	cfg     Config
	now     func() time.Time
}

// NewWorker constructs a Worker. metrics may be nil in tests; now defaults
// to time.Now if nil.
func NewWorker(runs storage.RunStore, jobs storage.ScheduledJobStore, chat *syncchat.Service, metrics *telemetry.Metrics, cfg Config, now func() time.Time) *Worker {
	if now == nil {
		now = time.Now
	}
	return &Worker{runs: runs, jobs: jobs, chat: chat, metrics: metrics, cfg: cfg, now: now}
}

// Process implements process_run_job(run_id, attempt), per spec §4.4.
func (w *Worker) Process(ctx context.Context, runID string, attempt int) error {
	run, err := w.runs.GetRun(ctx, runID)
	if err != nil {
		slog.Error("runengine: run not found", "run_id", runID, "error", err)
		return nil
	}
	if run.Status == gateway.RunCanceled {
		slog.Info("runengine: run canceled, skipping", "run_id", runID)
		return nil
	}

	now := w.now()
	run.Status = gateway.RunRunning
	run.StartedAt = &now
	if err := w.runs.UpdateRun(ctx, run); err != nil {
		slog.Warn("runengine: persist running status failed", "run_id", runID, "error", err)
	}

	req := &gateway.ChatRequest{
		Provider:  run.Provider,
		Model:     run.Model,
		Messages:  run.InputMessages,
		MaxTokens: run.MaxTokens,
	}

	resp, callErr := w.chat.Chat(ctx, req)
	if callErr == nil {
		w.succeed(ctx, run, attempt, resp)
		return nil
	}

	pe, ok := gateway.AsProviderError(callErr)
	if !ok {
		w.retryOrFail(ctx, run, attempt, callErr.Error(), nil)
		return nil
	}
	if pe.Kind == gateway.KindClient {
		w.terminalFail(ctx, run, attempt, pe.Message)
		return nil
	}
	w.retryOrFail(ctx, run, attempt, pe.Message, pe.RetryAfter)
	return nil
}

// stillActionable re-reads the run and reports whether it's safe to write a
// terminal/retry transition: a cancellation that landed while the upstream
// call was in flight is honored at this check-in rather than overwritten,
// per spec §4.4's best-effort cancellation semantics.
func (w *Worker) stillActionable(ctx context.Context, runID string) (*gateway.Run, bool) {
	cur, err := w.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, false
	}
	return cur, cur.Status != gateway.RunCanceled
}

func (w *Worker) succeed(ctx context.Context, run *gateway.Run, attempt int, resp *gateway.ChatResponse) {
	cur, ok := w.stillActionable(ctx, run.ID)
	if !ok {
		slog.Info("runengine: discarding success, run was canceled", "run_id", run.ID)
		return
	}
	now := w.now()
	cur.Status = gateway.RunSucceeded
	cur.OutputMessage = &resp.Message
	cur.FinishedAt = &now
	cur.RetryCount = attempt - 1
	if err := w.runs.UpdateRun(ctx, cur); err != nil {
		slog.Warn("runengine: persist success failed", "run_id", run.ID, "error", err)
	}
	if w.metrics != nil {
		w.metrics.RunsTotal.WithLabelValues(cur.Provider, string(gateway.RunSucceeded)).Inc()
		w.metrics.RunAttempts.WithLabelValues(cur.Provider).Observe(float64(attempt))
	}
	slog.Info("runengine: run succeeded", "run_id", run.ID, "attempts", attempt)
}

func (w *Worker) terminalFail(ctx context.Context, run *gateway.Run, attempt int, reason string) {
	cur, ok := w.stillActionable(ctx, run.ID)
	if !ok {
		return
	}
	now := w.now()
	cur.Status = gateway.RunFailed
	cur.Error = reason
	cur.LastErrorReason = "client error: " + reason
	cur.RetryCount = attempt
	cur.FinishedAt = &now
	if err := w.runs.UpdateRun(ctx, cur); err != nil {
		slog.Warn("runengine: persist terminal failure failed", "run_id", run.ID, "error", err)
	}
	if w.metrics != nil {
		w.metrics.RunsTotal.WithLabelValues(cur.Provider, string(gateway.RunFailed)).Inc()
		w.metrics.RunAttempts.WithLabelValues(cur.Provider).Observe(float64(attempt))
	}
	slog.Error("runengine: run failed, client error is not retriable", "run_id", run.ID, "attempt", attempt)
}

// retryOrFail handles RateLimit/Transient/no-available-keys outcomes: retry
// with backoff while attempts remain, otherwise a terminal failure.
func (w *Worker) retryOrFail(ctx context.Context, run *gateway.Run, attempt int, reason string, retryAfter *float64) {
	cur, ok := w.stillActionable(ctx, run.ID)
	if !ok {
		return
	}
	now := w.now()

	if attempt >= w.cfg.MaxAttempts {
		cur.Status = gateway.RunFailed
		cur.Error = reason
		cur.LastErrorReason = reason
		cur.RetryCount = attempt
		cur.FinishedAt = &now
		if err := w.runs.UpdateRun(ctx, cur); err != nil {
			slog.Warn("runengine: persist terminal failure failed", "run_id", run.ID, "error", err)
		}
		if w.metrics != nil {
			w.metrics.RunsTotal.WithLabelValues(cur.Provider, string(gateway.RunFailed)).Inc()
			w.metrics.RunAttempts.WithLabelValues(cur.Provider).Observe(float64(attempt))
		}
		slog.Error("runengine: run failed after max attempts", "run_id", run.ID, "attempts", attempt, "reason", reason)
		return
	}

	delay := w.backoff(attempt, retryAfter)
	job := &storage.ScheduledJob{
		ID:      uuid.NewString(),
		RunID:   run.ID,
		Attempt: attempt + 1,
		RunAt:   now.Add(delay),
	}
	if err := w.jobs.Schedule(ctx, job); err != nil {
		slog.Error("runengine: failed to schedule retry", "run_id", run.ID, "error", err)
		cur.Status = gateway.RunFailed
		cur.Error = "failed to schedule retry: " + err.Error()
		cur.LastErrorReason = reason
		cur.RetryCount = attempt
		cur.FinishedAt = &now
		if uErr := w.runs.UpdateRun(ctx, cur); uErr != nil {
			slog.Warn("runengine: persist schedule-failure status failed", "run_id", run.ID, "error", uErr)
		}
		return
	}

	cur.Status = gateway.RunQueued
	cur.RetryCount = attempt
	cur.LastErrorReason = reason
	if err := w.runs.UpdateRun(ctx, cur); err != nil {
		slog.Warn("runengine: persist retry status failed", "run_id", run.ID, "error", err)
	}
	slog.Info("runengine: run requeued", "run_id", run.ID, "next_attempt", attempt+1, "delay", delay)
}

// backoff implements spec §4.4's delay formula: the RateLimit retry-after
// hint when present, otherwise exponential backoff from the base, both
// capped at MaxBackoff.
func (w *Worker) backoff(attempt int, retryAfter *float64) time.Duration {
	if retryAfter != nil {
		d := time.Duration(*retryAfter * float64(time.Second))
		if d > w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
		return d
	}
	d := w.cfg.BaseBackoff * time.Duration(1<<uint(attempt-1))
	if d > w.cfg.MaxBackoff {
		return w.cfg.MaxBackoff
	}
	return d
}
