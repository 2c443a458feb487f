// Package queue implements the durable job queue backing the asynchronous
// run engine. Enqueue is immediate dispatch only; delayed re-enqueue is a
// RunEngine/storage.ScheduledJobStore concern (see internal/worker's
// RunDispatchWorker), not something this package models.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Job is the durable unit of work dispatched through the queue: one
// attempt at processing a single asynchronous run.
type Job struct {
	RunID   string `json:"run_id"`
	Attempt int    `json:"attempt"`
}

// Producer enqueues a job for immediate delivery.
type Producer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Handler processes one dequeued job. RunEngine owns all retry/backoff
// decisions via storage.ScheduledJob; Handler is expected to report its own
// errors and return nil. A non-nil return is logged by Consume, which then
// goes on with the next record.
type Handler func(ctx context.Context, job Job) error

// Consumer dequeues jobs and invokes a Handler for each until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, handle Handler) error
}

// KafkaQueue is the kgo-backed Producer/Consumer, one topic carrying every
// process_run_job dispatch.
type KafkaQueue struct {
	client *kgo.Client
	topic  string
}

// NewKafkaQueue dials brokers and configures a consumer group over topic.
// The returned client both produces and consumes; production-only callers
// may still use it, they just never call Consume.
func NewKafkaQueue(brokers []string, topic, consumerGroup string) (*KafkaQueue, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(consumerGroup),
		kgo.DisableAutoCommit(),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaQueue{client: client, topic: topic}, nil
}

// Enqueue produces job, keyed by run ID so all attempts for one run land on
// the same partition and are never processed out of order.
func (q *KafkaQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	record := &kgo.Record{Topic: q.topic, Key: []byte(job.RunID), Value: data}
	result := q.client.ProduceSync(ctx, record)
	return result.FirstErr()
}

// Consume polls for fetches and invokes handle for each record, committing
// offsets once the batch has been handled. It runs until ctx is canceled.
func (q *KafkaQueue) Consume(ctx context.Context, handle Handler) error {
	for {
		fetches := q.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return nil
		}
		for _, fetchErr := range fetches.Errors() {
			slog.Error("queue: fetch error", "topic", fetchErr.Topic, "partition", fetchErr.Partition, "error", fetchErr.Err)
		}
		fetches.EachRecord(func(r *kgo.Record) {
			var job Job
			if err := json.Unmarshal(r.Value, &job); err != nil {
				slog.Error("queue: undecodable job", "error", err)
				return
			}
			if err := handle(ctx, job); err != nil {
				slog.Error("queue: handler returned error", "run_id", job.RunID, "attempt", job.Attempt, "error", err)
			}
		})
		if err := q.client.CommitUncommittedOffsets(ctx); err != nil {
			slog.Error("queue: commit offsets failed", "error", err)
		}
	}
}

// Close releases the underlying client.
func (q *KafkaQueue) Close() { q.client.Close() }
