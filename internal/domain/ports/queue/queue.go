package queue

import (
	"context"
	"time"

	"sql-run-service/internal/domain/model"
)

// EnqueueOptions tunes delivery of a single message.
type EnqueueOptions struct {
	// IdempotencyKey collapses duplicate enqueues of the same logical job.
	// Empty means no deduplication.
	IdempotencyKey string
	// Delay postpones first delivery.
	Delay time.Duration
	// MaxAttempts bounds delivery attempts before dead-lettering. Zero means 1.
	MaxAttempts int
	// Backoff is the base of the exponential retry delay (base * 2^(attempt-1)).
	Backoff time.Duration
}

// Message is a claimed queue entry. Attempt starts at 1 on first delivery.
type Message struct {
	ID      string
	Job     model.JobMessage
	Attempt int
}

// JobQueue is a durable, at-least-once delivery queue decoupling the API
// process from the worker process. Consumers must tolerate duplicate
// delivery; run-state writes stay safe through conditional updates.
type JobQueue interface {
	Enqueue(ctx context.Context, job model.JobMessage, opts EnqueueOptions) error

	// Dequeue claims the next ready message or returns domain.ErrQueueEmpty.
	Dequeue(ctx context.Context) (*Message, error)

	// Ack marks the message done; it is retained for a bounded window for
	// operational replay, not business logic.
	Ack(ctx context.Context, msg *Message) error

	// Nack re-schedules the message with exponential backoff, or moves it to
	// the dead-letter list once attempts are exhausted.
	Nack(ctx context.Context, msg *Message, cause error) error

	// DeadLetters drains up to max dead-lettered messages for inspection and
	// for the worker's abandoned-run sweep.
	DeadLetters(ctx context.Context, max int) ([]*Message, error)
}
