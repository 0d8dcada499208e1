package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"sql-run-service/internal/config"
	"sql-run-service/internal/domain"
	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/domain/ports/queue"
	"sql-run-service/internal/infra/metrics"
)

var _ queue.JobQueue = (*JobQueue)(nil)

const (
	pendingKey    = "jobq:pending"
	deadLetterKey = "jobq:dead"
	idemTTL       = 24 * time.Hour
)

func msgKey(id string) string { return "jobq:msg:" + id }
func idemKey(key string) string { return "jobq:idem:" + key }

// JobQueue is a durable at-least-once queue over Redis: a sorted set of
// message IDs scored by ready-time, one hash per message, a SETNX key per
// idempotency key, and a dead-letter list. Completed messages are retained
// via TTL for operational replay only.
type JobQueue struct {
	cli              *Client
	successRetention time.Duration
	failureRetention time.Duration
}

func NewJobQueue(cli *Client, cfg config.QueueConfig) *JobQueue {
	return &JobQueue{
		cli:              cli,
		successRetention: cfg.SuccessRetention,
		failureRetention: cfg.FailureRetention,
	}
}

func (q *JobQueue) Enqueue(ctx context.Context, job model.JobMessage, opts queue.EnqueueOptions) error {
	if job.RunID == "" {
		return domain.ErrInvalidArgument
	}
	id := uuid.NewString()

	if opts.IdempotencyKey != "" {
		ok, err := q.cli.cli.SetNX(ctx, idemKey(opts.IdempotencyKey), id, idemTTL).Result()
		if err != nil {
			return fmt.Errorf("queue idempotency check: %w", err)
		}
		if !ok {
			// Duplicate enqueue for the same logical job collapses silently.
			return nil
		}
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job message: %w", err)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	readyAt := time.Now().Add(opts.Delay)
	pipe := q.cli.cli.TxPipeline()
	pipe.HSet(ctx, msgKey(id), map[string]interface{}{
		"payload":      string(payload),
		"kind":         string(job.Kind),
		"attempt":      0,
		"max_attempts": maxAttempts,
		"backoff_ms":   opts.Backoff.Milliseconds(),
		"enqueued_at":  time.Now().UnixMilli(),
	})
	pipe.ZAdd(ctx, pendingKey, &redis.Z{Score: float64(readyAt.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	metrics.IncEnqueued(string(job.Kind))
	return nil
}

func (q *JobQueue) Dequeue(ctx context.Context) (*queue.Message, error) {
	now := float64(time.Now().UnixMilli())
	for {
		ids, err := q.cli.cli.ZRangeByScore(ctx, pendingKey, &redis.ZRangeBy{
			Min: "-inf", Max: strconv.FormatFloat(now, 'f', -1, 64), Count: 8,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("queue scan: %w", err)
		}
		if len(ids) == 0 {
			return nil, domain.ErrQueueEmpty
		}
		for _, id := range ids {
			// ZRem is the claim: whoever removes the member owns the message.
			claimed, err := q.cli.cli.ZRem(ctx, pendingKey, id).Result()
			if err != nil {
				return nil, fmt.Errorf("queue claim: %w", err)
			}
			if claimed == 0 {
				continue
			}
			msg, err := q.load(ctx, id)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					continue // expired remnant
				}
				return nil, err
			}
			attempt, err := q.cli.cli.HIncrBy(ctx, msgKey(id), "attempt", 1).Result()
			if err != nil {
				return nil, fmt.Errorf("queue attempt bump: %w", err)
			}
			msg.Attempt = int(attempt)
			return msg, nil
		}
	}
}

func (q *JobQueue) Ack(ctx context.Context, msg *queue.Message) error {
	pipe := q.cli.cli.TxPipeline()
	pipe.HSet(ctx, msgKey(msg.ID), "done_at", time.Now().UnixMilli())
	pipe.Expire(ctx, msgKey(msg.ID), q.successRetention)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *JobQueue) Nack(ctx context.Context, msg *queue.Message, cause error) error {
	maxAttempts, backoff, err := q.policy(ctx, msg.ID)
	if err != nil {
		return err
	}

	if msg.Attempt >= maxAttempts {
		pipe := q.cli.cli.TxPipeline()
		if cause != nil {
			pipe.HSet(ctx, msgKey(msg.ID), "last_error", cause.Error())
		}
		pipe.RPush(ctx, deadLetterKey, msg.ID)
		pipe.Expire(ctx, msgKey(msg.ID), q.failureRetention)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("queue dead-letter: %w", err)
		}
		metrics.IncDeadLetter(string(msg.Job.Kind))
		return nil
	}

	delay := backoff
	for i := 1; i < msg.Attempt; i++ {
		delay *= 2
	}
	readyAt := time.Now().Add(delay)
	pipe := q.cli.cli.TxPipeline()
	if cause != nil {
		pipe.HSet(ctx, msgKey(msg.ID), "last_error", cause.Error())
	}
	pipe.ZAdd(ctx, pendingKey, &redis.Z{Score: float64(readyAt.UnixMilli()), Member: msg.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue requeue: %w", err)
	}
	metrics.IncRetry(string(msg.Job.Kind))
	return nil
}

func (q *JobQueue) DeadLetters(ctx context.Context, max int) ([]*queue.Message, error) {
	if max <= 0 {
		max = 10
	}
	var out []*queue.Message
	for len(out) < max {
		id, err := q.cli.cli.LPop(ctx, deadLetterKey).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("queue dead-letter pop: %w", err)
		}
		msg, err := q.load(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (q *JobQueue) load(ctx context.Context, id string) (*queue.Message, error) {
	vals, err := q.cli.cli.HGetAll(ctx, msgKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue load: %w", err)
	}
	payload, ok := vals["payload"]
	if !ok {
		return nil, domain.ErrNotFound
	}
	var job model.JobMessage
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job message: %w", err)
	}
	attempt, _ := strconv.Atoi(vals["attempt"])
	return &queue.Message{ID: id, Job: job, Attempt: attempt}, nil
}

func (q *JobQueue) policy(ctx context.Context, id string) (maxAttempts int, backoff time.Duration, err error) {
	vals, err := q.cli.cli.HMGet(ctx, msgKey(id), "max_attempts", "backoff_ms").Result()
	if err != nil {
		return 0, 0, fmt.Errorf("queue policy: %w", err)
	}
	maxAttempts = 1
	if len(vals) > 0 && vals[0] != nil {
		if n, err := strconv.Atoi(fmt.Sprint(vals[0])); err == nil && n > 0 {
			maxAttempts = n
		}
	}
	if len(vals) > 1 && vals[1] != nil {
		if ms, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64); err == nil {
			backoff = time.Duration(ms) * time.Millisecond
		}
	}
	return maxAttempts, backoff, nil
}
