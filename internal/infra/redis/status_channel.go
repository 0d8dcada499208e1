package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"sql-run-service/internal/domain"
	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/domain/ports/stream"
)

var _ stream.StatusChannel = (*StatusChannel)(nil)

const subscriberBuffer = 16

func eventChannelKey(runID string) string { return "run_events:" + runID }
func lastEventKey(runID string) string { return "run_last_event:" + runID }

// StatusChannel broadcasts per-run status events over Redis pub/sub and
// keeps the last event per run in a bounded-TTL cache so a reconnecting
// subscriber recovers current state immediately.
type StatusChannel struct {
	cli *Client
	ttl time.Duration
}

func NewStatusChannel(cli *Client, backfillTTL time.Duration) *StatusChannel {
	return &StatusChannel{cli: cli, ttl: backfillTTL}
}

func (s *StatusChannel) Publish(ctx context.Context, event model.StatusEvent) error {
	if event.RunID == "" {
		return domain.ErrInvalidArgument
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	// Cache first so a subscriber racing with this publish never observes
	// a live event newer than the backfill entry.
	pipe := s.cli.cli.TxPipeline()
	pipe.Set(ctx, lastEventKey(event.RunID), data, s.ttl)
	pipe.Publish(ctx, eventChannelKey(event.RunID), data)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *StatusChannel) LastEvent(ctx context.Context, runID string) (*model.StatusEvent, error) {
	data, err := s.cli.cli.Get(ctx, lastEventKey(runID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ev model.StatusEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return nil, fmt.Errorf("unmarshal status event: %w", err)
	}
	return &ev, nil
}

func (s *StatusChannel) Subscribe(ctx context.Context, runID string) (stream.Subscription, error) {
	if runID == "" {
		return nil, domain.ErrInvalidArgument
	}
	pubsub := s.cli.cli.Subscribe(ctx, eventChannelKey(runID))
	// Force the subscription onto the wire before reading the cache, so
	// nothing published after the backfill snapshot can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe run events: %w", err)
	}

	sub := &subscription{
		pubsub: pubsub,
		events: make(chan model.StatusEvent, subscriberBuffer),
		done:   make(chan struct{}),
	}

	// Backfill is delivered first, before the pump starts, so it always
	// precedes any live event on the channel.
	if cached, err := s.LastEvent(ctx, runID); err == nil {
		sub.events <- *cached
	}

	go sub.pump()
	return sub, nil
}

type subscription struct {
	pubsub    *redis.PubSub
	events    chan model.StatusEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) Events() <-chan model.StatusEvent { return s.events }

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.pubsub.Close()
	})
	return nil
}

func (s *subscription) pump() {
	defer close(s.events)
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev model.StatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case s.events <- ev:
			default:
				// Slow subscriber: drop. The backfill cache covers recovery.
			}
		}
	}
}
