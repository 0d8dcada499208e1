package stream

import (
	"context"

	"sql-run-service/internal/domain/model"
)

// Subscription is one live view onto a run's status channel. Events()
// yields the cached last-known event first (when one exists), then live
// events. Close is idempotent.
type Subscription interface {
	Events() <-chan model.StatusEvent
	Close() error
}

// StatusChannel is the per-run publish/subscribe fan-out plus the
// bounded-TTL backfill cache. Delivery to slow subscribers is best-effort
// (drop-if-slow); the cache covers reconnection.
type StatusChannel interface {
	Publish(ctx context.Context, event model.StatusEvent) error
	Subscribe(ctx context.Context, runID string) (Subscription, error)

	// LastEvent returns the cached event for the run, or ErrNotFound.
	LastEvent(ctx context.Context, runID string) (*model.StatusEvent, error)
}
