// File: internal/infra/web/stream_limiter.go
package web

import (
	"sync"

	"sql-run-service/internal/domain"
	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/infra/metrics"
)

// StreamLimiter caps concurrently open event streams per identity. It is
// process-local; each gateway instance enforces its own cap.
type StreamLimiter struct {
	mu   sync.Mutex
	open map[string]int
	max  int
}

func NewStreamLimiter(max int) *StreamLimiter {
	return &StreamLimiter{open: make(map[string]int), max: max}
}

// Acquire reserves a stream slot and returns its release func. Release is
// idempotent: callers may invoke it from both a defer and a disconnect
// path without double-counting.
func (l *StreamLimiter) Acquire(identity model.Identity) (func(), error) {
	key := identity.Key()

	l.mu.Lock()
	if l.open[key] >= l.max {
		l.mu.Unlock()
		metrics.IncStreamsRejected()
		return nil, domain.ErrStreamLimit
	}
	l.open[key]++
	l.mu.Unlock()
	metrics.IncOpenStreams()

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			l.open[key]--
			if l.open[key] <= 0 {
				delete(l.open, key)
			}
			l.mu.Unlock()
			metrics.DecOpenStreams()
		})
	}
	return release, nil
}
