// File: internal/infra/adapters/engine/noop_engine.go
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/domain/ports/adapter"
)

var _ adapter.QueryEngineAdapter = (*NoopEngine)(nil)

// NoopEngine implements adapter.QueryEngineAdapter for local/dev runs.
// Every query validates, completes after a short delay, and returns one
// canned row, so the full pipeline can be exercised without an engine.
type NoopEngine struct {
	mu    sync.Mutex
	delay time.Duration
	start map[string]time.Time
	log   *zerolog.Logger
}

func NewNoopEngine(log *zerolog.Logger) *NoopEngine {
	return &NoopEngine{
		delay: 2 * time.Second,
		start: make(map[string]time.Time),
		log:   log,
	}
}

func (n *NoopEngine) Validate(ctx context.Context, identity model.Identity, sql string, hints []model.ColumnHint) (string, error) {
	n.log.Debug().Str("tenant", identity.TenantID).Msg("[noop-engine] validate")
	return "noop-query", nil
}

func (n *NoopEngine) CreateTarget(ctx context.Context, identity model.Identity, runID string) (string, error) {
	return "noop_out_" + runID, nil
}

func (n *NoopEngine) Execute(ctx context.Context, identity model.Identity, queryID, outputTable string) (string, error) {
	taskID := "noop-task-" + outputTable
	n.mu.Lock()
	n.start[taskID] = time.Now()
	n.mu.Unlock()
	return taskID, nil
}

func (n *NoopEngine) JobStatus(ctx context.Context, identity model.Identity, handles model.EngineHandles) (adapter.JobStatus, error) {
	n.mu.Lock()
	started, ok := n.start[handles.TaskID]
	n.mu.Unlock()
	if !ok || time.Since(started) >= n.delay {
		return adapter.JobStatus{State: adapter.JobStateComplete}, nil
	}
	return adapter.JobStatus{State: adapter.JobStateRunning}, nil
}

func (n *NoopEngine) FetchResults(ctx context.Context, identity model.Identity, handles model.EngineHandles, page int) (*adapter.ResultPage, error) {
	return &adapter.ResultPage{
		Columns: []string{"result"},
		Rows:    [][]any{{"ok"}},
		Page:    page,
	}, nil
}
