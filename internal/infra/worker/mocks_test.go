// File: internal/infra/worker/mocks_test.go
package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	"sql-run-service/internal/domain"
	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/domain/ports/adapter"
	"sql-run-service/internal/domain/ports/queue"
	"sql-run-service/internal/domain/ports/repository"
	"sql-run-service/internal/domain/ports/stream"
)

// memRunRepo mirrors the conditional-transition semantics of the Postgres
// repo: terminal runs never change, timestamps coalesce.
type memRunRepo struct {
	mu    sync.Mutex
	store map[string]*model.Run
}

func newMemRunRepo() *memRunRepo {
	return &memRunRepo{store: make(map[string]*model.Run)}
}

func (m *memRunRepo) Save(ctx context.Context, tx repository.Tx, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.store[run.ID] = &cp
	return nil
}

func (m *memRunRepo) FindByID(ctx context.Context, tx repository.Tx, id string, identity model.Identity) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.store[id]
	if !ok || run.Identity != identity {
		return nil, domain.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *memRunRepo) CountActive(ctx context.Context, tx repository.Tx, identity model.Identity) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, run := range m.store {
		if run.Identity == identity && !run.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (m *memRunRepo) MarkCanceled(ctx context.Context, tx repository.Tx, id string, identity model.Identity) (*model.Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.store[id]
	if !ok || run.Identity != identity {
		return nil, false, domain.ErrNotFound
	}
	if run.Status.Terminal() {
		cp := *run
		return &cp, false, nil
	}
	now := time.Now()
	run.Status = model.RunStatusCanceled
	run.CompletedAt = &now
	cp := *run
	return &cp, true, nil
}

func (m *memRunRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, identity model.Identity, tr repository.StatusTransition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.store[id]
	if !ok || run.Identity != identity || run.Status.Terminal() {
		return false, nil
	}
	run.Status = tr.To
	if tr.ErrorMessage != "" {
		run.ErrorMessage = tr.ErrorMessage
	}
	if tr.Handles != nil {
		run.Handles = *tr.Handles
	}
	if run.StartedAt == nil && tr.StartedAt != nil {
		run.StartedAt = tr.StartedAt
	}
	if run.CompletedAt == nil && tr.CompletedAt != nil {
		run.CompletedAt = tr.CompletedAt
	}
	return true, nil
}

func (m *memRunRepo) List(ctx context.Context, tx repository.Tx, identity model.Identity, opts repository.ListOptions) ([]*model.Run, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Run
	for _, run := range m.store {
		if run.Identity == identity {
			cp := *run
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

// memQueue records enqueued messages in order and can hold dead letters.
type memQueue struct {
	mu   sync.Mutex
	jobs []model.JobMessage
	opts []queue.EnqueueOptions
	dead []*queue.Message
}

func (q *memQueue) Enqueue(ctx context.Context, job model.JobMessage, opts queue.EnqueueOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	q.opts = append(q.opts, opts)
	return nil
}

func (q *memQueue) Dequeue(ctx context.Context) (*queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, domain.ErrQueueEmpty
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.opts = q.opts[1:]
	return &queue.Message{ID: job.RunID, Job: job, Attempt: 1}, nil
}

func (q *memQueue) Ack(ctx context.Context, msg *queue.Message) error { return nil }

func (q *memQueue) Nack(ctx context.Context, msg *queue.Message, cause error) error {
	return nil
}

func (q *memQueue) DeadLetters(ctx context.Context, max int) ([]*queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.dead
	q.dead = nil
	return out, nil
}

func (q *memQueue) pending() []model.JobMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.JobMessage, len(q.jobs))
	copy(out, q.jobs)
	return out
}

func (q *memQueue) pendingOpts() []queue.EnqueueOptions {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queue.EnqueueOptions, len(q.opts))
	copy(out, q.opts)
	return out
}

// memEvents records published status events.
type memEvents struct {
	mu        sync.Mutex
	published []model.StatusEvent
}

func (e *memEvents) Publish(ctx context.Context, ev model.StatusEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.published = append(e.published, ev)
	return nil
}

func (e *memEvents) Subscribe(ctx context.Context, runID string) (stream.Subscription, error) {
	return nil, domain.ErrInternal
}

func (e *memEvents) LastEvent(ctx context.Context, runID string) (*model.StatusEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.published) - 1; i >= 0; i-- {
		if e.published[i].RunID == runID {
			ev := e.published[i]
			return &ev, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (e *memEvents) all() []model.StatusEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.StatusEvent, len(e.published))
	copy(out, e.published)
	return out
}

// scriptEngine returns configurable outcomes so tests can steer the
// execution protocol step by step.
type scriptEngine struct {
	mu          sync.Mutex
	validateErr error
	executeErr  error
	status      adapter.JobStatus
	statusErr   error
	statusCalls int
}

func (f *scriptEngine) Validate(ctx context.Context, identity model.Identity, sql string, hints []model.ColumnHint) (string, error) {
	if f.validateErr != nil {
		return "", f.validateErr
	}
	return "q-1", nil
}

func (f *scriptEngine) CreateTarget(ctx context.Context, identity model.Identity, runID string) (string, error) {
	return "out_" + runID, nil
}

func (f *scriptEngine) Execute(ctx context.Context, identity model.Identity, queryID, outputTable string) (string, error) {
	if f.executeErr != nil {
		return "", f.executeErr
	}
	return "task-1", nil
}

func (f *scriptEngine) JobStatus(ctx context.Context, identity model.Identity, handles model.EngineHandles) (adapter.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return adapter.JobStatus{}, f.statusErr
	}
	return f.status, nil
}

func (f *scriptEngine) FetchResults(ctx context.Context, identity model.Identity, handles model.EngineHandles, page int) (*adapter.ResultPage, error) {
	return &adapter.ResultPage{Columns: []string{"n"}, Rows: [][]any{{1}}, Page: page}, nil
}

// plainEnc is a reversible stand-in for the AES service.
type plainEnc struct{}

func (plainEnc) Encrypt(s string) (string, error) { return "enc:" + s, nil }
func (plainEnc) Decrypt(s string) (string, error) {
	return strings.TrimPrefix(s, "enc:"), nil
}
