// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"sql-run-service/internal/domain"
	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/domain/ports/adapter"
	"sql-run-service/internal/domain/ports/queue"
	"sql-run-service/internal/domain/ports/repository"
	"sql-run-service/internal/domain/ports/stream"
)

// memRunRepo is a small in-memory implementation used by unit tests. It
// mirrors the conditional-transition semantics of the Postgres repo.
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

// memTxManager mirrors the Postgres manager's contract without a database:
// by default the callback runs immediately with NoTX. Tests asserting
// transactional behavior assign WithTxFunc.
type memTxManager struct {
	calls      int
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func (m *memTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.calls++
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// memQueue records enqueued messages in order.
type memQueue struct {
	mu         sync.Mutex
	jobs       []model.JobMessage
	opts       []queue.EnqueueOptions
	enqueueErr error
}

func (q *memQueue) Enqueue(ctx context.Context, job model.JobMessage, opts queue.EnqueueOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
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

func (q *memQueue) Ack(ctx context.Context, msg *queue.Message) error  { return nil }
func (q *memQueue) Nack(ctx context.Context, msg *queue.Message, cause error) error {
	return nil
}
func (q *memQueue) DeadLetters(ctx context.Context, max int) ([]*queue.Message, error) {
	return nil, nil
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

func (e *memEvents) last() *model.StatusEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.published) == 0 {
		return nil
	}
	ev := e.published[len(e.published)-1]
	return &ev
}

// fakeEngine returns canned results.
type fakeEngine struct {
	page *adapter.ResultPage
}

func (f *fakeEngine) Validate(ctx context.Context, identity model.Identity, sql string, hints []model.ColumnHint) (string, error) {
	return "q-1", nil
}
func (f *fakeEngine) CreateTarget(ctx context.Context, identity model.Identity, runID string) (string, error) {
	return "out_" + runID, nil
}
func (f *fakeEngine) Execute(ctx context.Context, identity model.Identity, queryID, outputTable string) (string, error) {
	return "task-1", nil
}
func (f *fakeEngine) JobStatus(ctx context.Context, identity model.Identity, handles model.EngineHandles) (adapter.JobStatus, error) {
	return adapter.JobStatus{State: adapter.JobStateComplete}, nil
}
func (f *fakeEngine) FetchResults(ctx context.Context, identity model.Identity, handles model.EngineHandles, page int) (*adapter.ResultPage, error) {
	if f.page != nil {
		cp := *f.page
		cp.Page = page
		return &cp, nil
	}
	return &adapter.ResultPage{Columns: []string{"n"}, Rows: [][]any{{1}}, Page: page}, nil
}

// plainEnc is a reversible stand-in for the AES service.
type plainEnc struct{}

func (plainEnc) Encrypt(s string) (string, error) { return "enc:" + s, nil }
func (plainEnc) Decrypt(s string) (string, error) {
	return strings.TrimPrefix(s, "enc:"), nil
}

// brokenEnc fails every encryption.
type brokenEnc struct{ plainEnc }

func (brokenEnc) Encrypt(s string) (string, error) { return "", domain.ErrInternal }
