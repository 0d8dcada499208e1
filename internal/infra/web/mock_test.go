// File: internal/infra/web/mock_test.go
package web

import (
	"context"
	"sync"
	"time"

	"sql-run-service/internal/domain"
	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/domain/ports/adapter"
	"sql-run-service/internal/domain/ports/repository"
	"sql-run-service/internal/domain/ports/stream"
	"sql-run-service/internal/usecase"
)

var _ usecase.RunUseCase = (*fakeRunUC)(nil)

// fakeRunUC returns canned values per method, overridable per test.
type fakeRunUC struct {
	submitFn  func(ctx context.Context, identity model.Identity, sql, snippetName string, hints []model.ColumnHint) (*model.Run, error)
	statusFn  func(ctx context.Context, identity model.Identity, runID string) (*model.Run, error)
	cancelFn  func(ctx context.Context, identity model.Identity, runID string) (*usecase.CancelResult, error)
	resultsFn func(ctx context.Context, identity model.Identity, runID string, page int) (*adapter.ResultPage, error)
	listFn    func(ctx context.Context, identity model.Identity, opts repository.ListOptions) ([]*model.Run, int, error)
}

func (f *fakeRunUC) SubmitRun(ctx context.Context, identity model.Identity, sql, snippetName string, hints []model.ColumnHint) (*model.Run, error) {
	if f.submitFn != nil {
		return f.submitFn(ctx, identity, sql, snippetName, hints)
	}
	return model.NewRun("run-1", identity, snippetName, "hash"), nil
}

func (f *fakeRunUC) GetRunStatus(ctx context.Context, identity model.Identity, runID string) (*model.Run, error) {
	if f.statusFn != nil {
		return f.statusFn(ctx, identity, runID)
	}
	return model.NewRun(runID, identity, "snippet", "hash"), nil
}

func (f *fakeRunUC) CancelRun(ctx context.Context, identity model.Identity, runID string) (*usecase.CancelResult, error) {
	if f.cancelFn != nil {
		return f.cancelFn(ctx, identity, runID)
	}
	run := model.NewRun(runID, identity, "snippet", "hash")
	run.Status = model.RunStatusCanceled
	return &usecase.CancelResult{Run: run}, nil
}

func (f *fakeRunUC) GetResults(ctx context.Context, identity model.Identity, runID string, page int) (*adapter.ResultPage, error) {
	if f.resultsFn != nil {
		return f.resultsFn(ctx, identity, runID, page)
	}
	return &adapter.ResultPage{Columns: []string{"n"}, Rows: [][]any{{1}}, Page: page}, nil
}

func (f *fakeRunUC) ListRuns(ctx context.Context, identity model.Identity, opts repository.ListOptions) ([]*model.Run, int, error) {
	if f.listFn != nil {
		return f.listFn(ctx, identity, opts)
	}
	return nil, 0, nil
}

var _ usecase.CredentialUseCase = (*fakeCredUC)(nil)

type fakeCredUC struct {
	mu     sync.Mutex
	calls  int
	forced int
}

func (f *fakeCredUC) Refresh(ctx context.Context, identity model.Identity, force bool) (model.AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if force {
		f.forced++
	}
	return model.AccessToken{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// chanChannel is an in-process stream.StatusChannel backed by plain
// channels, enough for gateway tests.
type chanChannel struct {
	mu   sync.Mutex
	subs map[string][]chan model.StatusEvent
	last map[string]model.StatusEvent
}

func newChanChannel() *chanChannel {
	return &chanChannel{
		subs: make(map[string][]chan model.StatusEvent),
		last: make(map[string]model.StatusEvent),
	}
}

func (c *chanChannel) Publish(ctx context.Context, ev model.StatusEvent) error {
	c.mu.Lock()
	c.last[ev.RunID] = ev
	targets := append([]chan model.StatusEvent(nil), c.subs[ev.RunID]...)
	c.mu.Unlock()
	for _, ch := range targets {
		ch <- ev
	}
	return nil
}

func (c *chanChannel) Subscribe(ctx context.Context, runID string) (stream.Subscription, error) {
	ch := make(chan model.StatusEvent, 16)
	c.mu.Lock()
	if last, ok := c.last[runID]; ok {
		ch <- last
	}
	c.subs[runID] = append(c.subs[runID], ch)
	c.mu.Unlock()
	return &chanSubscription{ch: ch}, nil
}

func (c *chanChannel) LastEvent(ctx context.Context, runID string) (*model.StatusEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev, ok := c.last[runID]; ok {
		cp := ev
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

type chanSubscription struct {
	ch   chan model.StatusEvent
	once sync.Once
}

func (s *chanSubscription) Events() <-chan model.StatusEvent { return s.ch }

func (s *chanSubscription) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}
