package adapter

import (
	"context"

	"sql-run-service/internal/domain/model"
)

// JobState is the engine's view of an async execution.
type JobState string

const (
	JobStateRunning  JobState = "running"
	JobStateComplete JobState = "complete"
	JobStateError    JobState = "error"
)

// JobStatus is the result of polling the engine for an async task.
type JobStatus struct {
	State        JobState
	ErrorMessage string
}

// ResultPage is one page of rows from a ready run's output table. Page size
// is fixed by the engine's response, typically 50.
type ResultPage struct {
	Columns []string
	Rows    [][]any
	Page    int
	HasMore bool
}

// QueryEngineAdapter is the port for the remote query engine's multi-step
// submission protocol: validate the SQL, provision a temporary output table,
// submit for asynchronous execution, poll, and page through results.
//
// CreateTarget and Execute must be safe to repeat for the same run: the
// queue re-runs the whole execute step on message-level retry, so target
// names are derived deterministically from the run ID.
type QueryEngineAdapter interface {
	Validate(ctx context.Context, identity model.Identity, sql string, hints []model.ColumnHint) (queryID string, err error)
	CreateTarget(ctx context.Context, identity model.Identity, runID string) (outputTable string, err error)
	Execute(ctx context.Context, identity model.Identity, queryID, outputTable string) (taskID string, err error)
	JobStatus(ctx context.Context, identity model.Identity, handles model.EngineHandles) (JobStatus, error)
	FetchResults(ctx context.Context, identity model.Identity, handles model.EngineHandles, page int) (*ResultPage, error)
}
