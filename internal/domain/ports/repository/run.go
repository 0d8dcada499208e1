package repository

import (
	"context"
	"time"

	"sql-run-service/internal/domain/model"
)

// StatusTransition describes one conditional state change. Every transition
// write is guarded by "current status not terminal" so a late worker update
// can never resurrect a completed or canceled run.
type StatusTransition struct {
	To           model.RunStatus
	ErrorMessage string // already encrypted by the caller
	Handles      *model.EngineHandles
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// ListOptions controls the paginated history view.
type ListOptions struct {
	Page     int
	PageSize int
	SortBy   string // created_at | completed_at | snippet_name
	SortDesc bool
}

type RunRepository interface {
	Save(ctx context.Context, tx Tx, run *model.Run) error

	// FindByID returns ErrNotFound when the run does not exist OR belongs to
	// a different identity. Cross-tenant access is denied by absence, never
	// by an explicit authorization error.
	FindByID(ctx context.Context, tx Tx, id string, identity model.Identity) (*model.Run, error)

	// CountActive counts the identity's runs whose status is not terminal.
	CountActive(ctx context.Context, tx Tx, identity model.Identity) (int, error)

	// MarkCanceled conditionally transitions a non-terminal run to canceled
	// and returns the resulting run. It returns (run, false, nil) when the
	// run was already terminal.
	MarkCanceled(ctx context.Context, tx Tx, id string, identity model.Identity) (*model.Run, bool, error)

	// UpdateStatus applies the transition only while the run is non-terminal.
	// The returned bool reports whether a row actually changed.
	UpdateStatus(ctx context.Context, tx Tx, id string, identity model.Identity, tr StatusTransition) (bool, error)

	List(ctx context.Context, tx Tx, identity model.Identity, opts ListOptions) ([]*model.Run, int, error)
}
