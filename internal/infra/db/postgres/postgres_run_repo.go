package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"sql-run-service/internal/domain"
	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/domain/ports/repository"
)

var _ repository.RunRepository = (*runRepo)(nil)

type runRepo struct{ pool *pgxpool.Pool }

func NewRunRepo(pool *pgxpool.Pool) *runRepo {
	return &runRepo{pool: pool}
}

const runColumns = `id, tenant_id, business_unit_id, user_id, snippet_name, sql_hash, status,
  error_message, engine_task_id, engine_query_id, output_table, created_at, started_at, completed_at`

func (r *runRepo) Save(ctx context.Context, tx repository.Tx, run *model.Run) error {
	const q = `
INSERT INTO runs (
  id, tenant_id, business_unit_id, user_id, snippet_name, sql_hash, status,
  error_message, engine_task_id, engine_query_id, output_table, created_at, started_at, completed_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
) ON CONFLICT (id) DO UPDATE SET
  snippet_name=$5, sql_hash=$6, status=$7, error_message=$8,
  engine_task_id=$9, engine_query_id=$10, output_table=$11, started_at=$13, completed_at=$14;`

	_, err := execSQL(ctx, r.pool, tx, q,
		run.ID, run.Identity.TenantID, run.Identity.BusinessUnitID, run.Identity.UserID,
		run.SnippetName, run.SQLHash, string(run.Status), run.ErrorMessage,
		run.Handles.TaskID, run.Handles.QueryID, run.Handles.OutputTable,
		run.CreatedAt, run.StartedAt, run.CompletedAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *runRepo) FindByID(ctx context.Context, tx repository.Tx, id string, identity model.Identity) (*model.Run, error) {
	// Ownership is part of the lookup key: a run outside the caller's
	// identity triple simply does not exist from their point of view.
	q := `SELECT ` + runColumns + ` FROM runs
WHERE id=$1 AND tenant_id=$2 AND business_unit_id=$3 AND user_id=$4;`

	row, err := pickRow(ctx, r.pool, tx, q, id, identity.TenantID, identity.BusinessUnitID, identity.UserID)
	if err != nil {
		return nil, err
	}
	return scanRun(row)
}

func (r *runRepo) CountActive(ctx context.Context, tx repository.Tx, identity model.Identity) (int, error) {
	const q = `
SELECT COUNT(*) FROM runs
WHERE tenant_id=$1 AND business_unit_id=$2 AND user_id=$3
  AND status NOT IN ('ready','failed','canceled');`

	row, err := pickRow(ctx, r.pool, tx, q, identity.TenantID, identity.BusinessUnitID, identity.UserID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *runRepo) MarkCanceled(ctx context.Context, tx repository.Tx, id string, identity model.Identity) (*model.Run, bool, error) {
	const q = `
UPDATE runs SET status='canceled', completed_at=$5
WHERE id=$1 AND tenant_id=$2 AND business_unit_id=$3 AND user_id=$4
  AND status NOT IN ('ready','failed','canceled');`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, identity.TenantID, identity.BusinessUnitID, identity.UserID, time.Now())
	if err != nil {
		return nil, false, domain.ErrOperationFailed
	}
	changed := cmd.RowsAffected() > 0

	run, err := r.FindByID(ctx, tx, id, identity)
	if err != nil {
		return nil, false, err
	}
	return run, changed, nil
}

func (r *runRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, identity model.Identity, tr repository.StatusTransition) (bool, error) {
	// The non-terminal guard is the system's sole defense against the
	// cancel-vs-worker race: a late worker write hits zero rows.
	const q = `
UPDATE runs SET
  status=$5,
  error_message = CASE WHEN $6 <> '' THEN $6 ELSE error_message END,
  engine_task_id = CASE WHEN $7 <> '' THEN $7 ELSE engine_task_id END,
  engine_query_id = CASE WHEN $8 <> '' THEN $8 ELSE engine_query_id END,
  output_table = CASE WHEN $9 <> '' THEN $9 ELSE output_table END,
  started_at = COALESCE(started_at, $10),
  completed_at = COALESCE(completed_at, $11)
WHERE id=$1 AND tenant_id=$2 AND business_unit_id=$3 AND user_id=$4
  AND status NOT IN ('ready','failed','canceled');`

	var taskID, queryID, outputTable string
	if tr.Handles != nil {
		taskID, queryID, outputTable = tr.Handles.TaskID, tr.Handles.QueryID, tr.Handles.OutputTable
	}
	cmd, err := execSQL(ctx, r.pool, tx, q,
		id, identity.TenantID, identity.BusinessUnitID, identity.UserID,
		string(tr.To), tr.ErrorMessage, taskID, queryID, outputTable,
		tr.StartedAt, tr.CompletedAt)
	if err != nil {
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *runRepo) List(ctx context.Context, tx repository.Tx, identity model.Identity, opts repository.ListOptions) ([]*model.Run, int, error) {
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.PageSize <= 0 || opts.PageSize > 100 {
		opts.PageSize = 50
	}
	sortCol := "created_at"
	switch opts.SortBy {
	case "completed_at", "snippet_name", "created_at", "":
		if opts.SortBy != "" {
			sortCol = opts.SortBy
		}
	default:
		return nil, 0, domain.ErrInvalidArgument
	}
	dir := "ASC"
	if opts.SortDesc {
		dir = "DESC"
	}

	countRow, err := pickRow(ctx, r.pool, tx,
		`SELECT COUNT(*) FROM runs WHERE tenant_id=$1 AND business_unit_id=$2 AND user_id=$3;`,
		identity.TenantID, identity.BusinessUnitID, identity.UserID)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, domain.ErrReadDatabaseRow
	}

	q := fmt.Sprintf(`SELECT `+runColumns+` FROM runs
WHERE tenant_id=$1 AND business_unit_id=$2 AND user_id=$3
ORDER BY %s %s LIMIT $4 OFFSET $5;`, sortCol, dir)

	rows, err := pickRows(ctx, r.pool, tx, q,
		identity.TenantID, identity.BusinessUnitID, identity.UserID,
		opts.PageSize, (opts.Page-1)*opts.PageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, run)
	}
	if rows.Err() != nil {
		return nil, 0, domain.ErrReadDatabaseRow
	}
	return out, total, nil
}

func scanRun(row pgx.Row) (*model.Run, error) {
	run := &model.Run{}
	var status string
	err := row.Scan(
		&run.ID, &run.Identity.TenantID, &run.Identity.BusinessUnitID, &run.Identity.UserID,
		&run.SnippetName, &run.SQLHash, &status, &run.ErrorMessage,
		&run.Handles.TaskID, &run.Handles.QueryID, &run.Handles.OutputTable,
		&run.CreatedAt, &run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, scanErr(err)
	}
	run.Status = model.RunStatus(status)
	return run, nil
}
