// File: internal/usecase/run_uc.go
package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"sql-run-service/internal/config"
	"sql-run-service/internal/domain"
	"sql-run-service/internal/domain/model"
	"sql-run-service/internal/domain/ports/adapter"
	"sql-run-service/internal/domain/ports/queue"
	"sql-run-service/internal/domain/ports/repository"
	"sql-run-service/internal/domain/ports/stream"
	"sql-run-service/internal/infra/logging"
	"sql-run-service/internal/infra/metrics"
)

// Encryptor is the secret-encryption primitive consumed by the pipeline.
// Satisfied by security.EncryptionService.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// CancelResult reports the outcome of a cancel request. Canceling an
// already-terminal run is a no-op, not an error.
type CancelResult struct {
	Run              *model.Run
	AlreadyCompleted bool
	Message          string
}

// Compile-time check
var _ RunUseCase = (*runUC)(nil)

type RunUseCase interface {
	SubmitRun(ctx context.Context, identity model.Identity, sql, snippetName string, hints []model.ColumnHint) (*model.Run, error)
	GetRunStatus(ctx context.Context, identity model.Identity, runID string) (*model.Run, error)
	CancelRun(ctx context.Context, identity model.Identity, runID string) (*CancelResult, error)
	GetResults(ctx context.Context, identity model.Identity, runID string, page int) (*adapter.ResultPage, error)
	ListRuns(ctx context.Context, identity model.Identity, opts repository.ListOptions) ([]*model.Run, int, error)
}

type runUC struct {
	runs   repository.RunRepository
	tm     repository.TransactionManager
	jobs   queue.JobQueue
	events stream.StatusChannel
	engine adapter.QueryEngineAdapter
	enc    Encryptor
	limits config.LimitsConfig
	retry  config.QueueConfig
	log    *zerolog.Logger
}

func NewRunUseCase(
	runs repository.RunRepository,
	tm repository.TransactionManager,
	jobs queue.JobQueue,
	events stream.StatusChannel,
	engine adapter.QueryEngineAdapter,
	enc Encryptor,
	limits config.LimitsConfig,
	retry config.QueueConfig,
	log *zerolog.Logger,
) *runUC {
	return &runUC{
		runs:   runs,
		tm:     tm,
		jobs:   jobs,
		events: events,
		engine: engine,
		enc:    enc,
		limits: limits,
		retry:  retry,
		log:    log,
	}
}

const maxResultsPage = 50

func (u *runUC) SubmitRun(ctx context.Context, identity model.Identity, sql, snippetName string, hints []model.ColumnHint) (*model.Run, error) {
	defer logging.TraceDuration(u.log, "RunUC.SubmitRun")()

	if !identity.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return nil, domain.ErrInvalidArgument
	}

	// Count-then-create is deliberately not atomic: minor over-admission
	// under a concurrent burst beats locking every submission.
	active, err := u.runs.CountActive(ctx, repository.NoTX, identity)
	if err != nil {
		return nil, err
	}
	if active >= u.limits.MaxActiveRuns {
		metrics.IncRunRejected()
		return nil, domain.ErrRateLimitExceeded
	}

	hash := sha256.Sum256([]byte(sql))
	run := model.NewRun(ulid.Make().String(), identity, snippetName, hex.EncodeToString(hash[:]))
	if err := u.runs.Save(ctx, repository.NoTX, run); err != nil {
		return nil, err
	}

	encSQL, err := u.enc.Encrypt(sql)
	if err != nil {
		u.abortRun(ctx, run, "submission failed before execution could start")
		return nil, fmt.Errorf("%w: encrypt sql", domain.ErrInternal)
	}

	err = u.jobs.Enqueue(ctx, model.JobMessage{
		Kind:         model.JobKindExecute,
		RunID:        run.ID,
		Identity:     identity,
		SQLEncrypted: encSQL,
		ColumnHints:  hints,
	}, queue.EnqueueOptions{
		IdempotencyKey: run.ID,
		MaxAttempts:    u.retry.ExecuteMaxAttempts,
		Backoff:        u.retry.ExecuteBackoff,
	})
	if err != nil {
		u.abortRun(ctx, run, "submission failed before execution could start")
		return nil, fmt.Errorf("%w: enqueue execute", domain.ErrInternal)
	}

	if err := u.events.Publish(ctx, model.NewStatusEvent(run.ID, model.RunStatusQueued, "run accepted")); err != nil {
		u.log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to publish queued event")
	}

	metrics.IncRunSubmitted()
	u.log.Info().Str("run_id", run.ID).Str("tenant_id", identity.TenantID).Msg("run submitted")
	return run, nil
}

// abortRun closes out a run whose execute message never reached the queue.
// Left as queued it would hold an admission slot with nothing to advance it.
func (u *runUC) abortRun(ctx context.Context, run *model.Run, reason string) {
	encMsg, err := u.enc.Encrypt(reason)
	if err != nil {
		encMsg = ""
	}
	now := time.Now()
	changed, err := u.runs.UpdateStatus(ctx, repository.NoTX, run.ID, run.Identity, repository.StatusTransition{
		To:           model.RunStatusFailed,
		ErrorMessage: encMsg,
		CompletedAt:  &now,
	})
	if err != nil {
		u.log.Error().Err(err).Str("run_id", run.ID).Msg("failed to abort run")
		return
	}
	if !changed {
		return
	}

	ev := model.NewStatusEvent(run.ID, model.RunStatusFailed, "submission failed")
	ev.ErrorMessage = reason
	if err := u.events.Publish(ctx, ev); err != nil {
		u.log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to publish aborted event")
	}
	metrics.IncRunFinished(string(model.RunStatusFailed))
}

func (u *runUC) GetRunStatus(ctx context.Context, identity model.Identity, runID string) (*model.Run, error) {
	run, err := u.runs.FindByID(ctx, repository.NoTX, runID, identity)
	if err != nil {
		return nil, err
	}
	u.decryptError(run)
	return run, nil
}

func (u *runUC) CancelRun(ctx context.Context, identity model.Identity, runID string) (*CancelResult, error) {
	defer logging.TraceDuration(u.log, "RunUC.CancelRun")()

	// The conditional UPDATE and the follow-up read must observe the same
	// row version, so both run inside one transaction.
	var (
		run     *model.Run
		changed bool
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		run, changed, err = u.runs.MarkCanceled(ctx, tx, runID, identity)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		u.decryptError(run)
		return &CancelResult{
			Run:              run,
			AlreadyCompleted: true,
			Message:          fmt.Sprintf("run already completed with status %s", run.Status),
		}, nil
	}

	ev := model.NewStatusEvent(runID, model.RunStatusCanceled, "run canceled by user")
	if err := u.events.Publish(ctx, ev); err != nil {
		u.log.Warn().Err(err).Str("run_id", runID).Msg("failed to publish canceled event")
	}
	metrics.IncRunFinished(string(model.RunStatusCanceled))
	u.log.Info().Str("run_id", runID).Msg("run canceled")
	return &CancelResult{Run: run, Message: "run canceled"}, nil
}

func (u *runUC) GetResults(ctx context.Context, identity model.Identity, runID string, page int) (*adapter.ResultPage, error) {
	if page < 1 || page > maxResultsPage {
		return nil, domain.ErrInvalidArgument
	}
	run, err := u.runs.FindByID(ctx, repository.NoTX, runID, identity)
	if err != nil {
		return nil, err
	}
	switch run.Status {
	case model.RunStatusReady:
		// fall through to fetch
	case model.RunStatusFailed:
		msg := "execution failed"
		if dec, err := u.enc.Decrypt(run.ErrorMessage); err == nil && dec != "" {
			msg = dec
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidState, msg)
	default:
		return nil, fmt.Errorf("%w: run is %s", domain.ErrInvalidState, run.Status)
	}

	resp, err := u.engine.FetchResults(ctx, identity, run.Handles, page)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch results", domain.ErrInternal)
	}
	return resp, nil
}

func (u *runUC) ListRuns(ctx context.Context, identity model.Identity, opts repository.ListOptions) ([]*model.Run, int, error) {
	runs, total, err := u.runs.List(ctx, repository.NoTX, identity, opts)
	if err != nil {
		return nil, 0, err
	}
	for _, run := range runs {
		u.decryptError(run)
	}
	return runs, total, nil
}

// decryptError replaces the stored ciphertext with readable text for
// outward-facing views. Undecryptable ciphertext is left masked rather
// than surfaced raw.
func (u *runUC) decryptError(run *model.Run) {
	if run.ErrorMessage == "" {
		return
	}
	dec, err := u.enc.Decrypt(run.ErrorMessage)
	if err != nil {
		u.log.Warn().Str("run_id", run.ID).Msg("stored error message could not be decrypted")
		run.ErrorMessage = "execution failed"
		return
	}
	run.ErrorMessage = dec
}
