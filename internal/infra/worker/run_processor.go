// File: internal/infra/worker/run_processor.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

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
	"sql-run-service/internal/usecase"
)

// RunProcessor drives runs through queued → running → (poll loop) →
// ready/failed/canceled. It is an explicit state machine over repeated
// message dispatch: the poll loop lives in the queue, not in a goroutine,
// so one process multiplexes many in-flight runs.
type RunProcessor struct {
	runs   repository.RunRepository
	jobs   queue.JobQueue
	events stream.StatusChannel
	engine adapter.QueryEngineAdapter
	enc    usecase.Encryptor
	cfg    config.WorkerConfig
	log    *zerolog.Logger
}

func NewRunProcessor(
	runs repository.RunRepository,
	jobs queue.JobQueue,
	events stream.StatusChannel,
	engine adapter.QueryEngineAdapter,
	enc usecase.Encryptor,
	cfg config.WorkerConfig,
	log *zerolog.Logger,
) *RunProcessor {
	return &RunProcessor{
		runs:   runs,
		jobs:   jobs,
		events: events,
		engine: engine,
		enc:    enc,
		cfg:    cfg,
		log:    log,
	}
}

// Start consumes the queue until ctx is done. This should be run in a
// goroutine; the pool bounds handler concurrency.
func (p *RunProcessor) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Int("concurrency", p.cfg.Concurrency).Msg("run processor started")
	go p.sweepDeadLetters(ctx)

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("run processor stopping")
			return
		default:
		}

		msg, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrQueueEmpty) {
				p.log.Error().Err(err).Msg("dequeue failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.DequeueIdleDelay):
			}
			continue
		}

		m := msg
		_ = pool.Submit(func(ctx context.Context) error {
			p.handle(ctx, m)
			return nil
		})
	}
}

func (p *RunProcessor) handle(ctx context.Context, msg *queue.Message) {
	ctx = logging.WithRunID(ctx, msg.Job.RunID)
	log := logging.With(ctx, p.log).With().Str("kind", string(msg.Job.Kind)).Int("attempt", msg.Attempt).Logger()

	var err error
	switch msg.Job.Kind {
	case model.JobKindExecute:
		err = p.handleExecute(ctx, msg.Job)
	case model.JobKindPoll:
		err = p.handlePoll(ctx, msg.Job)
	default:
		log.Error().Msg("unknown job kind, dropping")
	}

	if err != nil {
		log.Error().Err(err).Msg("message handling failed, nacking")
		if nackErr := p.jobs.Nack(ctx, msg, err); nackErr != nil {
			log.Error().Err(nackErr).Msg("nack failed")
		}
		return
	}
	if ackErr := p.jobs.Ack(ctx, msg); ackErr != nil {
		log.Error().Err(ackErr).Msg("ack failed")
	}
}

// handleExecute performs the engine's multi-step submission protocol.
// Infra errors return non-nil so the queue retries the whole step; engine
// rejections convert the run to failed and are never retried.
func (p *RunProcessor) handleExecute(ctx context.Context, job model.JobMessage) error {
	run, err := p.runs.FindByID(ctx, repository.NoTX, job.RunID, job.Identity)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.log.Warn().Str("run_id", job.RunID).Msg("execute message for unknown run, dropping")
			return nil
		}
		return err
	}

	// Cancel race guard: the client may have canceled before we claimed
	// the message. The store already holds the terminal status; only the
	// event is owed.
	if run.Status.Terminal() {
		if run.Status == model.RunStatusCanceled {
			p.publish(ctx, model.NewStatusEvent(run.ID, model.RunStatusCanceled, "run canceled before execution"))
		}
		return nil
	}

	now := time.Now()
	changed, err := p.runs.UpdateStatus(ctx, repository.NoTX, run.ID, job.Identity, repository.StatusTransition{
		To:        model.RunStatusRunning,
		StartedAt: &now,
	})
	if err != nil {
		return err
	}
	if !changed {
		// Lost the race to a concurrent cancel.
		p.publish(ctx, model.NewStatusEvent(run.ID, model.RunStatusCanceled, "run canceled before execution"))
		return nil
	}
	p.publish(ctx, model.NewStatusEvent(run.ID, model.RunStatusRunning, "execution started"))

	sql, err := p.enc.Decrypt(job.SQLEncrypted)
	if err != nil {
		return p.failRun(ctx, job, fmt.Sprintf("could not recover query text: %v", err))
	}

	queryID, err := p.engineValidate(ctx, job, sql)
	if err != nil {
		return p.failRun(ctx, job, fmt.Sprintf("query validation failed: %v", err))
	}
	p.publish(ctx, model.NewStatusEvent(run.ID, model.RunStatusRunning, "query validated"))

	outputTable, err := p.engineCreateTarget(ctx, job)
	if err != nil {
		return p.failRun(ctx, job, fmt.Sprintf("output target provisioning failed: %v", err))
	}
	p.publish(ctx, model.NewStatusEvent(run.ID, model.RunStatusRunning, "output target provisioned"))

	taskID, err := p.engineExecute(ctx, job, queryID, outputTable)
	if err != nil {
		return p.failRun(ctx, job, fmt.Sprintf("query submission failed: %v", err))
	}
	handles := model.EngineHandles{TaskID: taskID, QueryID: queryID, OutputTable: outputTable}
	p.publish(ctx, model.NewStatusEvent(run.ID, model.RunStatusRunning, "submitted for execution"))

	if _, err := p.runs.UpdateStatus(ctx, repository.NoTX, run.ID, job.Identity, repository.StatusTransition{
		To:      model.RunStatusRunning,
		Handles: &handles,
	}); err != nil {
		return err
	}

	return p.jobs.Enqueue(ctx, model.JobMessage{
		Kind:          model.JobKindPoll,
		RunID:         run.ID,
		Identity:      job.Identity,
		Handles:       handles,
		PollCount:     1,
		PollStartedAt: time.Now(),
	}, queue.EnqueueOptions{
		Delay:       p.cfg.PollInterval,
		MaxAttempts: p.cfg.PollMaxAttempts,
		Backoff:     p.cfg.PollInterval,
	})
}

func (p *RunProcessor) handlePoll(ctx context.Context, job model.JobMessage) error {
	run, err := p.runs.FindByID(ctx, repository.NoTX, job.RunID, job.Identity)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	// Cancellation checkpoint: honored at the start of every poll.
	if run.Status.Terminal() {
		if run.Status == model.RunStatusCanceled {
			p.publish(ctx, model.NewStatusEvent(run.ID, model.RunStatusCanceled, "run canceled"))
		}
		return nil
	}

	st, err := p.engineJobStatus(ctx, job)
	if err != nil {
		// Transient engine trouble: keep polling until the ceiling.
		if time.Since(job.PollStartedAt) > p.cfg.PollCeiling {
			return p.failRun(ctx, job, fmt.Sprintf("query execution timed out after %s", p.cfg.PollCeiling))
		}
		return p.requeuePoll(ctx, job)
	}

	switch st.State {
	case adapter.JobStateComplete:
		now := time.Now()
		changed, err := p.runs.UpdateStatus(ctx, repository.NoTX, run.ID, job.Identity, repository.StatusTransition{
			To:          model.RunStatusReady,
			CompletedAt: &now,
		})
		if err != nil {
			return err
		}
		if !changed {
			p.publish(ctx, model.NewStatusEvent(run.ID, model.RunStatusCanceled, "run canceled"))
			return nil
		}
		p.publish(ctx, model.NewStatusEvent(run.ID, model.RunStatusReady, "results ready"))
		metrics.IncRunFinished(string(model.RunStatusReady))
		return nil

	case adapter.JobStateError:
		return p.failRun(ctx, job, "query engine reported failure: "+st.ErrorMessage)

	default:
		if time.Since(job.PollStartedAt) > p.cfg.PollCeiling {
			return p.failRun(ctx, job, fmt.Sprintf("query execution timed out after %s", p.cfg.PollCeiling))
		}
		return p.requeuePoll(ctx, job)
	}
}

func (p *RunProcessor) requeuePoll(ctx context.Context, job model.JobMessage) error {
	return p.jobs.Enqueue(ctx, model.JobMessage{
		Kind:          model.JobKindPoll,
		RunID:         job.RunID,
		Identity:      job.Identity,
		Handles:       job.Handles,
		PollCount:     job.PollCount + 1,
		PollStartedAt: job.PollStartedAt,
	}, queue.EnqueueOptions{
		Delay:       p.cfg.PollInterval,
		MaxAttempts: p.cfg.PollMaxAttempts,
		Backoff:     p.cfg.PollInterval,
	})
}

// failRun converts an execution failure into a terminal failed transition.
// The message is stored encrypted; the status event carries it readable.
func (p *RunProcessor) failRun(ctx context.Context, job model.JobMessage, message string) error {
	encMsg, err := p.enc.Encrypt(message)
	if err != nil {
		return fmt.Errorf("encrypt error message: %w", err)
	}
	now := time.Now()
	changed, err := p.runs.UpdateStatus(ctx, repository.NoTX, job.RunID, job.Identity, repository.StatusTransition{
		To:           model.RunStatusFailed,
		ErrorMessage: encMsg,
		CompletedAt:  &now,
	})
	if err != nil {
		return err
	}
	if !changed {
		// Canceled underneath us; the cancel path already owns the event.
		return nil
	}

	ev := model.NewStatusEvent(job.RunID, model.RunStatusFailed, "execution failed")
	ev.ErrorMessage = message
	p.publish(ctx, ev)
	metrics.IncRunFinished(string(model.RunStatusFailed))
	p.log.Warn().Str("run_id", job.RunID).Str("reason", message).Msg("run failed")
	return nil
}

// sweepDeadLetters marks runs whose execute message exhausted delivery
// retries as failed, so they do not stay queued forever from the client's
// point of view.
func (p *RunProcessor) sweepDeadLetters(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.DeadLetterSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs, err := p.jobs.DeadLetters(ctx, 50)
			if err != nil {
				p.log.Error().Err(err).Msg("dead-letter sweep failed")
				continue
			}
			for _, msg := range msgs {
				reason := "execution was abandoned after repeated delivery failures"
				if err := p.failRun(ctx, msg.Job, reason); err != nil {
					p.log.Error().Err(err).Str("run_id", msg.Job.RunID).Msg("dead-letter fail transition failed")
				}
			}
		}
	}
}

func (p *RunProcessor) publish(ctx context.Context, ev model.StatusEvent) {
	if err := p.events.Publish(ctx, ev); err != nil {
		p.log.Warn().Err(err).Str("run_id", ev.RunID).Msg("status publish failed")
	}
}

func (p *RunProcessor) engineValidate(ctx context.Context, job model.JobMessage, sql string) (string, error) {
	start := time.Now()
	queryID, err := p.engine.Validate(ctx, job.Identity, sql, job.ColumnHints)
	metrics.ObserveEngineCall("validate", int(time.Since(start)/time.Millisecond), err == nil)
	return queryID, err
}

func (p *RunProcessor) engineCreateTarget(ctx context.Context, job model.JobMessage) (string, error) {
	start := time.Now()
	table, err := p.engine.CreateTarget(ctx, job.Identity, job.RunID)
	metrics.ObserveEngineCall("create_target", int(time.Since(start)/time.Millisecond), err == nil)
	return table, err
}

func (p *RunProcessor) engineExecute(ctx context.Context, job model.JobMessage, queryID, outputTable string) (string, error) {
	start := time.Now()
	taskID, err := p.engine.Execute(ctx, job.Identity, queryID, outputTable)
	metrics.ObserveEngineCall("execute", int(time.Since(start)/time.Millisecond), err == nil)
	return taskID, err
}

func (p *RunProcessor) engineJobStatus(ctx context.Context, job model.JobMessage) (adapter.JobStatus, error) {
	start := time.Now()
	st, err := p.engine.JobStatus(ctx, job.Identity, job.Handles)
	metrics.ObserveEngineCall("job_status", int(time.Since(start)/time.Millisecond), err == nil)
	return st, err
}
