package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"export-worker-service/internal/entity"
	"export-worker-service/internal/errclass"
	"export-worker-service/internal/repository"
	"export-worker-service/internal/retry"
	"export-worker-service/internal/service"
)

// Store port used by the executor (implementation: the repository drivers).
type JobStore interface {
	Claim(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	SetStage(ctx context.Context, id uuid.UUID, stage string) error
	UpdateProgress(ctx context.Context, id uuid.UUID, p entity.Progress) error
	Complete(ctx context.Context, id uuid.UUID, res entity.Result, meta entity.RunMetadata) error
	Fail(ctx context.Context, id uuid.UUID, e entity.ExportError, meta entity.RunMetadata) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, e entity.ExportError, nextRetryAt time.Time, meta entity.RunMetadata) error
}

// DelayedQueue re-presents a retried job no earlier than its nextRetryAt.
type DelayedQueue interface {
	EnqueueAt(ctx context.Context, jobID string, at time.Time) error
}

// Processor drives one job through its state machine: claim, dispatch,
// observe, classify, retry or finalize.
type Processor struct {
	store     JobStore
	queue     DelayedQueue
	notifier  service.Notifier
	producers Registry
	policy    retry.Policy
	now       func() time.Time
}

func NewProcessor(store JobStore, queue DelayedQueue, notifier service.Notifier, producers Registry, policy retry.Policy) *Processor {
	return &Processor{
		store:     store,
		queue:     queue,
		notifier:  notifier,
		producers: producers,
		policy:    policy,
		now:       time.Now,
	}
}

func (p *Processor) Process(ctx context.Context, jobID string) error {
	id, err := uuid.Parse(jobID)
	if err != nil {
		log.Printf("[worker] job_id=%s parse_error=%v", jobID, err)
		return err
	}

	job, err := p.store.Claim(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotClaimable) {
			// another worker owns it, or it is no longer eligible
			return nil
		}
		log.Printf("[worker] job_id=%s claim_error=%v", id, err)
		return err
	}

	start := p.now()
	p.notify(service.EventStarted, job, service.EventMessage(service.EventStarted, job.Spec.Kind))

	if err := p.store.SetStage(ctx, id, entity.StageProcessing); err != nil {
		log.Printf("[worker] job_id=%s set_stage_error=%v", id, err)
	}

	result, produceErr := p.dispatch(ctx, job)

	end := p.now()
	meta := entity.RunMetadata{
		StartTime:  &start,
		EndTime:    &end,
		DurationMs: end.Sub(start).Milliseconds(),
	}

	// Cancellation is cooperative: if the job was cancelled while the
	// producer ran, whatever it returned is discarded.
	if cur, err := p.store.GetByID(ctx, id); err == nil && cur.Status == entity.StatusCancelled {
		log.Printf("[worker] job_id=%s status=cancelled result_discarded=%t", id, produceErr == nil)
		return nil
	}

	if produceErr != nil {
		return p.handleFailure(ctx, job, produceErr, meta)
	}

	if err := p.store.Complete(ctx, id, *result, meta); err != nil {
		log.Printf("[worker] job_id=%s complete_error=%v", id, err)
		return err
	}
	p.notify(service.EventCompleted, job, service.EventMessage(service.EventCompleted, job.Spec.Kind))
	log.Printf("[worker] job_id=%s kind=%s status=completed duration_ms=%d", id, job.Spec.Kind, meta.DurationMs)
	return nil
}

func (p *Processor) dispatch(ctx context.Context, job *entity.Job) (*entity.Result, error) {
	producer, ok := p.producers[job.Spec.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown export kind: %s", job.Spec.Kind)
	}
	return producer.Produce(ctx, job, func(total, completed int, stage string) {
		pr := entity.Progress{Stage: stage}
		pr.SetUnits(total, completed)
		if err := p.store.UpdateProgress(ctx, job.ID, pr); err != nil {
			log.Printf("[worker] job_id=%s update_progress_error=%v", job.ID, err)
		}
	})
}

// handleFailure classifies the failure, asks the retry policy for a decision,
// and persists the outcome. A failure while persisting degrades to an
// unconditional failed transition so the job never sticks in processing.
func (p *Processor) handleFailure(ctx context.Context, job *entity.Job, cause error, meta entity.RunMetadata) error {
	cls := errclass.Classify(cause.Error(), errclass.CodeOf(cause))

	code := errclass.CodeOf(cause)
	if code == "" {
		code = strings.ToUpper(string(cls.Category)) + "_ERROR"
	}
	jobErr := entity.ExportError{
		Code:            code,
		Category:        string(cls.Category),
		Severity:        string(cls.Severity),
		Retryable:       cls.Retryable,
		UserMessage:     cls.UserMessage,
		TechnicalDetail: cause.Error(),
		OccurredAt:      p.now(),
	}

	policy := p.policy
	if job.Retry.BackoffMultiplier > 0 {
		policy.Multiplier = job.Retry.BackoffMultiplier
	}
	decision := policy.Decide(cls, cause.Error(), job.Retry.Attempts, job.Retry.MaxAttempts)

	if decision.Retry {
		nextRetryAt := p.now().Add(decision.Delay)
		if err := p.store.ScheduleRetry(ctx, job.ID, jobErr, nextRetryAt, meta); err != nil {
			return p.failUnconditionally(ctx, job, meta, err)
		}
		if err := p.queue.EnqueueAt(ctx, job.ID.String(), nextRetryAt); err != nil {
			// the reaper will re-present it eventually; the store already
			// carries nextRetryAt so an early claim is rejected
			log.Printf("[worker] job_id=%s enqueue_retry_error=%v", job.ID, err)
		}
		p.notify(service.EventRetry, job, cls.UserMessage)
		log.Printf("[worker] job_id=%s kind=%s status=retry attempt=%d category=%s delay_ms=%d",
			job.ID, job.Spec.Kind, job.Retry.Attempts+1, cls.Category, decision.Delay.Milliseconds())
		return cause
	}

	if err := p.store.Fail(ctx, job.ID, jobErr, meta); err != nil {
		return p.failUnconditionally(ctx, job, meta, err)
	}
	p.notify(service.EventFailed, job, cls.UserMessage)
	log.Printf("[worker] job_id=%s kind=%s status=failed attempts=%d category=%s retryable=%t",
		job.ID, job.Spec.Kind, job.Retry.Attempts, cls.Category, cls.Retryable)
	return cause
}

// failUnconditionally is the secondary-failure path: the error handler itself
// failed, so force the terminal state with a generic code.
func (p *Processor) failUnconditionally(ctx context.Context, job *entity.Job, meta entity.RunMetadata, handlerErr error) error {
	log.Printf("[worker] job_id=%s handler_error=%v", job.ID, handlerErr)
	fallback := entity.ExportError{
		Code:        "HANDLER_ERROR",
		Category:    string(errclass.CategoryUnknown),
		Severity:    string(errclass.SeverityHigh),
		UserMessage: "An error occurred while processing the export error. Please contact support.",
		OccurredAt:  p.now(),
	}
	if err := p.store.Fail(ctx, job.ID, fallback, meta); err != nil {
		log.Printf("[worker] job_id=%s fallback_fail_error=%v", job.ID, err)
	}
	p.notify(service.EventFailed, job, fallback.UserMessage)
	return handlerErr
}

// notify is best-effort; the notifier itself is non-blocking and swallows
// delivery errors, so a transition never aborts because of it.
func (p *Processor) notify(ev service.EventType, job *entity.Job, message string) {
	if p.notifier == nil {
		return
	}
	status := job.Status
	switch ev {
	case service.EventCompleted:
		status = entity.StatusCompleted
	case service.EventFailed:
		status = entity.StatusFailed
	case service.EventRetry:
		status = entity.StatusPending
	case service.EventStarted:
		status = entity.StatusProcessing
	}
	p.notifier.Notify(service.Notification{
		Event:     ev,
		JobID:     job.ID.String(),
		Owner:     job.Owner,
		Status:    status,
		Message:   message,
		ActionURL: "/exports/" + job.ID.String(),
	})
}
