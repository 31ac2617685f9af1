// Package orchestrator owns the job lifecycle: locking, URL extraction,
// dispatch, and the final status transition.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/seoforge/url-indexer/internal/indexer"
	"github.com/seoforge/url-indexer/internal/jobqueue"
)

var (
	// ErrAlreadyProcessing means this process is already running the job.
	ErrAlreadyProcessing = errors.New("job is already being processed")
	// ErrNotEligible means the job is not in a startable state.
	ErrNotEligible = errors.New("job is not eligible for processing")
)

// Runner executes the submission loop for a locked job.
type Runner interface {
	Run(ctx context.Context, job indexer.Job, subs []indexer.Submission) error
}

// Orchestrator processes jobs end to end. The in-memory inflight set guards
// against duplicate processing within this process; the store's conditional
// lock guards across processes.
type Orchestrator struct {
	store       indexer.Store
	queue       *jobqueue.Queue
	runner      Runner
	broadcaster indexer.Broadcaster
	clock       indexer.Clock
	logger      *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New wires an Orchestrator.
func New(store indexer.Store, queue *jobqueue.Queue, runner Runner, broadcaster indexer.Broadcaster, clock indexer.Clock, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:       store,
		queue:       queue,
		runner:      runner,
		broadcaster: broadcaster,
		clock:       clock,
		logger:      logger,
		inflight:    make(map[string]struct{}),
	}
}

// Process runs one job to a terminal state. A job that pauses mid-run is a
// normal outcome, not an error. Quota exhaustion pauses; only validation
// failures and unexpected errors fail the job.
func (o *Orchestrator) Process(ctx context.Context, jobID string) error {
	if !o.acquire(jobID) {
		return ErrAlreadyProcessing
	}
	defer o.release(jobID)

	locked, err := o.queue.Lock(ctx, jobID)
	if err != nil {
		return fmt.Errorf("lock job %s: %w", jobID, err)
	}
	if !locked {
		job, err := o.store.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("get job %s: %w", jobID, err)
		}
		if job.Status != indexer.JobStatusRunning {
			return fmt.Errorf("%w: job %s is %s", ErrNotEligible, jobID, job.Status)
		}
		// Running but nobody in this process owns it: an earlier run was
		// interrupted. Adopt it and resume from the pending rows.
		o.logger.Info("adopting interrupted job", zap.String("job_id", jobID))
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job %s: %w", jobID, err)
	}
	if o.broadcaster != nil {
		o.broadcaster.JobStatusChanged(ctx, job.OwnerID, job)
	}
	o.logger.Info("processing job",
		zap.String("job_id", job.ID),
		zap.String("owner_id", job.OwnerID),
		zap.String("kind", string(job.Kind)),
	)

	urls, err := o.queue.ExtractURLs(ctx, job)
	if err != nil {
		return o.fail(ctx, job, fmt.Errorf("extract urls: %w", err))
	}
	subs, err := o.queue.MaterializeSubmissions(ctx, job, urls)
	if err != nil {
		return o.fail(ctx, job, fmt.Errorf("materialize submissions: %w", err))
	}
	// Reload so the runner starts from the persisted counters, which
	// MaterializeSubmissions may have reset.
	job, err = o.store.GetJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("get job %s: %w", jobID, err)
	}

	if err := o.runner.Run(ctx, job, subs); err != nil {
		return o.fail(ctx, job, fmt.Errorf("dispatch: %w", err))
	}

	return o.finalize(ctx, job)
}

// finalize inspects the post-run state. Paused stays paused; a job still
// running has exhausted its pending rows and completes.
func (o *Orchestrator) finalize(ctx context.Context, job indexer.Job) error {
	current, err := o.store.GetJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("get job %s: %w", job.ID, err)
	}
	switch current.Status {
	case indexer.JobStatusRunning:
		now := o.clock.Now()
		if err := o.store.UpdateJobStatus(ctx, job.ID, indexer.JobStatusCompleted, "", &now); err != nil {
			return fmt.Errorf("complete job %s: %w", job.ID, err)
		}
		current.Status = indexer.JobStatusCompleted
		current.CompletedAt = &now
		if o.broadcaster != nil {
			o.broadcaster.JobStatusChanged(ctx, job.OwnerID, current)
		}
		o.logger.Info("job completed",
			zap.String("job_id", job.ID),
			zap.Int("succeeded", current.Counters.Succeeded),
			zap.Int("failed", current.Counters.Failed),
		)
		return nil
	case indexer.JobStatusPaused:
		o.logger.Info("job paused mid-run", zap.String("job_id", job.ID), zap.String("reason", current.StatusReason))
		return nil
	default:
		o.logger.Warn("job ended run in unexpected state",
			zap.String("job_id", job.ID),
			zap.String("status", string(current.Status)),
		)
		return nil
	}
}

// fail records the failure even when the surrounding context was cancelled;
// losing the status write would strand the job in running forever.
func (o *Orchestrator) fail(ctx context.Context, job indexer.Job, cause error) error {
	writeCtx := context.WithoutCancel(ctx)
	now := o.clock.Now()
	reason := cause.Error()
	if err := o.store.UpdateJobStatus(writeCtx, job.ID, indexer.JobStatusFailed, reason, &now); err != nil {
		o.logger.Error("failed to record job failure",
			zap.String("job_id", job.ID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return fmt.Errorf("record failure of job %s: %v (cause: %w)", job.ID, err, cause)
	}
	job.Status = indexer.JobStatusFailed
	job.StatusReason = reason
	job.CompletedAt = &now
	if o.broadcaster != nil {
		o.broadcaster.JobStatusChanged(writeCtx, job.OwnerID, job)
	}
	o.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(cause))
	return cause
}

func (o *Orchestrator) acquire(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[jobID]; busy {
		return false
	}
	o.inflight[jobID] = struct{}{}
	return true
}

func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, jobID)
}
