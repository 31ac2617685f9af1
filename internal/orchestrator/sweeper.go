package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seoforge/url-indexer/internal/indexer"
)

// QuotaReader reports remaining daily capacity for an account.
type QuotaReader interface {
	Remaining(ctx context.Context, account indexer.Account) (int, error)
}

// Processor kicks off processing for one job.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// Sweeper periodically reactivates accounts whose daily quota has reset and
// resumes the paused jobs that were waiting on them.
type Sweeper struct {
	store     indexer.Store
	quota     QuotaReader
	processor Processor
	interval  time.Duration
	logger    *zap.Logger
}

// NewSweeper wires a Sweeper. Interval defaults to five minutes.
func NewSweeper(store indexer.Store, quota QuotaReader, processor Processor, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:     store,
		quota:     quota,
		processor: processor,
		interval:  interval,
		logger:    logger,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep reactivates eligible accounts, then flips paused jobs whose owner
// has active capacity back to pending and re-processes them.
func (s *Sweeper) Sweep(ctx context.Context) error {
	if err := s.reactivateAccounts(ctx); err != nil {
		return err
	}
	return s.resumePausedJobs(ctx)
}

func (s *Sweeper) reactivateAccounts(ctx context.Context) error {
	inactive, err := s.store.ListInactiveAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list inactive accounts: %w", err)
	}
	for _, account := range inactive {
		remaining, err := s.quota.Remaining(ctx, account)
		if err != nil {
			s.logger.Warn("remaining quota check failed",
				zap.String("account_id", account.ID),
				zap.Error(err),
			)
			continue
		}
		if remaining <= 0 {
			continue
		}
		if err := s.store.SetAccountActive(ctx, account.ID, true); err != nil {
			s.logger.Warn("account reactivation failed",
				zap.String("account_id", account.ID),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("reactivated account",
			zap.String("account_id", account.ID),
			zap.Int("remaining", remaining),
		)
	}
	return nil
}

func (s *Sweeper) resumePausedJobs(ctx context.Context) error {
	paused, err := s.store.ListJobsByStatus(ctx, indexer.JobStatusPaused)
	if err != nil {
		return fmt.Errorf("list paused jobs: %w", err)
	}
	for _, job := range paused {
		accounts, err := s.store.ListActiveAccounts(ctx, job.OwnerID)
		if err != nil {
			s.logger.Warn("active account lookup failed",
				zap.String("owner_id", job.OwnerID),
				zap.Error(err),
			)
			continue
		}
		if len(accounts) == 0 {
			continue
		}
		if err := s.store.UpdateJobStatus(ctx, job.ID, indexer.JobStatusPending, "resuming after quota reset", nil); err != nil {
			s.logger.Warn("job resume transition failed",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("resuming paused job", zap.String("job_id", job.ID))
		if err := s.processor.Process(ctx, job.ID); err != nil {
			if errors.Is(err, ErrAlreadyProcessing) || errors.Is(err, ErrNotEligible) {
				continue
			}
			s.logger.Warn("resumed job processing failed",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}
