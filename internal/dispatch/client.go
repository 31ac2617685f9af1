// Package dispatch drives the submission loop: round-robin across the
// owner's active accounts, per-account rate limiting, retries, and quota
// containment.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seoforge/url-indexer/internal/indexer"
)

// QuotaManager is the slice of quota accounting the loop needs.
type QuotaManager interface {
	RecordUsage(ctx context.Context, accountID string, success bool) error
	ConsumeTenant(ctx context.Context, ownerID string, n int) error
	OnAccountQuotaExhausted(ctx context.Context, account indexer.Account) error
}

// Config tunes the submission loop.
type Config struct {
	// MinAccountInterval spaces submissions per account (default 1s).
	MinAccountInterval time.Duration
	// SubmissionDelay is the pause between consecutive submissions
	// regardless of account (default 100ms).
	SubmissionDelay time.Duration
	// ProgressEvery throttles progress broadcasts on large jobs: every Nth
	// submission (default 10). Jobs at or under VerboseThreshold broadcast
	// every submission.
	ProgressEvery    int
	VerboseThreshold int
	// NotificationType is sent with every submission (default URL_UPDATED).
	NotificationType string
}

func (c *Config) applyDefaults() {
	if c.MinAccountInterval <= 0 {
		c.MinAccountInterval = time.Second
	}
	if c.SubmissionDelay <= 0 {
		c.SubmissionDelay = 100 * time.Millisecond
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 10
	}
	if c.VerboseThreshold <= 0 {
		c.VerboseThreshold = 50
	}
	if c.NotificationType == "" {
		c.NotificationType = "URL_UPDATED"
	}
}

// Client processes a job's pending submissions.
type Client struct {
	cfg         Config
	store       indexer.Store
	api         indexer.IndexingAPI
	creds       indexer.CredentialProvider
	quota       QuotaManager
	limiter     *AccountLimiter
	retry       *indexer.RetryPolicy
	broadcaster indexer.Broadcaster
	clock       indexer.Clock
	logger      *zap.Logger
}

// NewClient wires the submission loop.
func NewClient(
	cfg Config,
	store indexer.Store,
	api indexer.IndexingAPI,
	creds indexer.CredentialProvider,
	quota QuotaManager,
	retry *indexer.RetryPolicy,
	broadcaster indexer.Broadcaster,
	clock indexer.Clock,
	logger *zap.Logger,
) *Client {
	cfg.applyDefaults()
	if retry == nil {
		retry = indexer.NewRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:         cfg,
		store:       store,
		api:         api,
		creds:       creds,
		quota:       quota,
		limiter:     NewAccountLimiter(cfg.MinAccountInterval),
		retry:       retry,
		broadcaster: broadcaster,
		clock:       clock,
		logger:      logger,
	}
}

// Run submits every pending row of the job, rotating across the owner's
// active accounts. The loop re-reads the job before each submission and
// stops as soon as the job leaves running, so a pause lands between
// submissions, never mid-flight. Returning nil does not mean the job
// completed; the caller decides the final status from the job's state.
func (c *Client) Run(ctx context.Context, job indexer.Job, subs []indexer.Submission) error {
	accounts, err := c.store.ListActiveAccounts(ctx, job.OwnerID)
	if err != nil {
		return fmt.Errorf("list active accounts: %w", err)
	}
	if len(accounts) == 0 {
		return indexer.NewError(indexer.ClassValidation, "owner %s has no active indexing accounts", job.OwnerID)
	}

	counters := job.Counters
	skips := 0
	for i, sub := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		current, err := c.store.GetJob(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("reload job %s: %w", job.ID, err)
		}
		if current.Status != indexer.JobStatusRunning {
			c.logger.Info("job left running state, stopping submission loop",
				zap.String("job_id", job.ID),
				zap.String("status", string(current.Status)),
			)
			return nil
		}

		account, token, ok := c.pickAccount(ctx, accounts, counters.Processed, &skips)
		if !ok {
			// Every account's credential failed this round; the row fails
			// without burning an API call.
			sub.Status = indexer.SubmissionFailed
			sub.ErrorText = "no account credential available: all active accounts were skipped"
			if err := c.store.UpdateSubmission(ctx, sub); err != nil {
				return fmt.Errorf("update submission %s: %w", sub.ID, err)
			}
			counters.Processed++
			counters.Failed++
			if err := c.flushProgress(ctx, job, current, counters, sub, i, len(subs)); err != nil {
				return err
			}
			continue
		}

		if err := c.limiter.Wait(ctx, account.ID); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		submitErr := c.submitWithRetry(ctx, &sub, token)

		if err := c.quota.RecordUsage(ctx, account.ID, submitErr == nil); err != nil {
			c.logger.Warn("usage accounting failed", zap.String("account_id", account.ID), zap.Error(err))
		}
		if err := c.quota.ConsumeTenant(ctx, job.OwnerID, 1); err != nil {
			c.logger.Warn("tenant quota accounting failed", zap.String("owner_id", job.OwnerID), zap.Error(err))
		}

		accountID := account.ID
		sub.AccountID = &accountID
		if submitErr == nil {
			sub.Status = indexer.SubmissionSubmitted
			sub.ErrorText = ""
			counters.Succeeded++
		} else {
			sub.Status = indexer.SubmissionFailed
			sub.ErrorText = submitErr.Error()
			counters.Failed++
		}
		counters.Processed++
		if err := c.store.UpdateSubmission(ctx, sub); err != nil {
			return fmt.Errorf("update submission %s: %w", sub.ID, err)
		}
		if err := c.flushProgress(ctx, job, current, counters, sub, i, len(subs)); err != nil {
			return err
		}

		if submitErr != nil && indexer.IsQuotaExhausted(submitErr) {
			// Contain the blast radius now; the next iteration's status
			// check sees the pause and stops the loop.
			if err := c.quota.OnAccountQuotaExhausted(ctx, account); err != nil {
				return fmt.Errorf("handle quota exhaustion for account %s: %w", account.ID, err)
			}
			continue
		}

		if i < len(subs)-1 {
			if err := sleepCtx(ctx, c.cfg.SubmissionDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// pickAccount walks the rotation starting at (processed+skips) until a
// credential resolves. Credential failures advance the skip offset so the
// same account is not retried forever; they never fail the job.
func (c *Client) pickAccount(ctx context.Context, accounts []indexer.Account, processed int, skips *int) (indexer.Account, string, bool) {
	for attempts := 0; attempts < len(accounts); attempts++ {
		idx := (processed + *skips) % len(accounts)
		account := accounts[idx]
		token, err := c.creds.Token(ctx, account)
		if err != nil {
			c.logger.Warn("credential resolution failed, skipping account",
				zap.String("account_id", account.ID),
				zap.Error(err),
			)
			*skips++
			continue
		}
		return account, token, true
	}
	return indexer.Account{}, "", false
}

// submitWithRetry calls the external API, retrying transient failures with
// backoff. Quota errors return immediately so exhaustion handling can run.
// RetryCount records every failed attempt, terminal ones included.
func (c *Client) submitWithRetry(ctx context.Context, sub *indexer.Submission, token string) error {
	req := indexer.SubmitRequest{
		URL:              sub.URL,
		NotificationType: c.cfg.NotificationType,
		Token:            token,
	}
	for {
		err := c.api.SubmitURL(ctx, req)
		if err == nil {
			return nil
		}
		if indexer.IsQuotaExhausted(err) || !c.retry.ShouldRetry(sub.RetryCount, err.Error()) {
			sub.RetryCount++
			return err
		}
		sub.RetryCount++
		c.logger.Debug("retrying submission",
			zap.String("url", sub.URL),
			zap.Int("retry", sub.RetryCount),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, c.retry.Backoff(sub.RetryCount)); err != nil {
			return err
		}
	}
}

// flushProgress persists counters and broadcasts deltas. Small jobs
// broadcast every submission; larger ones every Nth and on the last row.
func (c *Client) flushProgress(ctx context.Context, job, current indexer.Job, counters indexer.JobCounters, sub indexer.Submission, i, total int) error {
	progress := counters.Percent()
	if err := c.store.UpdateJobCounters(ctx, job.ID, counters, progress); err != nil {
		return fmt.Errorf("update job counters: %w", err)
	}
	if c.broadcaster == nil {
		return nil
	}
	c.broadcaster.SubmissionStatusChanged(ctx, job.OwnerID, sub)
	if c.shouldBroadcastProgress(i, total) {
		current.Counters = counters
		current.Progress = progress
		c.broadcaster.JobStatusChanged(ctx, job.OwnerID, current)
	}
	return nil
}

func (c *Client) shouldBroadcastProgress(i, total int) bool {
	if total <= c.cfg.VerboseThreshold {
		return true
	}
	return (i+1)%c.cfg.ProgressEvery == 0 || i == total-1
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
