// Package quota tracks per-account and per-tenant daily consumption and
// contains the blast radius of an exhausted account.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seoforge/url-indexer/internal/indexer"
	"github.com/seoforge/url-indexer/internal/telemetry"
)

// Manager implements quota accounting on top of the store. Usage rows are
// increment-only so concurrent workers can record without coordination.
type Manager struct {
	store       indexer.Store
	broadcaster indexer.Broadcaster
	notifier    indexer.Notifier
	clock       indexer.Clock
	logger      *zap.Logger
}

// NewManager wires a Manager. Broadcaster and notifier may be nil when the
// caller has no delivery channel configured.
func NewManager(store indexer.Store, broadcaster indexer.Broadcaster, notifier indexer.Notifier, clock indexer.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:       store,
		broadcaster: broadcaster,
		notifier:    notifier,
		clock:       clock,
		logger:      logger,
	}
}

// RecordUsage increments the account's usage row for today. Every attempt
// counts against the daily limit regardless of outcome.
func (m *Manager) RecordUsage(ctx context.Context, accountID string, success bool) error {
	day := indexer.DayKey(m.clock.Now())
	if err := m.store.AddUsage(ctx, accountID, day, success); err != nil {
		return fmt.Errorf("record usage for account %s: %w", accountID, err)
	}
	return nil
}

// Remaining reports how many submissions the account may still make today.
func (m *Manager) Remaining(ctx context.Context, account indexer.Account) (int, error) {
	day := indexer.DayKey(m.clock.Now())
	usage, err := m.store.GetUsage(ctx, account.ID, day)
	if err != nil {
		return 0, fmt.Errorf("get usage for account %s: %w", account.ID, err)
	}
	remaining := account.DailyLimit - usage.Made
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// ConsumeTenant adds n to the owner's daily consumption, zeroing the counter
// first when the stored reset date is not today.
func (m *Manager) ConsumeTenant(ctx context.Context, ownerID string, n int) error {
	today := indexer.DayKey(m.clock.Now())
	tq, err := m.store.GetTenantQuota(ctx, ownerID)
	switch {
	case err == nil:
	case errors.Is(err, indexer.ErrNotFound):
		tq = indexer.TenantQuota{OwnerID: ownerID, ResetDate: today}
	default:
		return fmt.Errorf("get tenant quota for %s: %w", ownerID, err)
	}
	if tq.ResetDate != today {
		tq.UsedToday = 0
		tq.ResetDate = today
	}
	tq.UsedToday += n
	if err := m.store.SaveTenantQuota(ctx, tq); err != nil {
		return fmt.Errorf("save tenant quota for %s: %w", ownerID, err)
	}
	telemetry.AddTenantQuota(n)
	return nil
}

// OnAccountQuotaExhausted deactivates the account and pauses every running
// job belonging to its owner so no further submissions burn other accounts'
// quota. The account is reactivated by the sweeper once usage drops under
// the limit (in practice, after the UTC day rolls over).
func (m *Manager) OnAccountQuotaExhausted(ctx context.Context, account indexer.Account) error {
	telemetry.IncQuotaExhaustion()
	m.logger.Warn("account quota exhausted",
		zap.String("account_id", account.ID),
		zap.String("owner_id", account.OwnerID),
		zap.Int("daily_limit", account.DailyLimit),
	)

	if err := m.store.SetAccountActive(ctx, account.ID, false); err != nil {
		return fmt.Errorf("deactivate account %s: %w", account.ID, err)
	}

	running, err := m.store.ListJobsByOwner(ctx, account.OwnerID, indexer.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("list running jobs for owner %s: %w", account.OwnerID, err)
	}
	reason := fmt.Sprintf("paused: daily quota exhausted on account %s", account.ID)
	for _, job := range running {
		if err := m.store.UpdateJobStatus(ctx, job.ID, indexer.JobStatusPaused, reason, nil); err != nil {
			return fmt.Errorf("pause job %s: %w", job.ID, err)
		}
		job.Status = indexer.JobStatusPaused
		job.StatusReason = reason
		if m.broadcaster != nil {
			m.broadcaster.JobStatusChanged(ctx, account.OwnerID, job)
		}
		m.logger.Info("paused job after quota exhaustion",
			zap.String("job_id", job.ID),
			zap.String("account_id", account.ID),
		)
	}

	if m.notifier != nil {
		expires := nextMidnightUTC(m.clock.Now())
		n := indexer.Notification{
			OwnerID:  account.OwnerID,
			Severity: "warning",
			Title:    "Daily indexing quota exhausted",
			Message: fmt.Sprintf("Account %s hit its daily limit of %d submissions. "+
				"Affected jobs were paused and will resume automatically after the quota resets.",
				account.ID, account.DailyLimit),
			Metadata:  map[string]string{"account_id": account.ID},
			ExpiresAt: &expires,
		}
		if err := m.notifier.Notify(ctx, n); err != nil {
			// Notification delivery is best effort; the pause already took hold.
			m.logger.Warn("quota notification delivery failed", zap.Error(err))
		}
	}
	return nil
}

// nextMidnightUTC returns the start of the next UTC day, when quotas reset.
func nextMidnightUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
