package indexer

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// JobStore persists jobs. LockJob is the sole cross-process mutual exclusion
// mechanism: it must be an atomic conditional pending->running transition.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// LockJob atomically flips pending->running and stamps the start time.
	// It returns false when the job is not currently pending.
	LockJob(ctx context.Context, jobID string, startedAt time.Time) (bool, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, reason string, completedAt *time.Time) error
	UpdateJobCounters(ctx context.Context, jobID string, counters JobCounters, progress float64) error
	SaveSitemapCache(ctx context.Context, jobID string, cache SitemapCache) error
	ListJobsByOwner(ctx context.Context, ownerID string, status JobStatus) ([]Job, error)
	ListJobsByStatus(ctx context.Context, status JobStatus) ([]Job, error)
}

// SubmissionStore persists submission rows. Inserts are append-only; listing
// is ordered by creation time so round-robin positions are deterministic.
type SubmissionStore interface {
	InsertSubmissions(ctx context.Context, subs []Submission) error
	ListSubmissions(ctx context.Context, jobID string) ([]Submission, error)
	ListPendingSubmissions(ctx context.Context, jobID string) ([]Submission, error)
	UpdateSubmission(ctx context.Context, sub Submission) error
	// MaxRun returns the highest run number recorded for the job, 0 when none.
	MaxRun(ctx context.Context, jobID string) (int, error)
}

// AccountStore persists indexing accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, accountID string) (Account, error)
	// ListActiveAccounts returns active accounts in a stable order; the
	// dispatch round-robin depends on that ordering.
	ListActiveAccounts(ctx context.Context, ownerID string) ([]Account, error)
	ListInactiveAccounts(ctx context.Context) ([]Account, error)
	SetAccountActive(ctx context.Context, accountID string, active bool) error
}

// QuotaStore persists per-account daily usage and per-tenant consumption.
// AddUsage must be an upsert keyed by (account, day); counters are only ever
// incremented, which keeps them safe under concurrent writers.
type QuotaStore interface {
	AddUsage(ctx context.Context, accountID, day string, success bool) error
	GetUsage(ctx context.Context, accountID, day string) (QuotaUsage, error)
	GetTenantQuota(ctx context.Context, ownerID string) (TenantQuota, error)
	SaveTenantQuota(ctx context.Context, quota TenantQuota) error
}

// Store aggregates every persistence capability the pipeline needs.
type Store interface {
	JobStore
	SubmissionStore
	AccountStore
	QuotaStore
}

// CredentialProvider resolves a bearer token for an account. A failure means
// "skip this account this round", never a job failure.
type CredentialProvider interface {
	Token(ctx context.Context, account Account) (string, error)
}

// IndexingAPI performs the external submission call.
type IndexingAPI interface {
	SubmitURL(ctx context.Context, req SubmitRequest) error
}

// Broadcaster fans out status deltas to interested listeners. Calls are
// fire-and-forget with at-least-once delivery; implementations must never
// block the submission loop.
type Broadcaster interface {
	JobStatusChanged(ctx context.Context, ownerID string, job Job)
	SubmissionStatusChanged(ctx context.Context, ownerID string, sub Submission)
}

// Notifier delivers user-facing alerts such as quota exhaustion.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
