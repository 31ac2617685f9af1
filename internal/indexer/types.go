// Package indexer defines core types shared across subsystems.
package indexer

import "time"

// JobKind selects the URL source for a job.
type JobKind string

// Supported job kinds.
const (
	JobKindManual  JobKind = "manual"
	JobKindSitemap JobKind = "sitemap"
)

// JobStatus represents the lifecycle state of an indexing job.
type JobStatus string

// Job status values persisted in the job store. A job starts pending, is
// locked into running by exactly one worker, and ends in completed, paused,
// or failed. Paused is reserved for quota exhaustion and is recoverable.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// SubmissionStatus represents the outcome of one URL within one run.
type SubmissionStatus string

// Submission status values.
const (
	SubmissionPending   SubmissionStatus = "pending"
	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionFailed    SubmissionStatus = "failed"
)

// SitemapCache holds the parsed URL list persisted on sitemap jobs so a
// resumed job never re-crawls an already parsed sitemap.
type SitemapCache struct {
	URLs     []string   `json:"urls"`
	ParsedAt *time.Time `json:"parsed_at,omitempty"`
	URLCount int        `json:"url_count"`
}

// Populated reports whether the cache can satisfy extraction without a fetch.
func (c SitemapCache) Populated() bool {
	return c.ParsedAt != nil && len(c.URLs) > 0
}

// JobCounters tracks aggregate submission stats for the current run.
type JobCounters struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Percent returns run progress as 0-100.
func (c JobCounters) Percent() float64 {
	if c.Total <= 0 {
		return 0
	}
	pct := float64(c.Processed) / float64(c.Total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Job represents a batch of URLs to submit on behalf of one owner. A job is
// mutated only while locked by the worker that flipped it to running.
type Job struct {
	ID           string       `json:"id"`
	OwnerID      string       `json:"owner_id"`
	Kind         JobKind      `json:"kind"`
	Status       JobStatus    `json:"status"`
	URLs         []string     `json:"urls,omitempty"`
	SitemapURL   string       `json:"sitemap_url,omitempty"`
	Sitemap      SitemapCache `json:"sitemap_cache"`
	Counters     JobCounters  `json:"counters"`
	Progress     float64      `json:"progress"`
	StatusReason string       `json:"status_reason,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// Submission records one URL's processing attempt within one run of a job.
// Rows are append-only: reruns add a new batch under a higher run number and
// never delete or overwrite prior rows.
type Submission struct {
	ID         string           `json:"id"`
	JobID      string           `json:"job_id"`
	URL        string           `json:"url"`
	Status     SubmissionStatus `json:"status"`
	RetryCount int              `json:"retry_count"`
	AccountID  *string          `json:"account_id,omitempty"`
	ErrorText  string           `json:"error_text,omitempty"`
	Run        int              `json:"run"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Account is a credentialed identity used to authenticate submissions to the
// external indexing API. Exhausted accounts are deactivated, never deleted.
type Account struct {
	ID            string `json:"id"`
	OwnerID       string `json:"owner_id"`
	CredentialRef string `json:"credential_ref"`
	Active        bool   `json:"is_active"`
	DailyLimit    int    `json:"daily_limit"`
}

// QuotaUsage is keyed by (account, calendar day) and only ever incremented.
type QuotaUsage struct {
	AccountID string `json:"account_id"`
	Day       string `json:"day"`
	Made      int    `json:"requests_made"`
	Succeeded int    `json:"requests_succeeded"`
	Failed    int    `json:"requests_failed"`
}

// TenantQuota tracks per-owner consumption for the current day. UsedToday is
// zeroed the first time the stored reset date differs from today.
type TenantQuota struct {
	OwnerID   string `json:"owner_id"`
	UsedToday int    `json:"used_today"`
	ResetDate string `json:"reset_date"`
}

// Notification is a user-facing alert handed to the notification sink.
type Notification struct {
	OwnerID   string            `json:"owner_id"`
	Severity  string            `json:"severity"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// SubmitRequest is the payload for one call to the external indexing API.
type SubmitRequest struct {
	URL              string
	NotificationType string
	Token            string
}

// DayKey formats a timestamp as the UTC calendar-date key used for quota rows.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// IsTerminal reports whether a job status ends a processing invocation.
func IsTerminal(status JobStatus) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusPaused:
		return true
	default:
		return false
	}
}
