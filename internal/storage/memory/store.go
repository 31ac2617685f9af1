// Package memory provides an in-memory Store for development and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/seoforge/url-indexer/internal/indexer"
)

// Store keeps all pipeline state in process memory behind one mutex. The
// lock semantics mirror the Postgres store: LockJob only succeeds on a
// pending job, quota counters are upsert-incremented by (account, day).
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]indexer.Job
	subs     map[string][]indexer.Submission
	accounts []indexer.Account
	usage    map[string]indexer.QuotaUsage
	tenants  map[string]indexer.TenantQuota
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]indexer.Job),
		subs:    make(map[string][]indexer.Submission),
		usage:   make(map[string]indexer.QuotaUsage),
		tenants: make(map[string]indexer.TenantQuota),
	}
}

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, job indexer.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (indexer.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return indexer.Job{}, indexer.ErrNotFound
	}
	return job, nil
}

// LockJob flips pending->running under the store mutex, which makes the
// transition atomic the same way the conditional UPDATE does in Postgres.
func (s *Store) LockJob(_ context.Context, jobID string, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, indexer.ErrNotFound
	}
	if job.Status != indexer.JobStatusPending {
		return false, nil
	}
	job.Status = indexer.JobStatusRunning
	job.StatusReason = ""
	started := startedAt
	job.StartedAt = &started
	s.jobs[jobID] = job
	return true, nil
}

// UpdateJobStatus sets the status, reason, and optional completion time.
func (s *Store) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status indexer.JobStatus,
	reason string,
	completedAt *time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return indexer.ErrNotFound
	}
	job.Status = status
	job.StatusReason = reason
	if completedAt != nil {
		done := *completedAt
		job.CompletedAt = &done
	}
	s.jobs[jobID] = job
	return nil
}

// UpdateJobCounters replaces the aggregate counters and progress.
func (s *Store) UpdateJobCounters(
	_ context.Context,
	jobID string,
	counters indexer.JobCounters,
	progress float64,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return indexer.ErrNotFound
	}
	job.Counters = counters
	job.Progress = progress
	s.jobs[jobID] = job
	return nil
}

// SaveSitemapCache persists the parsed URL list onto the job.
func (s *Store) SaveSitemapCache(_ context.Context, jobID string, cache indexer.SitemapCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return indexer.ErrNotFound
	}
	job.Sitemap = cache
	s.jobs[jobID] = job
	return nil
}

// ListJobsByOwner returns the owner's jobs filtered by status, ordered by
// creation time.
func (s *Store) ListJobsByOwner(_ context.Context, ownerID string, status indexer.JobStatus) ([]indexer.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []indexer.Job
	for _, job := range s.jobs {
		if job.OwnerID == ownerID && job.Status == status {
			out = append(out, job)
		}
	}
	sortJobs(out)
	return out, nil
}

// ListJobsByStatus returns every job in the given status.
func (s *Store) ListJobsByStatus(_ context.Context, status indexer.JobStatus) ([]indexer.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []indexer.Job
	for _, job := range s.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	sortJobs(out)
	return out, nil
}

// InsertSubmissions appends rows; existing rows are never touched.
func (s *Store) InsertSubmissions(_ context.Context, subs []indexer.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range subs {
		s.subs[sub.JobID] = append(s.subs[sub.JobID], sub)
	}
	return nil
}

// ListSubmissions returns every submission row for the job in insertion order.
func (s *Store) ListSubmissions(_ context.Context, jobID string) ([]indexer.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.subs[jobID]
	out := make([]indexer.Submission, len(rows))
	copy(out, rows)
	return out, nil
}

// ListPendingSubmissions returns pending rows for the job in insertion order.
func (s *Store) ListPendingSubmissions(_ context.Context, jobID string) ([]indexer.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []indexer.Submission
	for _, sub := range s.subs[jobID] {
		if sub.Status == indexer.SubmissionPending {
			out = append(out, sub)
		}
	}
	return out, nil
}

// UpdateSubmission replaces the row matching sub.ID.
func (s *Store) UpdateSubmission(_ context.Context, sub indexer.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.subs[sub.JobID]
	for i := range rows {
		if rows[i].ID == sub.ID {
			rows[i] = sub
			return nil
		}
	}
	return indexer.ErrNotFound
}

// MaxRun returns the highest run number recorded for the job.
func (s *Store) MaxRun(_ context.Context, jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	maxRun := 0
	for _, sub := range s.subs[jobID] {
		if sub.Run > maxRun {
			maxRun = sub.Run
		}
	}
	return maxRun, nil
}

// CreateAccount registers an account. Insertion order is the rotation order.
func (s *Store) CreateAccount(_ context.Context, account indexer.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ID == account.ID {
			return fmt.Errorf("account %s already exists", account.ID)
		}
	}
	s.accounts = append(s.accounts, account)
	return nil
}

// GetAccount fetches an account by ID.
func (s *Store) GetAccount(_ context.Context, accountID string) (indexer.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.ID == accountID {
			return a, nil
		}
	}
	return indexer.Account{}, indexer.ErrNotFound
}

// ListActiveAccounts returns the owner's active accounts in insertion order.
func (s *Store) ListActiveAccounts(_ context.Context, ownerID string) ([]indexer.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []indexer.Account
	for _, a := range s.accounts {
		if a.OwnerID == ownerID && a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListInactiveAccounts returns every deactivated account.
func (s *Store) ListInactiveAccounts(_ context.Context) ([]indexer.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []indexer.Account
	for _, a := range s.accounts {
		if !a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

// SetAccountActive toggles an account's rotation eligibility.
func (s *Store) SetAccountActive(_ context.Context, accountID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].ID == accountID {
			s.accounts[i].Active = active
			return nil
		}
	}
	return indexer.ErrNotFound
}

// AddUsage upserts the (account, day) row, incrementing counters.
func (s *Store) AddUsage(_ context.Context, accountID, day string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountID + "|" + day
	row, ok := s.usage[key]
	if !ok {
		row = indexer.QuotaUsage{AccountID: accountID, Day: day}
	}
	row.Made++
	if success {
		row.Succeeded++
	} else {
		row.Failed++
	}
	s.usage[key] = row
	return nil
}

// GetUsage returns the (account, day) row, zero-valued when absent.
func (s *Store) GetUsage(_ context.Context, accountID, day string) (indexer.QuotaUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.usage[accountID+"|"+day]
	if !ok {
		return indexer.QuotaUsage{AccountID: accountID, Day: day}, nil
	}
	return row, nil
}

// GetTenantQuota returns the owner's quota row.
func (s *Store) GetTenantQuota(_ context.Context, ownerID string) (indexer.TenantQuota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.tenants[ownerID]
	if !ok {
		return indexer.TenantQuota{}, indexer.ErrNotFound
	}
	return row, nil
}

// SaveTenantQuota upserts the owner's quota row.
func (s *Store) SaveTenantQuota(_ context.Context, quota indexer.TenantQuota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[quota.OwnerID] = quota
	return nil
}

func sortJobs(jobs []indexer.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
