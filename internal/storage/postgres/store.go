// Package postgres provides the Postgres-backed persistence implementation.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seoforge/url-indexer/internal/indexer"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, batch *pgx.Batch) pgx.BatchResults
	Close()
}

// Store implements indexer.Store on Postgres.
type Store struct {
	pool dbPool
}

// New connects a pool from the config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `id, owner_id, kind, status, urls, sitemap_url, sitemap_cache,
	total, processed, succeeded, failed, progress, status_reason,
	created_at, started_at, completed_at`

// CreateJob inserts a job row.
func (s *Store) CreateJob(ctx context.Context, job indexer.Job) error {
	urls, err := json.Marshal(job.URLs)
	if err != nil {
		return fmt.Errorf("marshal urls: %w", err)
	}
	cache, err := json.Marshal(job.Sitemap)
	if err != nil {
		return fmt.Errorf("marshal sitemap cache: %w", err)
	}
	query := `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err = s.pool.Exec(ctx, query,
		job.ID, job.OwnerID, job.Kind, job.Status, urls, job.SitemapURL, cache,
		job.Counters.Total, job.Counters.Processed, job.Counters.Succeeded, job.Counters.Failed,
		job.Progress, job.StatusReason, job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (indexer.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return indexer.Job{}, indexer.ErrNotFound
	}
	if err != nil {
		return indexer.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// LockJob flips pending to running in one conditional update. The row count
// tells us whether this caller won the job.
func (s *Store) LockJob(ctx context.Context, jobID string, startedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE jobs SET status = $2, started_at = $3, status_reason = ''
WHERE id = $1 AND status = $4`,
		jobID, indexer.JobStatusRunning, startedAt, indexer.JobStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("lock job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check job existence: %w", err)
	}
	if !exists {
		return false, indexer.ErrNotFound
	}
	return false, nil
}

// UpdateJobStatus sets the lifecycle state and optional completion time.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status indexer.JobStatus, reason string, completedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE jobs SET status = $2, status_reason = $3, completed_at = $4 WHERE id = $1`,
		jobID, status, reason, completedAt,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return indexer.ErrNotFound
	}
	return nil
}

// UpdateJobCounters persists the run counters and progress percentage.
func (s *Store) UpdateJobCounters(ctx context.Context, jobID string, counters indexer.JobCounters, progress float64) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE jobs SET total = $2, processed = $3, succeeded = $4, failed = $5, progress = $6
WHERE id = $1`,
		jobID, counters.Total, counters.Processed, counters.Succeeded, counters.Failed, progress,
	)
	if err != nil {
		return fmt.Errorf("update job counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return indexer.ErrNotFound
	}
	return nil
}

// SaveSitemapCache stores the parsed URL list on the job row.
func (s *Store) SaveSitemapCache(ctx context.Context, jobID string, cache indexer.SitemapCache) error {
	raw, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("marshal sitemap cache: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET sitemap_cache = $2 WHERE id = $1`, jobID, raw)
	if err != nil {
		return fmt.Errorf("save sitemap cache: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return indexer.ErrNotFound
	}
	return nil
}

// ListJobsByOwner returns the owner's jobs, optionally filtered by status.
func (s *Store) ListJobsByOwner(ctx context.Context, ownerID string, status indexer.JobStatus) ([]indexer.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner_id = $1`
	args := []any{ownerID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`
	return s.queryJobs(ctx, query, args...)
}

// ListJobsByStatus returns every job in the given status.
func (s *Store) ListJobsByStatus(ctx context.Context, status indexer.JobStatus) ([]indexer.Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at, id`, status)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]indexer.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	var jobs []indexer.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (indexer.Job, error) {
	var job indexer.Job
	var urls, cache []byte
	err := row.Scan(
		&job.ID, &job.OwnerID, &job.Kind, &job.Status, &urls, &job.SitemapURL, &cache,
		&job.Counters.Total, &job.Counters.Processed, &job.Counters.Succeeded, &job.Counters.Failed,
		&job.Progress, &job.StatusReason, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return indexer.Job{}, err
	}
	if len(urls) > 0 {
		if err := json.Unmarshal(urls, &job.URLs); err != nil {
			return indexer.Job{}, fmt.Errorf("unmarshal urls: %w", err)
		}
	}
	if len(cache) > 0 {
		if err := json.Unmarshal(cache, &job.Sitemap); err != nil {
			return indexer.Job{}, fmt.Errorf("unmarshal sitemap cache: %w", err)
		}
	}
	return job, nil
}

const submissionColumns = `id, job_id, url, status, retry_count, account_id, error_text, run, created_at`

// InsertSubmissions appends the batch in one round trip.
func (s *Store) InsertSubmissions(ctx context.Context, subs []indexer.Submission) error {
	if len(subs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, sub := range subs {
		batch.Queue(`
INSERT INTO submissions (`+submissionColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			sub.ID, sub.JobID, sub.URL, sub.Status, sub.RetryCount,
			sub.AccountID, sub.ErrorText, sub.Run, sub.CreatedAt,
		)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range subs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
	}
	return nil
}

// ListSubmissions returns every row for the job in creation order.
func (s *Store) ListSubmissions(ctx context.Context, jobID string) ([]indexer.Submission, error) {
	return s.querySubmissions(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE job_id = $1 ORDER BY created_at, id`, jobID)
}

// ListPendingSubmissions returns the job's unprocessed rows in creation order.
func (s *Store) ListPendingSubmissions(ctx context.Context, jobID string) ([]indexer.Submission, error) {
	return s.querySubmissions(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE job_id = $1 AND status = $2 ORDER BY created_at, id`,
		jobID, indexer.SubmissionPending)
}

func (s *Store) querySubmissions(ctx context.Context, query string, args ...any) ([]indexer.Submission, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()
	var subs []indexer.Submission
	for rows.Next() {
		var sub indexer.Submission
		if err := rows.Scan(
			&sub.ID, &sub.JobID, &sub.URL, &sub.Status, &sub.RetryCount,
			&sub.AccountID, &sub.ErrorText, &sub.Run, &sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return subs, nil
}

// UpdateSubmission persists the outcome of one row.
func (s *Store) UpdateSubmission(ctx context.Context, sub indexer.Submission) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE submissions SET status = $2, retry_count = $3, account_id = $4, error_text = $5
WHERE id = $1`,
		sub.ID, sub.Status, sub.RetryCount, sub.AccountID, sub.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return indexer.ErrNotFound
	}
	return nil
}

// MaxRun returns the highest run number recorded for the job, 0 when none.
func (s *Store) MaxRun(ctx context.Context, jobID string) (int, error) {
	var run int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(run), 0) FROM submissions WHERE job_id = $1`, jobID).Scan(&run)
	if err != nil {
		return 0, fmt.Errorf("max run: %w", err)
	}
	return run, nil
}

const accountColumns = `id, owner_id, credential_ref, is_active, daily_limit`

// CreateAccount inserts an account row.
func (s *Store) CreateAccount(ctx context.Context, account indexer.Account) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO accounts (`+accountColumns+`, created_at)
VALUES ($1,$2,$3,$4,$5,now())`,
		account.ID, account.OwnerID, account.CredentialRef, account.Active, account.DailyLimit,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount fetches one account by id.
func (s *Store) GetAccount(ctx context.Context, accountID string) (indexer.Account, error) {
	var account indexer.Account
	err := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID).Scan(
		&account.ID, &account.OwnerID, &account.CredentialRef, &account.Active, &account.DailyLimit,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return indexer.Account{}, indexer.ErrNotFound
	}
	if err != nil {
		return indexer.Account{}, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// ListActiveAccounts returns the owner's active accounts in creation order,
// which the round-robin rotation depends on.
func (s *Store) ListActiveAccounts(ctx context.Context, ownerID string) ([]indexer.Account, error) {
	return s.queryAccounts(ctx, `
SELECT `+accountColumns+` FROM accounts
WHERE owner_id = $1 AND is_active ORDER BY created_at, id`, ownerID)
}

// ListInactiveAccounts returns every deactivated account.
func (s *Store) ListInactiveAccounts(ctx context.Context) ([]indexer.Account, error) {
	return s.queryAccounts(ctx, `
SELECT `+accountColumns+` FROM accounts WHERE NOT is_active ORDER BY created_at, id`)
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]indexer.Account, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()
	var accounts []indexer.Account
	for rows.Next() {
		var account indexer.Account
		if err := rows.Scan(
			&account.ID, &account.OwnerID, &account.CredentialRef, &account.Active, &account.DailyLimit,
		); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

// SetAccountActive toggles the account's active flag.
func (s *Store) SetAccountActive(ctx context.Context, accountID string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET is_active = $2 WHERE id = $1`, accountID, active)
	if err != nil {
		return fmt.Errorf("set account active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return indexer.ErrNotFound
	}
	return nil
}

// AddUsage upserts the (account, day) usage row, incrementing counters. The
// increment-only upsert keeps concurrent workers safe without locking.
func (s *Store) AddUsage(ctx context.Context, accountID, day string, success bool) error {
	succ, fail := 0, 1
	if success {
		succ, fail = 1, 0
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO quota_usage (account_id, day, requests_made, requests_succeeded, requests_failed)
VALUES ($1, $2, 1, $3, $4)
ON CONFLICT (account_id, day) DO UPDATE SET
	requests_made = quota_usage.requests_made + 1,
	requests_succeeded = quota_usage.requests_succeeded + EXCLUDED.requests_succeeded,
	requests_failed = quota_usage.requests_failed + EXCLUDED.requests_failed`,
		accountID, day, succ, fail,
	)
	if err != nil {
		return fmt.Errorf("add usage: %w", err)
	}
	return nil
}

// GetUsage returns the usage row, zero-valued when absent.
func (s *Store) GetUsage(ctx context.Context, accountID, day string) (indexer.QuotaUsage, error) {
	usage := indexer.QuotaUsage{AccountID: accountID, Day: day}
	err := s.pool.QueryRow(ctx, `
SELECT requests_made, requests_succeeded, requests_failed
FROM quota_usage WHERE account_id = $1 AND day = $2`,
		accountID, day).Scan(&usage.Made, &usage.Succeeded, &usage.Failed)
	if errors.Is(err, pgx.ErrNoRows) {
		return usage, nil
	}
	if err != nil {
		return indexer.QuotaUsage{}, fmt.Errorf("get usage: %w", err)
	}
	return usage, nil
}

// GetTenantQuota fetches the owner's consumption row.
func (s *Store) GetTenantQuota(ctx context.Context, ownerID string) (indexer.TenantQuota, error) {
	var tq indexer.TenantQuota
	err := s.pool.QueryRow(ctx, `
SELECT owner_id, used_today, reset_date FROM tenant_quotas WHERE owner_id = $1`,
		ownerID).Scan(&tq.OwnerID, &tq.UsedToday, &tq.ResetDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return indexer.TenantQuota{}, indexer.ErrNotFound
	}
	if err != nil {
		return indexer.TenantQuota{}, fmt.Errorf("get tenant quota: %w", err)
	}
	return tq, nil
}

// SaveTenantQuota upserts the owner's consumption row.
func (s *Store) SaveTenantQuota(ctx context.Context, quota indexer.TenantQuota) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO tenant_quotas (owner_id, used_today, reset_date)
VALUES ($1, $2, $3)
ON CONFLICT (owner_id) DO UPDATE SET
	used_today = EXCLUDED.used_today,
	reset_date = EXCLUDED.reset_date`,
		quota.OwnerID, quota.UsedToday, quota.ResetDate,
	)
	if err != nil {
		return fmt.Errorf("save tenant quota: %w", err)
	}
	return nil
}
