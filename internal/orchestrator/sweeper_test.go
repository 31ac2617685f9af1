package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seoforge/url-indexer/internal/indexer"
	"github.com/seoforge/url-indexer/internal/quota"
	"github.com/seoforge/url-indexer/internal/storage/memory"
)

type recordingProcessor struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (p *recordingProcessor) Process(_ context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, jobID)
	return p.err
}

func TestSweepReactivatesAccountsWithFreshQuota(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	clock := &fixedClock{now: time.Date(2026, 8, 31, 0, 10, 0, 0, time.UTC)}
	mgr := quota.NewManager(store, nil, nil, clock, nil)
	proc := &recordingProcessor{}
	sweeper := NewSweeper(store, mgr, proc, time.Minute, nil)

	// Exhausted yesterday, deactivated; no usage recorded for today.
	fresh := indexer.Account{ID: "acct-fresh", OwnerID: "owner-1", Active: false, DailyLimit: 200}
	require.NoError(t, store.CreateAccount(ctx, fresh))
	// Still at the limit today; must stay inactive.
	burned := indexer.Account{ID: "acct-burned", OwnerID: "owner-2", Active: false, DailyLimit: 2}
	require.NoError(t, store.CreateAccount(ctx, burned))
	require.NoError(t, store.AddUsage(ctx, "acct-burned", "2026-08-31", false))
	require.NoError(t, store.AddUsage(ctx, "acct-burned", "2026-08-31", false))

	require.NoError(t, sweeper.Sweep(ctx))

	got, err := store.GetAccount(ctx, "acct-fresh")
	require.NoError(t, err)
	require.True(t, got.Active)

	got, err = store.GetAccount(ctx, "acct-burned")
	require.NoError(t, err)
	require.False(t, got.Active)
}

func TestSweepResumesPausedJobsWithActiveAccounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	clock := &fixedClock{now: time.Date(2026, 8, 31, 0, 10, 0, 0, time.UTC)}
	mgr := quota.NewManager(store, nil, nil, clock, nil)
	proc := &recordingProcessor{}
	sweeper := NewSweeper(store, mgr, proc, time.Minute, nil)

	require.NoError(t, store.CreateAccount(ctx, indexer.Account{
		ID: "acct-1", OwnerID: "owner-1", Active: false, DailyLimit: 200,
	}))
	require.NoError(t, store.CreateJob(ctx, indexer.Job{
		ID: "job-paused", OwnerID: "owner-1", Kind: indexer.JobKindManual,
		Status: indexer.JobStatusPaused, StatusReason: "paused: daily quota exhausted on account acct-1",
		URLs: []string{"https://example.com/a"}, CreatedAt: clock.now.Add(-time.Hour),
	}))
	// Paused job whose owner has no account at all stays paused.
	require.NoError(t, store.CreateJob(ctx, indexer.Job{
		ID: "job-stranded", OwnerID: "owner-9", Kind: indexer.JobKindManual,
		Status: indexer.JobStatusPaused, CreatedAt: clock.now.Add(-time.Hour),
	}))

	require.NoError(t, sweeper.Sweep(ctx))

	job, err := store.GetJob(ctx, "job-paused")
	require.NoError(t, err)
	require.Equal(t, indexer.JobStatusPending, job.Status)
	require.Equal(t, "resuming after quota reset", job.StatusReason)
	require.Equal(t, []string{"job-paused"}, proc.jobs)

	job, err = store.GetJob(ctx, "job-stranded")
	require.NoError(t, err)
	require.Equal(t, indexer.JobStatusPaused, job.Status)
}

func TestSweepToleratesAlreadyProcessing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	clock := &fixedClock{now: time.Date(2026, 8, 31, 0, 10, 0, 0, time.UTC)}
	mgr := quota.NewManager(store, nil, nil, clock, nil)
	proc := &recordingProcessor{err: ErrAlreadyProcessing}
	sweeper := NewSweeper(store, mgr, proc, time.Minute, nil)

	require.NoError(t, store.CreateAccount(ctx, indexer.Account{
		ID: "acct-1", OwnerID: "owner-1", Active: true, DailyLimit: 200,
	}))
	require.NoError(t, store.CreateJob(ctx, indexer.Job{
		ID: "job-1", OwnerID: "owner-1", Kind: indexer.JobKindManual,
		Status: indexer.JobStatusPaused, CreatedAt: clock.now.Add(-time.Hour),
	}))

	require.NoError(t, sweeper.Sweep(ctx))
	require.Equal(t, []string{"job-1"}, proc.jobs)
}
