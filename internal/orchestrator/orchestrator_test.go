package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seoforge/url-indexer/internal/indexer"
	"github.com/seoforge/url-indexer/internal/jobqueue"
	"github.com/seoforge/url-indexer/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type fakeSitemap struct{ urls []string }

func (f *fakeSitemap) Extract(context.Context, string) ([]string, error) {
	return f.urls, nil
}

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	subs  []indexer.Submission
	fn    func(ctx context.Context, job indexer.Job, subs []indexer.Submission) error
}

func (r *fakeRunner) Run(ctx context.Context, job indexer.Job, subs []indexer.Submission) error {
	r.mu.Lock()
	r.calls++
	r.subs = subs
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, job, subs)
	}
	return nil
}

func newOrchestrator(t *testing.T, runner Runner) (*Orchestrator, *memory.Store, *fixedClock) {
	t.Helper()
	store := memory.New()
	clock := &fixedClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	queue := jobqueue.New(store, &fakeSitemap{}, clock, nil)
	return New(store, queue, runner, nil, clock, nil), store, clock
}

func seedManualJob(t *testing.T, store *memory.Store, status indexer.JobStatus, urls []string) indexer.Job {
	t.Helper()
	job := indexer.Job{
		ID:        "job-1",
		OwnerID:   "owner-1",
		Kind:      indexer.JobKindManual,
		Status:    status,
		URLs:      urls,
		CreatedAt: time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func TestProcessCompletesJob(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	o, store, clock := newOrchestrator(t, runner)
	seedManualJob(t, store, indexer.JobStatusPending, []string{"https://example.com/a", "https://example.com/b"})

	ctx := context.Background()
	require.NoError(t, o.Process(ctx, "job-1"))

	require.Equal(t, 1, runner.calls)
	require.Len(t, runner.subs, 2)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, indexer.JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	require.Equal(t, clock.now, *job.CompletedAt)
	require.Equal(t, 2, job.Counters.Total)
}

func TestProcessRejectsIneligibleJob(t *testing.T) {
	t.Parallel()

	o, store, _ := newOrchestrator(t, &fakeRunner{})
	seedManualJob(t, store, indexer.JobStatusCompleted, []string{"https://example.com/a"})

	err := o.Process(context.Background(), "job-1")
	require.ErrorIs(t, err, ErrNotEligible)
}

func TestProcessGuardsAgainstDuplicateInvocation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	runner := &fakeRunner{fn: func(context.Context, indexer.Job, []indexer.Submission) error {
		close(started)
		<-release
		return nil
	}}
	o, store, _ := newOrchestrator(t, runner)
	seedManualJob(t, store, indexer.JobStatusPending, []string{"https://example.com/a"})

	errCh := make(chan error, 1)
	go func() { errCh <- o.Process(context.Background(), "job-1") }()
	<-started

	err := o.Process(context.Background(), "job-1")
	require.ErrorIs(t, err, ErrAlreadyProcessing)

	close(release)
	require.NoError(t, <-errCh)
}

func TestProcessFailsJobOnValidationError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	o, store, _ := newOrchestrator(t, runner)
	seedManualJob(t, store, indexer.JobStatusPending, nil)

	err := o.Process(context.Background(), "job-1")
	require.Error(t, err)
	require.Equal(t, indexer.ClassValidation, indexer.ClassOf(err))
	require.Zero(t, runner.calls)

	job, getErr := store.GetJob(context.Background(), "job-1")
	require.NoError(t, getErr)
	require.Equal(t, indexer.JobStatusFailed, job.Status)
	require.Contains(t, job.StatusReason, "no urls")
	require.NotNil(t, job.CompletedAt)
}

func TestProcessLeavesPausedJobPaused(t *testing.T) {
	t.Parallel()

	var o *Orchestrator
	var store *memory.Store
	runner := &fakeRunner{fn: func(ctx context.Context, job indexer.Job, _ []indexer.Submission) error {
		// Simulates quota containment pausing the job mid-run.
		return store.UpdateJobStatus(ctx, job.ID, indexer.JobStatusPaused, "paused: daily quota exhausted on account acct-1", nil)
	}}
	o, store, _ = newOrchestrator(t, runner)
	seedManualJob(t, store, indexer.JobStatusPending, []string{"https://example.com/a"})

	require.NoError(t, o.Process(context.Background(), "job-1"))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, indexer.JobStatusPaused, job.Status)
}

func TestProcessAdoptsInterruptedRunningJob(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	o, store, _ := newOrchestrator(t, runner)
	seedManualJob(t, store, indexer.JobStatusRunning, []string{"https://example.com/a", "https://example.com/b"})

	ctx := context.Background()
	// One row already done from the interrupted run, one still pending.
	require.NoError(t, store.InsertSubmissions(ctx, []indexer.Submission{
		{ID: "s1", JobID: "job-1", URL: "https://example.com/a", Status: indexer.SubmissionSubmitted, Run: 1, CreatedAt: time.Now()},
		{ID: "s2", JobID: "job-1", URL: "https://example.com/b", Status: indexer.SubmissionPending, Run: 1, CreatedAt: time.Now().Add(time.Microsecond)},
	}))

	require.NoError(t, o.Process(ctx, "job-1"))

	require.Equal(t, 1, runner.calls)
	require.Len(t, runner.subs, 1, "only the pending row is dispatched on resume")
	require.Equal(t, "s2", runner.subs[0].ID)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, indexer.JobStatusCompleted, job.Status)
}

func TestProcessPropagatesRunnerFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("dispatch blew up")
	runner := &fakeRunner{fn: func(context.Context, indexer.Job, []indexer.Submission) error {
		return boom
	}}
	o, store, _ := newOrchestrator(t, runner)
	seedManualJob(t, store, indexer.JobStatusPending, []string{"https://example.com/a"})

	err := o.Process(context.Background(), "job-1")
	require.ErrorIs(t, err, boom)

	job, getErr := store.GetJob(context.Background(), "job-1")
	require.NoError(t, getErr)
	require.Equal(t, indexer.JobStatusFailed, job.Status)
	require.Contains(t, job.StatusReason, "dispatch blew up")
}
