package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seoforge/url-indexer/internal/config"
	"github.com/seoforge/url-indexer/internal/indexer"
	"github.com/seoforge/url-indexer/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type recordingProcessor struct {
	mu   sync.Mutex
	jobs []string
}

func (p *recordingProcessor) Process(_ context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, jobID)
	return nil
}

func (p *recordingProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.jobs...)
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *memory.Store, *recordingProcessor) {
	t.Helper()
	store := memory.New()
	proc := &recordingProcessor{}
	clock := &fixedClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	srv := NewServer(context.Background(), store, proc, clock, cfg, nil)
	return srv, store, proc
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateManualJob(t *testing.T) {
	t.Parallel()

	srv, store, _ := newTestServer(t, config.Config{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs", map[string]any{
		"owner_id": "owner-1",
		"kind":     "manual",
		"urls":     []string{"https://example.com/a"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["job_id"])
	require.Equal(t, "pending", resp["status"])

	job, err := store.GetJob(context.Background(), resp["job_id"])
	require.NoError(t, err)
	require.Equal(t, indexer.JobKindManual, job.Kind)
	require.Equal(t, []string{"https://example.com/a"}, job.URLs)
}

func TestCreateJobValidation(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, config.Config{})

	cases := []map[string]any{
		{"kind": "manual", "urls": []string{"https://a.test"}},           // missing owner
		{"owner_id": "o", "kind": "manual"},                              // manual without urls
		{"owner_id": "o", "kind": "sitemap"},                             // sitemap without url
		{"owner_id": "o", "kind": "bulk", "urls": []string{"https://a"}}, // unknown kind
	}
	for _, body := range cases {
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, config.Config{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/jobs/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessJobAccepted(t *testing.T) {
	t.Parallel()

	srv, store, proc := newTestServer(t, config.Config{})
	require.NoError(t, store.CreateJob(context.Background(), indexer.Job{
		ID: "job-1", OwnerID: "owner-1", Kind: indexer.JobKindManual,
		Status: indexer.JobStatusPending, URLs: []string{"https://a.test"},
		CreatedAt: time.Now(),
	}))

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/job-1/process", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		got := proc.processed()
		return len(got) == 1 && got[0] == "job-1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcessCompletedJobConflicts(t *testing.T) {
	t.Parallel()

	srv, store, _ := newTestServer(t, config.Config{})
	require.NoError(t, store.CreateJob(context.Background(), indexer.Job{
		ID: "job-1", OwnerID: "owner-1", Kind: indexer.JobKindManual,
		Status: indexer.JobStatusCompleted, CreatedAt: time.Now(),
	}))

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/job-1/process", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestPauseAndRetryTransitions(t *testing.T) {
	t.Parallel()

	srv, store, _ := newTestServer(t, config.Config{})
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, indexer.Job{
		ID: "job-run", OwnerID: "owner-1", Kind: indexer.JobKindManual,
		Status: indexer.JobStatusRunning, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateJob(ctx, indexer.Job{
		ID: "job-failed", OwnerID: "owner-1", Kind: indexer.JobKindManual,
		Status: indexer.JobStatusFailed, CreatedAt: time.Now(),
	}))

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/job-run/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job, err := store.GetJob(ctx, "job-run")
	require.NoError(t, err)
	require.Equal(t, indexer.JobStatusPaused, job.Status)
	require.Equal(t, "paused via API", job.StatusReason)

	// Paused jobs cannot be paused again.
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/job-run/pause", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/job-failed/retry", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	job, err = store.GetJob(ctx, "job-failed")
	require.NoError(t, err)
	require.Equal(t, indexer.JobStatusPending, job.Status)

	// Only failed jobs can be retried.
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/job-run/retry", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestListSubmissions(t *testing.T) {
	t.Parallel()

	srv, store, _ := newTestServer(t, config.Config{})
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, indexer.Job{
		ID: "job-1", OwnerID: "owner-1", Kind: indexer.JobKindManual,
		Status: indexer.JobStatusCompleted, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.InsertSubmissions(ctx, []indexer.Submission{
		{ID: "s1", JobID: "job-1", URL: "https://a.test/1", Status: indexer.SubmissionSubmitted, Run: 1, CreatedAt: time.Now()},
	}))

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/jobs/job-1/submissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Submissions []indexer.Submission `json:"submissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Submissions, 1)
	require.Equal(t, "s1", resp.Submissions[0].ID)
}

func TestAccountEndpoints(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, config.Config{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/accounts", map[string]any{
		"owner_id":       "owner-1",
		"credential_ref": "/secrets/sa.json",
		"daily_limit":    100,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Account indexer.Account `json:"account"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Account.Active)
	require.Equal(t, 100, resp.Account.DailyLimit)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/accounts/"+resp.Account.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/accounts", map[string]any{"owner_id": "owner-1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	srv, _, _ := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
