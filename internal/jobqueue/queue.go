// Package jobqueue prepares locked jobs for dispatch: URL extraction,
// sitemap caching, and materializing the run's submission rows.
package jobqueue

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seoforge/url-indexer/internal/indexer"
)

// URLSource extracts page URLs from a sitemap location.
type URLSource interface {
	Extract(ctx context.Context, sitemapURL string) ([]string, error)
}

// Queue owns the pre-dispatch phase of a job run.
type Queue struct {
	store   indexer.Store
	sitemap URLSource
	clock   indexer.Clock
	logger  *zap.Logger
}

// New constructs a Queue.
func New(store indexer.Store, sitemap URLSource, clock indexer.Clock, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{store: store, sitemap: sitemap, clock: clock, logger: logger}
}

// Lock attempts the atomic pending->running transition. False means another
// worker won the job or it is not eligible.
func (q *Queue) Lock(ctx context.Context, jobID string) (bool, error) {
	return q.store.LockJob(ctx, jobID, q.clock.Now())
}

// ExtractURLs resolves the URL list for the job according to its kind.
// Sitemap jobs consult the persisted cache first so a resumed job never
// re-crawls an already parsed sitemap.
func (q *Queue) ExtractURLs(ctx context.Context, job indexer.Job) ([]string, error) {
	switch job.Kind {
	case indexer.JobKindManual:
		return validateManualURLs(job.URLs)
	case indexer.JobKindSitemap:
		return q.extractFromSitemap(ctx, job)
	default:
		return nil, indexer.NewError(indexer.ClassValidation, "unknown job kind %q", job.Kind)
	}
}

func validateManualURLs(urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, indexer.NewError(indexer.ClassValidation, "manual job has no urls")
	}
	for _, raw := range urls {
		u, err := url.ParseRequestURI(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, indexer.NewError(indexer.ClassValidation, "invalid url %q", raw)
		}
	}
	return urls, nil
}

func (q *Queue) extractFromSitemap(ctx context.Context, job indexer.Job) ([]string, error) {
	if job.Sitemap.Populated() {
		q.logger.Info("using cached sitemap urls",
			zap.String("job_id", job.ID),
			zap.Int("url_count", len(job.Sitemap.URLs)),
		)
		return job.Sitemap.URLs, nil
	}
	if job.SitemapURL == "" {
		return nil, indexer.NewError(indexer.ClassValidation, "sitemap job has no sitemap url")
	}
	urls, err := q.sitemap.Extract(ctx, job.SitemapURL)
	if err != nil {
		return nil, fmt.Errorf("extract sitemap urls: %w", err)
	}
	parsedAt := q.clock.Now()
	cache := indexer.SitemapCache{URLs: urls, ParsedAt: &parsedAt, URLCount: len(urls)}
	if err := q.store.SaveSitemapCache(ctx, job.ID, cache); err != nil {
		return nil, fmt.Errorf("save sitemap cache: %w", err)
	}
	q.logger.Info("parsed sitemap",
		zap.String("job_id", job.ID),
		zap.String("sitemap_url", job.SitemapURL),
		zap.Int("url_count", len(urls)),
	)
	return urls, nil
}

// MaterializeSubmissions returns the pending submission rows for this run.
// When a running job already has pending rows, the run is a resume and the
// existing rows are returned untouched. Otherwise a fresh batch is inserted
// under the next run number and the job counters are reset.
func (q *Queue) MaterializeSubmissions(ctx context.Context, job indexer.Job, urls []string) ([]indexer.Submission, error) {
	pending, err := q.store.ListPendingSubmissions(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	if len(pending) > 0 {
		q.logger.Info("resuming run with existing pending submissions",
			zap.String("job_id", job.ID),
			zap.Int("pending", len(pending)),
		)
		return pending, nil
	}

	maxRun, err := q.store.MaxRun(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("max run: %w", err)
	}
	run := maxRun + 1
	now := q.clock.Now()
	subs := make([]indexer.Submission, 0, len(urls))
	for i, raw := range urls {
		subs = append(subs, indexer.Submission{
			ID:     uuid.NewString(),
			JobID:  job.ID,
			URL:    raw,
			Status: indexer.SubmissionPending,
			Run:    run,
			// Stagger creation times so listing order matches document order.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		})
	}
	if err := q.store.InsertSubmissions(ctx, subs); err != nil {
		return nil, fmt.Errorf("insert submissions: %w", err)
	}
	counters := indexer.JobCounters{Total: len(subs)}
	if err := q.store.UpdateJobCounters(ctx, job.ID, counters, 0); err != nil {
		return nil, fmt.Errorf("reset job counters: %w", err)
	}
	q.logger.Info("materialized submissions",
		zap.String("job_id", job.ID),
		zap.Int("run", run),
		zap.Int("count", len(subs)),
	)
	return subs, nil
}
