// Package telemetry exposes Prometheus collectors for the indexer service.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal      *prometheus.CounterVec
	jobsTotal             *prometheus.CounterVec
	quotaExhaustionsTotal prometheus.Counter
	tenantQuotaConsumed   prometheus.Counter
	rateLimitDelaySeconds *prometheus.HistogramVec
	sitemapFetchesTotal   *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to call
// multiple times.
func Init() {
	once.Do(func() {
		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_submissions_total",
				Help: "URL submissions processed, labeled by outcome.",
			},
			[]string{"status"},
		)
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_jobs_total",
				Help: "Jobs reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
		)
		quotaExhaustionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "indexer_quota_exhaustions_total",
				Help: "Accounts deactivated after the external API signalled quota exhaustion.",
			},
		)
		tenantQuotaConsumed = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "indexer_tenant_quota_consumed_total",
				Help: "Total tenant quota units consumed across all owners.",
			},
		)
		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "indexer_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-account rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"account_id"},
		)
		sitemapFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_sitemap_fetches_total",
				Help: "Sitemap documents fetched, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// IncSubmission records one processed submission outcome.
func IncSubmission(status string) {
	Init()
	submissionsTotal.WithLabelValues(status).Inc()
}

// IncJob records one terminal job status.
func IncJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// IncQuotaExhaustion records one account deactivation.
func IncQuotaExhaustion() {
	Init()
	quotaExhaustionsTotal.Inc()
}

// AddTenantQuota records consumed tenant quota units.
func AddTenantQuota(n int) {
	Init()
	tenantQuotaConsumed.Add(float64(n))
}

// ObserveRateLimitDelay records time spent blocked on an account limiter.
func ObserveRateLimitDelay(accountID string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(accountID).Observe(d.Seconds())
}

// IncSitemapFetch records one sitemap document fetch.
func IncSitemapFetch(result string) {
	Init()
	sitemapFetchesTotal.WithLabelValues(result).Inc()
}
