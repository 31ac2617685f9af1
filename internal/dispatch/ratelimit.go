package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/seoforge/url-indexer/internal/telemetry"
)

// AccountLimiter spaces submissions per account so no single credential
// hammers the external API. Limiters are process-local; with multiple worker
// replicas the external API's own throttling is the backstop.
type AccountLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*rate.Limiter
}

// NewAccountLimiter enforces at most one submission per interval per account.
func NewAccountLimiter(minInterval time.Duration) *AccountLimiter {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &AccountLimiter{
		interval: minInterval,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the account may submit again or ctx is cancelled.
func (l *AccountLimiter) Wait(ctx context.Context, accountID string) error {
	l.mu.Lock()
	limiter, ok := l.limiters[accountID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[accountID] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	telemetry.ObserveRateLimitDelay(accountID, time.Since(start))
	return nil
}
