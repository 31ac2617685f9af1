package indexer

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

// RetryPolicy implements capped exponential backoff with jitter and a fixed
// non-retryable error set.
type RetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryPolicy builds a policy with the default budget: three retries,
// one second base delay, thirty second cap.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		maxRetries: 3,
		baseDelay:  time.Second,
		maxDelay:   30 * time.Second,
	}
}

// NewRetryPolicyWith builds a policy with explicit knobs, falling back to the
// defaults for non-positive values.
func NewRetryPolicyWith(maxRetries int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	p := NewRetryPolicy()
	if maxRetries > 0 {
		p.maxRetries = maxRetries
	}
	if baseDelay > 0 {
		p.baseDelay = baseDelay
	}
	if maxDelay > 0 {
		p.maxDelay = maxDelay
	}
	return p
}

// MaxRetries exposes the retry budget.
func (p *RetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// ShouldRetry decides whether another attempt is allowed. The retry budget is
// checked first; validation and auth failures are never retried regardless of
// remaining budget.
func (p *RetryPolicy) ShouldRetry(retryCount int, errText string) bool {
	if retryCount >= p.maxRetries {
		return false
	}
	switch ClassifyMessage(errText) {
	case ClassValidation, ClassAuth:
		return false
	}
	return true
}

// Backoff returns min(base * 2^retryCount, cap) plus up to 10% random jitter.
func (p *RetryPolicy) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(retryCount))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay) + randomJitter(time.Duration(delay/10))
}

// WithRetry runs op, retrying per ShouldRetry and sleeping Backoff between
// attempts. The context cancels waits but never an in-flight op.
func (p *RetryPolicy) WithRetry(ctx context.Context, op func() error) error {
	attempt := 0
	for {
		err := op()
		if err == nil {
			return nil
		}
		attempt++
		if !p.ShouldRetry(attempt, err.Error()) {
			return err
		}
		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
