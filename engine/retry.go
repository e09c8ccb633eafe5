package engine

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// backoff gates the LLM retry step with a short exponential delay, built on
// a token-bucket limiter rather than a raw time.Sleep so the same mechanism
// generalises to gating request rate if the engine is later asked to.
// Retry attempt n costs 1<<n tokens and wait empties the bucket before
// each request, so the limiter's fixed refill rate turns the doubling cost
// into a doubling wait.
type backoff struct {
	limiter *rate.Limiter
}

func newBackoff(base time.Duration) *backoff {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	// One token refills every `base`. Burst is 16, the cost of attempt 4
	// (1<<4); wait caps larger attempts at 4, so WaitN never rejects a
	// request as exceeding the bucket's capacity.
	return &backoff{limiter: rate.NewLimiter(rate.Every(base), 16)}
}

// wait blocks for about (1<<attempt) * base, where attempt 1 is the first
// retry after the initial try; attempts above 4 wait as long as attempt 4.
func (b *backoff) wait(ctx context.Context, attempt int) error {
	if attempt > 4 {
		attempt = 4
	}
	now := time.Now()
	if n := int(b.limiter.TokensAt(now)); n > 0 {
		b.limiter.AllowN(now, n)
	}
	cost := 1 << attempt
	return b.limiter.WaitN(ctx, cost)
}
