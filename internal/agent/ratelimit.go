package agent

import (
	"context"
	"sync"
	"time"
)

const (
	// defaultRPM applies to models with no entry in the configured table.
	defaultRPM = 50
	// rateLimitMargin pads the theoretical spacing so bursts on the minute
	// boundary do not trip the upstream limiter.
	rateLimitMargin = 150 * time.Millisecond
)

// RateLimiter enforces minimum spacing between requests per model. Spacing is
// 60000/RPM milliseconds plus a fixed margin. Concurrent callers reserve
// their slot under the lock, so N waiters line up N intervals apart instead
// of stampeding when the current interval elapses.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]int
	next   map[string]time.Time
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter builds a limiter with per-model RPM overrides.
func NewRateLimiter(limits map[string]int) *RateLimiter {
	return &RateLimiter{
		limits: limits,
		next:   make(map[string]time.Time),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Interval returns the enforced spacing for a model.
func (rl *RateLimiter) Interval(model string) time.Duration {
	rpm := rl.limits[model]
	if rpm <= 0 {
		rpm = defaultRPM
	}
	return time.Duration(60000/rpm)*time.Millisecond + rateLimitMargin
}

// Wait blocks until the model's next slot, or until ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, model string) error {
	rl.mu.Lock()
	now := rl.now()
	at := rl.next[model]
	if at.Before(now) {
		at = now
	}
	rl.next[model] = at.Add(rl.Interval(model))
	rl.mu.Unlock()

	if wait := at.Sub(now); wait > 0 {
		return rl.sleep(ctx, wait)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
