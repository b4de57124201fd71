package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted wraps the last attempt error once MaxAttempts is spent.
var ErrExhausted = errors.New("backoff: attempts exhausted")

// Policy is a bounded exponential retry policy. The delay before attempt
// n+1 is BaseDelay * 2^(n-1), so with base 15s the sequence between
// attempts is 15s, 30s, 60s, ...
//
// Sleep is injectable so callers can test retry behavior without real
// waits; when nil, a context-aware timer sleep is used.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// Default mirrors the exchange client's retry contract: up to 15 attempts
// with a 15 second base delay.
func Default() Policy {
	return Policy{MaxAttempts: 15, BaseDelay: 15 * time.Second}
}

// MaxDelay bounds a single backoff wait. The doubling would overflow a
// Duration near attempt 33 for a 15s base; the cap keeps every delay
// positive and finite no matter how many attempts are configured.
const MaxDelay = time.Hour

// Delay returns the wait after the given 1-based failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if d >= MaxDelay/2 {
			return MaxDelay
		}
		d *= 2
	}
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}

// Retry runs op until it succeeds, the policy is exhausted, or ctx is
// cancelled. The returned error wraps ErrExhausted together with the last
// attempt error, so callers can treat "gave up" as a single failure
// sentinel: the operation did not happen.
func (p Policy) Retry(ctx context.Context, op func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = waitTimer
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempts, lastErr)
}

func waitTimer(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
