package letta

import (
	"context"
	"math/rand/v2"
	"time"
)

// BackoffKind selects the delay schedule between retry attempts.
type BackoffKind int

const (
	// BackoffFixed sleeps the same base delay between attempts. This is the
	// poll cadence: the reply window is time-driven, not load-driven.
	BackoffFixed BackoffKind = iota
	// BackoffExponential doubles the delay per attempt with jitter, capped.
	// Used for transport-level retries only.
	BackoffExponential
)

// maxBackoff caps exponential delays.
const maxBackoff = 16 * time.Second

// Policy is the single retry policy shared by the transport and the poll
// loop: max attempts, backoff kind, and one retryable-error predicate.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffKind
	Base        time.Duration

	// Retryable decides whether an error consumes an attempt and continues
	// or aborts immediately. Nil means retry everything.
	Retryable func(error) bool

	// Sleep is swappable for tests; nil uses a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration)
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	if p.Backoff == BackoffFixed {
		return p.Base
	}

	d := p.Base << uint(attempt)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return jitter(d)
}

// Do runs fn up to MaxAttempts times, sleeping Delay between attempts.
// It returns nil on the first success, the last error once attempts are
// exhausted, or early if the error is not retryable or the context ends.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			p.sleep(ctx, p.Delay(attempt-1))
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

func (p Policy) sleep(ctx context.Context, d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(ctx, d)
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// jitter spreads a delay over [0.5d, 1.5d) so simultaneous retries from
// concurrent pipelines don't line up.
func jitter(d time.Duration) time.Duration {
	factor := 0.5 + rand.Float64()
	return time.Duration(float64(d) * factor)
}
