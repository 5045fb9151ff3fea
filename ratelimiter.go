package serenpair

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TokenBucket paces calls to a rate-limited external API. Tokens refill
// lazily on Acquire rather than on a timer, and mutex acquisition itself is
// bounded so a stuck refill fails the caller instead of blocking forever.
//
// Grounded on the original rate_limiter.py: refill rate r tokens/sec,
// capacity r, 5s timeout on the internal lock.
type TokenBucket struct {
	rate     float64
	capacity float64
	tokens   float64
	lastFill time.Time
	lockWait time.Duration

	mu sync.Mutex
}

// NewTokenBucket creates a bucket that refills at ratePerSecond tokens/sec
// up to a capacity equal to the rate, matching the original's burst policy.
func NewTokenBucket(ratePerSecond float64, lockWait time.Duration) *TokenBucket {
	return &TokenBucket{
		rate:     ratePerSecond,
		capacity: ratePerSecond,
		tokens:   ratePerSecond,
		lastFill: time.Now(),
		lockWait: lockWait,
	}
}

// Acquire blocks until a token is available or ctx is done. Lock
// acquisition itself is bounded by lockWait; on contention past that
// window it returns ErrRateLimited rather than blocking indefinitely.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	locked := make(chan struct{})
	go func() {
		b.mu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
	case <-time.After(b.lockWait):
		go func() { <-locked; b.mu.Unlock() }()
		return fmt.Errorf("%w: lock acquisition exceeded %s", ErrRateLimited, b.lockWait)
	case <-ctx.Done():
		go func() { <-locked; b.mu.Unlock() }()
		return ctx.Err()
	}
	defer b.mu.Unlock()

	b.refill()

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
			b.refill()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if b.tokens < 1 {
		return fmt.Errorf("%w: no tokens available after wait", ErrRateLimited)
	}
	b.tokens--
	return nil
}

// refill tops up tokens based on elapsed time since the last fill. Caller
// must hold b.mu.
func (b *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens = min(b.capacity, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

// NewBackoff builds the exponential backoff calculator that WithRetry uses
// to pace retries. Defaults mirror the original ExponentialBackoff: base 1s,
// multiplier 2, cap 60s.
func NewBackoff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RateLimitBaseDelay
	b.Multiplier = cfg.RateLimitMultiplier
	b.MaxInterval = cfg.RateLimitMaxDelay
	b.MaxElapsedTime = 0 // caller bounds attempts, not wall-clock
	return b
}

// WithRetry acquires a token (when bucket is non-nil), then runs fn,
// retrying transient failures through an exponential backoff up to
// maxAttempts times. HTTPNoteSource's listing and block-fetch calls go
// through this helper with a bucket, and pair scoring goes through it
// without one; thought extraction, essay generation and embedding calls
// are issued directly, with no token pacing and no retry.
func WithRetry(ctx context.Context, bucket *TokenBucket, cfg Config, maxAttempts int, fn func(context.Context) error) error {
	var attempt int
	bo := backoff.WithContext(backoff.WithMaxRetries(NewBackoff(cfg), uint64(maxAttempts)), ctx)

	return backoff.Retry(func() error {
		attempt++
		if bucket != nil {
			if err := bucket.Acquire(ctx); err != nil {
				return err
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// isRetryable distinguishes transient failures (worth another backoff round)
// from terminal ones (validation failures, not-found) that should abort
// immediately rather than burn through attempts.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransientNetwork) {
		return true
	}
	var valErr *ValidationFailure
	if errors.As(err, &valErr) {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}
