// Package live implements the live-trading engine (spec.md §4.6): real
// venue execution with a retry policy, safety circuit breakers, a
// reconnect loop, and trade-execution monitoring.
package live

import (
	"context"
	"time"

	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

// RetryPolicy implements spec.md §4.6's venue-call retry contract:
// attempt = 1..MaxAttempts, delay before retry k is
// min(MaxDelay, InitialDelay * BackoffFactor^(k-1)), retrying only on
// transient errors. Grounded on the teacher's exchange.WSFeed.Run
// exponential-backoff timer (internal/exchange/ws.go), generalized from a
// fixed doubling factor to a configurable BackoffFactor.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// DefaultRetryPolicy mirrors the teacher's 1s-initial/30s-cap reconnect
// backoff, generalized to a doubling factor.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   5,
		InitialDelay:  time.Second,
		BackoffFactor: 2,
		MaxDelay:      30 * time.Second,
	}
}

// delayFor returns the backoff delay before retry attempt k (1-indexed).
func (p RetryPolicy) delayFor(k int) time.Duration {
	delay := float64(p.InitialDelay)
	for i := 1; i < k; i++ {
		delay *= p.BackoffFactor
	}
	capped := float64(p.MaxDelay)
	if delay > capped {
		delay = capped
	}
	return time.Duration(delay)
}

// isRetryable reports whether an error's Kind is a transient venue
// condition worth retrying (network blips, rate limiting) as opposed to a
// permanent rejection (bad request, insufficient funds).
func isRetryable(err error) bool {
	kind, ok := types.KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case types.KindNetworkTransient, types.KindRateLimited:
		return true
	default:
		return false
	}
}

// Do executes fn, retrying on transient errors per the policy. It returns
// the last error if every attempt fails, or nil on the first success.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delayFor(attempt)):
		}
	}
	return lastErr
}
