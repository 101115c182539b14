// Package gateway provides the shared retry/backoff wrapper used by every
// external-service client (document store, object store, inference).
package gateway

import (
	"context"
	"log"
	"time"
)

// Policy controls one retried invocation. It is transient: callers build it
// once per client and reuse it, but nothing is persisted between calls.
type Policy struct {
	// MaxRetries is the total number of attempts (default 3).
	MaxRetries int
	// BaseDelay is the first backoff delay; attempt n sleeps BaseDelay * 2^n.
	BaseDelay time.Duration
	// Terminal reports whether an error must not be retried
	// (not-found, invalid-argument, unauthorized).
	Terminal func(error) bool

	// sleep is injectable for tests; nil means time.Sleep.
	sleep func(time.Duration)
}

// DefaultPolicy returns a policy with the standard retry tuning.
func DefaultPolicy(terminal func(error) bool) Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Terminal:   terminal,
	}
}

// WithSleep returns a copy of the policy with a replacement sleep function.
func (p Policy) WithSleep(sleep func(time.Duration)) Policy {
	p.sleep = sleep
	return p
}

// Do invokes op up to p.MaxRetries times with exponential backoff between
// attempts. Terminal errors propagate immediately. After the final attempt
// the last error is returned. Retries block the calling goroutine; ctx is
// handed to op but does not cancel the backoff sleeps.
func Do[T any](ctx context.Context, p Policy, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	maxRetries := p.MaxRetries
	if maxRetries < 1 {
		maxRetries = 3
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.Terminal != nil && p.Terminal(err) {
			return zero, err
		}

		if attempt < maxRetries-1 {
			delay := p.BaseDelay * (1 << attempt)
			log.Printf("gateway: %s failed (attempt %d/%d): %v; retrying in %s", name, attempt+1, maxRetries, err, delay)
			sleep(delay)
		} else {
			log.Printf("gateway: %s failed after %d attempts: %v", name, maxRetries, err)
		}
	}
	return zero, lastErr
}
