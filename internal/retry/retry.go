// Package retry is the single retry policy applied at I/O boundaries.
// Stages that talk to best-effort HTTP endpoints use it directly; bus
// consumers rely on redelivery instead and must not wrap handlers here.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds retries with exponential backoff. The zero value is not
// usable; construct with the fields you need.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts uint64

	// InitialInterval is the first backoff delay; later delays grow
	// exponentially.
	InitialInterval time.Duration

	// Retryable reports whether an error is worth retrying. A nil
	// predicate retries every error.
	Retryable func(error) bool
}

// Default is the bounded policy used by the watcher and intake
// forwarding paths: 3 attempts, backoff growing per attempt.
func Default() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
	}
}

// Do runs op until it succeeds, the policy is exhausted, or ctx is
// done. Non-retryable errors are returned immediately.
func (p Policy) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}

	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	wrapped := func() error {
		err := op()
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, attempts-1), ctx))
}
