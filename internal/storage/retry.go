package storage

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/nvandessel/rumormill/internal/constants"
	"github.com/nvandessel/rumormill/internal/metrics"
)

// RetryPolicy controls how transient failures are retried. Classifier marks
// errors safe to retry; everything else propagates immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Classifier  func(error) bool
}

// DefaultRetryPolicy retries busy/lock errors with exponential backoff on
// top of the driver's busy timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: constants.DefaultRetryAttempts,
		BaseDelay:   constants.DefaultRetryBaseDelay,
		MaxDelay:    constants.DefaultRetryMaxDelay,
		Classifier:  IsBusy,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = constants.DefaultRetryBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Classifier == nil {
		p.Classifier = IsBusy
	}
	return p
}

// WithRetry runs fn up to policy.MaxAttempts times, sleeping
// BaseDelay * 2^attempt (capped at MaxDelay, ±25% jitter) between attempts.
// Only errors accepted by the classifier are retried; fn must be safe to
// re-execute verbatim. Exhaustion returns a RetryExhaustedError wrapping the
// last failure. This is the only retry loop in the codebase.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	policy = policy.normalized()

	var last error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !policy.Classifier(err) {
			return err
		}
		last = err
		if attempt == policy.MaxAttempts-1 {
			break
		}
		metrics.RetryAttempts.Inc()

		// Exponential backoff with ±25% jitter.
		delay := policy.BaseDelay << uint(attempt)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return &RetryExhaustedError{Attempts: policy.MaxAttempts, Last: last}
}
