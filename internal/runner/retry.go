package runner

import (
	"context"
	"time"

	"github.com/torosent/tpbench/internal/transport"
)

// FailureLogger logs failed endpoint creations.
type FailureLogger interface {
	LogFailure(opts transport.EndpointOptions, attempt int, err error)
}

// RetryPolicy configures retry behavior.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including initial try
	Delay       time.Duration                              // fixed delay between retries (used if DelayFunc nil)
	ShouldRetry func(error) bool                           // predicate; if nil, all errors retried
	DelayFunc   func(attempt int, err error) time.Duration // dynamic backoff; attempt is 1-based
}

// retryFactory wraps an EndpointFactory with retry logic.
type retryFactory struct {
	inner  EndpointFactory
	policy RetryPolicy
	logger FailureLogger
}

// WithRetry wraps an EndpointFactory with retry capability. Failed attempts
// are reported to logger when it is not nil.
func WithRetry(f EndpointFactory, policy RetryPolicy, logger FailureLogger) EndpointFactory {
	if policy.MaxAttempts <= 1 {
		return f // no retries needed
	}
	return &retryFactory{
		inner:  f,
		policy: policy,
		logger: logger,
	}
}

func (r *retryFactory) CreateEndpoint(ctx context.Context, opts transport.EndpointOptions) (transport.Endpoint, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		ep, err := r.inner.CreateEndpoint(ctx, opts)
		if err == nil {
			return ep, nil
		}
		lastErr = err
		if r.logger != nil {
			r.logger.LogFailure(opts, attempt, err)
		}

		// Don't delay after the last attempt.
		if attempt < r.policy.MaxAttempts {
			if r.policy.ShouldRetry != nil && !r.policy.ShouldRetry(lastErr) {
				return nil, lastErr
			}
			var delay time.Duration
			if r.policy.DelayFunc != nil {
				delay = r.policy.DelayFunc(attempt, lastErr)
			} else {
				delay = r.policy.Delay
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
	}
	return nil, lastErr
}
