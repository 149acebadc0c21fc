package retry

import (
	"context"
	"time"

	"github.com/compozy/animagen/pkg/logger"
	goretry "github.com/sethvargo/go-retry"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
	defaultMaxDelay   = 30 * time.Second
	maxAllowedRetries = 100
)

// Options configures Do.
type Options struct {
	// MaxRetries bounds the number of retries; total invocations never exceed MaxRetries+1.
	MaxRetries int
	// BaseDelay is doubled after every retry.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration
	// Jitter adds up to this much random delay to every wait.
	Jitter time.Duration
	// ShouldRetry overrides IsRetryable.
	ShouldRetry func(error) bool
	// OnRetry is invoked before every wait with the 1-based retry number.
	OnRetry func(attempt int, err error)
	// Operation names the call in logs.
	Operation string
}

func DefaultOptions() Options {
	return Options{
		MaxRetries: defaultMaxRetries,
		BaseDelay:  defaultBaseDelay,
		MaxDelay:   defaultMaxDelay,
	}
}

func (o Options) backoff() goretry.Backoff {
	base := o.BaseDelay
	if base <= 0 {
		base = time.Nanosecond
	}
	b := goretry.NewExponential(base)
	if o.MaxDelay > 0 {
		b = goretry.WithCappedDuration(o.MaxDelay, b)
	}
	if o.Jitter > 0 {
		b = goretry.WithJitter(o.Jitter, b)
	}
	retries := o.MaxRetries
	if retries < 0 {
		retries = 0
	}
	if retries > maxAllowedRetries {
		retries = maxAllowedRetries
	}
	return goretry.WithMaxRetries(uint64(retries), b) // #nosec G115 -- bounded above
}

// Do invokes op until it succeeds, returns a non-retryable error, or retries
// are exhausted. Errors are returned unchanged.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}
	log := logger.FromContext(ctx)
	var (
		result  T
		attempt int
	)
	err := goretry.Do(ctx, opts.backoff(), func(ctx context.Context) error {
		value, callErr := op(ctx)
		if callErr == nil {
			result = value
			return nil
		}
		if !shouldRetry(callErr) {
			log.Debug("Error is not retryable", "operation", opts.Operation, "error", callErr)
			return callErr
		}
		attempt++
		if attempt <= opts.MaxRetries {
			log.Debug("Error is retryable, will retry",
				"operation", opts.Operation, "attempt", attempt, "error", callErr)
			if opts.OnRetry != nil {
				opts.OnRetry(attempt, callErr)
			}
		}
		return goretry.RetryableError(callErr)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
