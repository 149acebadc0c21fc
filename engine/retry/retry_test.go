package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct {
	code int
}

func (e *statusErr) Error() string   { return fmt.Sprintf("provider returned status %d", e.code) }
func (e *statusErr) StatusCode() int { return e.code }

type messageStatusErr struct {
	code int
	msg  string
}

func (e *messageStatusErr) Error() string   { return e.msg }
func (e *messageStatusErr) StatusCode() int { return e.code }

type kindErr struct {
	kind string
}

func (e *kindErr) Error() string { return "provider error" }
func (e *kindErr) Kind() string  { return e.kind }

// flappyOp fails with err for the first failures calls, then returns value.
func flappyOp(calls *int32, failures int32, err error, value string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		n := atomic.AddInt32(calls, 1)
		if n <= failures {
			return "", err
		}
		return value, nil
	}
}

func fastOptions(maxRetries int) Options {
	return Options{MaxRetries: maxRetries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDo(t *testing.T) {
	t.Run("Should retry 429 twice and return the success value", func(t *testing.T) {
		var calls int32
		op := flappyOp(&calls, 2, &statusErr{code: 429}, "ok")

		result, err := Do(t.Context(), fastOptions(3), op)

		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("Should not retry 400 and propagate the error unchanged", func(t *testing.T) {
		var calls int32
		original := &statusErr{code: 400}
		op := flappyOp(&calls, 100, original, "")

		_, err := Do(t.Context(), fastOptions(3), op)

		require.Error(t, err)
		assert.Same(t, original, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("Should not retry 400 whose message mentions a timeout", func(t *testing.T) {
		var calls int32
		op := flappyOp(&calls, 100, &messageStatusErr{code: 400, msg: "Invalid value for 'timeout'"}, "")

		_, err := Do(t.Context(), fastOptions(3), op)

		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("Should stop after max retries and return the last error", func(t *testing.T) {
		var calls int32
		original := &statusErr{code: 503}
		op := flappyOp(&calls, 100, original, "")

		_, err := Do(t.Context(), fastOptions(2), op)

		require.Error(t, err)
		assert.Same(t, original, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("Should invoke exactly once with zero retries", func(t *testing.T) {
		var calls int32
		op := flappyOp(&calls, 100, &statusErr{code: 429}, "")

		_, err := Do(t.Context(), fastOptions(0), op)

		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("Should honor a custom predicate", func(t *testing.T) {
		var calls int32
		opts := fastOptions(3)
		opts.ShouldRetry = func(error) bool { return true }
		op := flappyOp(&calls, 1, errors.New("anything"), "done")

		result, err := Do(t.Context(), opts, op)

		require.NoError(t, err)
		assert.Equal(t, "done", result)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("Should report each retry through OnRetry", func(t *testing.T) {
		var calls int32
		var attempts []int
		opts := fastOptions(3)
		opts.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }
		op := flappyOp(&calls, 2, errors.New("rate limit reached"), "ok")

		_, err := Do(t.Context(), opts, op)

		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, attempts)
	})

	t.Run("Should stop when the context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		var calls int32
		opts := Options{MaxRetries: 5, BaseDelay: time.Hour}
		op := func(context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			cancel()
			return "", &statusErr{code: 503}
		}

		_, err := Do(ctx, opts, op)

		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestWithTimeout(t *testing.T) {
	t.Run("Should return the operation result when it finishes in time", func(t *testing.T) {
		result, err := WithTimeout(t.Context(), time.Second, "", func(context.Context) (int, error) {
			return 42, nil
		})

		require.NoError(t, err)
		assert.Equal(t, 42, result)
	})

	t.Run("Should fail with a timeout error carrying the message", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		_, err := WithTimeout(t.Context(), 10*time.Millisecond, "AI call too slow", func(context.Context) (int, error) {
			<-release
			return 1, nil
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTimeout)
		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "AI call too slow", te.Message)
		assert.True(t, IsRetryable(err))
	})

	t.Run("Should use the default message", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		_, err := WithTimeout(t.Context(), time.Millisecond, "", func(context.Context) (int, error) {
			<-release
			return 0, nil
		})

		assert.EqualError(t, err, DefaultTimeoutMessage)
	})

	t.Run("Should not cancel the operation context on timeout", func(t *testing.T) {
		finished := make(chan error, 1)
		release := make(chan struct{})

		_, err := WithTimeout(t.Context(), time.Millisecond, "", func(ctx context.Context) (int, error) {
			<-release
			finished <- ctx.Err()
			return 0, nil
		})
		require.ErrorIs(t, err, ErrTimeout)
		close(release)

		assert.NoError(t, <-finished)
	})

	t.Run("Should run without deadline when duration is zero", func(t *testing.T) {
		result, err := WithTimeout(t.Context(), 0, "", func(context.Context) (string, error) {
			return "direct", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "direct", result)
	})
}

func TestIsRetryable(t *testing.T) {
	t.Run("Should classify status codes", func(t *testing.T) {
		for _, code := range []int{429, 502, 503, 504} {
			assert.True(t, IsRetryable(&statusErr{code: code}), "status %d", code)
		}
		for _, code := range []int{400, 401, 404} {
			assert.False(t, IsRetryable(&statusErr{code: code}), "status %d", code)
		}
	})

	t.Run("Should classify rate limit type tags", func(t *testing.T) {
		assert.True(t, IsRetryable(&kindErr{kind: "rate_limit_exceeded"}))
		assert.False(t, IsRetryable(&kindErr{kind: "invalid_request_error"}))
	})

	t.Run("Should fall back to message keywords", func(t *testing.T) {
		assert.True(t, IsRetryable(errors.New("Rate Limit reached for images")))
		assert.True(t, IsRetryable(errors.New("upstream TIMEOUT")))
		assert.True(t, IsRetryable(errors.New("request timed out")))
		assert.True(t, IsRetryable(errors.New("429 Too Many Requests")))
		assert.False(t, IsRetryable(errors.New("invalid prompt")))
	})

	t.Run("Should trust a non-retryable status over message keywords", func(t *testing.T) {
		assert.False(t, IsRetryable(&messageStatusErr{code: 400, msg: "Invalid value for 'timeout'"}))
		assert.False(t, IsRetryable(&messageStatusErr{code: 404, msg: "GET https://timeout.example.com/a.png: 404"}))
		assert.True(t, IsRetryable(&messageStatusErr{msg: "upstream timeout"}))
	})

	t.Run("Should look through wrapping", func(t *testing.T) {
		assert.True(t, IsRetryable(fmt.Errorf("call: %w", &statusErr{code: 503})))
	})

	t.Run("Should never retry cancellation or nil", func(t *testing.T) {
		assert.False(t, IsRetryable(context.Canceled))
		assert.False(t, IsRetryable(nil))
		assert.True(t, IsRetryable(context.DeadlineExceeded))
	})
}
