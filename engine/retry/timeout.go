package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const DefaultTimeoutMessage = "Operation timed out"

// ErrTimeout matches every *TimeoutError via errors.Is.
var ErrTimeout = errors.New("operation timed out")

// TimeoutError reports that WithTimeout stopped waiting.
type TimeoutError struct {
	Message string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return e.Message
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Timeout() bool {
	return true
}

type outcome[T any] struct {
	value T
	err   error
}

// WithTimeout waits at most d for op. When the timer fires first it returns a
// *TimeoutError; op keeps running in the background and its result is dropped.
// A non-positive d disables the deadline.
func WithTimeout[T any](ctx context.Context, d time.Duration, message string, op func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return op(ctx)
	}
	if message == "" {
		message = DefaultTimeoutMessage
	}
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		v, err := op(ctx)
		done <- outcome[T]{value: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	var zero T
	select {
	case res := <-done:
		return res.value, res.err
	case <-timer.C:
		return zero, &TimeoutError{Message: message, After: d}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
