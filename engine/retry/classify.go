package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"
)

// StatusCoder is implemented by errors carrying an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Kinder is implemented by errors carrying a provider type tag such as "rate_limit_exceeded".
type Kinder interface {
	Kind() string
}

// transientMessagePattern is a best-effort catch-all for errors with no structured data.
var transientMessagePattern = regexp.MustCompile(`(?i)(rate[ _-]?limit|too many requests|timeout|timed out)`)

// IsRetryable is the built-in classifier. Structured signals are consulted
// first. The message pattern only applies to errors without an HTTP status.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	status := 0
	var sc StatusCoder
	if errors.As(err, &sc) {
		status = sc.StatusCode()
	}
	if IsRetryableStatus(status) {
		return true
	}
	var k Kinder
	if errors.As(err, &k) && strings.HasPrefix(strings.ToLower(k.Kind()), "rate_limit") {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if status > 0 {
		return false
	}
	return transientMessagePattern.MatchString(err.Error())
}

// IsRetryableStatus reports whether an HTTP status is worth retrying.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
