package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
)

const (
	KindRateLimit      = "rate_limit"
	KindServer         = "server_error"
	KindInvalidRequest = "invalid_request"
	KindAuth           = "authentication"
	KindNotFound       = "not_found"
	KindEmptyResponse  = "empty_response"
)

// ProviderError is a failure reported by an AI provider.
type ProviderError struct {
	Provider string
	Status   int
	Type     string
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s provider error (status %d): %s", e.Provider, e.Status, msg)
	}
	return fmt.Sprintf("%s provider error: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status of the provider response, or 0.
func (e *ProviderError) StatusCode() int {
	return e.Status
}

// Kind classifies the failure. Rate limiting always yields a kind starting
// with "rate_limit".
func (e *ProviderError) Kind() string {
	if strings.HasPrefix(e.Code, KindRateLimit) || strings.HasPrefix(e.Type, KindRateLimit) {
		return KindRateLimit
	}
	switch {
	case e.Status == http.StatusTooManyRequests:
		return KindRateLimit
	case e.Status >= http.StatusInternalServerError:
		return KindServer
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return KindAuth
	case e.Status == http.StatusNotFound:
		return KindNotFound
	case e.Status >= http.StatusBadRequest:
		return KindInvalidRequest
	}
	if e.Type != "" {
		return e.Type
	}
	return ""
}

// fromOpenAI maps SDK API errors onto ProviderError. Other errors are returned
// as they are.
func fromOpenAI(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(apiErr.StatusCode)
	}
	return &ProviderError{
		Provider: ProviderOpenAI,
		Status:   apiErr.StatusCode,
		Type:     apiErr.Type,
		Code:     apiErr.Code,
		Message:  msg,
		Err:      err,
	}
}
