package core

import (
	"errors"
	"fmt"
	"maps"
)

// Failure taxonomy surfaced to the generation-status sink.
const (
	ErrCodeTimeout                = "TIMEOUT"
	ErrCodeAPIError               = "API_ERROR"
	ErrCodeUnsupportedModel       = "UNSUPPORTED_MODEL"
	ErrCodeInvalidConfig          = "INVALID_CONFIG"
	ErrCodeReferenceImageNotFound = "REFERENCE_IMAGE_NOT_FOUND"
	ErrCodeSelfieRequiredMissing  = "SELFIE_REQUIRED_MISSING"
	// ErrCodeImageProcessing marks local decode/encode failures. It is reported
	// to sinks as INVALID_CONFIG.
	ErrCodeImageProcessing = "IMAGE_PROCESSING_ERROR"
)

// Error is a classified failure carrying a stable code.
type Error struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

// NewError classifies err under code. details may be nil.
func NewError(err error, code string, details map[string]any) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    code,
		Message: msg,
		Details: maps.Clone(details),
		Err:     err,
	}
}

// Errorf builds a classified error from a format string.
func Errorf(code, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Code: code, Message: err.Error(), Err: errors.Unwrap(err)}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code so errors.Is(err, &Error{Code: X}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the outermost classified error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// PublicCode maps internal codes onto the surfaced taxonomy.
func PublicCode(code string) string {
	if code == ErrCodeImageProcessing {
		return ErrCodeInvalidConfig
	}
	return code
}

// MessageOf returns the message of the outermost classified error, or err.Error().
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
