// Package errs provides structured error types and helpers for statusdeck services.
package errs

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Code identifies a provider-specific error category.
type Code string

const (
	// CodeRateLimited indicates that the request exceeded rate limits.
	CodeRateLimited Code = "rate_limited"
	// CodeAuth indicates authentication or authorization errors.
	CodeAuth Code = "auth"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeProvider indicates a provider-side failure.
	CodeProvider Code = "provider_error"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the statusdeck stack.
type E struct {
	Provider   string
	Code       Code
	HTTP       int
	RawBody    string
	Message    string
	RetryAfter time.Duration

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the provider and error code.
func New(provider string, code Code, opts ...Option) *E {
	e := &E{
		Provider:   strings.TrimSpace(provider),
		Code:       code,
		HTTP:       0,
		RawBody:    "",
		Message:    "",
		RetryAfter: 0,
		cause:      nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawBody captures the raw provider response body.
func WithRawBody(body string) Option {
	return func(e *E) {
		e.RawBody = body
	}
}

// WithRetryAfter records the delay requested by the provider before retrying.
func WithRetryAfter(d time.Duration) Option {
	return func(e *E) {
		if d < 0 {
			d = 0
		}
		e.RetryAfter = d
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	provider := strings.TrimSpace(e.Provider)
	if provider == "" {
		provider = "unknown"
	}
	parts = append(parts, "provider="+provider)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RetryAfter > 0 {
		parts = append(parts, "retry_after="+e.RetryAfter.String())
	}
	if e.RawBody != "" {
		parts = append(parts, "body="+strconv.Quote(e.RawBody))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// IsNotFound reports whether the error chain contains a not_found envelope.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsAuth reports whether the error chain contains an auth envelope.
func IsAuth(err error) bool {
	return hasCode(err, CodeAuth)
}

// Retriable reports whether the error represents a transient condition worth
// retrying: rate limiting, network transport failures, or provider 5xx.
func Retriable(err error) bool {
	var e *E
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case CodeRateLimited, CodeNetwork, CodeUnavailable:
		return true
	case CodeAuth, CodeInvalid, CodeProvider, CodeNotFound, CodeConflict:
	}
	return e.HTTP == http.StatusTooManyRequests || e.HTTP >= http.StatusInternalServerError
}

func hasCode(err error, code Code) bool {
	var e *E
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// NotConnected returns a standardized error for adapters missing credentials.
func NotConnected(provider string) *E {
	return New(provider, CodeAuth, WithMessage("no stored session for provider"))
}
