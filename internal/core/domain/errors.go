package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/makaronz/animatize/pkg/schema"
)

// Code is the closed taxonomy of orchestration failures. Every decision point
// (retry policy, circuit accounting) switches over it exhaustively.
type Code string

const (
	CodeInvalidRequest         Code = "INVALID_REQUEST"
	CodeAuthenticationFailed   Code = "AUTHENTICATION_FAILED"
	CodeRateLimitExceeded      Code = "RATE_LIMIT_EXCEEDED"
	CodeProviderError          Code = "PROVIDER_ERROR"
	CodeTimeout                Code = "TIMEOUT"
	CodeInvalidModel           Code = "INVALID_MODEL"
	CodeInsufficientCredits    Code = "INSUFFICIENT_CREDITS"
	CodeContentPolicyViolation Code = "CONTENT_POLICY_VIOLATION"
	CodeNetworkError           Code = "NETWORK_ERROR"
	CodeUnsupportedVersion     Code = "UNSUPPORTED_VERSION"
	CodeNoProviderAvailable    Code = "NO_PROVIDER_AVAILABLE"
	CodeUnknownError           Code = "UNKNOWN_ERROR"
)

// DefaultRetryable reports whether an error of this kind may be retried when
// the producer did not mark the instance explicitly.
func (c Code) DefaultRetryable() bool {
	switch c {
	case CodeRateLimitExceeded, CodeTimeout, CodeNetworkError:
		return true
	case CodeInvalidRequest, CodeAuthenticationFailed, CodeProviderError,
		CodeInvalidModel, CodeInsufficientCredits, CodeContentPolicyViolation,
		CodeUnsupportedVersion, CodeNoProviderAvailable, CodeUnknownError:
		return false
	default:
		return false
	}
}

// Error is the orchestration error envelope. Adapters map vendor failures onto
// it; the router trusts Retryable verbatim.
type Error struct {
	Code       Code
	Message    string
	Retryable  bool
	Provider   string
	Details    map[string]any
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Provider != "" {
		msg = fmt.Sprintf("%s (provider=%s)", msg, e.Provider)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches on Code so errors.Is works across wrapping.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WireDetails converts the error into the response envelope shape.
func (e *Error) WireDetails(now time.Time) *schema.ErrorDetails {
	if e == nil {
		return nil
	}
	return &schema.ErrorDetails{
		Code:       string(e.Code),
		Message:    e.Message,
		Retryable:  e.Retryable,
		Provider:   e.Provider,
		Details:    e.Details,
		Timestamp:  now,
		RetryAfter: e.RetryAfter,
	}
}

// New creates an Error with the kind's default retryability.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Retryable: code.DefaultRetryable()}
}

// InvalidRequest fails validation at the orchestrator boundary.
func InvalidRequest(msg string) *Error {
	return New(CodeInvalidRequest, msg)
}

// InvalidModel means no registered provider can serve the requested model/media.
func InvalidModel(msg string) *Error {
	return New(CodeInvalidModel, msg)
}

// ProviderFailure wraps an upstream provider error.
func ProviderFailure(provider, msg string, cause error) *Error {
	e := New(CodeProviderError, msg)
	e.Provider = provider
	e.Cause = cause
	return e
}

// CircuitOpen is the fast-fail returned without contacting a tripped provider.
func CircuitOpen(provider string) *Error {
	e := New(CodeProviderError, "circuit open")
	e.Provider = provider
	e.Retryable = true
	return e
}

// RateLimited reports an upstream 429-style rejection.
func RateLimited(provider string, retryAfter time.Duration) *Error {
	e := New(CodeRateLimitExceeded, "rate limit exceeded")
	e.Provider = provider
	e.RetryAfter = retryAfter
	return e
}

// AdmissionDenied marks a local rate-limiter denial. The provider is busy, not
// unhealthy, so the router skips it without breaker accounting.
func AdmissionDenied(provider string) *Error {
	e := New(CodeRateLimitExceeded, "admission denied by local rate limiter")
	e.Provider = provider
	return e
}

// Timeout is synthesized when an attempt or the overall deadline expires.
func Timeout(provider string, cause error) *Error {
	e := New(CodeTimeout, "deadline exceeded")
	e.Provider = provider
	e.Cause = cause
	return e
}

// Network reports a transport-level failure reaching the provider.
func Network(provider string, cause error) *Error {
	e := New(CodeNetworkError, "network error")
	e.Provider = provider
	e.Cause = cause
	return e
}

// UnsupportedVersion means no migration path exists between two schema versions.
func UnsupportedVersion(from, to string) *Error {
	return New(CodeUnsupportedVersion, fmt.Sprintf("no migration path from %q to %q", from, to))
}

// NoProviderAvailable aggregates the last error per attempted candidate so
// operators can tell a systemic outage from a single-provider issue.
func NoProviderAvailable(lastErrors map[string]string) *Error {
	e := New(CodeNoProviderAvailable, "all eligible providers exhausted")
	if len(lastErrors) > 0 {
		e.Details = make(map[string]any, len(lastErrors))
		for provider, msg := range lastErrors {
			e.Details[provider] = msg
		}
	}
	return e
}

// AsError classifies any error into the taxonomy, mapping context deadline and
// cancellation onto Timeout and everything unrecognized onto UnknownError.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout("", err)
	}
	out := New(CodeUnknownError, err.Error())
	out.Cause = err
	return out
}
