package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies gateway errors for HTTP mapping and retry decisions.
type ErrorCode string

const (
	CodeValidation    ErrorCode = "VALIDATION_ERROR" // malformed or schema-violating client input
	CodeNotFound      ErrorCode = "NOT_FOUND"        // unknown session, tool, or model without default
	CodeRateLimited   ErrorCode = "RATE_LIMITED"     // client exceeded quota
	CodeOverloaded    ErrorCode = "OVERLOADED"       // admission control rejected
	CodeAuth          ErrorCode = "AUTH_ERROR"       // upstream rejected credentials
	CodeInvalidReq    ErrorCode = "INVALID_REQUEST"  // upstream rejected request shape
	CodeUpstream      ErrorCode = "UPSTREAM_ERROR"   // upstream 5xx or overloaded
	CodeTimeout       ErrorCode = "TIMEOUT"          // outbound deadline exceeded
	CodeCircuitOpen   ErrorCode = "CIRCUIT_OPEN"     // breaker refused the call
	CodeToolExecution ErrorCode = "TOOL_EXEC_ERROR"  // tool proxy failed structurally
	CodeInternal      ErrorCode = "INTERNAL_ERROR"   // anything else
)

// AppError is the gateway's structured error type.
type AppError struct {
	Code       ErrorCode
	Message    string
	RetryAfter int // advisory seconds for RATE_LIMITED / OVERLOADED (0 = none)
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a caller may retry the same request.
// Only upstream failures, timeouts, and rate limits are worth retrying.
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case CodeUpstream, CodeTimeout, CodeRateLimited:
		return true
	}
	return false
}

// TriggersFallback reports whether the fallback chain should try the
// next provider. Auth and invalid-request failures never fall back:
// the request would fail identically everywhere.
func (e *AppError) TriggersFallback() bool {
	switch e.Code {
	case CodeUpstream, CodeTimeout, CodeCircuitOpen:
		return true
	}
	return false
}

// HTTPStatus maps the error code to the client-visible status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusUnprocessableEntity
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeOverloaded:
		return http.StatusServiceUnavailable
	case CodeAuth, CodeInvalidReq:
		return http.StatusBadRequest
	case CodeUpstream, CodeCircuitOpen:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap creates an AppError wrapping a cause.
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

// NewValidationError flags malformed client input.
func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

// NewNotFoundError flags an unknown resource.
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

// NewRateLimitedError flags quota exhaustion with an advisory retry delay.
func NewRateLimitedError(retryAfter int) *AppError {
	return &AppError{
		Code:       CodeRateLimited,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

// NewOverloadedError flags admission-control rejection.
func NewOverloadedError(reason string, retryAfter int) *AppError {
	return &AppError{
		Code:       CodeOverloaded,
		Message:    reason,
		RetryAfter: retryAfter,
	}
}

// NewCircuitOpenError flags a breaker short-circuit for a provider.
func NewCircuitOpenError(provider string) *AppError {
	return &AppError{
		Code:    CodeCircuitOpen,
		Message: fmt.Sprintf("circuit open for provider %q", provider),
	}
}

// AsAppError extracts an AppError from any error chain,
// defaulting unclassified errors to CodeInternal.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{Code: CodeInternal, Message: "internal error", Err: err}
}

// Is reports whether the error chain contains an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
