package onboarding

import (
	"fmt"
	"net/http"
)

// ErrorDetail is the {code, message, context} triple recorded into step
// progress and carried by typed errors.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// ArgumentError marks a caller bug: unknown step id, malformed save
// payload. Never retried.
type ArgumentError struct {
	Detail ErrorDetail
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Detail.Code, e.Detail.Message)
}

// HTTPStatus implements the transport mapping for ArgumentError.
func (e *ArgumentError) HTTPStatus() int { return http.StatusBadRequest }

// NotAcceptableError means a precondition failed: integration inactive or
// outdated, requirements unmet, or the step is blocked. When the step is
// blocked, Detail carries the stored error payload so callers can display
// the block reason.
type NotAcceptableError struct {
	Detail ErrorDetail
}

func (e *NotAcceptableError) Error() string {
	return fmt.Sprintf("%s: %s", e.Detail.Code, e.Detail.Message)
}

func (e *NotAcceptableError) HTTPStatus() int { return http.StatusForbidden }

// LockConflictError means another mutating action holds the onboarding
// lease. Transient; the caller should retry later.
type LockConflictError struct {
	Detail ErrorDetail
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Detail.Code, e.Detail.Message)
}

func (e *LockConflictError) HTTPStatus() int { return http.StatusConflict }

// RemoteDependencyError wraps a failed remote onboarding call. The same
// detail is recorded into the step's progress before this is returned, so
// a later check surfaces it even if the original caller lost the error.
type RemoteDependencyError struct {
	Detail ErrorDetail
	Err    error
}

func (e *RemoteDependencyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Detail.Code, e.Detail.Message)
}

func (e *RemoteDependencyError) Unwrap() error { return e.Err }

func (e *RemoteDependencyError) HTTPStatus() int { return http.StatusFailedDependency }

func errUnknownStep(id StepID) *ArgumentError {
	return &ArgumentError{Detail: ErrorDetail{
		Code:    "unknown_step",
		Message: fmt.Sprintf("unknown onboarding step: %q", id),
	}}
}

func errLocked() *LockConflictError {
	return &LockConflictError{Detail: ErrorDetail{
		Code:    "onboarding_locked",
		Message: "another onboarding action is in progress, try again later",
	}}
}
