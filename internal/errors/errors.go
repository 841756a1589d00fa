package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Backend errors (BACKEND-001 to BACKEND-099)
	ErrCodeBackendNotFound    ErrorCode = "BACKEND-001"
	ErrCodeBackendAuth        ErrorCode = "BACKEND-002"
	ErrCodeBackendRateLimit   ErrorCode = "BACKEND-003"
	ErrCodeBackendTimeout     ErrorCode = "BACKEND-004"
	ErrCodeBackendMalformed   ErrorCode = "BACKEND-005"
	ErrCodeBackendUnavailable ErrorCode = "BACKEND-006"

	// Execution errors (EXEC-001 to EXEC-099)
	ErrCodeExecSpawnFailed ErrorCode = "EXEC-001"
	ErrCodeExecTimeout     ErrorCode = "EXEC-002"
	ErrCodeExecKillFailed  ErrorCode = "EXEC-003"
	ErrCodeExecFailed      ErrorCode = "EXEC-004"

	// Rate limiting errors (RATE-001 to RATE-099)
	ErrCodeRateDeadline  ErrorCode = "RATE-001"
	ErrCodeRateExhausted ErrorCode = "RATE-002"
	ErrCodeRateCancelled ErrorCode = "RATE-003"

	// Plan errors (PLAN-001 to PLAN-099)
	ErrCodePlanInvalid    ErrorCode = "PLAN-001"
	ErrCodePlanStepFailed ErrorCode = "PLAN-002"
	ErrCodePlanAborted    ErrorCode = "PLAN-003"
	ErrCodePlanTimeout    ErrorCode = "PLAN-004"
	ErrCodePlanEmptySteps ErrorCode = "PLAN-005"
	ErrCodePlanBadFanout  ErrorCode = "PLAN-006"

	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigNotFound  ErrorCode = "CONFIG-001"
	ErrCodeConfigInvalid   ErrorCode = "CONFIG-002"
	ErrCodeConfigUnmarshal ErrorCode = "CONFIG-003"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound   ErrorCode = "IO-001"
	ErrCodeFileReadFailed ErrorCode = "IO-002"
)

// Kind classifies an error for retry and propagation decisions.
//
// Transient failures are safe to retry with backoff. Permanent failures must
// never be retried. ResourceExhausted means a rate bucket cannot refill
// before the caller's deadline: the call would eventually succeed under
// current limits, just not in time.
type Kind int

const (
	// KindUnknown is the zero value for errors that carry no classification
	KindUnknown Kind = iota
	// KindTransient marks failures that are retryable with backoff
	KindTransient
	// KindPermanent marks failures that must never be retried
	KindPermanent
	// KindResourceExhausted marks rate-bucket waits that cannot complete in time
	KindResourceExhausted
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindResourceExhausted:
		return "resource_exhausted"
	default:
		return "unknown"
	}
}

// DispatchError represents an enhanced error with code, kind, suggestions, and cause
type DispatchError struct {
	Code        ErrorCode
	Kind        Kind
	Message     string
	Suggestions []string
	Cause       error
}

// Error implements the error interface
func (e *DispatchError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *DispatchError) Unwrap() error {
	return e.Cause
}

// New creates a new DispatchError
func New(code ErrorCode, kind Kind, message string) *DispatchError {
	return &DispatchError{
		Code:    code,
		Kind:    kind,
		Message: message,
	}
}

// Wrap creates a new DispatchError wrapping an existing error
func Wrap(code ErrorCode, kind Kind, message string, cause error) *DispatchError {
	return &DispatchError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *DispatchError) WithSuggestion(suggestion string) *DispatchError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *DispatchError) WithSuggestions(suggestions ...string) *DispatchError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// AsDispatchError reports whether err (or anything it wraps) is a
// DispatchError, storing it in target when found.
func AsDispatchError(err error, target **DispatchError) bool {
	return stderrors.As(err, target)
}

// KindOf returns the classification of err. Unwrapped or foreign errors
// report KindUnknown, which callers must treat as non-retryable.
func KindOf(err error) Kind {
	var de *DispatchError
	if stderrors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is safe to retry
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsPermanent reports whether err must never be retried
func IsPermanent(err error) bool {
	return KindOf(err) == KindPermanent
}

// IsResourceExhausted reports whether err is a rate-bucket deadline miss
func IsResourceExhausted(err error) bool {
	return KindOf(err) == KindResourceExhausted
}

// Common error constructors for frequently used errors

// NewSpawnError creates a process-spawn failure. Spawn failures (missing
// binary, bad working directory) are permanent: retrying cannot help.
func NewSpawnError(binary string, cause error) *DispatchError {
	return Wrap(ErrCodeExecSpawnFailed, KindPermanent, fmt.Sprintf("failed to spawn backend process: %s", binary), cause).
		WithSuggestion(fmt.Sprintf("Check that %q is installed and on PATH", binary)).
		WithSuggestion("Run 'dispatch backends' to see configured backends")
}

// NewExecTimeoutError creates an invocation timeout error
func NewExecTimeoutError(binary string, timeout string) *DispatchError {
	return New(ErrCodeExecTimeout, KindTransient, fmt.Sprintf("backend process %s exceeded timeout of %s", binary, timeout)).
		WithSuggestion("Increase the step timeout in the plan file").
		WithSuggestion("Split the task into smaller steps")
}

// NewBackendAuthError creates a backend authentication error
func NewBackendAuthError(backend string) *DispatchError {
	return New(ErrCodeBackendAuth, KindPermanent, fmt.Sprintf("authentication failed for backend: %s", backend)).
		WithSuggestion(fmt.Sprintf("Log in to the %s CLI before running dispatch", backend)).
		WithSuggestion("Check that your credentials have not expired")
}

// NewBackendRateLimitError creates a provider-side rate limit error
func NewBackendRateLimitError(backend string) *DispatchError {
	return New(ErrCodeBackendRateLimit, KindTransient, fmt.Sprintf("backend %s reported a rate limit", backend)).
		WithSuggestion("The call will be retried automatically with backoff").
		WithSuggestion("Lower the configured capacity for this backend if this persists")
}

// NewRateDeadlineError creates a ResourceExhausted error for a bucket that
// cannot refill before the caller's deadline.
func NewRateDeadlineError(caller, operation string, cause error) *DispatchError {
	return Wrap(ErrCodeRateDeadline, KindResourceExhausted,
		fmt.Sprintf("rate bucket for (%s, %s) cannot refill before the deadline", caller, operation), cause).
		WithSuggestion("Extend the deadline or raise the bucket capacity")
}

// NewConfigInvalidError creates a configuration validation error
func NewConfigInvalidError(details string) *DispatchError {
	return New(ErrCodeConfigInvalid, KindPermanent, fmt.Sprintf("invalid configuration: %s", details)).
		WithSuggestion("Check dispatch.yaml against the documented schema")
}

// NewPlanInvalidError creates a plan validation error
func NewPlanInvalidError(details string) *DispatchError {
	return New(ErrCodePlanInvalid, KindPermanent, fmt.Sprintf("invalid plan: %s", details)).
		WithSuggestion("Check the plan file fields: mode, steps, fanout")
}

// NewFileNotFoundError creates a file not found error
func NewFileNotFoundError(path string) *DispatchError {
	return New(ErrCodeFileNotFound, KindPermanent, fmt.Sprintf("file not found: %s", path)).
		WithSuggestion("Check if the file path is correct")
}
