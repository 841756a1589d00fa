package exitcode

import (
	"os"

	"github.com/felixgeelhaar/dispatch/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// PartialFailure indicates a plan finished with some failed steps
	PartialFailure = 3

	// PlanTimeout indicates the overall plan deadline was exceeded
	PlanTimeout = 4

	// AuthError indicates a backend authentication failure
	AuthError = 5

	// RateExhausted indicates a rate bucket could not satisfy the deadline
	RateExhausted = 6

	// Interrupted indicates the run was cancelled by the user
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error classification
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// DetermineExitCode analyzes an error and returns the appropriate exit code
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	var de *errors.DispatchError
	if !errors.AsDispatchError(err, &de) {
		return GeneralError
	}

	switch de.Code {
	case errors.ErrCodeBackendAuth:
		return AuthError
	case errors.ErrCodePlanTimeout:
		return PlanTimeout
	case errors.ErrCodePlanStepFailed, errors.ErrCodePlanAborted:
		return PartialFailure
	case errors.ErrCodeConfigInvalid, errors.ErrCodeConfigUnmarshal, errors.ErrCodePlanInvalid:
		return UsageError
	}

	if de.Kind == errors.KindResourceExhausted {
		return RateExhausted
	}

	return GeneralError
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags, arguments, or plan file)"
	case PartialFailure:
		return "Plan finished with failed steps"
	case PlanTimeout:
		return "Plan deadline exceeded"
	case AuthError:
		return "Backend authentication error"
	case RateExhausted:
		return "Rate limit could not be satisfied before the deadline"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
