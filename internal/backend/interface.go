// Package backend translates tasks into concrete process invocations for a
// class of external code-generation tools, and raw process output back into
// normalized results. One Strategy exists per backend family; the Registry
// picks the strategy for a configured backend identifier.
package backend

import (
	"strings"
	"time"
)

// Capabilities is the static capability descriptor for a backend variant.
type Capabilities struct {
	// SupportsContinuation indicates the backend can resume a prior
	// session so later plan steps avoid re-sending full context
	SupportsContinuation bool

	// SupportsStructuredOutput indicates the backend can emit a
	// machine-parseable result envelope
	SupportsStructuredOutput bool

	// PreferredShapes lists the task shapes this backend handles best
	PreferredShapes []TaskShape

	// MaxContextFiles caps how many context files one invocation may carry
	MaxContextFiles int
}

// Prefers reports whether the given shape is among the preferred shapes.
func (c *Capabilities) Prefers(shape TaskShape) bool {
	for _, s := range c.PreferredShapes {
		if s == shape {
			return true
		}
	}
	return false
}

// Strategy is the adapter between tasks and one backend family.
//
// BuildInvocation materializes a process description for a task; a non-empty
// continuation id attaches a previous session when the backend supports it
// and is ignored otherwise. ParseResult turns captured process output into a
// normalized result and never fails: malformed output yields a failed
// result, not an error.
type Strategy interface {
	// Name returns the canonical backend family name
	Name() string

	// Capabilities returns the static capability descriptor
	Capabilities() *Capabilities

	// BuildInvocation materializes a process description for the task
	BuildInvocation(task *Task, continuation string) (*Invocation, error)

	// ParseResult normalizes raw process output into an ExecutionResult
	ParseResult(inv *Invocation, task *Task, raw *RawOutput) *ExecutionResult

	// ShouldRetry reports whether a failed invocation with the given exit
	// status and output hit a transient condition. The verdict is
	// deterministic for a given (exit, output) pair.
	ShouldRetry(exitCode int, output string) bool

	// RecommendedTimeout returns the per-invocation timeout for a shape
	RecommendedTimeout(shape TaskShape) time.Duration
}

// matchesAny reports whether output contains any of the given signatures,
// case-insensitively. Shared by the strategies' retry verdicts.
func matchesAny(output string, signatures []string) bool {
	lower := strings.ToLower(output)
	for _, sig := range signatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
