package backend

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var genericTransientSignatures = []string{
	"rate limit",
	"429",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"service unavailable",
	"overloaded",
}

var genericHardFailureSignatures = []string{
	"unauthorized",
	"invalid api key",
	"authentication failed",
	"permission denied",
	"executable file not found",
}

// GenericStrategy wraps an arbitrary CLI that accepts the prompt as its
// final argument and writes results to stdout. It makes no assumptions
// about output structure and supports no session continuity.
type GenericStrategy struct {
	// Binary is the executable name passed through from the backend spec.
	Binary string

	capabilities Capabilities
}

// NewGenericStrategy creates a fallback strategy around the named binary.
func NewGenericStrategy(binary string) *GenericStrategy {
	return &GenericStrategy{
		Binary: binary,
		capabilities: Capabilities{
			SupportsContinuation:     false,
			SupportsStructuredOutput: false,
			PreferredShapes:          []TaskShape{TaskShapeQuick},
			MaxContextFiles:          0,
		},
	}
}

// Name returns the wrapped binary name.
func (g *GenericStrategy) Name() string { return g.Binary }

// Capabilities returns the static capability descriptor.
func (g *GenericStrategy) Capabilities() *Capabilities { return &g.capabilities }

// BuildInvocation passes the rendered prompt as the single positional
// argument. The continuation id is ignored.
func (g *GenericStrategy) BuildInvocation(task *Task, _ string) (*Invocation, error) {
	if task.Instruction == "" {
		return nil, fmt.Errorf("task %s has no instruction", task.ID)
	}

	prompt := task.Instruction
	if scope := task.Scope(); scope != nil {
		prompt += "\n\nOnly modify files matching: " + scope.Summary()
	}

	return &Invocation{
		ID:      uuid.NewString(),
		Backend: g.Name(),
		Binary:  g.Binary,
		Args:    []string{prompt},
		Dir:     task.RepoRoot,
		Timeout: g.RecommendedTimeout(task.Shape),
		Prompt:  prompt,
	}, nil
}

// ParseResult treats a zero exit as success with the whole transcript as
// the summary source.
func (g *GenericStrategy) ParseResult(inv *Invocation, task *Task, raw *RawOutput) *ExecutionResult {
	result := &ExecutionResult{
		InvocationID: inv.ID,
		Backend:      g.Name(),
		Output:       raw.Combined(),
		Truncated:    raw.Truncated,
		ExitCode:     raw.ExitCode,
		Duration:     raw.Duration,
	}

	if raw.ExitCode != 0 {
		result.Success = false
		result.FailureKind = FailureBackend
		result.ErrorMessage = firstLineOf(strings.TrimSpace(raw.Stderr), 200)
		if result.ErrorMessage == "" {
			result.ErrorMessage = fmt.Sprintf("%s exited with code %d", g.Binary, raw.ExitCode)
		}
		return result
	}

	result.Success = true
	result.Summary = firstLineOf(strings.TrimSpace(raw.Stdout), 200)
	result.TouchedPaths = touchedPaths(task, raw, time.Now())
	return result
}

// ShouldRetry falls back to transcript signatures shared across providers.
func (g *GenericStrategy) ShouldRetry(exitCode int, output string) bool {
	if exitCode == 0 {
		return false
	}
	if matchesAny(output, genericHardFailureSignatures) {
		return false
	}
	return matchesAny(output, genericTransientSignatures)
}

// RecommendedTimeout returns the per-shape timeout.
func (g *GenericStrategy) RecommendedTimeout(shape TaskShape) time.Duration {
	switch shape {
	case TaskShapeQuick:
		return 5 * time.Minute
	default:
		return 15 * time.Minute
	}
}
