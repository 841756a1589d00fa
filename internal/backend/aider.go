package backend

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// aiderTransientSignatures are provider conditions worth retrying.
var aiderTransientSignatures = []string{
	"rate limit",
	"ratelimiterror",
	"429",
	"timeout",
	"apiconnectionerror",
	"connection error",
	"overloaded",
	"temporarily unavailable",
	"service unavailable",
}

// aiderHardFailureSignatures must never be retried.
var aiderHardFailureSignatures = []string{
	"authenticationerror",
	"invalid api key",
	"api key not found",
	"unauthorized",
	"executable file not found",
	"no such file or directory",
}

// aiderAppliedEditMarker prefixes transcript lines naming an edited file.
const aiderAppliedEditMarker = "Applied edit to "

// AiderStrategy drives the aider CLI. It is diff-oriented: aider edits
// files in place and exits, so the transcript is scanned for applied-edit
// markers, with a trailing-window mtime scan as fallback when the markers
// are missing on an otherwise successful exit.
type AiderStrategy struct {
	// Binary is the executable name; defaults to "aider"
	Binary string

	capabilities Capabilities
}

// NewAiderStrategy creates a strategy for the aider CLI.
func NewAiderStrategy() *AiderStrategy {
	return &AiderStrategy{
		Binary: "aider",
		capabilities: Capabilities{
			SupportsContinuation:     false,
			SupportsStructuredOutput: false,
			PreferredShapes:          []TaskShape{TaskShapeQuick, TaskShapeParallelStep},
			MaxContextFiles:          16,
		},
	}
}

// Name returns the backend family name.
func (a *AiderStrategy) Name() string { return "aider" }

// Capabilities returns the static capability descriptor.
func (a *AiderStrategy) Capabilities() *Capabilities { return &a.capabilities }

// BuildInvocation materializes an aider call. Aider has no session support,
// so the continuation id is ignored and every step is stateless.
func (a *AiderStrategy) BuildInvocation(task *Task, _ string) (*Invocation, error) {
	if task.Instruction == "" {
		return nil, fmt.Errorf("task %s has no instruction", task.ID)
	}

	prompt := a.renderPrompt(task)

	args := []string{
		"--message", prompt,
		"--yes-always",
		"--no-stream",
		"--no-gitignore",
	}

	files := task.ContextFiles
	if max := a.capabilities.MaxContextFiles; len(files) > max {
		files = files[:max]
	}
	args = append(args, files...)

	return &Invocation{
		ID:      uuid.NewString(),
		Backend: a.Name(),
		Binary:  a.Binary,
		Args:    args,
		Dir:     task.RepoRoot,
		Timeout: a.RecommendedTimeout(task.Shape),
		Prompt:  prompt,
	}, nil
}

func (a *AiderStrategy) renderPrompt(task *Task) string {
	var sb strings.Builder
	sb.WriteString(task.Instruction)
	if scope := task.Scope(); scope != nil {
		sb.WriteString("\n\nOnly modify files matching: " + scope.Summary())
	}
	return sb.String()
}

// ParseResult scans the transcript for applied-edit markers. A successful
// exit without markers falls back to a bounded mtime scan of the working
// tree so in-place edits are not reported as false negatives.
func (a *AiderStrategy) ParseResult(inv *Invocation, task *Task, raw *RawOutput) *ExecutionResult {
	result := &ExecutionResult{
		InvocationID: inv.ID,
		Backend:      a.Name(),
		Output:       raw.Combined(),
		Truncated:    raw.Truncated,
		ExitCode:     raw.ExitCode,
		Duration:     raw.Duration,
	}

	edited := parseAppliedEdits(raw.Stdout)

	if raw.ExitCode != 0 {
		result.Success = false
		result.FailureKind = FailureBackend
		result.ErrorMessage = firstLineOf(lastNonEmptyLine(raw.Combined()), 200)
		return result
	}

	result.Success = true
	if len(edited) > 0 {
		result.Summary = fmt.Sprintf("applied edits to %d file(s)", len(edited))
		if scope := task.Scope(); scope != nil {
			edited = scope.Filter(edited)
		}
		result.TouchedPaths = edited
	} else {
		result.Summary = "completed with no reported edits"
		result.TouchedPaths = touchedPaths(task, raw, time.Now())
	}

	return result
}

// ShouldRetry reports whether the failed call hit a transient condition.
func (a *AiderStrategy) ShouldRetry(exitCode int, output string) bool {
	if exitCode == 0 {
		return false
	}
	if matchesAny(output, aiderHardFailureSignatures) {
		return false
	}
	return matchesAny(output, aiderTransientSignatures)
}

// RecommendedTimeout returns the per-shape timeout.
func (a *AiderStrategy) RecommendedTimeout(shape TaskShape) time.Duration {
	switch shape {
	case TaskShapeQuick:
		return 4 * time.Minute
	default:
		return 10 * time.Minute
	}
}

// parseAppliedEdits extracts edited file paths from the transcript in
// order of first appearance, deduplicated.
func parseAppliedEdits(stdout string) []string {
	var paths []string
	seen := make(map[string]bool)

	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		rest, found := strings.CutPrefix(line, aiderAppliedEditMarker)
		if !found {
			continue
		}
		path := strings.TrimSpace(rest)
		if path != "" && !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	}
	return paths
}

// lastNonEmptyLine returns the final non-blank line of a transcript, which
// for aider usually carries the actual error.
func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
