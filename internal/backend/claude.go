package backend

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// claudeTransientSignatures are provider conditions worth retrying.
var claudeTransientSignatures = []string{
	"rate limit",
	"rate_limit",
	"429",
	"overloaded",
	"internal server error",
	"connection reset",
	"connection refused",
	"timeout",
	"temporarily unavailable",
}

// claudeHardFailureSignatures must never be retried, even when a transient
// signature also appears in the transcript.
var claudeHardFailureSignatures = []string{
	"invalid api key",
	"authentication",
	"unauthorized",
	"please run /login",
	"not logged in",
	"executable file not found",
}

// claudeResponse is the JSON envelope emitted with --output-format json.
type claudeResponse struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	Result    string `json:"result"`
	IsError   bool   `json:"is_error"`
	SessionID string `json:"session_id"`
	NumTurns  int    `json:"num_turns"`
}

// ClaudeStrategy drives the Claude Code CLI. It is session-oriented: the
// first step of a plan scrapes the backend-native session id from the JSON
// envelope, and later steps attach it with --resume instead of re-sending
// full context.
type ClaudeStrategy struct {
	// Binary is the executable name; defaults to "claude"
	Binary string

	capabilities Capabilities
}

// NewClaudeStrategy creates a strategy for the Claude Code CLI.
func NewClaudeStrategy() *ClaudeStrategy {
	return &ClaudeStrategy{
		Binary: "claude",
		capabilities: Capabilities{
			SupportsContinuation:     true,
			SupportsStructuredOutput: true,
			PreferredShapes:          []TaskShape{TaskShapeSequentialStep, TaskShapeQuick},
			MaxContextFiles:          32,
		},
	}
}

// Name returns the backend family name.
func (c *ClaudeStrategy) Name() string { return "claude" }

// Capabilities returns the static capability descriptor.
func (c *ClaudeStrategy) Capabilities() *Capabilities { return &c.capabilities }

// BuildInvocation materializes a claude CLI call for the task. A non-empty
// continuation id turns the call into a session resume.
func (c *ClaudeStrategy) BuildInvocation(task *Task, continuation string) (*Invocation, error) {
	if task.Instruction == "" {
		return nil, fmt.Errorf("task %s has no instruction", task.ID)
	}

	prompt := c.renderPrompt(task, continuation != "")

	args := []string{
		"-p", prompt,
		"--output-format", "json",
		"--dangerously-skip-permissions",
	}
	if continuation != "" {
		args = append(args, "--resume", continuation)
	}

	return &Invocation{
		ID:      uuid.NewString(),
		Backend: c.Name(),
		Binary:  c.Binary,
		Args:    args,
		Dir:     task.RepoRoot,
		Timeout: c.RecommendedTimeout(task.Shape),
		Prompt:  prompt,
	}, nil
}

// renderPrompt builds the instruction text. On a resume the session already
// carries the working context, so only the new instruction and scope are
// sent.
func (c *ClaudeStrategy) renderPrompt(task *Task, resuming bool) string {
	var sb strings.Builder

	sb.WriteString(task.Instruction)
	sb.WriteString("\n")

	if !resuming {
		files := task.ContextFiles
		if max := c.capabilities.MaxContextFiles; len(files) > max {
			files = files[:max]
		}
		if len(files) > 0 {
			sb.WriteString("\nRead these files before making changes:\n")
			for _, f := range files {
				sb.WriteString("- " + f + "\n")
			}
		}
	}

	if scope := task.Scope(); scope != nil {
		sb.WriteString("\nOnly modify files matching: " + scope.Summary() + "\n")
	}

	return sb.String()
}

// ParseResult decodes the JSON envelope from stdout. Malformed output is
// treated as an opaque transcript rather than an error.
func (c *ClaudeStrategy) ParseResult(inv *Invocation, task *Task, raw *RawOutput) *ExecutionResult {
	result := &ExecutionResult{
		InvocationID: inv.ID,
		Backend:      c.Name(),
		Output:       raw.Combined(),
		Truncated:    raw.Truncated,
		ExitCode:     raw.ExitCode,
		Duration:     raw.Duration,
	}

	resp, ok := decodeClaudeEnvelope(raw.Stdout)
	if ok {
		result.SessionID = resp.SessionID
		result.Summary = firstLineOf(resp.Result, 200)
		if resp.IsError || raw.ExitCode != 0 {
			result.Success = false
			result.FailureKind = FailureBackend
			result.ErrorMessage = resp.Result
		} else {
			result.Success = true
		}
	} else if raw.ExitCode == 0 {
		result.Success = true
		result.Summary = firstLineOf(raw.Stdout, 200)
	} else {
		result.Success = false
		result.FailureKind = FailureBackend
		result.ErrorMessage = firstLineOf(raw.Combined(), 200)
	}

	if result.Success {
		result.TouchedPaths = touchedPaths(task, raw, time.Now())
	}

	return result
}

// ShouldRetry reports whether the failed call hit a transient provider
// condition. Auth and install problems are never retried.
func (c *ClaudeStrategy) ShouldRetry(exitCode int, output string) bool {
	if exitCode == 0 {
		return false
	}
	if matchesAny(output, claudeHardFailureSignatures) {
		return false
	}
	return matchesAny(output, claudeTransientSignatures)
}

// RecommendedTimeout returns the per-shape timeout. Plan steps get a
// larger budget to absorb session-resume overhead.
func (c *ClaudeStrategy) RecommendedTimeout(shape TaskShape) time.Duration {
	switch shape {
	case TaskShapeQuick:
		return 5 * time.Minute
	default:
		return 15 * time.Minute
	}
}

// decodeClaudeEnvelope extracts the result envelope from possibly noisy
// stdout. The CLI prints exactly one JSON object, but wrappers sometimes
// prepend banner text.
func decodeClaudeEnvelope(stdout string) (*claudeResponse, bool) {
	trimmed := strings.TrimSpace(stdout)

	var resp claudeResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err == nil && resp.Type == "result" {
		return &resp, true
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &resp); err == nil && resp.Type == "result" {
		return &resp, true
	}
	return nil, false
}

// firstLineOf returns the first line of s, capped at max bytes.
func firstLineOf(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max]
	}
	return s
}
