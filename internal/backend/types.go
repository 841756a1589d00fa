package backend

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskShape tags the kind of work a task represents. Strategies use the
// shape to recommend timeouts: quick tasks get the shortest budget, plan
// steps get larger ones to absorb continuation overhead.
type TaskShape string

const (
	// TaskShapeQuick is a one-shot task outside any plan
	TaskShapeQuick TaskShape = "quick"

	// TaskShapeSequentialStep is a step in an ordered plan
	TaskShapeSequentialStep TaskShape = "sequential-step"

	// TaskShapeParallelStep is a step in a fan-out plan
	TaskShapeParallelStep TaskShape = "parallel-step"
)

// Task is one unit of delegated work. Immutable once created.
type Task struct {
	// ID uniquely identifies the task
	ID string

	// Instruction is the code-modification request text
	Instruction string

	// RepoRoot is the target repository root the backend runs in
	RepoRoot string

	// ContextFiles are optional paths (relative to RepoRoot) the backend
	// should read before working
	ContextFiles []string

	// AllowScopes / DenyScopes are optional glob patterns restricting the
	// files the task may touch
	AllowScopes []string
	DenyScopes  []string

	// Shape tags the task for timeout recommendation
	Shape TaskShape
}

// NewTask creates a task with a fresh id. The shape defaults to quick.
func NewTask(instruction, repoRoot string) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Instruction: instruction,
		RepoRoot:    repoRoot,
		Shape:       TaskShapeQuick,
	}
}

// Scope returns the task's allow/deny scope, or nil when none was given.
func (t *Task) Scope() *Scope {
	if len(t.AllowScopes) == 0 && len(t.DenyScopes) == 0 {
		return nil
	}
	return NewScope(t.AllowScopes, t.DenyScopes)
}

// Invocation is the materialized process description for one task on one
// strategy. It is owned exclusively by the driver run that consumes it and
// is discarded after the process exits.
type Invocation struct {
	// ID uniquely identifies this invocation
	ID string

	// Backend is the name of the strategy that built the invocation
	Backend string

	// Binary is the executable to spawn
	Binary string

	// Args is the full argument vector (without the binary itself)
	Args []string

	// Env is the process environment as KEY=VALUE pairs; empty means
	// inherit the parent environment
	Env []string

	// Dir is the working directory
	Dir string

	// Timeout is the declared per-invocation timeout
	Timeout time.Duration

	// Prompt is the rendered instruction text, kept for session turn
	// recording (it is already embedded in Args)
	Prompt string
}

var sensitiveEnvName = regexp.MustCompile(`(?i)(token|secret|key|password|credential|auth)`)

// RedactedEnv returns the environment with credential-shaped values masked.
// Always use this form for logging; the cleartext Env never reaches a log.
func (inv *Invocation) RedactedEnv() []string {
	out := make([]string, len(inv.Env))
	for i, kv := range inv.Env {
		name, _, found := strings.Cut(kv, "=")
		if found && sensitiveEnvName.MatchString(name) {
			out[i] = name + "=[REDACTED]"
		} else {
			out[i] = kv
		}
	}
	return out
}

// String returns a loggable one-line description of the invocation.
func (inv *Invocation) String() string {
	return fmt.Sprintf("%s %s (dir=%s, timeout=%s)", inv.Binary, strings.Join(inv.Args, " "), inv.Dir, inv.Timeout)
}

// RawOutput is what the driver captured from one process run. It is handed
// to the originating strategy for parsing.
type RawOutput struct {
	// Stdout and Stderr are the captured streams, each capped at the
	// driver's byte ceiling
	Stdout string
	Stderr string

	// ExitCode is the process exit status
	ExitCode int

	// Truncated is set when either stream hit the byte ceiling
	Truncated bool

	// Duration is the wall-clock run time
	Duration time.Duration

	// ModifiedFiles are repo-relative paths the driver observed being
	// written while the process ran; a hint, not authoritative
	ModifiedFiles []string
}

// Combined returns stdout and stderr joined for keyword scanning.
func (r *RawOutput) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// FailureKind distinguishes how an invocation failed.
type FailureKind string

const (
	// FailureNone means the invocation did not fail
	FailureNone FailureKind = ""

	// FailureTimeout means the process exceeded its declared timeout
	FailureTimeout FailureKind = "timeout"

	// FailureSpawn means the process could not be started at all
	FailureSpawn FailureKind = "spawn"

	// FailureBackend means the process ran but the backend reported failure
	FailureBackend FailureKind = "backend"
)

// ExecutionResult is the outcome of one invocation.
type ExecutionResult struct {
	// InvocationID links the result back to its invocation
	InvocationID string

	// Backend is the strategy name that produced the result
	Backend string

	// Success reports whether the backend completed the task
	Success bool

	// Summary is a short human-readable description of what happened
	Summary string

	// TouchedPaths are the repo-relative files the backend is believed to
	// have modified, filtered through the task scope when one was given
	TouchedPaths []string

	// Output is the size-bounded raw output
	Output string

	// Truncated is set when Output hit the driver's byte ceiling
	Truncated bool

	// SessionID is the backend-native continuation id, when the strategy
	// supports continuation and one was found
	SessionID string

	// ExitCode is the process exit status (-1 when the process never ran)
	ExitCode int

	// Duration is the wall-clock run time
	Duration time.Duration

	// FailureKind classifies the failure; FailureNone on success
	FailureKind FailureKind

	// ErrorMessage holds the failure description; empty on success
	ErrorMessage string
}
