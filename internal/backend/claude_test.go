package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeBuildInvocation(t *testing.T) {
	s := NewClaudeStrategy()
	task := NewTask("add a health endpoint", "/repo")
	task.ContextFiles = []string{"server.go", "routes.go"}

	inv, err := s.BuildInvocation(task, "")
	require.NoError(t, err)

	assert.Equal(t, "claude", inv.Binary)
	assert.Equal(t, "/repo", inv.Dir)
	assert.Contains(t, inv.Args, "-p")
	assert.Contains(t, inv.Args, "--output-format")
	assert.Contains(t, inv.Args, "--dangerously-skip-permissions")
	assert.NotContains(t, inv.Args, "--resume")
	assert.Contains(t, inv.Prompt, "add a health endpoint")
	assert.Contains(t, inv.Prompt, "server.go")
}

func TestClaudeBuildInvocationResume(t *testing.T) {
	s := NewClaudeStrategy()
	task := NewTask("now add tests", "/repo")
	task.ContextFiles = []string{"server.go"}

	inv, err := s.BuildInvocation(task, "sess-123")
	require.NoError(t, err)

	assert.Contains(t, inv.Args, "--resume")
	assert.Contains(t, inv.Args, "sess-123")
	// A resume rides on the session's existing context.
	assert.NotContains(t, inv.Prompt, "server.go")
}

func TestClaudeBuildInvocationEmptyInstruction(t *testing.T) {
	s := NewClaudeStrategy()
	task := NewTask("", "/repo")

	_, err := s.BuildInvocation(task, "")
	assert.Error(t, err)
}

func TestClaudeParseResultEnvelope(t *testing.T) {
	s := NewClaudeStrategy()
	task := NewTask("do it", t.TempDir())
	inv, err := s.BuildInvocation(task, "")
	require.NoError(t, err)

	raw := &RawOutput{
		Stdout:   `{"type":"result","subtype":"success","result":"Added the endpoint","is_error":false,"session_id":"sess-9","num_turns":3}`,
		ExitCode: 0,
		Duration: 2 * time.Second,
	}

	result := s.ParseResult(inv, task, raw)
	assert.True(t, result.Success)
	assert.Equal(t, "sess-9", result.SessionID)
	assert.Equal(t, "Added the endpoint", result.Summary)
	assert.Equal(t, FailureNone, result.FailureKind)
}

func TestClaudeParseResultEnvelopeWithBanner(t *testing.T) {
	s := NewClaudeStrategy()
	task := NewTask("do it", t.TempDir())
	inv, err := s.BuildInvocation(task, "")
	require.NoError(t, err)

	raw := &RawOutput{
		Stdout:   "starting up...\n" + `{"type":"result","result":"ok","session_id":"sess-1"}`,
		ExitCode: 0,
	}

	result := s.ParseResult(inv, task, raw)
	assert.True(t, result.Success)
	assert.Equal(t, "sess-1", result.SessionID)
}

func TestClaudeParseResultBackendError(t *testing.T) {
	s := NewClaudeStrategy()
	task := NewTask("do it", t.TempDir())
	inv, err := s.BuildInvocation(task, "")
	require.NoError(t, err)

	raw := &RawOutput{
		Stdout:   `{"type":"result","result":"credit balance too low","is_error":true}`,
		ExitCode: 1,
	}

	result := s.ParseResult(inv, task, raw)
	assert.False(t, result.Success)
	assert.Equal(t, FailureBackend, result.FailureKind)
	assert.Equal(t, "credit balance too low", result.ErrorMessage)
}

func TestClaudeParseResultMalformedOutput(t *testing.T) {
	s := NewClaudeStrategy()
	task := NewTask("do it", t.TempDir())
	inv, err := s.BuildInvocation(task, "")
	require.NoError(t, err)

	result := s.ParseResult(inv, task, &RawOutput{Stdout: "plain text, no json", ExitCode: 0})
	assert.True(t, result.Success)
	assert.Equal(t, "plain text, no json", result.Summary)
	assert.Empty(t, result.SessionID)
}

func TestClaudeShouldRetry(t *testing.T) {
	s := NewClaudeStrategy()

	assert.False(t, s.ShouldRetry(0, "rate limit"), "success is never retried")
	assert.True(t, s.ShouldRetry(1, "Error: rate limit exceeded"))
	assert.True(t, s.ShouldRetry(1, "HTTP 429 from api"))
	assert.False(t, s.ShouldRetry(1, "Invalid API key. Please run /login"))
	assert.False(t, s.ShouldRetry(1, "rate limit hit, but also: not logged in"),
		"hard failure wins over transient signature")
	assert.False(t, s.ShouldRetry(1, "something else entirely"))
}

func TestClaudeRecommendedTimeout(t *testing.T) {
	s := NewClaudeStrategy()
	assert.Equal(t, 5*time.Minute, s.RecommendedTimeout(TaskShapeQuick))
	assert.Equal(t, 15*time.Minute, s.RecommendedTimeout(TaskShapeSequentialStep))
}

func TestClaudeCapabilities(t *testing.T) {
	caps := NewClaudeStrategy().Capabilities()
	assert.True(t, caps.SupportsContinuation)
	assert.True(t, caps.SupportsStructuredOutput)
	assert.True(t, caps.Prefers(TaskShapeSequentialStep))
}
