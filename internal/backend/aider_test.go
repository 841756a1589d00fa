package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAiderBuildInvocation(t *testing.T) {
	s := NewAiderStrategy()
	task := NewTask("rename the struct", "/repo")
	task.ContextFiles = []string{"model.go"}

	inv, err := s.BuildInvocation(task, "ignored-session")
	require.NoError(t, err)

	assert.Equal(t, "aider", inv.Binary)
	assert.Contains(t, inv.Args, "--message")
	assert.Contains(t, inv.Args, "--yes-always")
	assert.Contains(t, inv.Args, "--no-stream")
	assert.Contains(t, inv.Args, "model.go")
	assert.NotContains(t, inv.Args, "--resume", "aider has no sessions")
}

func TestAiderContextFileCap(t *testing.T) {
	s := NewAiderStrategy()
	task := NewTask("touch everything", "/repo")
	for i := 0; i < 40; i++ {
		task.ContextFiles = append(task.ContextFiles, "file.go")
	}

	inv, err := s.BuildInvocation(task, "")
	require.NoError(t, err)

	fileArgs := 0
	for _, a := range inv.Args {
		if a == "file.go" {
			fileArgs++
		}
	}
	assert.Equal(t, s.Capabilities().MaxContextFiles, fileArgs)
}

func TestAiderParseResultAppliedEdits(t *testing.T) {
	s := NewAiderStrategy()
	task := NewTask("do it", t.TempDir())
	inv, err := s.BuildInvocation(task, "")
	require.NoError(t, err)

	raw := &RawOutput{
		Stdout: "Aider v0.80\n" +
			"Applied edit to internal/model.go\n" +
			"some chatter\n" +
			"Applied edit to internal/model_test.go\n" +
			"Applied edit to internal/model.go\n",
		ExitCode: 0,
	}

	result := s.ParseResult(inv, task, raw)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"internal/model.go", "internal/model_test.go"}, result.TouchedPaths)
	assert.Contains(t, result.Summary, "2 file(s)")
}

func TestAiderParseResultScopeFilter(t *testing.T) {
	s := NewAiderStrategy()
	task := NewTask("do it", t.TempDir())
	task.AllowScopes = []string{"internal/**"}
	inv, err := s.BuildInvocation(task, "")
	require.NoError(t, err)

	raw := &RawOutput{
		Stdout:   "Applied edit to internal/a.go\nApplied edit to cmd/main.go\n",
		ExitCode: 0,
	}

	result := s.ParseResult(inv, task, raw)
	assert.Equal(t, []string{"internal/a.go"}, result.TouchedPaths)
}

func TestAiderParseResultFailure(t *testing.T) {
	s := NewAiderStrategy()
	task := NewTask("do it", t.TempDir())
	inv, err := s.BuildInvocation(task, "")
	require.NoError(t, err)

	raw := &RawOutput{
		Stdout:   "working...\n",
		Stderr:   "litellm.AuthenticationError: invalid api key\n",
		ExitCode: 1,
	}

	result := s.ParseResult(inv, task, raw)
	assert.False(t, result.Success)
	assert.Equal(t, FailureBackend, result.FailureKind)
	assert.Contains(t, result.ErrorMessage, "invalid api key")
}

func TestAiderShouldRetry(t *testing.T) {
	s := NewAiderStrategy()

	assert.True(t, s.ShouldRetry(1, "litellm.RateLimitError: slow down"))
	assert.True(t, s.ShouldRetry(1, "APIConnectionError"))
	assert.False(t, s.ShouldRetry(1, "AuthenticationError: invalid api key"))
	assert.False(t, s.ShouldRetry(0, "rate limit"))
}

func TestParseAppliedEdits(t *testing.T) {
	paths := parseAppliedEdits("  Applied edit to a.go  \nApplied edit to\nno marker here\n")
	assert.Equal(t, []string{"a.go"}, paths)

	assert.Empty(t, parseAppliedEdits(""))
}
