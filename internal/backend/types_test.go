package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactedEnv(t *testing.T) {
	inv := &Invocation{
		Env: []string{
			"ANTHROPIC_API_KEY=sk-ant-secret",
			"AIDER_OPENAI_API_KEY=sk-xyz",
			"MY_TOKEN=abc123",
			"DB_PASSWORD=hunter2",
			"GIT_AUTH_HEADER=basic xyz",
			"HOME=/home/dev",
			"PATH=/usr/bin",
		},
	}

	got := inv.RedactedEnv()
	assert.Equal(t, []string{
		"ANTHROPIC_API_KEY=[REDACTED]",
		"AIDER_OPENAI_API_KEY=[REDACTED]",
		"MY_TOKEN=[REDACTED]",
		"DB_PASSWORD=[REDACTED]",
		"GIT_AUTH_HEADER=[REDACTED]",
		"HOME=/home/dev",
		"PATH=/usr/bin",
	}, got)

	// The original stays untouched.
	assert.Equal(t, "ANTHROPIC_API_KEY=sk-ant-secret", inv.Env[0])
}

func TestRawOutputCombined(t *testing.T) {
	assert.Equal(t, "out", (&RawOutput{Stdout: "out"}).Combined())
	assert.Equal(t, "out\nerr", (&RawOutput{Stdout: "out", Stderr: "err"}).Combined())
}

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("do something", "/repo")
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, TaskShapeQuick, task.Shape)
	assert.Nil(t, task.Scope())

	task.AllowScopes = []string{"*.go"}
	assert.NotNil(t, task.Scope())
}
