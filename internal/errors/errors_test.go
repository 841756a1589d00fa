package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestDispatchErrorFormat(t *testing.T) {
	err := New(ErrCodeBackendAuth, KindPermanent, "authentication failed for backend: claude").
		WithSuggestion("Log in first")

	msg := err.Error()
	if !strings.Contains(msg, "[BACKEND-002]") {
		t.Errorf("Error() = %q, want error code in message", msg)
	}
	if !strings.Contains(msg, "Log in first") {
		t.Errorf("Error() = %q, want suggestion in message", msg)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("exec: \"claude\": executable file not found in $PATH")
	err := NewSpawnError("claude", cause)

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is() should find the wrapped cause")
	}
	if !strings.Contains(err.Error(), "executable file not found") {
		t.Errorf("Error() = %q, want cause included", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil-adjacent plain error", stderrors.New("boom"), KindUnknown},
		{"transient", NewBackendRateLimitError("claude"), KindTransient},
		{"permanent", NewBackendAuthError("claude"), KindPermanent},
		{"resource exhausted", NewRateDeadlineError("cli", "invoke", nil), KindResourceExhausted},
		{"wrapped transient", fmt.Errorf("step 2: %w", NewExecTimeoutError("aider", "30s")), KindTransient},
		{"wrapped permanent", fmt.Errorf("step 1: %w", NewSpawnError("claude", nil)), KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindPredicates(t *testing.T) {
	if !IsTransient(NewBackendRateLimitError("x")) {
		t.Error("IsTransient() = false for rate limit error")
	}
	if !IsPermanent(NewConfigInvalidError("bad fanout")) {
		t.Error("IsPermanent() = false for config error")
	}
	if !IsResourceExhausted(NewRateDeadlineError("cli", "invoke", nil)) {
		t.Error("IsResourceExhausted() = false for rate deadline error")
	}
	if IsTransient(stderrors.New("unclassified")) {
		t.Error("IsTransient() = true for unclassified error")
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindUnknown, "unknown"},
		{KindTransient, "transient"},
		{KindPermanent, "permanent"},
		{KindResourceExhausted, "resource_exhausted"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
