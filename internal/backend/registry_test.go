package backend

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryResolveFamilies(t *testing.T) {
	r := NewRegistry()

	assert.IsType(t, &ClaudeStrategy{}, r.Resolve("claude"))
	assert.IsType(t, &ClaudeStrategy{}, r.Resolve("claude-code"))
	assert.IsType(t, &ClaudeStrategy{}, r.Resolve("Claude"))
	assert.IsType(t, &AiderStrategy{}, r.Resolve("aider"))
	assert.IsType(t, &AiderStrategy{}, r.Resolve("aider-chat"))
}

func TestRegistryResolveFallback(t *testing.T) {
	r := NewRegistry()

	s := r.Resolve("codex")
	g, ok := s.(*GenericStrategy)
	assert.True(t, ok)
	assert.Equal(t, "codex", g.Binary)
}

func TestRegistryResolveEmptyDefaultsToClaude(t *testing.T) {
	r := NewRegistry()
	assert.IsType(t, &ClaudeStrategy{}, r.Resolve(""))
	assert.IsType(t, &ClaudeStrategy{}, r.Resolve("   "))
}

func TestRegistryCachesInstances(t *testing.T) {
	r := NewRegistry()
	assert.Same(t, r.Resolve("claude"), r.Resolve("claude"))
	assert.NotSame(t, r.Resolve("claude"), r.Resolve("claude-code"))
}

func TestRegistryConcurrentResolve(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Resolve("claude")
			_ = r.Resolve("aider")
			_ = r.Resolve("codex")
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"aider", "claude", "codex"}, r.Known())
}
