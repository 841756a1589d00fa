package backend

import (
	"sort"
	"strings"
	"sync"
)

// Registry resolves backend names to strategies. Resolution is by
// substring so aliases like "claude-code" or "aider-chat" map onto the
// right family, and an unrecognized name falls through to the generic
// strategy rather than failing. Instances are cached per name.
type Registry struct {
	mu    sync.Mutex
	cache map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{cache: make(map[string]Strategy)}
}

// Resolve returns the strategy for a backend name. It never fails: names
// containing "claude" get the Claude strategy, names containing "aider"
// get the aider strategy, and anything else is wrapped generically with
// the name as the binary.
func (r *Registry) Resolve(name string) Strategy {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = "claude"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.cache[key]; ok {
		return s
	}

	var s Strategy
	switch {
	case strings.Contains(key, "claude"):
		s = NewClaudeStrategy()
	case strings.Contains(key, "aider"):
		s = NewAiderStrategy()
	default:
		s = NewGenericStrategy(key)
	}

	r.cache[key] = s
	return s
}

// Known returns the resolved backend names, sorted, for diagnostics.
func (r *Registry) Known() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.cache))
	for name := range r.cache {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Families lists the backend families with first-class strategies.
func Families() []string {
	return []string{"claude", "aider"}
}
