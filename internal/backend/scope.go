package backend

import (
	"path/filepath"
	"strings"
)

// Scope restricts which repo-relative paths a task may touch. Allow
// patterns whitelist paths (empty allow list matches everything); deny
// patterns always win over allow matches.
type Scope struct {
	allow []string
	deny  []string
}

// NewScope creates a scope from allow and deny glob patterns.
func NewScope(allow, deny []string) *Scope {
	return &Scope{allow: allow, deny: deny}
}

// Matches reports whether a repo-relative path is inside the scope.
func (s *Scope) Matches(path string) bool {
	path = filepath.ToSlash(path)

	for _, pattern := range s.deny {
		if matchGlob(pattern, path) {
			return false
		}
	}

	if len(s.allow) == 0 {
		return true
	}
	for _, pattern := range s.allow {
		if matchGlob(pattern, path) {
			return true
		}
	}
	return false
}

// Filter returns only the paths inside the scope, preserving order.
func (s *Scope) Filter(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if s.Matches(p) {
			out = append(out, p)
		}
	}
	return out
}

// Summary returns a human-readable description of the scope.
func (s *Scope) Summary() string {
	parts := make([]string, 0, len(s.allow)+len(s.deny))
	for _, p := range s.allow {
		parts = append(parts, p)
	}
	for _, p := range s.deny {
		parts = append(parts, "!"+p)
	}
	if len(parts) == 0 {
		return "all files"
	}
	return strings.Join(parts, ", ")
}

// matchGlob matches a path against a glob pattern. On top of plain
// filepath.Match semantics, a trailing "/**" matches the whole subtree and
// a bare directory name matches everything under it.
func matchGlob(pattern, path string) bool {
	pattern = filepath.ToSlash(pattern)

	if matched, _ := filepath.Match(pattern, path); matched {
		return true
	}

	if prefix, found := strings.CutSuffix(pattern, "/**"); found {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}

	// "src" should scope everything under src/.
	if !strings.ContainsAny(pattern, "*?[") {
		return strings.HasPrefix(path, pattern+"/")
	}

	// Fall back to matching the final path element: "*.go" scopes Go
	// files anywhere in the tree.
	if !strings.Contains(pattern, "/") {
		if matched, _ := filepath.Match(pattern, filepath.Base(path)); matched {
			return true
		}
	}

	return false
}
