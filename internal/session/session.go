// Package session holds per-plan multi-turn state for backends that support
// continuation. A Session lives exactly as long as its plan: it is created
// lazily on the first continuation-capable step, accumulates one turn per
// step, and is discarded when the plan finishes. Sessions are never shared
// across plans and are never persisted.
package session

import (
	"sync"
	"time"
)

// Turn is one prompt/result exchange within a session.
type Turn struct {
	// Prompt is the instruction sent to the backend for this turn
	Prompt string

	// Summary is the backend's result summary for this turn
	Summary string

	// At is when the turn completed
	At time.Time
}

// Session tracks the ordered turn history of one plan together with the
// backend-native continuation id scraped from the most recent result.
type Session struct {
	mu sync.Mutex

	planID       string
	continuation string
	turns        []Turn
	createdAt    time.Time
}

// New creates an empty session for the given plan.
func New(planID string) *Session {
	return &Session{
		planID:    planID,
		createdAt: time.Now(),
	}
}

// PlanID returns the owning plan's id.
func (s *Session) PlanID() string {
	return s.planID
}

// Continuation returns the opaque backend-native continuation id, or ""
// when no turn has produced one yet.
func (s *Session) Continuation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.continuation
}

// RecordTurn appends a completed turn. Backends may rotate their native
// session id on every turn, so a non-empty continuation always replaces
// the stored one.
func (s *Session) RecordTurn(prompt, summary, continuation string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns, Turn{
		Prompt:  prompt,
		Summary: summary,
		At:      time.Now(),
	})
	if continuation != "" {
		s.continuation = continuation
	}
}

// Turns returns a copy of the ordered turn history.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of completed turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}
