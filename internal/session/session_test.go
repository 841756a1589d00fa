package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordTurnKeepsOrder(t *testing.T) {
	s := New("plan-1")

	s.RecordTurn("first prompt", "did the first thing", "sess-a")
	s.RecordTurn("second prompt", "did the second thing", "sess-b")

	turns := s.Turns()
	assert.Len(t, turns, 2)
	assert.Equal(t, "first prompt", turns[0].Prompt)
	assert.Equal(t, "second prompt", turns[1].Prompt)
}

func TestContinuationReplacedByLatest(t *testing.T) {
	s := New("plan-1")
	assert.Empty(t, s.Continuation())

	s.RecordTurn("p1", "s1", "sess-a")
	assert.Equal(t, "sess-a", s.Continuation())

	// Claude rotates session ids per turn; the latest one wins.
	s.RecordTurn("p2", "s2", "sess-b")
	assert.Equal(t, "sess-b", s.Continuation())
}

func TestEmptyContinuationPreserved(t *testing.T) {
	s := New("plan-1")
	s.RecordTurn("p1", "s1", "sess-a")
	s.RecordTurn("p2", "s2", "")

	assert.Equal(t, "sess-a", s.Continuation(), "empty continuation must not clobber the stored one")
	assert.Equal(t, 2, s.Len())
}

func TestTurnsReturnsCopy(t *testing.T) {
	s := New("plan-1")
	s.RecordTurn("p1", "s1", "sess-a")

	turns := s.Turns()
	turns[0].Prompt = "mutated"

	assert.Equal(t, "p1", s.Turns()[0].Prompt)
}
