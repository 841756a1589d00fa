package driver

import (
	"bytes"
	"sync"
)

// cappedBuffer collects stream output up to a byte ceiling. Writes past
// the ceiling are counted but discarded, and the buffer is flagged as
// truncated. exec.Cmd may write from more than one goroutine when streams
// share a writer, so writes are locked.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	discarded int64
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room := c.max - c.buf.Len()
	if room <= 0 {
		c.truncated = true
		c.discarded += int64(len(p))
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		c.discarded += int64(len(p) - room)
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *cappedBuffer) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}
