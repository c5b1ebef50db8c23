// Package poll implements the time-paced fan-out core: a Polling Task
// that reads frames from a stream.Source and serves them to a dynamic
// set of subscribers, hibernating when none remain and reviving on
// the next arrival.
package poll

import (
	"sync"

	"github.com/warpcomdev/mjpegd/internal/stream"
)

// Subscriber is the depth-1 handle through which the Polling Task
// hands envelopes to exactly one Per-Client Writer. The task holds the
// send side implicitly (via trySend); the writer holds the receive
// side via Envelopes.
type Subscriber struct {
	envelopes chan Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

// NewSubscriber creates an unenrolled subscriber handle.
func NewSubscriber() *Subscriber {
	return &Subscriber{
		envelopes: make(chan Envelope, 1),
		closed:    make(chan struct{}),
	}
}

// Envelopes is the receive side a Per-Client Writer drains.
func (s *Subscriber) Envelopes() <-chan Envelope {
	return s.envelopes
}

// Close marks the subscriber as gone. Safe to call more than once and
// from any goroutine; it is how a writer signals closure to the task
// per invariant I4, since the envelope channel itself is never closed
// (only the writer ever receives from it).
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// trySend delivers env to s, blocking until either the writer drains
// its previous envelope and accepts this one, or the writer reports
// closure. It never blocks forever on a subscriber whose writer has
// exited.
func (s *Subscriber) trySend(env Envelope) bool {
	select {
	case s.envelopes <- env:
		return true
	case <-s.closed:
		return false
	}
}

// Envelope pairs a precomputed MIME part header with a shared handle
// to the tick's Frame Buffer (spec §3).
type Envelope struct {
	Header []byte
	Shared *SharedBuffer
}

// SharedBuffer guards a stream.Buffer with a reader-writer lock: the
// Polling Task holds the buffer, writing once per tick; any number of
// Per-Client Writers read concurrently from the same tick's frame
// (spec §4.E "shared buffer", §9 "prefer a reader-writer lock").
type SharedBuffer struct {
	mu  sync.RWMutex
	buf stream.Buffer
}

// newSharedBuffer wraps a freshly created source buffer.
func newSharedBuffer(buf stream.Buffer) *SharedBuffer {
	return &SharedBuffer{buf: buf}
}

// update runs fn (a source.Read call) under the exclusive write lock.
// No reader observes a partial write: readers already in flight for
// the previous tick hold their RLock until they finish.
func (s *SharedBuffer) update(fn func(stream.Buffer) (int, error)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.buf)
}

// WithView runs fn with the current frame's read-only byte view,
// holding the shared lock for fn's duration.
func (s *SharedBuffer) WithView(fn func([]byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.buf.View())
}
