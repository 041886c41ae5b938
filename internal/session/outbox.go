// Package session binds one transport connection to its room membership and routes
// decoded client messages into room state transitions.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultOutboxSize is used when NewOutbox is given a non-positive size.
const DefaultOutboxSize = 64

var (
	// ErrOutboxClosed is returned by Push after Close.
	ErrOutboxClosed = errors.New("outbox closed")
	// ErrOutboxFull is returned by the Push that found the buffer without a free
	// slot. That Push also closes the outbox.
	ErrOutboxFull = errors.New("outbox buffer full")
)

// Outbox queues encoded frames for one connection's writer. It satisfies room.Peer.
type Outbox struct {
	id     string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox for the given connection ID.
//
// Precondition: id must be non-empty.
// Postcondition: Returns an Outbox with an open frames channel.
func NewOutbox(id string, size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		id:     id,
		frames: make(chan []byte, size),
	}
}

// ID returns the connection identifier.
func (o *Outbox) ID() string {
	return o.id
}

// Push enqueues data without blocking. A peer that cannot keep up is evicted:
// when the buffer is full the outbox closes, the writer drains what is queued and
// ends, and the connection departs through the normal disconnect path.
//
// Precondition: data must be a non-nil byte slice.
// Postcondition: Data is enqueued, or an error wrapping ErrOutboxClosed or ErrOutboxFull.
// After ErrOutboxFull the outbox is closed.
func (o *Outbox) Push(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("outbox %s: %w", o.id, ErrOutboxClosed)
	}
	select {
	case o.frames <- data:
		return nil
	default:
		o.closeLocked()
		return fmt.Errorf("outbox %s: %w", o.id, ErrOutboxFull)
	}
}

// Frames returns the read-only frames channel. The connection writer drains it.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Close marks the outbox as closed and closes the frames channel.
//
// Postcondition: The frames channel is closed. Further Push calls return an error.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked()
	return nil
}

func (o *Outbox) closeLocked() {
	if !o.closed {
		o.closed = true
		close(o.frames)
	}
}

// IsClosed reports whether the outbox has been closed.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
