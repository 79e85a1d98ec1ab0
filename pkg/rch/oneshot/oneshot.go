// Package oneshot provides single-use, single-value channels.
//
// A oneshot channel carries at most one value from a Sender to a Receiver.
// The sender is consumed by either sending a value or closing without one;
// closing without a value is an explicit signal that the receiver observes as
// ErrClosed. The sender can additionally watch for the receiver going away,
// which is the building block for the keep-alive provider lifecycle.
package oneshot

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Recv when the sender was consumed (or dropped)
// without producing a value.
var ErrClosed = errors.New("oneshot: closed without a value")

type core[T any] struct {
	mu       sync.Mutex
	value    T
	hasValue bool
	used     bool          // sender consumed by Send or Close
	resolved chan struct{} // closed once the sender is consumed
	rxClosed chan struct{} // closed once the receiver is closed
	rxOnce   sync.Once
}

// New creates a connected oneshot Sender/Receiver pair.
func New[T any]() (*Sender[T], *Receiver[T]) {
	c := &core[T]{
		resolved: make(chan struct{}),
		rxClosed: make(chan struct{}),
	}
	return &Sender[T]{c: c}, &Receiver[T]{c: c}
}

// Sender is the sending half of a oneshot channel. Exactly one of Send or
// Close consumes it; later calls have no effect.
type Sender[T any] struct {
	c *core[T]
}

// Send delivers the value and consumes the sender. It returns ErrClosed if
// the receiver has already been closed, in which case the value is discarded.
// A send on an already consumed sender is ignored and reports ErrClosed.
func (s *Sender[T]) Send(value T) error {
	c := s.c
	c.mu.Lock()
	if c.used {
		c.mu.Unlock()
		return ErrClosed
	}
	c.used = true
	select {
	case <-c.rxClosed:
		c.mu.Unlock()
		close(c.resolved)
		return ErrClosed
	default:
	}
	c.value = value
	c.hasValue = true
	c.mu.Unlock()
	close(c.resolved)
	return nil
}

// Close consumes the sender without a value. The receiver observes ErrClosed.
// Close is idempotent and is a no-op after a successful Send.
func (s *Sender[T]) Close() {
	c := s.c
	c.mu.Lock()
	if c.used {
		c.mu.Unlock()
		return
	}
	c.used = true
	c.mu.Unlock()
	close(c.resolved)
}

// Closed returns a channel that is closed once the receiving half has been
// closed. It resolves regardless of whether a value was ever sent.
func (s *Sender[T]) Closed() <-chan struct{} {
	return s.c.rxClosed
}

// Receiver is the receiving half of a oneshot channel.
type Receiver[T any] struct {
	c *core[T]
}

// Recv waits for the sender to resolve and returns the value. It returns
// ErrClosed if the sender was consumed without a value or if the receiver
// itself has been closed, and ctx.Err() if ctx is done first. A value that
// has already resolved is returned even if the receiver was closed afterward.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	c := r.c
	// A resolved sender takes priority over receiver close and ctx.
	select {
	case <-c.resolved:
	default:
		select {
		case <-c.resolved:
		case <-c.rxClosed:
			return zero, ErrClosed
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasValue {
		return zero, ErrClosed
	}
	return c.value, nil
}

// TryRecv returns the value if the sender has already resolved with one, and
// ErrClosed otherwise. It never blocks.
func (r *Receiver[T]) TryRecv() (T, error) {
	var zero T
	c := r.c
	select {
	case <-c.resolved:
	default:
		return zero, ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasValue {
		return zero, ErrClosed
	}
	return c.value, nil
}

// Close releases the receiver. The sender's Closed channel resolves, and any
// value sent afterwards is discarded. Close is idempotent.
func (r *Receiver[T]) Close() {
	r.c.rxOnce.Do(func() {
		close(r.c.rxClosed)
	})
}
