// Package mpsc provides bounded multi-producer, single-consumer channels
// with reference-counted, clonable senders.
//
// The receiver observes a clean close once every sender clone has been
// closed. Closing the receiver returns all undelivered buffered items to the
// caller, so per-item cleanup (such as closing an embedded reply channel) can
// be performed for requests that will never be served; a send racing with
// receiver close either lands in that returned backlog or fails, never
// neither.
package mpsc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Send when the receiver has been closed, and by
// Recv when every sender clone has been closed and the buffer is empty.
var ErrClosed = errors.New("mpsc: channel closed")

type core[T any] struct {
	mu          sync.Mutex
	buf         []T
	capacity    int
	senders     int
	sendersGone bool
	recvClosed  bool

	// notify is closed and replaced on every state change; waiters grab the
	// current channel under the lock and block on it outside the lock.
	notify chan struct{}
}

func (c *core[T]) changed() {
	close(c.notify)
	c.notify = make(chan struct{})
}

// New creates a bounded channel with the given capacity (minimum 1) and
// returns its first sender clone and the receiver.
func New[T any](capacity int) (*Sender[T], *Receiver[T]) {
	if capacity < 1 {
		capacity = 1
	}
	c := &core[T]{
		capacity: capacity,
		senders:  1,
		notify:   make(chan struct{}),
	}
	return &Sender[T]{c: c}, &Receiver[T]{c: c}
}

// Sender is one clone of the sending side. All clones feed the same receiver
// in fan-in fashion. Each clone must be closed exactly once; the receiver
// observes close only after the last clone is gone.
type Sender[T any] struct {
	c      *core[T]
	once   sync.Once
	closed atomic.Bool
}

// Clone returns a new sender clone sharing the same channel.
func (s *Sender[T]) Clone() *Sender[T] {
	c := s.c
	c.mu.Lock()
	c.senders++
	c.mu.Unlock()
	return &Sender[T]{c: c}
}

// Close releases this sender clone. When the last clone is closed the
// receiver sees ErrClosed after draining the buffer. Idempotent per clone.
func (s *Sender[T]) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		c := s.c
		c.mu.Lock()
		c.senders--
		if c.senders == 0 {
			c.sendersGone = true
			c.changed()
		}
		c.mu.Unlock()
	})
}

// Send enqueues one value, waiting while the buffer is at capacity. It
// returns ErrClosed if this clone or the receiver has been closed, and
// ctx.Err() if ctx is done first. A value accepted by Send is either
// delivered to Recv or handed back from the receiver's Close.
func (s *Sender[T]) Send(ctx context.Context, value T) error {
	if s.closed.Load() {
		return ErrClosed
	}
	c := s.c
	c.mu.Lock()
	for {
		if c.recvClosed {
			c.mu.Unlock()
			return ErrClosed
		}
		if len(c.buf) < c.capacity {
			c.buf = append(c.buf, value)
			c.changed()
			c.mu.Unlock()
			return nil
		}
		wait := c.notify
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
}

// Receiver is the consuming side of the channel.
type Receiver[T any] struct {
	c *core[T]
}

// Recv dequeues the next value, waiting while the buffer is empty. Buffered
// values are always delivered before the senders-gone condition is reported.
// It returns ErrClosed once all sender clones are closed and the buffer is
// drained, and ctx.Err() if ctx is done first.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	c := r.c
	c.mu.Lock()
	for {
		if c.recvClosed {
			c.mu.Unlock()
			return zero, ErrClosed
		}
		if len(c.buf) > 0 {
			value := c.buf[0]
			c.buf = c.buf[1:]
			c.changed()
			c.mu.Unlock()
			return value, nil
		}
		if c.sendersGone {
			c.mu.Unlock()
			return zero, ErrClosed
		}
		wait := c.notify
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		c.mu.Lock()
	}
}

// Close shuts the receiving side and returns every buffered value that was
// accepted by a Send but never delivered, so the caller can dispose of each
// one. Sends after Close fail with ErrClosed. Idempotent; later calls return
// nil.
func (r *Receiver[T]) Close() []T {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recvClosed {
		return nil
	}
	c.recvClosed = true
	undelivered := c.buf
	c.buf = nil
	c.changed()
	return undelivered
}
