// Package fwbin provides a forwarded binary channel: a placeholder pair that
// can be handed out before the underlying byte stream exists. The providing
// side later connects a live stream through the Sender half; the consuming
// side waits on the Receiver half until the stream is established or the
// Sender is dropped.
package fwbin

import (
	"context"
	"errors"

	"github.com/ENQT-GmbH/ch/pkg/chmux"
	"github.com/ENQT-GmbH/ch/pkg/rch/oneshot"
)

// ErrAbandoned indicates that the Sender half was closed before a stream was
// connected, so no data will ever arrive.
var ErrAbandoned = errors.New("binary channel was abandoned before it was connected")

// Streamer establishes a byte stream on demand, returning the sending half
// for the provider and the receiving half for the consumer.
type Streamer func(ctx context.Context) (chmux.Sender, chmux.Receiver, error)

type established struct {
	rx  chmux.Receiver
	err error
}

// Sender is the providing half of a forwarded binary channel. Exactly one of
// Connect or Close must eventually be called.
type Sender struct {
	streamer Streamer
	estTx    *oneshot.Sender[established]
}

// Receiver is the consuming half of a forwarded binary channel.
type Receiver struct {
	estRx *oneshot.Receiver[established]
}

// New creates a forwarded binary channel whose stream will be established by
// streamer when the Sender connects.
func New(streamer Streamer) (*Sender, *Receiver) {
	estTx, estRx := oneshot.New[established]()
	return &Sender{streamer: streamer, estTx: estTx}, &Receiver{estRx: estRx}
}

// Pipe creates a forwarded binary channel backed by an in-memory stream.
func Pipe() (*Sender, *Receiver) {
	return New(func(ctx context.Context) (chmux.Sender, chmux.Receiver, error) {
		tx, rx := chmux.StreamPipe()
		return tx, rx, nil
	})
}

// Over returns a Streamer that establishes the stream across a pair of
// connected multiplexer sessions: the stream is opened on opener and accepted
// on acceptor, so data crosses the session transport.
func Over(opener, acceptor *chmux.Session) Streamer {
	return func(ctx context.Context) (chmux.Sender, chmux.Receiver, error) {
		port := acceptor.AllocPort()
		l, err := acceptor.Listener(port)
		if err != nil {
			return nil, nil, err
		}
		defer l.Close()

		type acceptResult struct {
			tx  chmux.Sender
			rx  chmux.Receiver
			err error
		}
		accepted := make(chan acceptResult, 1)
		go func() {
			tx, rx, err := l.Accept(ctx)
			accepted <- acceptResult{tx: tx, rx: rx, err: err}
		}()

		tx, rx, err := opener.Connect(ctx, port)
		if err != nil {
			return nil, nil, err
		}
		ar := <-accepted
		if ar.err != nil {
			tx.Close()
			rx.Close()
			return nil, nil, ar.err
		}
		// The provider writes into the opener's sending half and the
		// consumer reads from the acceptor's receiving half; the unused
		// crossing halves are released immediately.
		rx.Close()
		ar.tx.Close()
		return tx, ar.rx, nil
	}
}

// Connect establishes the stream and returns its sending half. The receiving
// half is delivered to the Receiver. If establishing the stream fails, the
// failure is delivered to the Receiver as well and returned here.
func (s *Sender) Connect(ctx context.Context) (chmux.Sender, error) {
	tx, rx, err := s.streamer(ctx)
	if err != nil {
		s.estTx.Send(established{err: err})
		return nil, err
	}
	if sendErr := s.estTx.Send(established{rx: rx}); sendErr != nil {
		// Noone is waiting anymore; release the receiving half so the
		// stream tears down once the sender finishes.
		rx.Close()
	}
	return tx, nil
}

// Close abandons the channel without connecting. The Receiver will observe
// ErrAbandoned. Close after a successful Connect is a no-op.
func (s *Sender) Close() {
	s.estTx.Close()
}

// Established waits until the providing side connects a stream and returns
// its receiving half. It returns ErrAbandoned if the Sender was closed
// without connecting, or the stream establishment error if connecting failed.
func (r *Receiver) Established(ctx context.Context) (chmux.Receiver, error) {
	est, err := r.estRx.Recv(ctx)
	if err != nil {
		if errors.Is(err, oneshot.ErrClosed) {
			return nil, ErrAbandoned
		}
		return nil, err
	}
	if est.err != nil {
		return nil, est.err
	}
	return est.rx, nil
}

// Close releases the consuming half without waiting for the stream.
func (r *Receiver) Close() {
	est, err := r.estRx.TryRecv()
	r.estRx.Close()
	if err == nil && est.rx != nil {
		est.rx.Close()
	}
}
