// Package chmux implements a multiplexed message transport: many logical,
// port-addressed binary streams carried over one underlying connection.
//
// A Session runs over any io.ReadWriteCloser--a socketpair end, a TCP
// connection, or a websocket wrapped by WebSocketConn--and frames traffic
// with self-delimiting gob records. Each logical stream delivers whole
// messages: a Send on one end yields exactly one Recv on the other, with
// payloads chunked transparently on the wire. Receivers carry a settable
// maximum receivable size as a guard against misbehaving peers.
//
// StreamPipe provides the same Sender/Receiver contract for two endpoints in
// the same process, without a session underneath.
package chmux

import (
	"context"
	"errors"
	"fmt"
)

const (
	// DefaultMaxDataSize is the initial maximum receivable message size for a
	// stream receiver, before SetMaxDataSize is applied.
	DefaultMaxDataSize = 16 * 1024 * 1024

	// dataChunkSize is the maximum payload carried by a single data frame.
	dataChunkSize = 32 * 1024

	// streamInboxSize is the number of fully assembled messages buffered per
	// stream before the session read loop blocks. Streams here carry at most
	// a few messages each, so a small bound suffices.
	streamInboxSize = 4

	// listenerBacklog is the number of accepted-but-unclaimed streams a
	// listener will hold.
	listenerBacklog = 8
)

// ErrSessionClosed indicates the underlying session has been shut down.
var ErrSessionClosed = errors.New("chmux: session closed")

// ErrStreamClosed indicates the stream was closed without (further) data:
// either the peer closed its sending half, or the local endpoint was closed.
var ErrStreamClosed = errors.New("chmux: stream closed")

// ErrListenerClosed indicates the listener has been closed.
var ErrListenerClosed = errors.New("chmux: listener closed")

// ErrConnectRejected indicates the peer has no listener on the target port.
var ErrConnectRejected = errors.New("chmux: no listener on remote port")

// ConnectError reports a failure to establish a logical stream.
type ConnectError struct {
	// Port is the remote port the connect was addressed to.
	Port uint32

	// Err is the underlying cause.
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("chmux: connect to port %d failed: %s", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// DataSizeError reports a received message larger than the receiver's
// configured maximum.
type DataSizeError struct {
	// Size is the offending message size, as far as it was observed.
	Size int

	// Max is the configured maximum receivable size.
	Max int
}

func (e *DataSizeError) Error() string {
	return fmt.Sprintf("chmux: received message of %d bytes exceeds maximum of %d", e.Size, e.Max)
}

// Sender is the transmitting half of a logical binary stream. Implementations
// are safe for use by one goroutine at a time.
type Sender interface {
	// Send delivers one message to the peer. It returns ErrStreamClosed if
	// either endpoint has been closed, ErrSessionClosed if the session is
	// gone, and ctx.Err() if ctx is done first.
	Send(ctx context.Context, data []byte) error

	// Close closes the sending half. The peer's Recv observes
	// ErrStreamClosed after all delivered messages are drained.
	Close() error
}

// Receiver is the receiving half of a logical binary stream.
type Receiver interface {
	// Recv returns the next whole message. Messages already delivered are
	// returned before any close condition is reported. It returns
	// ErrStreamClosed when the peer closed without further data, a
	// *DataSizeError for oversized messages, and ctx.Err() if ctx is done
	// first.
	Recv(ctx context.Context) ([]byte, error)

	// SetMaxDataSize caps the size of messages this receiver will accept.
	// Messages exceeding the cap fail the Recv with a *DataSizeError.
	SetMaxDataSize(maxSize int)

	// Close closes the receiving half and discards undelivered messages.
	Close() error
}
