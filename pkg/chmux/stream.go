package chmux

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jpillora/sizestr"
)

// streamState is the shared state behind the two halves of one session
// stream. The session read loop assembles chunked payloads into whole
// messages and delivers them to the inbox; close conditions from the peer or
// the session are folded into recvErr.
type streamState struct {
	id   uint32
	sess *Session

	inbox chan []byte

	mu         sync.Mutex
	assembling []byte
	recvErr    error // terminal receive condition, valid once peerClosed fires

	peerClosed chan struct{}
	peerOnce   sync.Once

	rxClosed chan struct{}
	rxOnce   sync.Once

	txOnce   sync.Once
	txClosed atomic.Bool

	maxDataSize atomic.Int64

	nbSent     atomic.Int64
	nbReceived atomic.Int64
}

func newStreamState(sess *Session, id uint32) *streamState {
	st := &streamState{
		id:         id,
		sess:       sess,
		inbox:      make(chan []byte, streamInboxSize),
		peerClosed: make(chan struct{}),
		rxClosed:   make(chan struct{}),
	}
	st.maxDataSize.Store(DefaultMaxDataSize)
	return st
}

// deliverChunk is called from the session read loop. Oversized assemblies are
// cut off immediately so a misbehaving peer cannot balloon local memory.
func (st *streamState) deliverChunk(data []byte, eom bool) {
	st.mu.Lock()
	if st.recvErr != nil {
		st.mu.Unlock()
		return
	}
	size := len(st.assembling) + len(data)
	if int64(size) > st.maxDataSize.Load() {
		st.assembling = nil
		st.mu.Unlock()
		st.peerClose(&DataSizeError{Size: size, Max: int(st.maxDataSize.Load())})
		_ = st.sess.writeFrame(frame{Kind: frameClose, Stream: st.id})
		return
	}
	st.assembling = append(st.assembling, data...)
	if !eom {
		st.mu.Unlock()
		return
	}
	msg := st.assembling
	st.assembling = nil
	st.mu.Unlock()

	st.nbReceived.Add(int64(len(msg)))
	select {
	case st.inbox <- msg:
	case <-st.rxClosed:
	}
}

// peerClose records a terminal receive condition: nil for a clean peer close
// (reported as ErrStreamClosed), or the failure that tore the stream down.
func (st *streamState) peerClose(err error) {
	st.peerOnce.Do(func() {
		st.mu.Lock()
		if err == nil {
			err = ErrStreamClosed
		}
		st.recvErr = err
		st.mu.Unlock()
		close(st.peerClosed)
	})
}

func (st *streamState) bothHalvesClosed() bool {
	select {
	case <-st.rxClosed:
	default:
		return false
	}
	return st.txClosed.Load()
}

type streamSender struct {
	st *streamState
}

func (tx *streamSender) Send(ctx context.Context, data []byte) error {
	st := tx.st
	if st.txClosed.Load() {
		return ErrStreamClosed
	}
	remaining := data
	for {
		chunk := remaining
		if len(chunk) > dataChunkSize {
			chunk = chunk[:dataChunkSize]
		}
		remaining = remaining[len(chunk):]
		eom := len(remaining) == 0
		if err := st.sess.writeFrame(frame{Kind: frameData, Stream: st.id, Data: chunk, EOM: eom}); err != nil {
			return err
		}
		if eom {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	st.nbSent.Add(int64(len(data)))
	return nil
}

func (tx *streamSender) Close() error {
	st := tx.st
	st.txOnce.Do(func() {
		st.txClosed.Store(true)
		_ = st.sess.writeFrame(frame{Kind: frameClose, Stream: st.id})
		st.sess.DLogf("stream %d send half closed (sent %s)", st.id, sizestr.ToString(st.nbSent.Load()))
		st.sess.releaseIfDone(st)
	})
	return nil
}

type streamReceiver struct {
	st *streamState
}

func (rx *streamReceiver) Recv(ctx context.Context) ([]byte, error) {
	st := rx.st
	// Messages already delivered take priority over any close condition.
	select {
	case msg := <-st.inbox:
		return rx.checkSize(msg)
	default:
	}
	select {
	case msg := <-st.inbox:
		return rx.checkSize(msg)
	case <-st.peerClosed:
		// A message may have been delivered concurrently with the close.
		select {
		case msg := <-st.inbox:
			return rx.checkSize(msg)
		default:
		}
		st.mu.Lock()
		err := st.recvErr
		st.mu.Unlock()
		return nil, err
	case <-st.rxClosed:
		return nil, ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// checkSize re-validates assembled messages against the configured maximum,
// which may have been lowered after the read loop assembled them.
func (rx *streamReceiver) checkSize(msg []byte) ([]byte, error) {
	maxSize := rx.st.maxDataSize.Load()
	if int64(len(msg)) > maxSize {
		return nil, &DataSizeError{Size: len(msg), Max: int(maxSize)}
	}
	return msg, nil
}

func (rx *streamReceiver) SetMaxDataSize(maxSize int) {
	rx.st.maxDataSize.Store(int64(maxSize))
}

func (rx *streamReceiver) Close() error {
	st := rx.st
	st.rxOnce.Do(func() {
		close(st.rxClosed)
		st.sess.DLogf("stream %d receive half closed (received %s)", st.id, sizestr.ToString(st.nbReceived.Load()))
		st.sess.releaseIfDone(st)
	})
	return nil
}
