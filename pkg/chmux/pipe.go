package chmux

import (
	"context"
	"sync"
	"sync/atomic"
)

// pipeCore backs an in-memory stream with the same message semantics as a
// session stream.
type pipeCore struct {
	msgs chan []byte

	txClosed chan struct{}
	txOnce   sync.Once

	rxClosed chan struct{}
	rxOnce   sync.Once

	maxDataSize atomic.Int64
}

// StreamPipe returns a connected in-memory Sender/Receiver pair carrying
// whole messages from sender to receiver, for transfers between two
// endpoints in the same process. The receiver's maximum data size guard
// behaves exactly as it does for session streams.
func StreamPipe() (Sender, Receiver) {
	c := &pipeCore{
		msgs:     make(chan []byte, 1),
		txClosed: make(chan struct{}),
		rxClosed: make(chan struct{}),
	}
	c.maxDataSize.Store(DefaultMaxDataSize)
	return &pipeSender{c: c}, &pipeReceiver{c: c}
}

type pipeSender struct {
	c *pipeCore
}

func (tx *pipeSender) Send(ctx context.Context, data []byte) error {
	c := tx.c
	select {
	case <-c.txClosed:
		return ErrStreamClosed
	default:
	}
	select {
	case c.msgs <- data:
		return nil
	case <-c.rxClosed:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (tx *pipeSender) Close() error {
	tx.c.txOnce.Do(func() {
		close(tx.c.txClosed)
	})
	return nil
}

type pipeReceiver struct {
	c *pipeCore
}

func (rx *pipeReceiver) Recv(ctx context.Context) ([]byte, error) {
	c := rx.c
	// Delivered messages take priority over the close conditions.
	select {
	case msg := <-c.msgs:
		return rx.checkSize(msg)
	default:
	}
	select {
	case msg := <-c.msgs:
		return rx.checkSize(msg)
	case <-c.txClosed:
		select {
		case msg := <-c.msgs:
			return rx.checkSize(msg)
		default:
		}
		return nil, ErrStreamClosed
	case <-c.rxClosed:
		return nil, ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (rx *pipeReceiver) checkSize(msg []byte) ([]byte, error) {
	maxSize := rx.c.maxDataSize.Load()
	if int64(len(msg)) > maxSize {
		return nil, &DataSizeError{Size: len(msg), Max: int(maxSize)}
	}
	return msg, nil
}

func (rx *pipeReceiver) SetMaxDataSize(maxSize int) {
	rx.c.maxDataSize.Store(int64(maxSize))
}

func (rx *pipeReceiver) Close() error {
	rx.c.rxOnce.Do(func() {
		close(rx.c.rxClosed)
	})
	return nil
}
