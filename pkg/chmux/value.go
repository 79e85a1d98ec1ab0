package chmux

import (
	"bytes"
	"context"

	"github.com/ENQT-GmbH/ch/pkg/codec"
)

// ValueSender sends typed values over a binary channel, serializing each
// value into one message with a codec. Both ends of the channel must agree
// on the codec.
type ValueSender[T any] struct {
	tx Sender
	c  codec.Codec
}

// NewValueSender wraps a binary sender with a codec.
func NewValueSender[T any](tx Sender, c codec.Codec) *ValueSender[T] {
	return &ValueSender[T]{tx: tx, c: c}
}

// Send serializes value and transmits it as a single message.
func (vs *ValueSender[T]) Send(ctx context.Context, value T) error {
	var buf bytes.Buffer
	if err := vs.c.Encode(&buf, value); err != nil {
		return err
	}
	return vs.tx.Send(ctx, buf.Bytes())
}

// Close closes the underlying binary sender.
func (vs *ValueSender[T]) Close() {
	vs.tx.Close()
}

// ValueReceiver receives typed values from a binary channel, deserializing
// each message with a codec.
type ValueReceiver[T any] struct {
	rx Receiver
	c  codec.Codec
}

// NewValueReceiver wraps a binary receiver with a codec.
func NewValueReceiver[T any](rx Receiver, c codec.Codec) *ValueReceiver[T] {
	return &ValueReceiver[T]{rx: rx, c: c}
}

// Recv receives and deserializes the next value. It returns ErrStreamClosed
// after the sending end has closed and all values have been delivered.
func (vr *ValueReceiver[T]) Recv(ctx context.Context) (T, error) {
	var value T
	data, err := vr.rx.Recv(ctx)
	if err != nil {
		return value, err
	}
	if err := vr.c.Decode(bytes.NewReader(data), &value); err != nil {
		return value, err
	}
	return value, nil
}

// SetMaxDataSize bounds the serialized size of values accepted by Recv.
func (vr *ValueReceiver[T]) SetMaxDataSize(limit int) {
	vr.rx.SetMaxDataSize(limit)
}

// Close closes the underlying binary receiver.
func (vr *ValueReceiver[T]) Close() {
	vr.rx.Close()
}
