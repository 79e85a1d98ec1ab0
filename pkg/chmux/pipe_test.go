package chmux

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestStreamPipeTransfer(t *testing.T) {
	ctx := context.Background()
	tx, rx := StreamPipe()

	go func() {
		tx.Send(ctx, []byte("one"))
		tx.Send(ctx, []byte("two"))
		tx.Close()
	}()

	msg, err := rx.Recv(ctx)
	if err != nil || !bytes.Equal(msg, []byte("one")) {
		t.Fatalf("first Recv returned (%q, %v); expected (\"one\", nil)", msg, err)
	}
	msg, err = rx.Recv(ctx)
	if err != nil || !bytes.Equal(msg, []byte("two")) {
		t.Fatalf("second Recv returned (%q, %v); expected (\"two\", nil)", msg, err)
	}
	if _, err := rx.Recv(ctx); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Recv after sender close returned %v; expected ErrStreamClosed", err)
	}
}

func TestStreamPipeEmptyMessage(t *testing.T) {
	ctx := context.Background()
	tx, rx := StreamPipe()

	if err := tx.Send(ctx, []byte{}); err != nil {
		t.Fatalf("Send returned error: %s", err)
	}
	msg, err := rx.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv returned error: %s", err)
	}
	if len(msg) != 0 {
		t.Errorf("Recv returned %d bytes; expected an empty message", len(msg))
	}
}

func TestStreamPipeMaxDataSize(t *testing.T) {
	ctx := context.Background()
	tx, rx := StreamPipe()

	rx.SetMaxDataSize(4)
	if err := tx.Send(ctx, []byte("too large")); err != nil {
		t.Fatalf("Send returned error: %s", err)
	}

	_, err := rx.Recv(ctx)
	var dse *DataSizeError
	if !errors.As(err, &dse) {
		t.Fatalf("Recv returned %v; expected *DataSizeError", err)
	}
}

func TestStreamPipeReceiverClose(t *testing.T) {
	ctx := context.Background()
	tx, rx := StreamPipe()

	rx.Close()

	// A send racing receiver close may land in the buffer slot, but a send
	// after the slot is full fails.
	deadline, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	var err error
	for i := 0; i < 2; i++ {
		if err = tx.Send(deadline, []byte("x")); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Send after receiver close returned %v; expected ErrStreamClosed", err)
	}
}
