package chmux

import (
	"context"
	"errors"
	"testing"

	"github.com/ENQT-GmbH/ch/pkg/codec"
)

type order struct {
	ID    int
	Items []string
}

func TestValueChannelRoundTrip(t *testing.T) {
	ctx := context.Background()
	btx, brx := StreamPipe()
	tx := NewValueSender[order](btx, codec.JSON())
	rx := NewValueReceiver[order](brx, codec.JSON())

	in := order{ID: 7, Items: []string{"a", "b"}}
	if err := tx.Send(ctx, in); err != nil {
		t.Fatalf("Send returned error: %s", err)
	}

	out, err := rx.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv returned error: %s", err)
	}
	if out.ID != in.ID || len(out.Items) != len(in.Items) {
		t.Errorf("received %+v; expected %+v", out, in)
	}
}

func TestValueChannelGobCodec(t *testing.T) {
	ctx := context.Background()
	btx, brx := StreamPipe()
	tx := NewValueSender[order](btx, codec.Gob())
	rx := NewValueReceiver[order](brx, codec.Gob())

	in := order{ID: -3, Items: []string{"x"}}
	if err := tx.Send(ctx, in); err != nil {
		t.Fatalf("Send returned error: %s", err)
	}
	out, err := rx.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv returned error: %s", err)
	}
	if out.ID != in.ID {
		t.Errorf("received %+v; expected %+v", out, in)
	}
}

func TestValueChannelClose(t *testing.T) {
	ctx := context.Background()
	btx, brx := StreamPipe()
	tx := NewValueSender[order](btx, codec.JSON())
	rx := NewValueReceiver[order](brx, codec.JSON())

	tx.Close()
	if _, err := rx.Recv(ctx); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Recv after sender close returned %v; expected ErrStreamClosed", err)
	}
}
