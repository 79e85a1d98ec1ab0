package chmux

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"
)

func TestWebSocketSessionEcho(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	lg := newTestLogger(t, t.Name())

	const echoPort = 2

	sessions := make(chan *Session, 1)
	wsl, err := NewWebSocketListener(lg, "127.0.0.1:0", func(sess *Session) {
		sessions <- sess
	}, true)
	if err != nil {
		t.Fatalf("NewWebSocketListener returned error: %s", err)
	}
	defer wsl.Close()

	url := fmt.Sprintf("ws://%s/", wsl.Addr())
	client, err := DialWebSocket(ctx, lg, url, &DialConfig{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("DialWebSocket returned error: %s", err)
	}
	defer client.Close()

	var server *Session
	select {
	case server = <-sessions:
	case <-ctx.Done():
		t.Fatal("no inbound session arrived")
	}
	defer server.Close()

	l, err := server.Listener(echoPort)
	if err != nil {
		t.Fatalf("Listener returned error: %s", err)
	}
	defer l.Close()

	go func() {
		tx, rx, err := l.Accept(ctx)
		if err != nil {
			return
		}
		msg, err := rx.Recv(ctx)
		if err != nil {
			return
		}
		tx.Send(ctx, msg)
		tx.Close()
	}()

	tx, rx, err := client.Connect(ctx, echoPort)
	if err != nil {
		t.Fatalf("Connect returned error: %s", err)
	}
	if err := tx.Send(ctx, []byte("over the wire")); err != nil {
		t.Fatalf("Send returned error: %s", err)
	}
	msg, err := rx.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv returned error: %s", err)
	}
	if !bytes.Equal(msg, []byte("over the wire")) {
		t.Errorf("received %q; expected \"over the wire\"", msg)
	}
}

func TestDialWebSocketRetriesAndFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	lg := newTestLogger(t, t.Name())

	// Nothing is listening on this port.
	_, err := DialWebSocket(ctx, lg, "ws://127.0.0.1:1/", &DialConfig{
		MaxAttempts:      2,
		MaxRetryInterval: 10 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("DialWebSocket to a dead endpoint returned no error")
	}
}
