package mpsc

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestSendRecvOrder(t *testing.T) {
	ctx := context.Background()
	tx, rx := New[int](4)

	for i := 0; i < 4; i++ {
		if err := tx.Send(ctx, i); err != nil {
			t.Fatalf("Send(%d) returned error: %s", i, err)
		}
	}
	for i := 0; i < 4; i++ {
		v, err := rx.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv returned error: %s", err)
		}
		if v != i {
			t.Errorf("Recv returned %d; expected %d", v, i)
		}
	}
}

func TestBoundedCapacityBlocks(t *testing.T) {
	ctx := context.Background()
	tx, rx := New[int](1)

	if err := tx.Send(ctx, 1); err != nil {
		t.Fatalf("Send returned error: %s", err)
	}

	blockedCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := tx.Send(blockedCtx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send on full channel returned %v; expected context.DeadlineExceeded", err)
	}

	// Draining one slot unblocks the next send.
	if _, err := rx.Recv(ctx); err != nil {
		t.Fatalf("Recv returned error: %s", err)
	}
	if err := tx.Send(ctx, 3); err != nil {
		t.Errorf("Send after drain returned error: %s", err)
	}
}

func TestLastSenderCloseEndsChannel(t *testing.T) {
	ctx := context.Background()
	tx, rx := New[int](2)
	tx2 := tx.Clone()

	if err := tx.Send(ctx, 10); err != nil {
		t.Fatalf("Send returned error: %s", err)
	}
	tx.Close()

	// One clone is still open; the channel is not closed yet.
	if v, err := rx.Recv(ctx); err != nil || v != 10 {
		t.Fatalf("Recv returned (%d, %v); expected (10, nil)", v, err)
	}

	if err := tx2.Send(ctx, 11); err != nil {
		t.Fatalf("Send on clone returned error: %s", err)
	}
	tx2.Close()

	// Buffered values drain before the closed condition is reported.
	if v, err := rx.Recv(ctx); err != nil || v != 11 {
		t.Fatalf("Recv returned (%d, %v); expected (11, nil)", v, err)
	}
	if _, err := rx.Recv(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Recv after all senders closed returned %v; expected ErrClosed", err)
	}
}

func TestReceiverCloseReturnsBacklog(t *testing.T) {
	ctx := context.Background()
	tx, rx := New[int](2)

	if err := tx.Send(ctx, 1); err != nil {
		t.Fatalf("Send returned error: %s", err)
	}
	if err := tx.Send(ctx, 2); err != nil {
		t.Fatalf("Send returned error: %s", err)
	}

	undelivered := rx.Close()
	if len(undelivered) != 2 || undelivered[0] != 1 || undelivered[1] != 2 {
		t.Errorf("Close returned backlog %v; expected [1 2]", undelivered)
	}

	if err := tx.Send(ctx, 3); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after receiver close returned %v; expected ErrClosed", err)
	}
	if again := rx.Close(); again != nil {
		t.Errorf("second Close returned %v; expected nil", again)
	}
}

func TestSendOnClosedCloneFails(t *testing.T) {
	ctx := context.Background()
	tx, rx := New[int](1)

	clone := tx.Clone()
	clone.Close()

	// The closed clone is consumed even though other clones remain open.
	if err := clone.Send(ctx, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Send on closed clone returned %v; expected ErrClosed", err)
	}

	if err := tx.Send(ctx, 2); err != nil {
		t.Fatalf("Send on open clone returned error: %s", err)
	}
	if v, err := rx.Recv(ctx); err != nil || v != 2 {
		t.Fatalf("Recv returned (%d, %v); expected (2, nil)", v, err)
	}
}

func TestConcurrentFanIn(t *testing.T) {
	ctx := context.Background()
	tx, rx := New[int](1)

	const senders = 8
	const perSender = 25

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		clone := tx.Clone()
		wg.Add(1)
		go func(base int, s *Sender[int]) {
			defer wg.Done()
			defer s.Close()
			for j := 0; j < perSender; j++ {
				if err := s.Send(ctx, base+j); err != nil {
					t.Errorf("Send(%d) returned error: %s", base+j, err)
					return
				}
			}
		}(i*1000, clone)
	}
	tx.Close()

	var got []int
	for {
		v, err := rx.Recv(ctx)
		if err != nil {
			if !errors.Is(err, ErrClosed) {
				t.Fatalf("Recv returned error: %s", err)
			}
			break
		}
		got = append(got, v)
	}
	wg.Wait()

	if len(got) != senders*perSender {
		t.Fatalf("received %d values; expected %d", len(got), senders*perSender)
	}
	sort.Ints(got)
	for i := 0; i < senders; i++ {
		for j := 0; j < perSender; j++ {
			expected := i*1000 + j
			if got[i*perSender+j] != expected {
				t.Fatalf("missing or duplicate value; sorted slot %d is %d, expected %d",
					i*perSender+j, got[i*perSender+j], expected)
			}
		}
	}
}
