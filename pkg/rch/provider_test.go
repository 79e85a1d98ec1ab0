package rch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCloseSignalsShutdown(t *testing.T) {
	provider, term := NewProvider()

	select {
	case <-term.Done():
		t.Fatal("shutdown signalled before provider close")
	default:
	}

	provider.Close()

	select {
	case <-term.Done():
	case <-time.After(time.Second):
		t.Fatal("shutdown was not signalled after provider close")
	}

	if err := term.Context().Err(); !errors.Is(err, context.Canceled) {
		t.Errorf("term context error is %v; expected context.Canceled", err)
	}
}

func TestKeepSuppressesShutdown(t *testing.T) {
	provider, term := NewProvider()
	provider.Keep()

	// Close after Keep is a no-op.
	provider.Close()

	select {
	case <-term.Done():
		t.Error("shutdown was signalled even though Keep was called")
	case <-time.After(50 * time.Millisecond):
	}

	term.Exit()
}

func TestDoneResolvesOnlyOnDispatcherExit(t *testing.T) {
	provider, term := NewProvider()
	provider.Close()

	// Shutdown has been requested but the dispatcher is still running.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	if err := provider.Done(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Done before dispatcher exit returned %v; expected context.DeadlineExceeded", err)
	}
	cancel()

	term.Exit()

	if err := provider.Done(context.Background()); err != nil {
		t.Errorf("Done after dispatcher exit returned error: %s", err)
	}
}

func TestDoneResolvesAfterKeepAndExit(t *testing.T) {
	provider, term := NewProvider()
	provider.Keep()

	// Dispatcher exits for its own reasons (all handles dropped).
	term.Exit()

	if err := provider.Done(context.Background()); err != nil {
		t.Errorf("Done after dispatcher exit returned error: %s", err)
	}
}
