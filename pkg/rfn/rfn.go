// Package rfn provides remotely invocable function handles.
//
// A handle wraps a function behind a cheap, clonable value; invocations are
// forwarded through a bounded request channel to a dispatcher goroutine that
// runs each call independently. The handle's backing dispatcher is controlled
// by a keep-alive provider, so the owner decides whether the function stays
// callable forever or shuts down once the provider is released.
//
// Three flavors are provided: RFn spawns one goroutine per call so calls
// never block each other; RFnMut runs calls one at a time in the dispatcher
// itself, so the function may carry mutable state; RFnOnce serves exactly one
// call and then shuts down.
package rfn

import (
	"context"
	"errors"

	"github.com/sammck-go/logger"

	"github.com/ENQT-GmbH/ch/pkg/rch"
	"github.com/ENQT-GmbH/ch/pkg/rch/mpsc"
	"github.com/ENQT-GmbH/ch/pkg/rch/oneshot"
)

// CallError indicates that a call could not be served: the reply channel
// closed before producing a value. This covers dispatcher shutdown, provider
// release, and abandonment of the execution task uniformly.
type CallError struct{}

func (e *CallError) Error() string {
	return "calling remote function failed because the provider was dropped"
}

// Fallible is the result type for functions that can themselves fail. It lets
// Call fold delivery failures and function failures into one error channel.
type Fallible[T any] struct {
	Value T
	Err   error
}

// OK wraps a successful result.
func OK[T any](value T) Fallible[T] {
	return Fallible[T]{Value: value}
}

// Failed wraps a function-level failure.
func Failed[T any](err error) Fallible[T] {
	return Fallible[T]{Err: err}
}

// request pairs one argument with its single-use reply channel.
type request[A, R any] struct {
	arg      A
	resultTx *oneshot.Sender[R]
}

// RFn is a clonable handle to a function. Every clone reaches the same
// dispatcher; concurrent calls on any mix of clones each run in their own
// goroutine and complete in no particular order.
type RFn[A, R any] struct {
	reqTx *mpsc.Sender[request[A, R]]
}

// Provided wraps fun and returns a handle together with the provider that
// controls the dispatcher's lifetime.
func Provided[A, R any](log logger.Logger, fun func(context.Context, A) R) (*RFn[A, R], *rch.Provider) {
	reqTx, reqRx := mpsc.New[request[A, R]](1)
	provider, term := rch.NewProvider()
	lg := log.ForkLogStr("<RFn>")

	go func() {
		defer term.Exit()
		lg.DLogf("dispatcher started")
		for {
			select {
			case <-term.Done():
				lg.DLogf("dispatcher stopping: provider released")
				drainRequests(reqRx)
				return
			default:
			}
			req, err := reqRx.Recv(term.Context())
			if err != nil {
				lg.DLogf("dispatcher stopping: %s", err)
				drainRequests(reqRx)
				return
			}
			// A request and the shutdown signal can become ready in the same
			// wakeup; shutdown always wins the tie.
			select {
			case <-term.Done():
				lg.DLogf("dispatcher stopping: provider released")
				req.resultTx.Close()
				drainRequests(reqRx)
				return
			default:
			}
			// Accepted work runs to completion regardless of dispatcher
			// shutdown, on its own goroutine.
			go func(req request[A, R]) {
				_ = req.resultTx.Send(fun(context.Background(), req.arg))
			}(req)
		}
	}()

	return &RFn[A, R]{reqTx: reqTx}, provider
}

// New wraps fun with a dispatcher that stays alive until every handle clone
// has been closed. Equivalent to Provided followed by Keep on the provider.
func New[A, R any](log logger.Logger, fun func(context.Context, A) R) *RFn[A, R] {
	f, provider := Provided(log, fun)
	provider.Keep()
	return f
}

// drainRequests fails every request that was queued but will never be served,
// so their callers observe the reply channel closing without a value.
func drainRequests[A, R any](reqRx *mpsc.Receiver[request[A, R]]) {
	for _, req := range reqRx.Close() {
		req.resultTx.Close()
	}
}

// Clone returns a new handle sharing the same dispatcher.
func (f *RFn[A, R]) Clone() *RFn[A, R] {
	return &RFn[A, R]{reqTx: f.reqTx.Clone()}
}

// Close releases this handle clone. Once every clone is closed the dispatcher
// exits after serving already queued requests.
func (f *RFn[A, R]) Close() {
	f.reqTx.Close()
}

// TryCall invokes the function with arg and waits for its result. It returns
// a *CallError if the call could not be served, and ctx.Err() if ctx is done
// first; an abandoned call keeps executing, its result discarded.
func (f *RFn[A, R]) TryCall(ctx context.Context, arg A) (R, error) {
	var zero R
	resultTx, resultRx := oneshot.New[R]()
	if err := f.reqTx.Send(ctx, request[A, R]{arg: arg, resultTx: resultTx}); err != nil {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		// A failed delivery is not a distinct error; closing the reply
		// channel makes it indistinguishable from dispatcher shutdown.
		resultTx.Close()
	}
	res, err := resultRx.Recv(ctx)
	if err != nil {
		if errors.Is(err, oneshot.ErrClosed) {
			return zero, &CallError{}
		}
		return zero, err
	}
	return res, nil
}

// Call invokes a function whose result is itself fallible and folds delivery
// failures into the result's error, so callers see a single error channel.
func Call[A, T any](ctx context.Context, f *RFn[A, Fallible[T]], arg A) (T, error) {
	res, err := f.TryCall(ctx, arg)
	if err != nil {
		var zero T
		return zero, err
	}
	return res.Value, res.Err
}
