package rfn

import (
	"context"
	"errors"

	"github.com/sammck-go/logger"

	"github.com/ENQT-GmbH/ch/pkg/rch"
	"github.com/ENQT-GmbH/ch/pkg/rch/mpsc"
	"github.com/ENQT-GmbH/ch/pkg/rch/oneshot"
)

// RFnMut is a clonable handle to a function that may carry mutable state.
// Calls are executed one at a time inside the dispatcher itself, in delivery
// order, so the function never observes concurrent invocations.
type RFnMut[A, R any] struct {
	reqTx *mpsc.Sender[request[A, R]]
}

// ProvidedMut wraps fun and returns a handle together with the provider that
// controls the dispatcher's lifetime.
func ProvidedMut[A, R any](log logger.Logger, fun func(context.Context, A) R) (*RFnMut[A, R], *rch.Provider) {
	reqTx, reqRx := mpsc.New[request[A, R]](1)
	provider, term := rch.NewProvider()
	lg := log.ForkLogStr("<RFnMut>")

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
			// Sequential by design: the next request is not accepted until
			// this one has finished.
			_ = req.resultTx.Send(fun(context.Background(), req.arg))
		}
	}()

	return &RFnMut[A, R]{reqTx: reqTx}, provider
}

// NewMut wraps fun with a dispatcher that stays alive until every handle
// clone has been closed.
func NewMut[A, R any](log logger.Logger, fun func(context.Context, A) R) *RFnMut[A, R] {
	f, provider := ProvidedMut(log, fun)
	provider.Keep()
	return f
}

// Clone returns a new handle sharing the same dispatcher.
func (f *RFnMut[A, R]) Clone() *RFnMut[A, R] {
	return &RFnMut[A, R]{reqTx: f.reqTx.Clone()}
}

// Close releases this handle clone.
func (f *RFnMut[A, R]) Close() {
	f.reqTx.Close()
}

// TryCall invokes the function with arg and waits for its result. Calls on
// the same dispatcher are serialized; see RFn for concurrent execution.
func (f *RFnMut[A, R]) TryCall(ctx context.Context, arg A) (R, error) {
	var zero R
	resultTx, resultRx := oneshot.New[R]()
	if err := f.reqTx.Send(ctx, request[A, R]{arg: arg, resultTx: resultTx}); err != nil {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
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

// CallMut invokes a stateful function whose result is itself fallible and
// folds delivery failures into the result's error.
func CallMut[A, T any](ctx context.Context, f *RFnMut[A, Fallible[T]], arg A) (T, error) {
	res, err := f.TryCall(ctx, arg)
	if err != nil {
		var zero T
		return zero, err
	}
	return res.Value, res.Err
}
