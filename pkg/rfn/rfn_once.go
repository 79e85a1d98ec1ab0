package rfn

import (
	"context"
	"errors"

	"github.com/sammck-go/logger"

	"github.com/ENQT-GmbH/ch/pkg/rch"
	"github.com/ENQT-GmbH/ch/pkg/rch/mpsc"
	"github.com/ENQT-GmbH/ch/pkg/rch/oneshot"
)

// RFnOnce is a handle to a function that can be called at most once. The
// dispatcher serves a single request and then exits; the handle is consumed
// by TryCall and is not clonable.
type RFnOnce[A, R any] struct {
	reqTx *mpsc.Sender[request[A, R]]
}

// ProvidedOnce wraps fun and returns a single-use handle together with the
// provider that controls the dispatcher's lifetime.
func ProvidedOnce[A, R any](log logger.Logger, fun func(context.Context, A) R) (*RFnOnce[A, R], *rch.Provider) {
	reqTx, reqRx := mpsc.New[request[A, R]](1)
	provider, term := rch.NewProvider()
	lg := log.ForkLogStr("<RFnOnce>")

	go func() {
		defer term.Exit()
		lg.DLogf("dispatcher started")
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
		drainRequests(reqRx)
		_ = req.resultTx.Send(fun(context.Background(), req.arg))
	}()

	return &RFnOnce[A, R]{reqTx: reqTx}, provider
}

// NewOnce wraps fun with a dispatcher that waits for its single call even
// after the provider value is gone.
func NewOnce[A, R any](log logger.Logger, fun func(context.Context, A) R) *RFnOnce[A, R] {
	f, provider := ProvidedOnce(log, fun)
	provider.Keep()
	return f
}

// Close releases the handle without calling the function.
func (f *RFnOnce[A, R]) Close() {
	f.reqTx.Close()
}

// TryCall invokes the function with arg, consuming the handle, and waits for
// the result.
func (f *RFnOnce[A, R]) TryCall(ctx context.Context, arg A) (R, error) {
	var zero R
	resultTx, resultRx := oneshot.New[R]()
	err := f.reqTx.Send(ctx, request[A, R]{arg: arg, resultTx: resultTx})
	f.reqTx.Close()
	if err != nil {
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

// CallOnce invokes a single-use function whose result is itself fallible and
// folds delivery failures into the result's error.
func CallOnce[A, T any](ctx context.Context, f *RFnOnce[A, Fallible[T]], arg A) (T, error) {
	res, err := f.TryCall(ctx, arg)
	if err != nil {
		var zero T
		return zero, err
	}
	return res.Value, res.Err
}
