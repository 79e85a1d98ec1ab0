// Package rch provides the shared lifecycle primitive for remote-object
// dispatchers: a keep-alive provider that lets the owner of a backing
// resource choose, at runtime, between keeping the resource alive forever and
// shutting it down when the owner is done with it.
//
// A Provider/Term pair is created together with a dispatcher goroutine. The
// provider side is held by the resource owner; the term side is held by the
// dispatcher, which races Term.Done against new work with shutdown checked
// first, and calls Term.Exit when it returns. Provider.Done resolves exactly
// when the dispatcher has exited, for either reason.
package rch

import (
	"context"

	"github.com/ENQT-GmbH/ch/pkg/rch/oneshot"
)

// Provider controls the lifetime of a dispatcher goroutine.
//
// Exactly one of two things should happen to a Provider: Keep, which signals
// that the dispatcher must never shut down on the provider's account, or
// Close, which requests shutdown as soon as no outstanding work remains.
type Provider struct {
	keepTx *oneshot.Sender[struct{}]
}

// Keep signals that the dispatcher should stay alive even though this
// provider is going away. Consumes the keep signal; Close afterwards is a
// no-op.
func (p *Provider) Keep() {
	_ = p.keepTx.Send(struct{}{})
}

// Close requests dispatcher shutdown. The dispatcher stops accepting new
// work; work already accepted completes independently. Idempotent, and a
// no-op after Keep.
func (p *Provider) Close() error {
	p.keepTx.Close()
	return nil
}

// Done waits until the dispatcher goroutine has exited, for either reason
// (shutdown requested, or all handles dropped). It returns ctx.Err() if ctx
// is done first.
func (p *Provider) Done(ctx context.Context) error {
	select {
	case <-p.keepTx.Closed():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Term is the dispatcher-side view of the keep-alive signal.
type Term struct {
	ctx    context.Context
	cancel context.CancelFunc
	keepRx *oneshot.Receiver[struct{}]
}

// NewProvider creates a connected Provider/Term pair.
func NewProvider() (*Provider, *Term) {
	keepTx, keepRx := oneshot.New[struct{}]()
	ctx, cancel := context.WithCancel(context.Background())
	t := &Term{ctx: ctx, cancel: cancel, keepRx: keepRx}
	go func() {
		// A value means Keep was called: the shutdown condition never fires.
		// Closed-without-value means the provider was dropped.
		if _, err := keepRx.Recv(context.Background()); err != nil {
			cancel()
		}
	}()
	return &Provider{keepTx: keepTx}, t
}

// Done returns a channel that is closed once shutdown has been requested
// (provider closed without Keep). It never fires if Keep was called.
//
// Dispatcher loops must check this condition before accepting new work, so
// that once shutdown is signalled no further requests are accepted even if
// one is simultaneously ready:
//
//	for {
//		select {
//		case <-term.Done():
//			return
//		default:
//		}
//		req, err := requestRx.Recv(term.Context())
//		...
//	}
func (t *Term) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Context returns a context that is cancelled when shutdown is requested.
// It is intended for blocking receives inside the dispatcher loop.
func (t *Term) Context() context.Context {
	return t.ctx
}

// Exit records that the dispatcher goroutine has exited and unblocks
// Provider.Done. Must be called exactly once, when the dispatcher returns.
func (t *Term) Exit() {
	t.keepRx.Close()
	t.cancel()
}
