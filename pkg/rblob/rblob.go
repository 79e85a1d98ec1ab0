// Package rblob provides lazy blob handles: a byte buffer is wrapped behind a
// cheap, clonable handle that carries only the buffer's length. The bytes
// themselves are transferred on first access, over a dedicated stream
// established per fetch through a forwarded binary channel, and the result
// (success or terminal failure) is memoized in a cache cell shared by every
// clone, so at most one transfer ever occurs per constructed blob.
package rblob

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jpillora/sizestr"
	"github.com/sammck-go/logger"

	"github.com/ENQT-GmbH/ch/pkg/rch"
	"github.com/ENQT-GmbH/ch/pkg/rch/fwbin"
	"github.com/ENQT-GmbH/ch/pkg/rch/mpsc"
)

// FetchKind classifies terminal fetch failures.
type FetchKind int

const (
	// FetchDropped: the provider was released before serving the transfer.
	FetchDropped FetchKind = iota

	// FetchSize: the declared length cannot be represented locally.
	FetchSize

	// FetchConnect: establishing the transfer stream failed.
	FetchConnect

	// FetchReceive: the transfer stream failed while receiving the payload.
	FetchReceive
)

func (k FetchKind) String() string {
	switch k {
	case FetchDropped:
		return "provider dropped"
	case FetchSize:
		return "size unrepresentable"
	case FetchConnect:
		return "connect failed"
	case FetchReceive:
		return "receive failed"
	default:
		return "unknown"
	}
}

// FetchError is the terminal error stored in the cache cell when a fetch
// fails; every current and future caller observes the same error.
type FetchError struct {
	Kind FetchKind
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lazy blob fetch failed (%s): %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("lazy blob fetch failed (%s)", e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// SizeError indicates that a blob's declared length exceeds what this
// platform can hold in memory.
type SizeError struct {
	Len uint64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("lazy blob length %d exceeds locally representable size", e.Len)
}

// fetchTask is one single-flight fetch: started at most once, awaited by
// every caller, its outcome immutable after done is closed.
type fetchTask struct {
	done chan struct{}
	data []byte
	err  error
}

// fetchCell is the cache cell shared by all clones of one constructed blob.
// The semaphore is an awaitable exclusive lock held for the full duration of
// a fetch attempt.
type fetchCell struct {
	sem  chan struct{}
	task *fetchTask
}

func newFetchCell() *fetchCell {
	return &fetchCell{sem: make(chan struct{}, 1)}
}

func (c *fetchCell) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fetchCell) release() {
	<-c.sem
}

// LazyBlob is a clonable handle to a lazily transferred byte buffer. The
// length is known without any transfer; the bytes arrive on first Get.
type LazyBlob struct {
	reqTx    *mpsc.Sender[*fwbin.Sender]
	length   uint64
	cell     *fetchCell
	streamer fwbin.Streamer
	log      logger.Logger
}

// Option adjusts blob construction.
type Option func(*options)

type options struct {
	streamer fwbin.Streamer
}

// WithTransfer sets the streamer used to establish each transfer stream, for
// example one crossing a multiplexer session pair. The default is an
// in-memory stream.
func WithTransfer(streamer fwbin.Streamer) Option {
	return func(o *options) {
		o.streamer = streamer
	}
}

// Provided wraps data in a lazy blob and returns the handle together with the
// provider controlling the transfer dispatcher's lifetime. The provider owns
// the buffer; the handle carries only the length until the first fetch.
func Provided(log logger.Logger, data []byte, opts ...Option) (*LazyBlob, *rch.Provider) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	reqTx, reqRx := mpsc.New[*fwbin.Sender](1)
	provider, term := rch.NewProvider()
	lg := log.ForkLogStr("<LazyBlob>")

	go func() {
		defer term.Exit()
		lg.DLogf("transfer dispatcher started, blob size %s", sizestr.ToString(int64(len(data))))
		for {
			select {
			case <-term.Done():
				lg.DLogf("transfer dispatcher stopping: provider released")
				drainTransfers(reqRx)
				return
			default:
			}
			fws, err := reqRx.Recv(term.Context())
			if err != nil {
				lg.DLogf("transfer dispatcher stopping: %s", err)
				drainTransfers(reqRx)
				return
			}
			// A request and the shutdown signal can become ready in the same
			// wakeup; shutdown always wins the tie.
			select {
			case <-term.Done():
				lg.DLogf("transfer dispatcher stopping: provider released")
				fws.Close()
				drainTransfers(reqRx)
				return
			default:
			}
			// Each transfer runs independently of the dispatcher and of
			// other transfers.
			go serveTransfer(lg, fws, data)
		}
	}()

	blob := &LazyBlob{
		reqTx:    reqTx,
		length:   uint64(len(data)),
		cell:     newFetchCell(),
		streamer: o.streamer,
		log:      lg,
	}
	return blob, provider
}

// New wraps data in a lazy blob whose dispatcher stays alive until every
// handle clone has been closed.
func New(log logger.Logger, data []byte, opts ...Option) *LazyBlob {
	blob, provider := Provided(log, data, opts...)
	provider.Keep()
	return blob
}

func drainTransfers(reqRx *mpsc.Receiver[*fwbin.Sender]) {
	for _, fws := range reqRx.Close() {
		fws.Close()
	}
}

func serveTransfer(log logger.Logger, fws *fwbin.Sender, data []byte) {
	ctx := context.Background()
	tx, err := fws.Connect(ctx)
	if err != nil {
		log.DLogf("transfer connect failed: %s", err)
		return
	}
	if err := tx.Send(ctx, data); err != nil {
		log.DLogf("transfer send failed: %s", err)
	} else {
		log.DLogf("transferred %s", sizestr.ToString(int64(len(data))))
	}
	tx.Close()
}

// Len returns the blob's length without any transfer. It fails with a
// *SizeError if the declared length does not fit in an int on this platform;
// the check is applied per call, never cached.
func (b *LazyBlob) Len() (int, error) {
	if b.length > uint64(math.MaxInt) {
		return 0, &SizeError{Len: b.length}
	}
	return int(b.length), nil
}

// IsEmpty reports whether the blob has length zero, without any transfer.
func (b *LazyBlob) IsEmpty() bool {
	return b.length == 0
}

// Clone returns a new handle sharing the same transfer dispatcher and the
// same fetch cache: a fetch performed through any clone serves all of them.
func (b *LazyBlob) Clone() *LazyBlob {
	return &LazyBlob{
		reqTx:    b.reqTx.Clone(),
		length:   b.length,
		cell:     b.cell,
		streamer: b.streamer,
		log:      b.log,
	}
}

// Close releases this handle clone. Once every clone is closed the provider's
// dispatcher may shut down. Idempotent.
func (b *LazyBlob) Close() {
	b.reqTx.Close()
}

// Get returns the blob's bytes, fetching them on first call and returning the
// memoized buffer (or memoized terminal error) on every later call, across
// all clones. The returned slice is shared and must not be modified.
func (b *LazyBlob) Get(ctx context.Context) ([]byte, error) {
	if _, err := b.Len(); err != nil {
		return nil, &FetchError{Kind: FetchSize, Err: err}
	}
	if err := b.cell.acquire(ctx); err != nil {
		return nil, err
	}
	task := b.cell.task
	if task == nil {
		task = b.startFetch()
		b.cell.task = task
	}
	// The lock is held while awaiting the fetch, so first-time callers are
	// serialized; the transfer itself proceeds even if this caller gives up.
	select {
	case <-task.done:
		b.cell.release()
		return task.data, task.err
	case <-ctx.Done():
		b.cell.release()
		return nil, ctx.Err()
	}
}

// IntoInner consumes the handle and returns the blob's bytes. The memoized
// buffer is handed over without copying, so this is Get followed by Close;
// slices are shared, making the sole-clone and multi-clone cases identical.
func (b *LazyBlob) IntoInner(ctx context.Context) ([]byte, error) {
	data, err := b.Get(ctx)
	b.Close()
	return data, err
}

// startFetch launches the single-flight fetch. It runs detached so that a
// caller abandoning its wait does not abort the transfer for later callers.
func (b *LazyBlob) startFetch() *fetchTask {
	task := &fetchTask{done: make(chan struct{})}

	var fws *fwbin.Sender
	var fwr *fwbin.Receiver
	if b.streamer != nil {
		fws, fwr = fwbin.New(b.streamer)
	} else {
		fws, fwr = fwbin.Pipe()
	}

	// The request is sent through a dedicated sender clone so the fetch is
	// unaffected by this handle being closed while the transfer runs.
	reqTx := b.reqTx.Clone()
	length := b.length
	log := b.log

	go func() {
		defer close(task.done)
		defer reqTx.Close()

		ctx := context.Background()
		if err := reqTx.Send(ctx, fws); err != nil {
			// Delivery failure is not distinct: the abandoned placeholder
			// below reports the provider as gone.
			fws.Close()
		}
		rx, err := fwr.Established(ctx)
		if err != nil {
			if errors.Is(err, fwbin.ErrAbandoned) {
				task.err = &FetchError{Kind: FetchDropped, Err: err}
			} else {
				task.err = &FetchError{Kind: FetchConnect, Err: err}
			}
			log.DLogf("fetch failed: %s", task.err)
			return
		}
		rx.SetMaxDataSize(int(length))
		data, err := rx.Recv(ctx)
		rx.Close()
		if err != nil {
			task.err = &FetchError{Kind: FetchReceive, Err: err}
			log.DLogf("fetch failed: %s", task.err)
			return
		}
		task.data = data
		log.DLogf("fetched %s", sizestr.ToString(int64(len(data))))
	}()

	return task
}
