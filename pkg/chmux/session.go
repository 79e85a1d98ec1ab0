package chmux

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"sync"

	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"
)

// Role determines which half of the port and stream ID spaces a session
// allocates from, so both peers can allocate without coordination.
type Role int

const (
	// RoleClient allocates odd stream IDs and ports.
	RoleClient Role = iota

	// RoleServer allocates even stream IDs and ports.
	RoleServer
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

type frameKind uint8

const (
	frameOpen frameKind = iota + 1
	frameAccept
	frameReject
	frameData
	frameClose
)

// frame is the only on-the-wire unit. Gob-encoded frames are self-delimiting,
// so no length prefix is needed.
type frame struct {
	Kind   frameKind
	Stream uint32 // stream ID; allocated by the opening side
	Port   uint32 // target port; meaningful for frameOpen only
	Data   []byte // payload chunk for frameData
	EOM    bool   // marks the final chunk of a message
}

// Session multiplexes logical streams over a single underlying connection.
// It owns the connection and closes it on shutdown.
type Session struct {
	*asyncobj.Helper

	conn io.ReadWriteCloser
	role Role

	writeMu sync.Mutex
	enc     *gob.Encoder

	mu         sync.Mutex
	streams    map[uint32]*streamState
	listeners  map[uint32]*Listener
	pending    map[uint32]chan error
	nextStream uint32
	nextPort   uint32

	readDone chan struct{}
}

// NewSession starts a session over conn. Exactly one peer must use
// RoleClient and the other RoleServer. The session owns conn.
func NewSession(log logger.Logger, conn io.ReadWriteCloser, role Role) *Session {
	s := &Session{
		conn:      conn,
		role:      role,
		enc:       gob.NewEncoder(conn),
		streams:   make(map[uint32]*streamState),
		listeners: make(map[uint32]*Listener),
		pending:   make(map[uint32]chan error),
		readDone:  make(chan struct{}),
	}
	if role == RoleClient {
		s.nextStream = 1
		s.nextPort = 1
	} else {
		s.nextStream = 2
		s.nextPort = 2
	}
	s.Helper = asyncobj.NewHelper(log.ForkLogStr(fmt.Sprintf("<Session %s>", role)), s)
	s.SetIsActivated()
	go s.readLoop(gob.NewDecoder(conn))
	return s
}

// AllocPort hands out a session-locally unique port number.
func (s *Session) AllocPort() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	port := s.nextPort
	s.nextPort += 2
	return port
}

// Close shuts the session down and waits for shutdown to complete. All
// streams and listeners fail with ErrSessionClosed.
func (s *Session) Close() error {
	return s.Helper.Close()
}

// Connect opens a logical stream to a listener on the given remote port. It
// completes once the peer has acknowledged the stream, returning its two
// halves. Failure to establish yields a *ConnectError.
func (s *Session) Connect(ctx context.Context, port uint32) (Sender, Receiver, error) {
	s.mu.Lock()
	if s.IsDoneShutdown() {
		s.mu.Unlock()
		return nil, nil, &ConnectError{Port: port, Err: ErrSessionClosed}
	}
	sid := s.nextStream
	s.nextStream += 2
	st := newStreamState(s, sid)
	s.streams[sid] = st
	accepted := make(chan error, 1)
	s.pending[sid] = accepted
	s.mu.Unlock()

	if err := s.writeFrame(frame{Kind: frameOpen, Stream: sid, Port: port}); err != nil {
		s.dropStream(sid)
		return nil, nil, &ConnectError{Port: port, Err: err}
	}

	select {
	case err := <-accepted:
		if err != nil {
			s.dropStream(sid)
			return nil, nil, &ConnectError{Port: port, Err: err}
		}
	case <-ctx.Done():
		s.dropStream(sid)
		return nil, nil, &ConnectError{Port: port, Err: ctx.Err()}
	}
	s.DLogf("connected stream %d to port %d", sid, port)
	return &streamSender{st: st}, &streamReceiver{st: st}, nil
}

// Listener accepts inbound streams addressed to one local port.
func (s *Session) Listener(port uint32) (*Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsDoneShutdown() {
		return nil, ErrSessionClosed
	}
	if _, ok := s.listeners[port]; ok {
		return nil, fmt.Errorf("chmux: port %d already has a listener", port)
	}
	l := &Listener{
		sess:   s,
		port:   port,
		inbox:  make(chan *streamState, listenerBacklog),
		closed: make(chan struct{}),
	}
	s.listeners[port] = l
	return l, nil
}

func (s *Session) writeFrame(f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.enc.Encode(f); err != nil {
		s.StartShutdown(err)
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) dropStream(sid uint32) {
	s.mu.Lock()
	delete(s.streams, sid)
	delete(s.pending, sid)
	s.mu.Unlock()
}

// releaseIfDone removes the stream from the routing table once both local
// halves have been closed.
func (s *Session) releaseIfDone(st *streamState) {
	if st.bothHalvesClosed() {
		s.mu.Lock()
		delete(s.streams, st.id)
		s.mu.Unlock()
	}
}

func (s *Session) readLoop(dec *gob.Decoder) {
	defer close(s.readDone)
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			s.DLogf("read loop ending: %s", err)
			s.StartShutdown(err)
			return
		}
		switch f.Kind {
		case frameOpen:
			s.handleOpen(f)
		case frameAccept, frameReject:
			s.mu.Lock()
			accepted := s.pending[f.Stream]
			delete(s.pending, f.Stream)
			s.mu.Unlock()
			if accepted != nil {
				if f.Kind == frameAccept {
					accepted <- nil
				} else {
					accepted <- ErrConnectRejected
				}
			}
		case frameData:
			s.mu.Lock()
			st := s.streams[f.Stream]
			s.mu.Unlock()
			if st != nil {
				st.deliverChunk(f.Data, f.EOM)
			}
		case frameClose:
			s.mu.Lock()
			st := s.streams[f.Stream]
			s.mu.Unlock()
			if st != nil {
				st.peerClose(nil)
			}
		}
	}
}

func (s *Session) handleOpen(f frame) {
	s.mu.Lock()
	l := s.listeners[f.Port]
	if l == nil {
		s.mu.Unlock()
		s.DLogf("rejecting stream %d: no listener on port %d", f.Stream, f.Port)
		_ = s.writeFrame(frame{Kind: frameReject, Stream: f.Stream})
		return
	}
	st := newStreamState(s, f.Stream)
	s.streams[f.Stream] = st
	s.mu.Unlock()
	if s.writeFrame(frame{Kind: frameAccept, Stream: f.Stream}) != nil {
		return
	}
	select {
	case l.inbox <- st:
	case <-l.closed:
		st.peerClose(ErrListenerClosed)
		_ = s.writeFrame(frame{Kind: frameClose, Stream: f.Stream})
	}
}

// HandleOnceShutdown is called exactly once by asyncobj.Helper, in its own
// goroutine. It closes the underlying connection, waits for the read loop to
// exit, and fails every stream, listener, and pending connect.
func (s *Session) HandleOnceShutdown(completionErr error) error {
	err := s.conn.Close()
	<-s.readDone

	s.mu.Lock()
	streams := s.streams
	listeners := s.listeners
	pending := s.pending
	s.streams = map[uint32]*streamState{}
	s.listeners = map[uint32]*Listener{}
	s.pending = map[uint32]chan error{}
	s.mu.Unlock()

	for _, accepted := range pending {
		accepted <- ErrSessionClosed
	}
	for _, st := range streams {
		st.peerClose(ErrSessionClosed)
	}
	for _, l := range listeners {
		l.closeLocked()
	}

	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// Listener delivers inbound streams for one local port.
type Listener struct {
	sess   *Session
	port   uint32
	inbox  chan *streamState
	closed chan struct{}
	once   sync.Once
}

// Accept returns the two halves of the next inbound stream. It returns
// ErrListenerClosed after Close, and ctx.Err() if ctx is done first.
func (l *Listener) Accept(ctx context.Context) (Sender, Receiver, error) {
	select {
	case st := <-l.inbox:
		return &streamSender{st: st}, &streamReceiver{st: st}, nil
	default:
	}
	select {
	case st := <-l.inbox:
		return &streamSender{st: st}, &streamReceiver{st: st}, nil
	case <-l.closed:
		return nil, nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Close stops accepting streams on the port. Streams already acknowledged but
// never claimed by Accept are closed.
func (l *Listener) Close() error {
	l.sess.mu.Lock()
	if l.sess.listeners[l.port] == l {
		delete(l.sess.listeners, l.port)
	}
	l.sess.mu.Unlock()
	l.closeLocked()
	return nil
}

func (l *Listener) closeLocked() {
	l.once.Do(func() {
		close(l.closed)
		for {
			select {
			case st := <-l.inbox:
				st.peerClose(ErrListenerClosed)
				_ = l.sess.writeFrame(frame{Kind: frameClose, Stream: st.id})
			default:
				return
			}
		}
	})
}
