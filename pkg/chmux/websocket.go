package chmux

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/jpillora/requestlog"
	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"
)

// WebSocketConn adapts a websocket connection to the io.ReadWriteCloser a
// Session runs over. Each Write produces one binary websocket message; Read
// drains binary messages in order.
type WebSocketConn struct {
	ws      *websocket.Conn
	pending io.Reader
}

// NewWebSocketConn wraps an established websocket connection.
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{ws: ws}
}

func (c *WebSocketConn) Read(p []byte) (int, error) {
	for {
		if c.pending == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			c.pending = r
		}
		n, err := c.pending.Read(p)
		if err == io.EOF {
			// Message finished; move on to the next one.
			c.pending = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *WebSocketConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *WebSocketConn) Close() error {
	return c.ws.Close()
}

// DialConfig controls DialWebSocket retry behavior.
type DialConfig struct {
	// MaxAttempts bounds the number of retries after the first failed dial;
	// 0 means a single attempt, a negative value retries until ctx is done.
	MaxAttempts int

	// MaxRetryInterval caps the backoff between attempts.
	MaxRetryInterval time.Duration

	// HandshakeTimeout bounds each websocket handshake.
	HandshakeTimeout time.Duration
}

// DialWebSocket dials a websocket URL ("ws://host:port/path") and starts a
// client-role session over it, retrying with backoff per cfg. A nil cfg uses
// a single attempt.
func DialWebSocket(ctx context.Context, log logger.Logger, url string, cfg *DialConfig) (*Session, error) {
	if cfg == nil {
		cfg = &DialConfig{}
	}
	handshakeTimeout := cfg.HandshakeTimeout
	if handshakeTimeout == 0 {
		handshakeTimeout = 45 * time.Second
	}
	maxInterval := cfg.MaxRetryInterval
	if maxInterval == 0 {
		maxInterval = 30 * time.Second
	}
	b := &backoff.Backoff{Max: maxInterval}
	for {
		d := websocket.Dialer{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: handshakeTimeout,
		}
		wsConn, _, err := d.DialContext(ctx, url, nil)
		if err == nil {
			b.Reset()
			return NewSession(log, NewWebSocketConn(wsConn), RoleClient), nil
		}
		attempt := int(b.Attempt())
		if cfg.MaxAttempts >= 0 && attempt >= cfg.MaxAttempts {
			return nil, err
		}
		wait := b.Duration()
		log.DLogf("dial %s failed (attempt %d): %s; retrying in %s", url, attempt+1, err, wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// SessionHandler is invoked once per inbound websocket session. The handler
// owns the session and is responsible for closing it.
type SessionHandler func(sess *Session)

// WebSocketListener runs an HTTP server that upgrades inbound connections to
// websockets and hands each one to a SessionHandler as a server-role session.
type WebSocketListener struct {
	*asyncobj.Helper

	handler    SessionHandler
	httpServer *http.Server
	netl       net.Listener
	serveDone  chan struct{}
	logHTTP    bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewWebSocketListener starts listening on addr. If logRequests is true, the
// underlying HTTP requests are logged through a request logging middleware.
func NewWebSocketListener(log logger.Logger, addr string, handler SessionHandler, logRequests bool) (*WebSocketListener, error) {
	wsl := &WebSocketListener{
		handler:   handler,
		serveDone: make(chan struct{}),
		logHTTP:   logRequests,
	}
	wsl.Helper = asyncobj.NewHelper(log.ForkLogStr("<WebSocketListener "+addr+">"), wsl)

	netl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	wsl.netl = netl

	var h http.Handler = http.HandlerFunc(wsl.serveHTTP)
	if logRequests {
		h = requestlog.Wrap(h)
	}
	wsl.httpServer = &http.Server{Handler: h}

	wsl.SetIsActivated()
	go func() {
		err := wsl.httpServer.Serve(netl)
		close(wsl.serveDone)
		wsl.StartShutdown(err)
	}()
	return wsl, nil
}

// Addr returns the listener's bound address, useful when addr was ":0".
func (wsl *WebSocketListener) Addr() net.Addr {
	return wsl.netl.Addr()
}

func (wsl *WebSocketListener) serveHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsl.DLogf("failed to upgrade to websocket: %s", err)
		return
	}
	sess := NewSession(wsl.Logger, NewWebSocketConn(wsConn), RoleServer)
	wsl.handler(sess)
}

// HandleOnceShutdown is called exactly once by asyncobj.Helper, in its own
// goroutine. It closes the TCP listener and waits for the HTTP server to
// wind down.
func (wsl *WebSocketListener) HandleOnceShutdown(completionErr error) error {
	err := wsl.netl.Close()
	<-wsl.serveDone
	if completionErr == nil && err != nil {
		completionErr = err
	}
	return completionErr
}

// Close shuts the listener down and waits for shutdown to complete.
func (wsl *WebSocketListener) Close() error {
	return wsl.Helper.Close()
}
