// Package transport is the RPC Transport of spec.md §4.1 (C1): a bidirectional,
// message-oriented channel over a single localhost WebSocket connection, one
// JSON message per frame. It does not interpret payloads or correlate
// requests — that is internal/driverclient's job (§4.1: "correlation is
// C2's job").
//
// The read-pump shape is grounded on the teacher's sibling-pack websocket
// client (arkeep-io-arkeep server/internal/websocket/client.go): one
// goroutine (Listen) reads and dispatches frames, while Send writes in the
// caller's goroutine, serialized by a mutex.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Signal values delivered to a registered handler out-of-band from messages.
type Signal int

const (
	// SignalDisconnected is delivered exactly once when the connection is
	// lost, whether by peer close, socket error, or malformed frame (§4.1).
	SignalDisconnected Signal = iota
)

var (
	ErrConnectTimeout = errors.New("transport: connect timeout")
	ErrConnectRefused = errors.New("transport: connect refused")
	ErrClosed         = errors.New("transport: closed")
)

// Handler receives decoded message frames. Handler and SignalHandler may be
// called concurrently with each other but each is invoked serially.
type Handler func(raw []byte)
type SignalHandler func(Signal)

// Transport is a single duplex WebSocket connection carrying one JSON
// message per frame (§4.1).
type Transport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool

	onMessage Handler
	onSignal  SignalHandler

	doneCh chan struct{}
}

// Open dials url, failing with ErrConnectTimeout if the peer does not accept
// within deadline's budget, or ErrConnectRefused otherwise (§4.1).
func Open(ctx context.Context, rawURL string, deadline time.Duration) (*Transport, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, ErrConnectRefused
	}

	dialCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: deadline}
	conn, _, err := dialer.DialContext(dialCtx, rawURL, nil)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrConnectTimeout
		}
		return nil, ErrConnectRefused
	}

	return &Transport{conn: conn, doneCh: make(chan struct{})}, nil
}

// OnMessage registers the frame handler. Must be called before Listen.
func (t *Transport) OnMessage(h Handler) { t.onMessage = h }

// OnSignal registers the out-of-band signal handler (disconnect, ...).
func (t *Transport) OnSignal(h SignalHandler) { t.onSignal = h }

// Listen reads frames until the connection closes or errors, dispatching
// each to the registered Handler. It blocks; callers run it in a goroutine.
func (t *Transport) Listen() {
	defer t.teardown()
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		if !json.Valid(data) {
			// A malformed frame aborts the connection (§4.1).
			_ = t.conn.Close()
			return
		}
		if t.onMessage != nil {
			t.onMessage(data)
		}
	}
}

func (t *Transport) teardown() {
	t.closeMu.Lock()
	already := t.closed
	t.closed = true
	t.closeMu.Unlock()

	close(t.doneCh)
	if !already && t.onSignal != nil {
		t.onSignal(SignalDisconnected)
	}
}

// Send writes one JSON message as a single WebSocket text frame. Writes are
// serialized: gorilla/websocket connections support one concurrent reader
// and one concurrent writer, never two concurrent writers.
func (t *Transport) Send(raw []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.closeMu.Lock()
	closed := t.closed
	t.closeMu.Unlock()
	if closed {
		return ErrClosed
	}

	return t.conn.WriteMessage(websocket.TextMessage, raw)
}

// Close closes the underlying connection and marks the transport closed, so
// a Send racing with or following Close always sees ErrClosed rather than a
// raw network error. Safe to call more than once, and safe to call whether
// or not Listen is running.
func (t *Transport) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	t.closeMu.Unlock()
	return t.conn.Close()
}

// Done returns a channel closed once the transport has torn down.
func (t *Transport) Done() <-chan struct{} { return t.doneCh }
