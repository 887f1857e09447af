package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestOpenSendAndReceiveRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr, err := Open(context.Background(), wsURL(srv.URL), time.Second)
	require.NoError(t, err)
	defer tr.Close()

	received := make(chan []byte, 1)
	tr.OnMessage(func(raw []byte) { received <- raw })
	go tr.Listen()

	require.NoError(t, tr.Send([]byte(`{"hello":"world"}`)))

	select {
	case raw := <-received:
		assert.JSONEq(t, `{"hello":"world"}`, string(raw))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}
}

func TestOpenFailsWhenNothingListens(t *testing.T) {
	_, err := Open(context.Background(), "ws://127.0.0.1:1", 200*time.Millisecond)
	assert.Error(t, err)
}

func TestPeerCloseSignalsDisconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		accepted <- conn
	}))
	defer srv.Close()

	tr, err := Open(context.Background(), wsURL(srv.URL), time.Second)
	require.NoError(t, err)
	defer tr.Close()

	signaled := make(chan Signal, 1)
	tr.OnSignal(func(sig Signal) { signaled <- sig })
	go tr.Listen()

	serverConn := <-accepted
	require.NoError(t, serverConn.Close())

	select {
	case sig := <-signaled:
		assert.Equal(t, SignalDisconnected, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect signal")
	}
}

// TestOwnCloseDoesNotSignalDisconnect guards against a reconnect storm: a
// Client-initiated Close (e.g. Shutdown) must not be reported back through
// OnSignal, or the caller's disconnect handler would try to reconnect right
// after an intentional shutdown.
func TestOwnCloseDoesNotSignalDisconnect(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr, err := Open(context.Background(), wsURL(srv.URL), time.Second)
	require.NoError(t, err)

	signaled := make(chan Signal, 1)
	tr.OnSignal(func(sig Signal) { signaled <- sig })
	go tr.Listen()

	require.NoError(t, tr.Close())

	select {
	case sig := <-signaled:
		t.Fatalf("unexpected disconnect signal %v after an intentional Close", sig)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr, err := Open(context.Background(), wsURL(srv.URL), time.Second)
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	err = tr.Send([]byte("too late"))
	assert.Equal(t, ErrClosed, err)
}
