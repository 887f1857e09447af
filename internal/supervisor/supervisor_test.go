package supervisor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runix/runixd/internal/manifest"
)

func TestReservePortReturnsUsablePort(t *testing.T) {
	port, err := reservePort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)

	l, err := net.Listen("tcp", "127.0.0.1:"+itoa(port))
	require.NoError(t, err, "the reserved port must be free for the caller to bind")
	_ = l.Close()
}

func itoa(n int) string {
	digits := []byte{}
	if n == 0 {
		return "0"
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestWaitForPortSucceedsOnceListening(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	port := l.Addr().(*net.TCPAddr).Port
	err = waitForPort(context.Background(), port, time.Second)
	assert.NoError(t, err)
}

func TestWaitForPortTimesOutWhenNothingListens(t *testing.T) {
	port, err := reservePort()
	require.NoError(t, err)

	err = waitForPort(context.Background(), port, 100*time.Millisecond)
	assert.Error(t, err)
}

func TestStartFailsWhenExecutableMissing(t *testing.T) {
	s := New(nil)
	raw := []byte(`{"name":"ghost","version":"1","executable":"./does-not-exist","transport":"websocket"}`)
	m, err := manifest.Parse(raw, t.TempDir())
	require.NoError(t, err)

	_, err = s.Start(context.Background(), "ghost", Spec{Manifest: m})
	assert.Error(t, err)
}

func TestIsAliveFalseForUntrackedDriver(t *testing.T) {
	s := New(nil)
	assert.False(t, s.IsAlive("nothing-tracked"))
}

func TestKillAllIsNoOpWithNoHandles(t *testing.T) {
	s := New(nil)
	assert.NotPanics(t, func() { s.KillAll() })
}

func TestHandleIsAliveFalseWithoutProcess(t *testing.T) {
	h := &Handle{}
	assert.False(t, h.IsAlive())
}
