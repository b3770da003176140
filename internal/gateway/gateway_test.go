package gateway

import (
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct {
	addr   string
	closed atomic.Bool
}

func (c *fakeConn) RemoteAddr() string { return c.addr }

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func TestOnConnect_FirstController(t *testing.T) {
	g := New(testLogger(), nil)
	c := &fakeConn{addr: "10.0.0.1:5000"}

	g.OnConnect(c)
	assert.Equal(t, Conn(c), g.Controlling())
}

func TestOnConnect_PreemptsWithoutBlaster(t *testing.T) {
	g := New(testLogger(), nil)
	old := &fakeConn{addr: "10.0.0.1:5000"}
	next := &fakeConn{addr: "10.0.0.2:5000"}

	g.OnConnect(old)
	g.OnConnect(next)

	assert.True(t, old.closed.Load(), "preempted connection must be closed")
	assert.Equal(t, Conn(next), g.Controlling())
}

func TestOnConnect_BlasterGetsReason(t *testing.T) {
	g := New(testLogger(), nil)
	old := &fakeConn{addr: "10.0.0.1:5000"}
	next := &fakeConn{addr: "10.0.0.2:5000"}

	var gotReason atomic.Value
	g.OnConnect(old)
	g.RegisterBlaster(old, func(reason string) error {
		gotReason.Store(reason)
		return nil
	})
	g.OnConnect(next)

	reason, _ := gotReason.Load().(string)
	require.NotEmpty(t, reason)
	assert.Contains(t, reason, "Forcefully disconnected by new controller")
	assert.Contains(t, reason, "10.0.0.2:5000")
	assert.True(t, old.closed.Load())
}

func TestOnConnect_StuckBlasterIsBounded(t *testing.T) {
	g := New(testLogger(), nil, WithBlasterTimeout(20*time.Millisecond))
	old := &fakeConn{addr: "10.0.0.1:5000"}
	next := &fakeConn{addr: "10.0.0.2:5000"}

	release := make(chan struct{})
	g.OnConnect(old)
	g.RegisterBlaster(old, func(string) error {
		<-release
		return nil
	})

	start := time.Now()
	g.OnConnect(next)
	elapsed := time.Since(start)
	close(release)

	assert.True(t, old.closed.Load(), "old connection closed despite stuck blaster")
	assert.Equal(t, Conn(next), g.Controlling())
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestOnDisconnect_ClearsControlling(t *testing.T) {
	g := New(testLogger(), nil)
	c := &fakeConn{addr: "10.0.0.1:5000"}

	g.OnConnect(c)
	g.OnDisconnect(c)
	assert.Nil(t, g.Controlling())
}

func TestOnDisconnect_StaleConnectionIgnored(t *testing.T) {
	g := New(testLogger(), nil)
	old := &fakeConn{addr: "10.0.0.1:5000"}
	next := &fakeConn{addr: "10.0.0.2:5000"}

	g.OnConnect(old)
	g.OnConnect(next)
	// The preempted controller notices late and disconnects.
	g.OnDisconnect(old)

	assert.Equal(t, Conn(next), g.Controlling())
}

func TestRegisterBlaster_NonControllingIgnored(t *testing.T) {
	g := New(testLogger(), nil)
	controlling := &fakeConn{addr: "10.0.0.1:5000"}
	other := &fakeConn{addr: "10.0.0.2:5000"}

	g.OnConnect(controlling)

	called := atomic.Bool{}
	g.RegisterBlaster(other, func(string) error {
		called.Store(true)
		return nil
	})

	// Handover must not invoke the rejected blaster.
	g.OnConnect(&fakeConn{addr: "10.0.0.3:5000"})
	assert.False(t, called.Load())
}

func TestCheckPortAvailable(t *testing.T) {
	// Nothing listens on this port in the test environment.
	assert.NoError(t, CheckPortAvailable("127.0.0.1:1"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	assert.Error(t, CheckPortAvailable(ln.Addr().String()))
}
