package relay

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gallir/smart-ssdb/internal/ssdbtest"
	"github.com/gallir/smart-ssdb/lib"
	"github.com/gallir/smart-ssdb/ssdb/client"
	"github.com/gallir/smart-ssdb/ssdb/cluster"
	"github.com/gallir/smart-ssdb/ssdb/monitor"
	"github.com/gallir/smart-ssdb/ssdb/protocol"
	"github.com/gallir/smart-ssdb/ssdb/sharding"
)

type senderFunc func(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

func (f senderFunc) SendRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return f(ctx, req)
}

func backend(t *testing.T) (*client.Client, *ssdbtest.Store) {
	st := ssdbtest.NewStore("backend")
	fake, err := ssdbtest.New(st.Handle)
	require.NoError(t, err)
	t.Cleanup(fake.Close)

	c, err := cluster.New("c", 100, cluster.NewServer(fake.Host(), fake.Port()))
	require.NoError(t, err)
	ring, err := sharding.New(sharding.AutoExpand, []*cluster.Cluster{c})
	require.NoError(t, err)
	cl := client.New(ring, client.Options{Monitor: monitor.New(monitor.Config{})})
	t.Cleanup(cl.Close)
	return cl, st
}

func start(t *testing.T, mode string, s Sender) *Server {
	done := make(chan bool, 1)
	srv, err := New(lib.RelayerConfig{Mode: mode, Listen: "tcp://127.0.0.1:0", Timeout: 5}, s, done)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Exit)
	return srv
}

type localConn struct {
	net.Conn
	dec *protocol.Decoder
}

func dial(t *testing.T, srv *Server) *localConn {
	c, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return &localConn{Conn: c, dec: protocol.NewDecoder(bufio.NewReader(c))}
}

func (c *localConn) do(t *testing.T, tokens ...interface{}) *protocol.Response {
	req, err := protocol.NewRequest(tokens...)
	require.NoError(t, err)
	_, err = req.WriteTo(c)
	require.NoError(t, err)
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := c.dec.ReadResponse()
	require.NoError(t, err)
	return resp
}

func TestSyncMode(t *testing.T) {
	cl, st := backend(t)
	srv := start(t, "sync", cl)
	c := dial(t, srv)

	resp := c.do(t, "set", "k", "v")
	assert.True(t, resp.OK())
	v, ok := st.Value("k")
	require.True(t, ok, "stored before the answer")
	assert.Equal(t, "v", string(v))

	resp = c.do(t, "get", "k")
	assert.Equal(t, "v", resp.FirstString())

	resp = c.do(t, "get", "missing")
	assert.True(t, resp.NotFound())

	resp = c.do(t, "hget", "h", "k")
	assert.Equal(t, "client_error", resp.Status(), "server errors pass through")

	st1 := srv.Status()
	assert.EqualValues(t, 4, st1.Requests)
	assert.EqualValues(t, 1, st1.Errors)
	assert.EqualValues(t, 1, st1.Connections)
	assert.Equal(t, "sync", st1.Mode)
}

func TestSmartMode(t *testing.T) {
	cl, st := backend(t)
	srv := start(t, "smart", cl)
	c := dial(t, srv)

	for _, k := range []string{"a", "b", "c"} {
		resp := c.do(t, "set", k, "v"+k)
		assert.True(t, resp.OK())
		assert.Equal(t, "1", resp.FirstString())
	}

	// Same connection, sent after the writes
	resp := c.do(t, "get", "c")
	assert.Equal(t, "vc", resp.FirstString())
	assert.Equal(t, 3, st.Len())

	resp = c.do(t, "incr", "n", 2)
	assert.Equal(t, "2", resp.FirstString(), "writes with values are not answered in advance")
}

func TestClientErrors(t *testing.T) {
	srv := start(t, "sync", senderFunc(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		return nil, errors.New("no cluster")
	}))
	c := dial(t, srv)

	resp := c.do(t, "get", "k")
	assert.Equal(t, protocol.StatusError, resp.Status())
	assert.Equal(t, "no cluster", resp.FirstString())
	assert.EqualValues(t, 1, srv.Status().Errors)
}

func TestSmartWritesFlushedOnClose(t *testing.T) {
	var sent int32
	srv := start(t, "smart", senderFunc(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&sent, 1)
		return respOK, nil
	}))
	c := dial(t, srv)

	for i := 0; i < 5; i++ {
		c.do(t, "set", "k", i)
	}
	c.Close()
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&sent) == 5 && srv.Status().Connections == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProtocolErrorClosesConnection(t *testing.T) {
	cl, _ := backend(t)
	srv := start(t, "sync", cl)
	c := dial(t, srv)

	_, err := c.Write([]byte("3\nget\nx\n"))
	require.NoError(t, err)
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := c.dec.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, resp.Status())

	_, err = c.dec.ReadResponse()
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	srv, err := New(lib.RelayerConfig{Mode: "sync", Listen: "tcp://127.0.0.1:0"}, senderFunc(nil), nil)
	require.NoError(t, err)

	require.NoError(t, srv.Reload(&lib.RelayerConfig{Mode: "smart", Listen: "tcp://127.0.0.1:0"}))
	mode, timeout := srv.settings()
	assert.Equal(t, lib.ModeSmart, mode)
	assert.Equal(t, responseTimeout, timeout)

	assert.Error(t, srv.Reload(&lib.RelayerConfig{Listen: "tcp://127.0.0.1:1"}))
	assert.Equal(t, "tcp://127.0.0.1:0", srv.Listen())
}

func TestExit(t *testing.T) {
	done := make(chan bool, 1)
	srv, err := New(lib.RelayerConfig{Listen: "tcp://127.0.0.1:0"}, senderFunc(nil), done)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	addr := srv.Addr().String()

	srv.Exit()
	assert.True(t, <-done)
	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
}
