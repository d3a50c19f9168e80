package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gallir/smart-ssdb/internal/ssdbtest"
	"github.com/gallir/smart-ssdb/lib"
	"github.com/gallir/smart-ssdb/ssdb/cluster"
	"github.com/gallir/smart-ssdb/ssdb/monitor"
	"github.com/gallir/smart-ssdb/ssdb/protocol"
	"github.com/gallir/smart-ssdb/ssdb/sharding"
)

type node struct {
	fake   *ssdbtest.Server
	store  *ssdbtest.Store
	server *cluster.Server
}

func startNode(t *testing.T, name string) *node {
	st := ssdbtest.NewStore(name)
	fake, err := ssdbtest.New(st.Handle)
	require.NoError(t, err)
	t.Cleanup(fake.Close)
	return &node{
		fake:   fake,
		store:  st,
		server: cluster.NewServer(fake.Host(), fake.Port()),
	}
}

// deadServer points to a port nobody listens on
func deadServer(t *testing.T) *cluster.Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return cluster.NewServer("127.0.0.1", port)
}

func newCluster(t *testing.T, id string, servers ...*cluster.Server) *cluster.Cluster {
	c, err := cluster.New(id, 100, servers...)
	require.NoError(t, err)
	return c
}

func newClient(t *testing.T, policy sharding.Policy, clusters ...*cluster.Cluster) (*Client, *monitor.Daemon) {
	ring, err := sharding.New(policy, clusters)
	require.NoError(t, err)
	d := monitor.New(monitor.Config{})
	c := New(ring, Options{Monitor: d})
	t.Cleanup(c.Close)
	return c, d
}

// keyIn finds a key served by the cluster
func keyIn(t *testing.T, ring *sharding.Ring, id string) string {
	for i := 0; i < 10000; i++ {
		k := fmt.Sprintf("key-%d", i)
		c, err := ring.ClusterFor([]byte(k))
		require.NoError(t, err)
		if c.ID() == id {
			return k
		}
	}
	t.Fatalf("no key for cluster %s", id)
	return ""
}

func TestCommands(t *testing.T) {
	nodes := []*node{startNode(t, "a"), startNode(t, "b"), startNode(t, "c")}
	var clusters []*cluster.Cluster
	for i, n := range nodes {
		clusters = append(clusters, newCluster(t, fmt.Sprint("c", i), n.server))
	}
	cl, _ := newClient(t, sharding.AutoExpand, clusters...)
	ctx := context.Background()

	for i, n := range nodes {
		key := keyIn(t, cl.Ring(), fmt.Sprint("c", i))
		require.NoError(t, cl.Set(ctx, key, []byte("v"+key)))

		v, ok := n.store.Value(key)
		assert.True(t, ok, "stored in its own cluster")
		assert.Equal(t, "v"+key, string(v))

		got, found, err := cl.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v"+key, string(got))

		exists, err := cl.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, cl.Del(ctx, key))
		_, found, err = cl.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, found)
	}

	n, err := cl.Incr(ctx, "counter", 5)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	n, err = cl.Incr(ctx, "counter", -2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.NoError(t, cl.Setx(ctx, "ttl", []byte("x"), 2*time.Second))
	assert.Error(t, cl.Setx(ctx, "ttl", []byte("x"), time.Millisecond))
}

func TestMultiGetAndSplit(t *testing.T) {
	var clusters []*cluster.Cluster
	for i := 0; i < 3; i++ {
		clusters = append(clusters, newCluster(t, fmt.Sprint("c", i), startNode(t, fmt.Sprint(i)).server))
	}
	cl, _ := newClient(t, sharding.AutoExpand, clusters...)
	ctx := context.Background()

	keys := make([]string, 30)
	for i := range keys {
		keys[i] = fmt.Sprint("k", i)
		if i%2 == 0 {
			require.NoError(t, cl.Set(ctx, keys[i], []byte(keys[i])))
		}
	}

	groups, err := cl.SplitKeys(keys...)
	require.NoError(t, err)
	total := 0
	for id, group := range groups {
		total += len(group)
		for _, k := range group {
			c, err := cl.Ring().ClusterFor([]byte(k))
			require.NoError(t, err)
			assert.Equal(t, id, c.ID())
		}
	}
	assert.Equal(t, len(keys), total)

	values, err := cl.MultiGet(ctx, keys...)
	require.NoError(t, err)
	assert.Len(t, values, 15)
	for k, v := range values {
		assert.Equal(t, k, string(v))
	}
}

// One cluster with two masters, one of them down: every write succeeds in
// the same call and the dead one ends invalid and watched
func TestFailoverInsideCluster(t *testing.T) {
	alive := startNode(t, "alive")
	dead := deadServer(t)
	c := newCluster(t, "c", dead, alive.server)
	cl, d := newClient(t, sharding.AutoExpand, c)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, cl.Set(ctx, fmt.Sprint("k", i), []byte("v")))
	}
	assert.Equal(t, 50, alive.store.Len())
	assert.Equal(t, []*cluster.Server{dead}, c.InvalidServers())
	assert.Equal(t, []string{dead.Address()}, d.Invalid())
	assert.False(t, c.Invalid())
}

func TestFailoverToNextCluster(t *testing.T) {
	first := startNode(t, "first")
	c1 := newCluster(t, "c1", first.server)
	c2 := newCluster(t, "c2", deadServer(t))
	cl, _ := newClient(t, sharding.AutoExpand, c1, c2)
	ctx := context.Background()

	key := keyIn(t, cl.Ring(), "c2")
	require.NoError(t, cl.Set(ctx, key, []byte("v")))
	_, ok := first.store.Value(key)
	assert.True(t, ok)
	assert.True(t, c2.Invalid())
	assert.Equal(t, "c1", cl.Ring().RangeMap()["c2(invalid)"].TakenOverBy)

	got, found, err := cl.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", string(got))
}

func TestPreserveKeySpace(t *testing.T) {
	first := startNode(t, "first")
	c1 := newCluster(t, "c1", first.server)
	c2 := newCluster(t, "c2", deadServer(t))
	cl, _ := newClient(t, sharding.PreserveKeySpace, c1, c2)
	ctx := context.Background()

	key := keyIn(t, cl.Ring(), "c2")
	err := cl.Set(ctx, key, []byte("v"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, cluster.ErrNoServerAvailable))
	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StageServer, ce.Stage)
	assert.True(t, c2.Invalid())
	assert.Zero(t, first.store.Len())

	// Still failing, now from the ring itself
	err = cl.Set(ctx, key, []byte("v"))
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StageCluster, ce.Stage)
	assert.True(t, errors.Is(err, cluster.ErrNoServerAvailable))

	// The other range is untouched
	require.NoError(t, cl.Set(ctx, keyIn(t, cl.Ring(), "c1"), []byte("v")))
}

func TestServerErrorIsTerminal(t *testing.T) {
	n := startNode(t, "a")
	c := newCluster(t, "c", n.server)
	cl, d := newClient(t, sharding.AutoExpand, c)

	before := n.fake.Requests()
	resp, err := cl.Send(context.Background(), "hget", "h", "k")
	require.Error(t, err)

	var se *protocol.ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "client_error", se.Status)
	require.NotNil(t, resp)
	assert.Equal(t, "client_error", resp.Status())

	assert.Equal(t, before+2, n.fake.Requests(), "ping and hget, not retried")
	assert.Empty(t, c.InvalidServers())
	assert.Empty(t, d.Invalid())
}

func TestProtocolErrorIsRetried(t *testing.T) {
	n := startNode(t, "a")
	n.fake.SetRaw([]byte("x\nok\n\n"))
	c := newCluster(t, "c", n.server)
	cl, _ := newClient(t, sharding.AutoExpand, c)

	_, err := cl.Send(context.Background(), "get", "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sharding.ErrNoClusterAvailable))
	assert.Equal(t, []*cluster.Server{n.server}, c.InvalidServers())
	assert.True(t, c.Invalid())
}

func TestConnectionsReturned(t *testing.T) {
	n := startNode(t, "a")
	cl, _ := newClient(t, sharding.AutoExpand, newCluster(t, "c", n.server))
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, _, err := cl.Get(ctx, fmt.Sprint("k", i))
		require.NoError(t, err)
	}
	_, _ = cl.Send(ctx, "unknown", "k")

	stats := cl.Pools().Stats()[n.server.Address()]
	assert.Zero(t, stats.Active)
	assert.Equal(t, 1, stats.Idle)
	assert.EqualValues(t, 1, n.fake.Accepted())
}

func TestStaleConnectionsReplaced(t *testing.T) {
	a, b := startNode(t, "a"), startNode(t, "b")
	ca, cb := newCluster(t, "ca", a.server), newCluster(t, "cb", b.server)
	cl, d := newClient(t, sharding.AutoExpand, ca, cb)
	ctx := context.Background()
	key := keyIn(t, cl.Ring(), "ca")

	require.NoError(t, cl.Set(ctx, key, []byte("v1")))
	// Server restart or idle timeout, the pooled socket is closed
	a.fake.DropConnections()
	require.NoError(t, cl.Set(ctx, key, []byte("v2")))

	assert.False(t, ca.Invalid())
	assert.Empty(t, ca.InvalidServers())
	assert.Empty(t, d.Invalid())
	v, ok := a.store.Value(key)
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
	_, ok = b.store.Value(key)
	assert.False(t, ok, "no write in the neighbour cluster")
	assert.EqualValues(t, 2, a.fake.Accepted())
}

func TestPingDisabled(t *testing.T) {
	n := startNode(t, "a")
	ring, err := sharding.New(sharding.AutoExpand, []*cluster.Cluster{newCluster(t, "c", n.server)})
	require.NoError(t, err)
	cl := New(ring, Options{Monitor: monitor.New(monitor.Config{}), PingCommand: lib.NoPingCommand})
	defer cl.Close()

	before := n.fake.Requests()
	_, _, err = cl.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, before+1, n.fake.Requests())
}

func TestCanceledContext(t *testing.T) {
	n := startNode(t, "a")
	cl, _ := newClient(t, sharding.AutoExpand, newCluster(t, "c", n.server))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cl.Send(ctx, "get", "k")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSendToAllAndDBSize(t *testing.T) {
	a, b := startNode(t, "a"), startNode(t, "b")
	ca, cb := newCluster(t, "ca", a.server), newCluster(t, "cb", b.server)
	cl, _ := newClient(t, sharding.AutoExpand, ca, cb)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, cl.Set(ctx, fmt.Sprint("k", i), []byte("v")))
	}

	responses, err := cl.SendToAll(ctx, "info")
	require.NoError(t, err)
	assert.Equal(t, "a", responses["ca"].Map()["name"])
	assert.Equal(t, "b", responses["cb"].Map()["name"])

	total, err := cl.DBSize(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 10, total)

	size, err := cl.DBSize(ctx, a.server)
	require.NoError(t, err)
	assert.EqualValues(t, a.store.Len(), size)

	info, err := cl.Info(ctx, b.server)
	require.NoError(t, err)
	assert.Equal(t, "b", info["name"])
}

func TestSendToPinnedFailure(t *testing.T) {
	n := startNode(t, "a")
	dead := deadServer(t)
	c := newCluster(t, "c", n.server, dead)
	cl, _ := newClient(t, sharding.AutoExpand, c)

	_, err := cl.SendTo(context.Background(), dead, "dbsize")
	require.Error(t, err)
	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StageBorrow, ce.Stage)
	assert.Equal(t, []*cluster.Server{dead}, c.InvalidServers())
}

func TestCompression(t *testing.T) {
	n := startNode(t, "a")
	ring, err := sharding.New(sharding.AutoExpand, []*cluster.Cluster{newCluster(t, "c", n.server)})
	require.NoError(t, err)
	cl := New(ring, Options{Monitor: monitor.New(monitor.Config{}), Compress: lib.CompressSnappy})
	defer cl.Close()
	ctx := context.Background()

	big := bytes.Repeat([]byte("compressible "), 100)
	require.NoError(t, cl.Set(ctx, "big", big))
	require.NoError(t, cl.Set(ctx, "small", []byte("tiny")))

	stored, _ := n.store.Value("big")
	assert.True(t, bytes.HasPrefix(stored, []byte("$sy$")))
	assert.Less(t, len(stored), len(big))
	stored, _ = n.store.Value("small")
	assert.Equal(t, "tiny", string(stored))

	got, _, err := cl.Get(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, big, got)

	values, err := cl.MultiGet(ctx, "big", "small")
	require.NoError(t, err)
	assert.Equal(t, big, values["big"])
	assert.Equal(t, "tiny", string(values["small"]))
}

func TestNewFromConfig(t *testing.T) {
	a, b := startNode(t, "a"), startNode(t, "b")
	cfg, err := lib.ParseConfig(fmt.Sprintf(`
policy = "preserve-key-space"
hash = "md5"
pingcommand = "ping"

[[cluster]]
id = "one"
weight = 200
  [[cluster.server]]
  host = "%s"
  port = %d

[[cluster]]
id = "two"
  [[cluster.server]]
  host = "%s"
  port = %d
`, a.fake.Host(), a.fake.Port(), b.fake.Host(), b.fake.Port()))
	require.NoError(t, err)

	cl, err := NewFromConfig(cfg)
	require.NoError(t, err)
	defer cl.Close()

	assert.Equal(t, sharding.PreserveKeySpace, cl.Ring().Policy())
	assert.Equal(t, 2, cl.Ring().Len())
	require.NoError(t, cl.Set(context.Background(), "k", []byte("v")))
	assert.Equal(t, 1, a.store.Len()+b.store.Len())
	assert.Greater(t, a.fake.Requests()+b.fake.Requests(), int64(1), "ping on borrow")
}

func TestAddCluster(t *testing.T) {
	a, b := startNode(t, "a"), startNode(t, "b")
	ca := newCluster(t, "ca", a.server)
	cl, d := newClient(t, sharding.AutoExpand, ca)

	cb := newCluster(t, "cb", b.server)
	require.NoError(t, cl.AddCluster(cb, ca))
	assert.Equal(t, 2, cl.Ring().Len())

	require.NoError(t, cl.Set(context.Background(), keyIn(t, cl.Ring(), "cb"), []byte("v")))
	assert.Equal(t, 1, b.store.Len())

	// The new cluster reports to the same daemon
	cb.MarkInvalid(b.server)
	assert.Equal(t, []string{b.server.Address()}, d.Invalid())
}
