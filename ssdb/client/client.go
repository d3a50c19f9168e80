package client

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gallir/smart-ssdb/lib"
	"github.com/gallir/smart-ssdb/ssdb/cluster"
	"github.com/gallir/smart-ssdb/ssdb/conn"
	"github.com/gallir/smart-ssdb/ssdb/monitor"
	"github.com/gallir/smart-ssdb/ssdb/protocol"
	"github.com/gallir/smart-ssdb/ssdb/sharding"
)

type Options struct {
	// Monitor receives the invalid servers. If nil the client creates and
	// starts its own, stopped by Close.
	Monitor *monitor.Daemon
	// PoolFactory overrides the go-commons-pool based pools
	PoolFactory conn.PoolFactory
	// PingCommand is sent on every borrowed connection so stale sockets are
	// replaced before use. Empty means lib.DefaultPingCommand, and
	// lib.NoPingCommand disables it.
	PingCommand string
	// Compress is the codec for values written by Set and Setx
	Compress string
}

// Client sends requests to the cluster owning the key and fails over to
// other servers and clusters on socket errors
type Client struct {
	ring       *sharding.Ring
	pools      *conn.Manager
	monitor    *monitor.Daemon
	ownMonitor bool
	compress   string
}

func New(ring *sharding.Ring, opts Options) *Client {
	factory := opts.PoolFactory
	if factory == nil {
		ping := opts.PingCommand
		switch ping {
		case "":
			ping = lib.DefaultPingCommand
		case lib.NoPingCommand:
			ping = ""
		}
		factory = conn.DefaultPoolFactory(ping)
	}

	c := &Client{
		ring:     ring,
		pools:    conn.NewManager(factory),
		monitor:  opts.Monitor,
		compress: opts.Compress,
	}
	if c.monitor == nil {
		c.monitor = monitor.New(monitor.Config{})
		c.ownMonitor = true
		c.monitor.Start()
	}

	for _, cl := range ring.Clusters() {
		cl.SetWatcher(c.monitor)
	}
	return c
}

// NewFromConfig builds the clusters, the ring and the recovery daemon
func NewFromConfig(cfg *lib.Config) (*Client, error) {
	policy, err := sharding.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	hash, err := sharding.HashByName(cfg.Hash)
	if err != nil {
		return nil, err
	}

	clusters := make([]*cluster.Cluster, 0, len(cfg.Cluster))
	for _, cc := range cfg.Cluster {
		cl, err := cluster.NewFromConfig(cc)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, cl)
	}

	ring, err := sharding.New(policy, clusters, sharding.WithHash(hash))
	if err != nil {
		return nil, err
	}

	d := monitor.NewFromConfig(cfg.Monitor)
	c := New(ring, Options{
		Monitor:     d,
		PingCommand: cfg.PingCommand,
		Compress:    cfg.Compress,
	})
	c.ownMonitor = true
	d.Start()
	return c, nil
}

func (c *Client) Ring() *sharding.Ring {
	return c.ring
}

func (c *Client) Pools() *conn.Manager {
	return c.pools
}

func (c *Client) Monitor() *monitor.Daemon {
	return c.monitor
}

// AddCluster puts a new cluster in the ring after an existing one
func (c *Client) AddCluster(nc, after *cluster.Cluster) error {
	nc.SetWatcher(c.monitor)
	return c.ring.AddCluster(nc, after)
}

// Close closes every pool, and the daemon if the client created it
func (c *Client) Close() {
	c.pools.Close()
	if c.ownMonitor {
		c.monitor.Stop()
	}
}

// Send builds a read request from the tokens and sends it
func (c *Client) Send(ctx context.Context, tokens ...interface{}) (*protocol.Response, error) {
	req, err := protocol.NewRequest(tokens...)
	if err != nil {
		return nil, err
	}
	return c.SendRequest(ctx, req)
}

// SendWrite is Send for requests that must go to a master
func (c *Client) SendWrite(ctx context.Context, tokens ...interface{}) (*protocol.Response, error) {
	req, err := protocol.NewWriteRequest(tokens...)
	if err != nil {
		return nil, err
	}
	return c.SendRequest(ctx, req)
}

// SendTo sends the request to the given server, without routing nor retries
func (c *Client) SendTo(ctx context.Context, s *cluster.Server, tokens ...interface{}) (*protocol.Response, error) {
	req, err := protocol.NewRequest(tokens...)
	if err != nil {
		return nil, err
	}
	resp, err := c.sendPinned(ctx, s, req)
	count(err)
	return resp, err
}

// SendRequest routes the request by its key. On *protocol.ServerError the
// response is returned too.
func (c *Client) SendRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	resp, err := c.send(ctx, req)
	count(err)
	return resp, err
}

func count(err error) {
	var se *protocol.ServerError
	switch {
	case err == nil:
		lib.Requests.WithLabelValues("ok").Inc()
	case errors.As(err, &se):
		lib.Requests.WithLabelValues("server_error").Inc()
	default:
		lib.Requests.WithLabelValues("failed").Inc()
	}
}

// maxAttempts is one per server plus one per cluster, enough to visit
// every server and report every cluster failed
func (c *Client) maxAttempts() int {
	n := 1
	for _, cl := range c.ring.Clusters() {
		n += len(cl.Servers()) + 1
	}
	return n
}

func (c *Client) send(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	var last error
	limit := c.maxAttempts()

	for attempt := 0; attempt < limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Stage: StageContext, Err: err}
		}
		if attempt > 0 {
			lib.Retries.Inc()
		}

		cl, err := c.ring.ClusterFor(req.Key())
		if err != nil {
			return nil, &Error{Stage: StageCluster, Err: err}
		}

		srv, err := cl.Pick(req.Write)
		if err != nil {
			keep, ferr := c.ring.ClusterFailed(cl)
			if keep {
				last = err
				continue
			}
			if ferr != nil {
				err = ferr
			}
			return nil, &Error{Stage: StageServer, Err: err}
		}

		res := c.exchange(ctx, srv, req)
		switch res.kind {
		case success:
			return res.resp, nil
		case retryable:
			log.Printf("Request %s to %s failed, retrying: %s", req.Command(), srv, res.err)
			cl.MarkInvalid(srv)
			last = res.err
		default:
			return res.resp, res.err
		}
	}
	return nil, &Error{Stage: StageRetries, Err: fmt.Errorf("gave up after %d attempts: %w", limit, last)}
}

func (c *Client) sendPinned(ctx context.Context, s *cluster.Server, req *protocol.Request) (*protocol.Response, error) {
	res := c.exchange(ctx, s, req)
	if res.kind == retryable {
		for _, cl := range c.ring.Clusters() {
			if cl.Contains(s) {
				cl.MarkInvalid(s)
			}
		}
	}
	return res.resp, res.err
}

// exchange runs one attempt, the connection always goes back to its pool
func (c *Client) exchange(ctx context.Context, s *cluster.Server, req *protocol.Request) result {
	pool, err := c.pools.Get(s)
	if err != nil {
		return result{kind: terminal, err: &Error{Stage: StageBorrow, Err: err}}
	}

	cn, err := pool.Borrow(ctx)
	if err != nil {
		return classify(StageBorrow, err)
	}
	defer pool.Return(cn)

	resp, err := cn.Do(req)
	if err != nil {
		return classify(StageExchange, err)
	}
	if err := resp.Check(); err != nil {
		return result{kind: terminal, resp: resp, err: &Error{Stage: StageResponse, Err: err}}
	}
	return result{kind: success, resp: resp}
}

// SendToAll sends the request to a master of every valid cluster. The
// responses are keyed by cluster id, failed clusters are in the error.
func (c *Client) SendToAll(ctx context.Context, tokens ...interface{}) (map[string]*protocol.Response, error) {
	req, err := protocol.NewRequest(tokens...)
	if err != nil {
		return nil, err
	}

	responses := make(map[string]*protocol.Response)
	var errs []error
	for _, cl := range c.ring.Clusters() {
		if cl.Invalid() {
			continue
		}
		srv, err := cl.Master()
		if err != nil {
			errs = append(errs, &Error{Stage: StageServer, Err: err})
			continue
		}
		resp, err := c.sendPinned(ctx, srv, req)
		count(err)
		if err != nil {
			errs = append(errs, fmt.Errorf("cluster %s: %w", cl.ID(), err))
			continue
		}
		responses[cl.ID()] = resp
	}
	return responses, errors.Join(errs...)
}

// SplitKeys groups the keys by the id of the cluster serving them
func (c *Client) SplitKeys(keys ...string) (map[string][]string, error) {
	groups := make(map[string][]string)
	for _, k := range keys {
		cl, err := c.ring.ClusterFor([]byte(k))
		if err != nil {
			return nil, err
		}
		groups[cl.ID()] = append(groups[cl.ID()], k)
	}
	return groups, nil
}
