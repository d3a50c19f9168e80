package conn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	pool "github.com/jolestar/go-commons-pool/v2"

	"github.com/gallir/smart-ssdb/lib"
	"github.com/gallir/smart-ssdb/ssdb/cluster"
)

// ConnPool hands out connections to a single server
type ConnPool interface {
	Borrow(ctx context.Context) (*Connection, error)
	Return(c *Connection)
	Close()
	Stats() PoolStats
}

type PoolStats struct {
	Active int `json:"active"`
	Idle   int `json:"idle"`
}

// connectionFactory creates and checks the pooled connections
type connectionFactory struct {
	server *cluster.Server
	ping   string
}

func (f *connectionFactory) MakeObject(ctx context.Context) (*pool.PooledObject, error) {
	c, err := Dial(f.server)
	if err != nil {
		return nil, err
	}
	return pool.NewPooledObject(c), nil
}

func (f *connectionFactory) DestroyObject(ctx context.Context, object *pool.PooledObject) error {
	c, ok := object.Object.(*Connection)
	if !ok {
		return errors.New("ssdb: unknown pooled object")
	}
	lib.Debugf("Closing connection to %s", f.server)
	return c.Close()
}

func (f *connectionFactory) ValidateObject(ctx context.Context, object *pool.PooledObject) bool {
	c, ok := object.Object.(*Connection)
	return ok && c.Available()
}

// ActivateObject pings the server when a ping command is configured
func (f *connectionFactory) ActivateObject(ctx context.Context, object *pool.PooledObject) error {
	if f.ping == "" {
		return nil
	}
	c, ok := object.Object.(*Connection)
	if !ok {
		return errors.New("ssdb: unknown pooled object")
	}
	return c.Ping(f.ping)
}

func (f *connectionFactory) PassivateObject(ctx context.Context, object *pool.PooledObject) error {
	return nil
}

// Pool is the default ConnPool
type Pool struct {
	server   *cluster.Server
	pool     *pool.ObjectPool
	maxTotal int
}

// NewPool creates an empty pool, connections are dialed on demand. If ping
// isn't empty it's sent every time a connection is borrowed.
func NewPool(s *cluster.Server, ping string) *Pool {
	cfg := pool.NewDefaultPoolConfig()
	if s.Pool.MaxTotal > 0 {
		cfg.MaxTotal = s.Pool.MaxTotal
	}
	if s.Pool.MaxIdle > 0 {
		cfg.MaxIdle = s.Pool.MaxIdle
	}
	cfg.MinIdle = s.Pool.MinIdle
	cfg.BlockWhenExhausted = s.Pool.BlockWhenExhausted
	cfg.TestOnBorrow = true
	cfg.TestOnReturn = true

	p := &Pool{
		server:   s,
		maxTotal: cfg.MaxTotal,
	}
	p.pool = pool.NewObjectPool(context.Background(), &connectionFactory{server: s, ping: ping}, cfg)
	return p
}

// Borrow waits up to the server MaxWait when the pool is exhausted
func (p *Pool) Borrow(ctx context.Context) (*Connection, error) {
	parent := ctx
	if p.server.Pool.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.server.Pool.MaxWait)
		defer cancel()
	}

	start := time.Now()
	obj, err := p.pool.BorrowObject(ctx)
	lib.BorrowSeconds.Observe(time.Since(start).Seconds())
	if err == nil {
		return obj.(*Connection), nil
	}

	var ce *Error
	var ae *AuthError
	var nse *pool.NoSuchElementErr
	switch {
	case errors.As(err, &ce), errors.As(err, &ae):
		return nil, err
	case parent.Err() != nil:
		return nil, parent.Err()
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w for %s: %s", ErrPoolExhausted, p.server, ctx.Err())
	case errors.As(err, &nse) && p.pool.GetNumActive() >= p.maxTotal:
		return nil, fmt.Errorf("%w for %s", ErrPoolExhausted, p.server)
	}
	return nil, newError(p.server.Address(), "borrow", err)
}

// Return gives back the connection, unavailable ones are destroyed
func (p *Pool) Return(c *Connection) {
	if c == nil {
		return
	}

	var err error
	if c.Available() {
		err = p.pool.ReturnObject(context.Background(), c)
	} else {
		err = p.pool.InvalidateObject(context.Background(), c)
	}
	if err != nil {
		log.Printf("Error returning connection to %s: %s", p.server, err)
	}
}

func (p *Pool) Close() {
	p.pool.Close(context.Background())
}

func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Active: p.pool.GetNumActive(),
		Idle:   p.pool.GetNumIdle(),
	}
}
