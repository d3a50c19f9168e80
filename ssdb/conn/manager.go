package conn

import (
	"sync"

	"github.com/gallir/smart-ssdb/lib"
	"github.com/gallir/smart-ssdb/ssdb/cluster"
)

// PoolFactory creates the pool of a server the first time it's used
type PoolFactory func(s *cluster.Server) (ConnPool, error)

// DefaultPoolFactory returns go-commons-pool based pools
func DefaultPoolFactory(ping string) PoolFactory {
	return func(s *cluster.Server) (ConnPool, error) {
		return NewPool(s, ping), nil
	}
}

// Manager keeps one pool per server address
type Manager struct {
	sync.Mutex // Only for the creation of pools
	pools      sync.Map
	factory    PoolFactory
	closed     bool
}

func NewManager(f PoolFactory) *Manager {
	if f == nil {
		f = DefaultPoolFactory("")
	}
	return &Manager{
		factory: f,
	}
}

// Get returns the pool of the server, it's created if it doesn't exist
func (m *Manager) Get(s *cluster.Server) (ConnPool, error) {
	addr := s.Address()
	if p, ok := m.pools.Load(addr); ok {
		return p.(ConnPool), nil
	}

	m.Lock()
	defer m.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if p, ok := m.pools.Load(addr); ok {
		return p.(ConnPool), nil
	}

	p, err := m.factory(s)
	if err != nil {
		return nil, err
	}
	m.pools.Store(addr, p)
	lib.Debugf("Created pool for %s", addr)
	return p, nil
}

// Stats returns the counters of every pool by server address
func (m *Manager) Stats() map[string]PoolStats {
	stats := make(map[string]PoolStats)
	m.pools.Range(func(k, v interface{}) bool {
		stats[k.(string)] = v.(ConnPool).Stats()
		return true
	})
	return stats
}

// Close closes every pool, Get fails afterwards
func (m *Manager) Close() {
	m.Lock()
	defer m.Unlock()

	m.closed = true
	m.pools.Range(func(k, v interface{}) bool {
		v.(ConnPool).Close()
		m.pools.Delete(k)
		return true
	})
}
