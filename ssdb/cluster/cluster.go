package cluster

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gallir/smart-ssdb/lib"
)

// Watcher is notified of every server marked invalid, the recovery daemon
// implements it
type Watcher interface {
	Watch(s *Server, c *Cluster)
}

// Cluster is a group of replicated servers owning one range of the ring
type Cluster struct {
	sync.Mutex
	id       string
	weight   int
	servers  []*Server // As configured, valid or not
	live     []*Server
	masters  []*Server // Live masters
	invalids map[string]*Server
	invalid  atomic.Bool
	watcher  Watcher
	rnd      *rand.Rand
}

// New creates a cluster, the id defaults to the address of the first server
// and a weight <= 0 to lib.DefaultWeight
func New(id string, weight int, servers ...*Server) (*Cluster, error) {
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	if weight <= 0 {
		weight = lib.DefaultWeight
	}
	if id == "" {
		id = servers[0].Address()
	}

	c := &Cluster{
		id:       id,
		weight:   weight,
		invalids: make(map[string]*Server),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	for _, s := range servers {
		if c.indexOf(c.servers, s) >= 0 {
			return nil, fmt.Errorf("ssdb: server %s duplicated in cluster %s", s, id)
		}
		c.servers = append(c.servers, s)
		c.live = append(c.live, s)
		if s.Master {
			c.masters = append(c.masters, s)
		}
	}

	if len(c.masters) == 0 {
		return nil, fmt.Errorf("%w %s", ErrNoMaster, id)
	}
	return c, nil
}

// NewFromConfig expects a checked lib.ClusterConfig
func NewFromConfig(cc lib.ClusterConfig) (*Cluster, error) {
	servers := make([]*Server, 0, len(cc.Server))
	for _, sc := range cc.Server {
		servers = append(servers, NewServerFromConfig(sc))
	}
	return New(cc.ID, cc.Weight, servers...)
}

func (c *Cluster) ID() string {
	return c.id
}

func (c *Cluster) Weight() int {
	return c.weight
}

func (c *Cluster) String() string {
	return c.id
}

// SetWatcher sets who is told about invalid servers
func (c *Cluster) SetWatcher(w Watcher) {
	c.Lock()
	defer c.Unlock()
	c.watcher = w
}

// Invalid is true when the cluster was reported failed to the ring and
// no live master came back since
func (c *Cluster) Invalid() bool {
	return c.invalid.Load()
}

func (c *Cluster) SetInvalid(v bool) {
	c.invalid.Store(v)
}

// Master returns a random live master
func (c *Cluster) Master() (*Server, error) {
	c.Lock()
	defer c.Unlock()

	if len(c.masters) == 0 {
		return nil, &NoServerAvailableError{Cluster: c.id, Write: true}
	}
	return c.masters[c.rnd.Intn(len(c.masters))], nil
}

// RandomServer returns a random live server, master or not
func (c *Cluster) RandomServer() (*Server, error) {
	c.Lock()
	defer c.Unlock()

	if len(c.live) == 0 {
		return nil, &NoServerAvailableError{Cluster: c.id}
	}
	return c.live[c.rnd.Intn(len(c.live))], nil
}

// Pick returns a master for writes and any live server for reads
func (c *Cluster) Pick(write bool) (*Server, error) {
	if write {
		return c.Master()
	}
	return c.RandomServer()
}

// MarkInvalid takes the server out of the live sets and hands it to the
// watcher. Calling it again for the same server does nothing.
func (c *Cluster) MarkInvalid(s *Server) {
	c.Lock()
	i := c.indexOf(c.servers, s)
	if i < 0 {
		c.Unlock()
		return
	}
	s = c.servers[i]
	if _, ok := c.invalids[s.Address()]; ok {
		c.Unlock()
		return
	}

	c.invalids[s.Address()] = s
	c.live = c.remove(c.live, s)
	c.masters = c.remove(c.masters, s)
	w := c.watcher
	live, masters := len(c.live), len(c.masters)
	c.Unlock()

	log.Printf("Server %s marked invalid in cluster %s, live %d masters %d", s, c.id, live, masters)
	lib.ServerInvalidations.WithLabelValues(s.Address()).Inc()

	if w != nil {
		w.Watch(s, c)
	}
}

// MarkValid returns the server to the live sets. It returns false if the
// cluster doesn't contain the server anymore.
func (c *Cluster) MarkValid(s *Server) bool {
	c.Lock()
	defer c.Unlock()

	i := c.indexOf(c.servers, s)
	if i < 0 {
		return false
	}
	s = c.servers[i]

	if _, ok := c.invalids[s.Address()]; ok {
		delete(c.invalids, s.Address())
		c.live = append(c.live, s)
		if s.Master {
			c.masters = append(c.masters, s)
		}
		log.Printf("Server %s valid again in cluster %s", s, c.id)
	}

	if len(c.masters) > 0 && c.invalid.CompareAndSwap(true, false) {
		log.Printf("Cluster %s is valid again", c.id)
	}
	return true
}

// AddServer adds a live server, it does nothing if it's already a member
func (c *Cluster) AddServer(s *Server) {
	c.Lock()
	defer c.Unlock()

	if c.indexOf(c.servers, s) >= 0 {
		return
	}
	c.servers = append(c.servers, s)
	c.live = append(c.live, s)
	if s.Master {
		c.masters = append(c.masters, s)
		c.invalid.Store(false)
	}
}

// RemoveServer drops the server from every set
func (c *Cluster) RemoveServer(s *Server) bool {
	c.Lock()
	defer c.Unlock()

	if c.indexOf(c.servers, s) < 0 {
		return false
	}
	c.servers = c.remove(c.servers, s)
	c.live = c.remove(c.live, s)
	c.masters = c.remove(c.masters, s)
	delete(c.invalids, s.Address())
	return true
}

// Detach drops every server and flags the cluster invalid, it's used when
// the cluster leaves the ring
func (c *Cluster) Detach() []*Server {
	c.Lock()
	defer c.Unlock()

	servers := c.servers
	c.servers = nil
	c.live = nil
	c.masters = nil
	c.invalids = make(map[string]*Server)
	c.invalid.Store(true)
	return servers
}

func (c *Cluster) Contains(s *Server) bool {
	c.Lock()
	defer c.Unlock()
	return c.indexOf(c.servers, s) >= 0
}

func (c *Cluster) Servers() []*Server {
	c.Lock()
	defer c.Unlock()
	return append([]*Server(nil), c.servers...)
}

func (c *Cluster) LiveServers() []*Server {
	c.Lock()
	defer c.Unlock()
	return append([]*Server(nil), c.live...)
}

func (c *Cluster) InvalidServers() []*Server {
	c.Lock()
	defer c.Unlock()

	list := make([]*Server, 0, len(c.invalids))
	for _, s := range c.servers {
		if _, ok := c.invalids[s.Address()]; ok {
			list = append(list, s)
		}
	}
	return list
}

func (c *Cluster) indexOf(list []*Server, s *Server) int {
	for i, e := range list {
		if e.Equal(s) {
			return i
		}
	}
	return -1
}

func (c *Cluster) remove(list []*Server, s *Server) []*Server {
	i := c.indexOf(list, s)
	if i < 0 {
		return list
	}
	return append(list[:i], list[i+1:]...)
}
