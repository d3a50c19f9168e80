package cluster

import (
	"net"
	"strconv"
	"time"

	"github.com/gallir/smart-ssdb/lib"
)

const (
	defaultTimeout = time.Duration(lib.DefaultServerTimeout) * time.Millisecond
	defaultMaxWait = time.Duration(lib.DefaultMaxWait) * time.Millisecond
)

// PoolConfig limits the connections kept for one server
type PoolConfig struct {
	MaxTotal           int
	MaxIdle            int
	MinIdle            int
	MaxWait            time.Duration
	BlockWhenExhausted bool
}

// Server is one SSDB endpoint. Two servers are the same if host and port match.
type Server struct {
	Host     string
	Port     int
	Password string
	Master   bool
	Timeout  time.Duration // Socket read/write timeout
	Pool     PoolConfig
}

// NewServer returns a master server with the default timeouts and pool size
func NewServer(host string, port int) *Server {
	return &Server{
		Host:    host,
		Port:    port,
		Master:  true,
		Timeout: defaultTimeout,
		Pool: PoolConfig{
			MaxTotal:           lib.DefaultMaxConnections,
			MaxIdle:            lib.DefaultMaxIdle,
			MaxWait:            defaultMaxWait,
			BlockWhenExhausted: true,
		},
	}
}

// NewServerFromConfig expects a checked lib.ServerConfig
func NewServerFromConfig(c lib.ServerConfig) *Server {
	s := NewServer(c.Host, c.Port)
	s.Password = c.Password
	s.Master = c.IsMaster()
	if c.Timeout > 0 {
		s.Timeout = c.TimeoutDuration()
	}
	if c.MaxConnections > 0 {
		s.Pool.MaxTotal = c.MaxConnections
	}
	if c.MaxIdleConnections > 0 {
		s.Pool.MaxIdle = c.MaxIdleConnections
	}
	s.Pool.MinIdle = c.MinIdleConnections
	if c.MaxWait > 0 {
		s.Pool.MaxWait = c.MaxWaitDuration()
	}
	s.Pool.BlockWhenExhausted = !c.NoBlock
	return s
}

// Address returns host:port, the identity of the server
func (s *Server) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s *Server) String() string {
	return s.Address()
}

func (s *Server) Equal(o *Server) bool {
	return o != nil && s.Host == o.Host && s.Port == o.Port
}
