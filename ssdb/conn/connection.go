package conn

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/gallir/smart-ssdb/lib"
	"github.com/gallir/smart-ssdb/ssdb/cluster"
	"github.com/gallir/smart-ssdb/ssdb/protocol"
)

// Connection is one authenticated socket to a server. It is used by one
// goroutine at a time, the pool guarantees it.
type Connection struct {
	server        *cluster.Server
	nb            *lib.Netbuf
	dec           *protocol.Decoder
	available     atomic.Bool
	authenticated bool
	createdAt     time.Time
}

// Dial connects and, if the server has a password, authenticates
func Dial(s *cluster.Server) (*Connection, error) {
	netConn, err := net.DialTimeout("tcp", s.Address(), s.Timeout)
	if err != nil {
		return nil, newError(s.Address(), "connect", err)
	}

	c := &Connection{
		server:    s,
		nb:        lib.NewNetbuf(netConn, s.Timeout, s.Timeout),
		createdAt: time.Now(),
	}
	c.dec = protocol.NewDecoder(c.nb)
	c.available.Store(true)

	if s.Password != "" {
		if err := c.auth(); err != nil {
			c.Close()
			return nil, err
		}
	}
	lib.Debugf("Connected to %s", s)
	return c, nil
}

func (c *Connection) auth() error {
	req, err := protocol.NewRequest("auth", c.server.Password)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &AuthError{Server: c.server.Address(), Status: resp.Status()}
	}
	c.authenticated = true
	return nil
}

// Send writes the whole request frame
func (c *Connection) Send(req *protocol.Request) error {
	if _, err := req.WriteTo(c.nb); err != nil {
		c.available.Store(false)
		return newError(c.server.Address(), "send", err)
	}
	return nil
}

// Receive reads one response. Framing errors are returned as
// *protocol.ProtocolError, every other failure as *Error.
func (c *Connection) Receive() (*protocol.Response, error) {
	resp, err := c.dec.ReadResponse()
	if err != nil {
		c.available.Store(false)
		var pe *protocol.ProtocolError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, newError(c.server.Address(), "receive", err)
	}
	return resp, nil
}

// Do sends the request and waits for its response
func (c *Connection) Do(req *protocol.Request) (*protocol.Response, error) {
	if err := c.Send(req); err != nil {
		return nil, err
	}
	return c.Receive()
}

// Ping sends a keyless command and checks the status
func (c *Connection) Ping(command string) error {
	req, err := protocol.ParseCommand(command)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	return resp.Check()
}

// Available is false forever after the first I/O fault
func (c *Connection) Available() bool {
	return c.available.Load()
}

func (c *Connection) Authenticated() bool {
	return c.authenticated
}

func (c *Connection) Server() *cluster.Server {
	return c.server
}

func (c *Connection) Age() time.Duration {
	return time.Since(c.createdAt)
}

func (c *Connection) Close() error {
	c.available.Store(false)
	return c.nb.Close()
}
