// Package ssdbtest runs in-process SSDB servers for tests.
package ssdbtest

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gallir/smart-ssdb/ssdb/protocol"
)

// Handler answers a request, nil means no answer at all
type Handler func(req *protocol.Request) *protocol.Response

// Server speaks the SSDB protocol on a loopback port
type Server struct {
	sync.Mutex
	Password string

	ln       net.Listener
	handler  Handler
	raw      []byte
	conns    map[net.Conn]struct{}
	requests int64
	accepted int64
	wg       sync.WaitGroup
}

// New starts listening on 127.0.0.1 with a random port
func New(h Handler) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:      ln,
		handler: h,
		conns:   make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Host() string {
	h, _, _ := net.SplitHostPort(s.Addr())
	return h
}

func (s *Server) Port() int {
	_, p, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(p)
	return n
}

// Requests returns how many requests were received, auth included
func (s *Server) Requests() int64 {
	return atomic.LoadInt64(&s.requests)
}

// Accepted returns how many connections were accepted
func (s *Server) Accepted() int64 {
	return atomic.LoadInt64(&s.accepted)
}

// SetRaw makes the server answer every request with b instead of the handler
func (s *Server) SetRaw(b []byte) {
	s.Lock()
	defer s.Unlock()
	s.raw = b
}

// DropConnections closes the accepted connections but keeps listening
func (s *Server) DropConnections() {
	s.Lock()
	defer s.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Close stops listening and closes every connection
func (s *Server) Close() {
	s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		atomic.AddInt64(&s.accepted, 1)
		s.Lock()
		s.conns[c] = struct{}{}
		s.Unlock()

		s.wg.Add(1)
		go s.handle(c)
	}
}

func (s *Server) handle(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.Lock()
		delete(s.conns, c)
		s.Unlock()
		c.Close()
	}()

	dec := protocol.NewDecoder(bufio.NewReader(c))
	authed := false

	for {
		req, err := dec.ReadRequest()
		if err != nil {
			return
		}
		atomic.AddInt64(&s.requests, 1)

		s.Lock()
		raw := s.raw
		s.Unlock()
		if raw != nil {
			if _, err := c.Write(raw); err != nil {
				return
			}
			continue
		}

		var resp *protocol.Response
		switch {
		case req.Command() == "auth":
			if s.Password != "" && string(req.Key()) != s.Password {
				resp = protocol.NewResponse(protocol.StatusError, []byte("invalid password"))
			} else {
				authed = true
				resp = protocol.NewResponse(protocol.StatusOK, []byte("1"))
			}
		case s.Password != "" && !authed:
			resp = protocol.NewResponse("noauth", []byte("authentication required"))
		default:
			resp = s.handler(req)
		}

		if resp == nil {
			continue
		}
		if _, err := resp.WriteTo(c); err != nil {
			return
		}
	}
}
