package relay

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gallir/smart-ssdb/lib"
	"github.com/gallir/smart-ssdb/ssdb/protocol"
)

const (
	localReadTimeout = 600 * time.Second
	writeTimeout     = 5 * time.Second
	responseTimeout  = 30 * time.Second
	acceptRetryDelay = 100 * time.Millisecond
)

var (
	respOK = protocol.NewResponse(protocol.StatusOK, []byte("1"))

	// Commands answered before being sent in smart mode, all of them reply
	// "ok 1" when they succeed
	fastResponses = map[string]*protocol.Response{
		"set":        respOK,
		"setx":       respOK,
		"del":        respOK,
		"hset":       respOK,
		"hdel":       respOK,
		"zset":       respOK,
		"zdel":       respOK,
		"multi_set":  respOK,
		"multi_del":  respOK,
		"multi_hset": respOK,
		"multi_hdel": respOK,
		"multi_zset": respOK,
		"multi_zdel": respOK,
	}
)

// Sender is what the relay needs from the client
type Sender interface {
	SendRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
}

// Server is a local SSDB endpoint that forwards every request to the
// cluster through the client
type Server struct {
	sync.Mutex
	config   lib.RelayerConfig
	client   Sender
	mode     int
	done     chan bool
	listener *lib.Listener

	connections int64
	requests    int64
	errors      int64
}

// New creates the relayer, it doesn't listen until Start
func New(c lib.RelayerConfig, client Sender, done chan bool) (*Server, error) {
	srv := &Server{
		client: client,
		done:   done,
	}
	if err := srv.Reload(&c); err != nil {
		return nil, err
	}
	return srv, nil
}

// Start accepts incoming connections
func (srv *Server) Start() (e error) {
	srv.Lock()
	defer srv.Unlock()

	srv.listener, e = lib.NewListener(srv.config)
	if e != nil {
		return e
	}
	log.Printf("Starting ssdb relayer at %s, mode %s", srv.config.Listen, srv.config.Mode)

	go func(l *lib.Listener, listen string) {
		for {
			netConn, e := l.Accept()
			if e != nil {
				if errors.Is(e, net.ErrClosed) {
					log.Println("Exiting", listen)
					return
				}
				log.Println("Accept error:", e)
				time.Sleep(acceptRetryDelay)
				continue
			}
			go srv.handleConnection(netConn)
		}
	}(srv.listener, srv.config.Listen)

	return nil
}

// Reload the configuration, the listen address can't change
func (srv *Server) Reload(c *lib.RelayerConfig) error {
	srv.Lock()
	defer srv.Unlock()

	if srv.config.Listen != "" && srv.config.Listen != c.Listen {
		return errors.New("relay: the listen address can't be reloaded")
	}
	srv.config = *c // Save a copy
	srv.mode = c.Type()
	lib.Debugf("Reload ssdb relayer config at %s", srv.config.Listen)
	return nil
}

// Exit closes the listener and send done to main
func (srv *Server) Exit() {
	srv.Lock()
	if srv.listener != nil {
		srv.listener.Close()
	}
	srv.Unlock()
	if srv.done != nil {
		srv.done <- true
	}
}

func (srv *Server) Listen() string {
	srv.Lock()
	defer srv.Unlock()
	return srv.config.Listen
}

// Addr is the real listening address, useful with port 0
func (srv *Server) Addr() net.Addr {
	srv.Lock()
	defer srv.Unlock()
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

func (srv *Server) Status() lib.RelayerStatus {
	srv.Lock()
	defer srv.Unlock()
	return lib.RelayerStatus{
		Listen:      srv.config.Listen,
		Mode:        srv.config.Mode,
		Connections: atomic.LoadInt64(&srv.connections),
		Requests:    atomic.LoadInt64(&srv.requests),
		Errors:      atomic.LoadInt64(&srv.errors),
	}
}

func (srv *Server) settings() (mode int, timeout time.Duration) {
	srv.Lock()
	defer srv.Unlock()

	timeout = time.Duration(srv.config.Timeout) * time.Second
	if timeout <= 0 {
		timeout = responseTimeout
	}
	return srv.mode, timeout
}

func (srv *Server) handleConnection(netCon net.Conn) {
	atomic.AddInt64(&srv.connections, 1)
	defer atomic.AddInt64(&srv.connections, -1)

	conn := lib.NewNetReadWriter(netCon, localReadTimeout, writeTimeout)
	defer conn.Close()

	dec := protocol.NewDecoder(conn)
	w := newWorker(srv)
	defer w.exit()

	for {
		if err := conn.Flush(); err != nil {
			lib.Debugf("Error writing to %s: %s", conn.RemoteAddr(), err)
			return
		}

		req, err := dec.ReadRequest()
		if err != nil {
			var pe *protocol.ProtocolError
			if errors.As(err, &pe) {
				// The stream can't be resynchronized
				errorResponse(err).WriteTo(conn)
				conn.Flush()
			}
			return
		}
		atomic.AddInt64(&srv.requests, 1)

		mode, _ := srv.settings()
		if mode == lib.ModeSmart && req.Write {
			if fast, ok := fastResponses[req.Command()]; ok {
				fast.WriteTo(conn)
				w.async(req)
				continue
			}
		}

		resp := w.sync(req)
		if _, err := resp.WriteTo(conn); err != nil {
			return
		}
	}
}

func errorResponse(err error) *protocol.Response {
	return protocol.NewResponse(protocol.StatusError, []byte(err.Error()))
}
