package lib

import (
	"fmt"
	"log"
	"net"
	"os"
)

type Listener struct {
	config   RelayerConfig
	listener net.Listener
}

// NewListener check sockets and files and return a listener already listening
func NewListener(c RelayerConfig) (l *Listener, e error) {
	l = &Listener{
		config: c,
	}

	connType := c.ListenScheme()
	addr := c.ListenHost()

	if e = l.clean(connType, addr); e != nil {
		return nil, e
	}

	l.listener, e = net.Listen(connType, addr)
	if e != nil {
		log.Println("Error listening to", addr, e)
		return nil, e
	}

	if connType == "unix" {
		// Make sure is accesible for everyone
		os.Chmod(addr, 0777)
	}

	log.Printf("Starting listening at %s", l.listener.Addr())
	return l, nil
}

func (l *Listener) Close() error {
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

func (l *Listener) Addr() net.Addr {
	if l.listener != nil {
		return l.listener.Addr()
	}
	return nil
}

func (l *Listener) Accept() (net.Conn, error) {
	if l.listener == nil {
		return nil, net.ErrClosed
	}
	return l.listener.Accept()
}

func (l *Listener) clean(connType, addr string) error {
	if connType != "unix" {
		return nil
	}

	s, err := os.Stat(addr)
	if err != nil {
		return nil
	}
	if (s.Mode() & os.ModeSocket) == 0 {
		return fmt.Errorf("socket %s exists and it's not a Unix socket", addr)
	}
	log.Println("Warning, removing existing socket", addr)
	return os.Remove(addr)
}
