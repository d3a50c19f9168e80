package lib

import (
	"bufio"
	"net"
	"time"
)

// Netbuf is a read buffered net connection with per operation deadlines
type Netbuf struct {
	conn         net.Conn
	readBuf      *bufio.Reader
	readTimeout  time.Duration
	writeTimeout time.Duration
}

var noDeadline = time.Time{}

func NewNetbuf(conn net.Conn, readTimeout, writeTimeout time.Duration) *Netbuf {
	nb := &Netbuf{
		conn:         conn,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
	nb.readBuf = bufio.NewReader(conn)
	return nb
}

func (nb *Netbuf) setReadDeadline() {
	if nb.readTimeout != 0 {
		nb.conn.SetReadDeadline(time.Now().Add(nb.readTimeout))
	} else {
		nb.conn.SetReadDeadline(noDeadline)
	}
}

// Read complies with io.Reader interface
func (nb *Netbuf) Read(b []byte) (int, error) {
	if nb.readBuf.Buffered() == 0 {
		nb.setReadDeadline()
	}
	return nb.readBuf.Read(b)
}

// ReadByte complies with io.ByteReader, the deadline is only renewed
// when the buffer must be filled from the socket
func (nb *Netbuf) ReadByte() (byte, error) {
	if nb.readBuf.Buffered() == 0 {
		nb.setReadDeadline()
	}
	return nb.readBuf.ReadByte()
}

// Write complies with io.Writer interface
func (nb *Netbuf) Write(b []byte) (n int, e error) {
	if nb.writeTimeout != 0 {
		nb.conn.SetWriteDeadline(time.Now().Add(nb.writeTimeout))
	} else {
		nb.conn.SetWriteDeadline(noDeadline)
	}
	n, e = nb.conn.Write(b)

	if e != nil {
		Debugf("Netbuf, error in write %s", e)
	}
	return
}

func (nb *Netbuf) RemoteAddr() net.Addr {
	return nb.conn.RemoteAddr()
}

func (nb *Netbuf) Close() error {
	return nb.conn.Close()
}
