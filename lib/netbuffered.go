package lib

import (
	"bufio"
	"net"
	"time"
)

// NetBuffedReadWriter is a reader-writer buffered net connection, used for
// the local side of the relayer where responses are flushed once per request
type NetBuffedReadWriter struct {
	conn         net.Conn
	buf          *bufio.ReadWriter
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func NewNetReadWriter(conn net.Conn, readTimeout, writeTimeout time.Duration) *NetBuffedReadWriter {
	nb := &NetBuffedReadWriter{
		conn:         conn,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
	nb.buf = bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	return nb
}

// ReadByte complies with io.ByteReader interface
func (nb *NetBuffedReadWriter) ReadByte() (byte, error) {
	if nb.readTimeout == 0 || nb.buf.Reader.Buffered() > 0 {
		return nb.buf.ReadByte()
	}

	nb.conn.SetReadDeadline(time.Now().Add(nb.readTimeout))
	return nb.buf.ReadByte()
}

// Write complies with io.Writer interface
func (nb *NetBuffedReadWriter) Write(b []byte) (n int, e error) {
	return nb.buf.Write(b)
}

func (nb *NetBuffedReadWriter) Flush() (e error) {
	if nb.writeTimeout == 0 {
		return nb.buf.Flush()
	}

	nb.conn.SetWriteDeadline(time.Now().Add(nb.writeTimeout))
	e = nb.buf.Flush()
	if e == nil {
		nb.conn.SetWriteDeadline(noDeadline)
	}
	return
}

func (nb *NetBuffedReadWriter) RemoteAddr() net.Addr {
	return nb.conn.RemoteAddr()
}

func (nb *NetBuffedReadWriter) Close() error {
	return nb.conn.Close()
}
