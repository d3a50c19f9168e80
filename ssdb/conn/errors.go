package conn

import (
	"errors"
	"fmt"
	"net"
)

var (
	ErrPoolExhausted = errors.New("ssdb: connection pool exhausted")
	ErrClosed        = errors.New("ssdb: connection manager closed")
)

// Error is a socket level failure, the server should be considered down
type Error struct {
	Server  string
	Op      string // connect | send | receive | borrow
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("ssdb: %s %s: timeout: %s", e.Op, e.Server, e.Err)
	}
	return fmt.Sprintf("ssdb: %s %s: %s", e.Op, e.Server, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AuthError is returned when the server refuses the password
type AuthError struct {
	Server string
	Status string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("ssdb: authentication failed on %s: %s", e.Server, e.Status)
}

func newError(server, op string, err error) *Error {
	e := &Error{
		Server: server,
		Op:     op,
		Err:    err,
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		e.Timeout = true
	}
	return e
}
