package client

import (
	"errors"

	"github.com/gallir/smart-ssdb/ssdb/conn"
	"github.com/gallir/smart-ssdb/ssdb/protocol"
)

// Stages of a request, reported in Error
const (
	StageCluster  = "resolve-cluster"
	StageServer   = "resolve-server"
	StageBorrow   = "borrow"
	StageExchange = "exchange"
	StageResponse = "response"
	StageRetries  = "retries"
	StageContext  = "context"
)

// Error is a request failure that won't be retried, Stage tells where
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return "ssdb: " + e.Stage + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

type resultKind int

const (
	success resultKind = iota
	retryable
	terminal
)

// result of one attempt against one server
type result struct {
	kind resultKind
	resp *protocol.Response
	err  error
}

// classify decides if an attempt may be retried on another server:
// socket faults and framing errors are, anything else isn't
func classify(stage string, err error) result {
	var ce *conn.Error
	var pe *protocol.ProtocolError
	if errors.As(err, &ce) || errors.As(err, &pe) {
		return result{kind: retryable, err: &Error{Stage: stage, Err: err}}
	}
	return result{kind: terminal, err: &Error{Stage: stage, Err: err}}
}
