package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	StatusOK       = "ok"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// ServerError is any status other than ok or not_found
type ServerError struct {
	Status  string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "ssdb: server returned " + e.Status
	}
	return fmt.Sprintf("ssdb: server returned %s: %s", e.Status, e.Message)
}

type KeyValue struct {
	Key   string
	Value string
}

type KeyScore struct {
	Key   string
	Score int64
}

// Response is the status block plus the body blocks
type Response struct {
	Header string
	Body   [][]byte
}

func NewResponse(status string, body ...[]byte) *Response {
	return &Response{
		Header: status,
		Body:   body,
	}
}

func (r *Response) Status() string {
	return r.Header
}

func (r *Response) OK() bool {
	return r.Header == StatusOK
}

func (r *Response) NotFound() bool {
	return r.Header == StatusNotFound
}

// Check returns a *ServerError unless the status is ok or not_found
func (r *Response) Check() error {
	if r.OK() || r.NotFound() {
		return nil
	}
	return &ServerError{
		Status:  r.Header,
		Message: r.Join(" "),
	}
}

// First returns the first body block, nil if there is none
func (r *Response) First() []byte {
	if len(r.Body) == 0 {
		return nil
	}
	return r.Body[0]
}

func (r *Response) FirstString() string {
	return string(r.First())
}

// Int64 parses the first block. found is false for not_found responses,
// which is different from a stored 0.
func (r *Response) Int64() (v int64, found bool, err error) {
	if r.NotFound() {
		return 0, false, nil
	}
	if err = r.Check(); err != nil {
		return
	}
	if len(r.Body) == 0 {
		return 0, false, &ProtocolError{Reason: "integer response without body"}
	}
	v, err = strconv.ParseInt(string(r.Body[0]), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("ssdb: bad integer %q: %w", r.Body[0], err)
	}
	return v, true, nil
}

func (r *Response) Int() (int, bool, error) {
	v, found, err := r.Int64()
	return int(v), found, err
}

// KeyValues pairs the body blocks, an odd trailing block is ignored
func (r *Response) KeyValues() []KeyValue {
	kvs := make([]KeyValue, 0, len(r.Body)/2)
	for i := 0; i+1 < len(r.Body); i += 2 {
		kvs = append(kvs, KeyValue{
			Key:   string(r.Body[i]),
			Value: string(r.Body[i+1]),
		})
	}
	return kvs
}

// KeyScores pairs the body blocks as key and integer score
func (r *Response) KeyScores() ([]KeyScore, error) {
	kss := make([]KeyScore, 0, len(r.Body)/2)
	for i := 0; i+1 < len(r.Body); i += 2 {
		s, err := strconv.ParseInt(string(r.Body[i+1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ssdb: bad score %q: %w", r.Body[i+1], err)
		}
		kss = append(kss, KeyScore{
			Key:   string(r.Body[i]),
			Score: s,
		})
	}
	return kss, nil
}

func (r *Response) Map() map[string]string {
	m := make(map[string]string, len(r.Body)/2)
	for _, kv := range r.KeyValues() {
		m[kv.Key] = kv.Value
	}
	return m
}

func (r *Response) Join(sep string) string {
	parts := make([]string, len(r.Body))
	for i, b := range r.Body {
		parts[i] = string(b)
	}
	return strings.Join(parts, sep)
}

func (r *Response) String() string {
	if len(r.Body) == 0 {
		return r.Header
	}
	return r.Header + " " + r.Join(" ")
}

// WriteTo encodes the response frame with a single Write call
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	buf := framePool.Get()
	defer framePool.Put(buf)

	buf.B = r.appendFrame(buf.B)
	n, err := w.Write(buf.B)
	return int64(n), err
}

func (r *Response) Bytes() []byte {
	return r.appendFrame(nil)
}

func (r *Response) appendFrame(dst []byte) []byte {
	dst = AppendBlock(dst, []byte(r.Header))
	for _, b := range r.Body {
		dst = AppendBlock(dst, b)
	}
	return append(dst, blockEnd...)
}

// Equal compares status and body
func (r *Response) Equal(o *Response) bool {
	if r.Header != o.Header || len(r.Body) != len(o.Body) {
		return false
	}
	for i := range r.Body {
		if !bytes.Equal(r.Body[i], o.Body[i]) {
			return false
		}
	}
	return true
}
