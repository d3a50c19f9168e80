package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gallir/bytebufferpool"
)

var (
	ErrEmptyCommand = errors.New("ssdb: command is empty")

	// Commands that are valid without a key
	keyless = map[string]bool{
		"dbsize":  true,
		"info":    true,
		"auth":    true,
		"ping":    true,
		"version": true,
	}

	blockEnd = []byte{'\n'}

	framePool = &bytebufferpool.Pool{}
)

// Request is a command ready to be sent. The first parameter, if any,
// is the routing key.
type Request struct {
	Header []byte
	Params [][]byte
	Write  bool
}

// NewRequest builds a read request from tokens, the first one is the command.
// Accepted tokens are strings, byte slices, integers, floats, booleans and
// fmt.Stringer.
func NewRequest(tokens ...interface{}) (*Request, error) {
	if len(tokens) == 0 {
		return nil, ErrEmptyCommand
	}

	blocks := make([][]byte, len(tokens))
	for i, t := range tokens {
		b, err := tokenBytes(t)
		if err != nil {
			return nil, fmt.Errorf("ssdb: token %d: %w", i, err)
		}
		blocks[i] = b
	}
	return newRequestBlocks(blocks)
}

// NewWriteRequest is NewRequest for commands that must go to a master
func NewWriteRequest(tokens ...interface{}) (*Request, error) {
	r, err := NewRequest(tokens...)
	if err != nil {
		return nil, err
	}
	r.Write = true
	return r, nil
}

// ParseCommand builds a request from a whitespace separated command line.
// The write flag is set from IsWriteCommand.
func ParseCommand(line string) (*Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, ErrEmptyCommand
	}

	blocks := make([][]byte, len(fields))
	for i, f := range fields {
		blocks[i] = []byte(f)
	}
	r, err := newRequestBlocks(blocks)
	if err != nil {
		return nil, err
	}
	r.Write = IsWriteCommand(r.Command())
	return r, nil
}

func newRequestBlocks(blocks [][]byte) (*Request, error) {
	if len(blocks[0]) == 0 {
		return nil, ErrEmptyCommand
	}

	r := &Request{
		Header: blocks[0],
		Params: blocks[1:],
	}
	if len(r.Params) == 0 && !keyless[r.Command()] {
		return nil, fmt.Errorf("ssdb: command '%s' has no parameters or not supported", r.Header)
	}
	return r, nil
}

func tokenBytes(t interface{}) ([]byte, error) {
	switch v := t.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case int:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int8:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int16:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	case uint:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint8:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint16:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint32:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint64:
		return strconv.AppendUint(nil, v, 10), nil
	case float32:
		return strconv.AppendFloat(nil, float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
	case bool:
		if v {
			return []byte{'1'}, nil
		}
		return []byte{'0'}, nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	case nil:
		return nil, errors.New("nil token")
	}
	return nil, fmt.Errorf("unsupported token type %T", t)
}

// Command returns the lowercase command name
func (r *Request) Command() string {
	return strings.ToLower(string(r.Header))
}

// Key returns the routing key, nil for keyless commands
func (r *Request) Key() []byte {
	if len(r.Params) == 0 {
		return nil
	}
	return r.Params[0]
}

// Tokens returns header and parameters in order
func (r *Request) Tokens() [][]byte {
	tokens := make([][]byte, 0, len(r.Params)+1)
	tokens = append(tokens, r.Header)
	return append(tokens, r.Params...)
}

// WriteTo writes the whole frame with a single Write call
func (r *Request) WriteTo(w io.Writer) (int64, error) {
	buf := framePool.Get()
	defer framePool.Put(buf)

	buf.B = r.appendFrame(buf.B)
	n, err := w.Write(buf.B)
	return int64(n), err
}

// Bytes returns the encoded frame
func (r *Request) Bytes() []byte {
	return r.appendFrame(nil)
}

func (r *Request) appendFrame(dst []byte) []byte {
	dst = AppendBlock(dst, r.Header)
	for _, p := range r.Params {
		dst = AppendBlock(dst, p)
	}
	return append(dst, blockEnd...)
}

func (r *Request) String() string {
	return string(bytes.Join(r.Tokens(), []byte{' '}))
}

// AppendBlock appends <len>\n<data>\n to dst
func AppendBlock(dst, data []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(data)), 10)
	dst = append(dst, '\n')
	dst = append(dst, data...)
	return append(dst, '\n')
}
