package protocol

import (
	"fmt"
	"io"
)

// Decoder states
const (
	stateReady = iota
	stateLength
	stateData
	stateDone
)

// MaxBlockSize is the largest block length accepted by the decoder
const MaxBlockSize = 64 << 20

// ProtocolError is a framing violation, the stream can't be trusted anymore
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "ssdb: protocol error: " + e.Reason
}

func malformed(expected string, got byte) error {
	return &ProtocolError{Reason: fmt.Sprintf("expected %s, got %q", expected, got)}
}

// Decoder reads packets of blocks terminated by an empty line. It is
// not safe for concurrent use.
type Decoder struct {
	r      io.ByteReader
	bulk   io.Reader // Used to read block data at once when available
	state  int
	length int
	block  []byte
	blocks [][]byte
}

func NewDecoder(r io.ByteReader) *Decoder {
	d := &Decoder{r: r}
	if rr, ok := r.(io.Reader); ok {
		d.bulk = rr
	}
	return d
}

// Decode returns the blocks of the next packet. It returns io.EOF if the
// stream ended before the packet started and io.ErrUnexpectedEOF if it ended
// in the middle.
func (d *Decoder) Decode() ([][]byte, error) {
	d.state = stateReady
	d.length = 0
	d.blocks = nil
	started := false

	for {
		if d.state == stateData && d.bulk != nil {
			if _, err := io.ReadFull(d.bulk, d.block); err != nil {
				return nil, unexpected(err, true)
			}
			d.state = stateDone
			continue
		}

		c, err := d.r.ReadByte()
		if err != nil {
			return nil, unexpected(err, started)
		}
		started = true

		switch d.state {
		case stateReady:
			if c == '\n' {
				return d.blocks, nil
			}
			if c < '0' || c > '9' {
				return nil, malformed("block length", c)
			}
			d.length = int(c - '0')
			d.state = stateLength
		case stateLength:
			if c == '\n' {
				d.block = make([]byte, d.length)
				if d.length == 0 {
					d.state = stateDone
				} else if d.bulk != nil {
					d.state = stateData
				} else {
					d.block = d.block[:0]
					d.state = stateData
				}
				continue
			}
			if c < '0' || c > '9' {
				return nil, malformed("digit in block length", c)
			}
			d.length = d.length*10 + int(c-'0')
			if d.length > MaxBlockSize {
				return nil, &ProtocolError{Reason: fmt.Sprintf("block length %d exceeds %d", d.length, MaxBlockSize)}
			}
		case stateData:
			d.block = append(d.block, c)
			if len(d.block) == d.length {
				d.state = stateDone
			}
		case stateDone:
			if c != '\n' {
				return nil, malformed("block terminator", c)
			}
			d.blocks = append(d.blocks, d.block)
			d.block = nil
			d.length = 0
			d.state = stateReady
		}
	}
}

func unexpected(err error, started bool) error {
	if err == io.EOF && started {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ReadResponse decodes one response, the first block is the status
func ReadResponse(r io.ByteReader) (*Response, error) {
	return NewDecoder(r).ReadResponse()
}

func (d *Decoder) ReadResponse() (*Response, error) {
	blocks, err := d.Decode()
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, &ProtocolError{Reason: "response without status"}
	}
	return &Response{
		Header: string(blocks[0]),
		Body:   blocks[1:],
	}, nil
}

// ReadRequest decodes one request frame, the way a server reads them
func ReadRequest(r io.ByteReader) (*Request, error) {
	return NewDecoder(r).ReadRequest()
}

func (d *Decoder) ReadRequest() (*Request, error) {
	blocks, err := d.Decode()
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 || len(blocks[0]) == 0 {
		return nil, &ProtocolError{Reason: "request without command"}
	}
	r := &Request{
		Header: blocks[0],
		Params: blocks[1:],
	}
	r.Write = IsWriteCommand(r.Command())
	return r, nil
}
