package lib

import (
	"bytes"

	"github.com/golang/snappy"
)

const (
	CompressNone   = ""
	CompressSnappy = "snappy"
	CompressGzip   = "gzip"
)

var (
	magicSnappy     = []byte("$sy$")
	magicGzip       = []byte("$gz$")
	minCompressSize = 256
)

// CompressBytes compresses values larger than minCompressSize, the
// result carries a magic prefix so UncompressBytes can detect it
func CompressBytes(b []byte, codec string) []byte {
	if len(b) < minCompressSize {
		return b
	}

	switch codec {
	case CompressSnappy:
		out := make([]byte, 0, len(magicSnappy)+snappy.MaxEncodedLen(len(b)))
		out = append(out, magicSnappy...)
		return append(out, snappy.Encode(nil, b)...)
	case CompressGzip:
		out, err := gzipBytes(b)
		if err != nil {
			Debugf("gzip failed, storing uncompressed: %s", err)
			return b
		}
		return out
	}
	return b
}

// UncompressBytes returns the original value, or b itself if it wasn't
// compressed or can't be decoded
func UncompressBytes(b []byte) []byte {
	switch {
	case bytes.HasPrefix(b, magicSnappy):
		uncompressed, e := snappy.Decode(nil, b[len(magicSnappy):])
		if e == nil {
			return uncompressed
		}
	case bytes.HasPrefix(b, magicGzip):
		uncompressed, e := gunzipBytes(b[len(magicGzip):])
		if e == nil {
			return uncompressed
		}
	}
	return b
}
