package lib

import (
	"bytes"
	"io"
	"io/ioutil"
	"sync"

	"github.com/klauspost/compress/gzip"
)

const (
	GzCompressionLevel = 3
)

var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		zw, _ := gzip.NewWriterLevel(nil, GzCompressionLevel)
		return zw
	},
}

func GetGzipWriter(w io.Writer) *gzip.Writer {
	zw := gzipWriterPool.Get().(*gzip.Writer)
	zw.Reset(w)
	return zw
}

func PutGzipWriter(zw *gzip.Writer) {
	zw.Reset(ioutil.Discard)
	gzipWriterPool.Put(zw)
}

var gzipReaderPool = sync.Pool{
	New: func() interface{} {
		return new(gzip.Reader)
	},
}

func GetGzipReader(r io.Reader) (*gzip.Reader, error) {
	zr := gzipReaderPool.Get().(*gzip.Reader)
	if err := zr.Reset(r); err != nil {
		gzipReaderPool.Put(zr)
		return nil, err
	}
	return zr, nil
}

func PutGzipReader(zr *gzip.Reader) {
	gzipReaderPool.Put(zr)
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magicGzip)
	zw := GetGzipWriter(&buf)
	defer PutGzipWriter(zw)

	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(b []byte) ([]byte, error) {
	zr, err := GetGzipReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer PutGzipReader(zr)
	return ioutil.ReadAll(zr)
}
