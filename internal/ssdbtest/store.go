package ssdbtest

import (
	"strconv"
	"sync"

	"github.com/gallir/smart-ssdb/ssdb/protocol"
)

var (
	one = []byte("1")
	zer = []byte("0")
)

// Store is an in-memory key-value handler with the commands used in tests
type Store struct {
	sync.Mutex
	Name string // Returned by info
	data map[string][]byte
}

func NewStore(name string) *Store {
	return &Store{
		Name: name,
		data: make(map[string][]byte),
	}
}

// Len returns how many keys are stored
func (st *Store) Len() int {
	st.Lock()
	defer st.Unlock()
	return len(st.data)
}

func (st *Store) Value(key string) ([]byte, bool) {
	st.Lock()
	defer st.Unlock()
	v, ok := st.data[key]
	return v, ok
}

// Handle is a Handler
func (st *Store) Handle(req *protocol.Request) *protocol.Response {
	st.Lock()
	defer st.Unlock()

	p := req.Params
	switch req.Command() {
	case "ping":
		return protocol.NewResponse(protocol.StatusOK)
	case "dbsize":
		return protocol.NewResponse(protocol.StatusOK, []byte(strconv.Itoa(len(st.data))))
	case "info":
		return protocol.NewResponse(protocol.StatusOK, []byte("name"), []byte(st.Name))
	case "get":
		if v, ok := st.data[string(p[0])]; ok {
			return protocol.NewResponse(protocol.StatusOK, v)
		}
		return protocol.NewResponse(protocol.StatusNotFound)
	case "set", "setx":
		if len(p) < 2 {
			return clientError("wrong number of arguments")
		}
		st.data[string(p[0])] = append([]byte(nil), p[1]...)
		return protocol.NewResponse(protocol.StatusOK, one)
	case "del":
		delete(st.data, string(p[0]))
		return protocol.NewResponse(protocol.StatusOK, one)
	case "exists":
		if _, ok := st.data[string(p[0])]; ok {
			return protocol.NewResponse(protocol.StatusOK, one)
		}
		return protocol.NewResponse(protocol.StatusOK, zer)
	case "incr":
		by := int64(1)
		if len(p) > 1 {
			n, err := strconv.ParseInt(string(p[1]), 10, 64)
			if err != nil {
				return clientError("bad increment")
			}
			by = n
		}
		cur := int64(0)
		if v, ok := st.data[string(p[0])]; ok {
			n, err := strconv.ParseInt(string(v), 10, 64)
			if err != nil {
				return protocol.NewResponse(protocol.StatusError, []byte("value is not an integer"))
			}
			cur = n
		}
		cur += by
		v := []byte(strconv.FormatInt(cur, 10))
		st.data[string(p[0])] = v
		return protocol.NewResponse(protocol.StatusOK, v)
	case "multi_get":
		body := make([][]byte, 0, len(p)*2)
		for _, k := range p {
			if v, ok := st.data[string(k)]; ok {
				body = append(body, k, v)
			}
		}
		return protocol.NewResponse(protocol.StatusOK, body...)
	}
	return clientError("unknown command " + req.Command())
}

func clientError(msg string) *protocol.Response {
	return protocol.NewResponse("client_error", []byte(msg))
}
