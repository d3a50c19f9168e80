package relay

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/gallir/smart-ssdb/ssdb/protocol"
)

const requestBufferSize = 1024

type job struct {
	req  *protocol.Request
	resp chan *protocol.Response // nil for requests already answered
}

// worker sends the requests of one local connection in order, so a read
// always sees the previous fast writes
type worker struct {
	srv  *Server
	jobs chan *job
	done chan struct{}
}

func newWorker(srv *Server) *worker {
	w := &worker{
		srv:  srv,
		jobs: make(chan *job, requestBufferSize),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *worker) run() {
	defer close(w.done)
	for j := range w.jobs {
		resp := w.send(j.req)
		if j.resp != nil {
			j.resp <- resp
		}
	}
}

func (w *worker) send(req *protocol.Request) *protocol.Response {
	_, timeout := w.srv.settings()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := w.srv.client.SendRequest(ctx, req)
	if err == nil {
		return resp
	}

	atomic.AddInt64(&w.srv.errors, 1)
	if resp != nil {
		// Server errors go back as they came
		return resp
	}
	log.Printf("Error in %s: %s", req.Command(), err)
	return errorResponse(err)
}

func (w *worker) async(req *protocol.Request) {
	w.jobs <- &job{req: req}
}

func (w *worker) sync(req *protocol.Request) *protocol.Response {
	j := &job{
		req:  req,
		resp: make(chan *protocol.Response, 1),
	}
	w.jobs <- j
	return <-j.resp
}

// exit waits for the pending background requests
func (w *worker) exit() {
	close(w.jobs)
	<-w.done
}
