package main

import (
	"log"
	"strings"
	"sync"

	"github.com/fasthttp/router"
	"github.com/pquerna/ffjson/ffjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/gallir/smart-ssdb/lib"
	"github.com/gallir/smart-ssdb/ssdb/conn"
	"github.com/gallir/smart-ssdb/ssdb/sharding"
)

type statusResponse struct {
	Version       string                    `json:"version"`
	TotalRelayers int                       `json:"totalRelayers"`
	Relayers      []lib.RelayerStatus       `json:"relayers"`
	Policy        string                    `json:"policy,omitempty"`
	Ranges        []sharding.Range          `json:"ranges,omitempty"`
	Pools         map[string]conn.PoolStats `json:"pools,omitempty"`
	Invalid       []string                  `json:"invalidServers,omitempty"`
}

// statusServer serves /status, /metrics and /ping over fasthttp
type statusServer struct {
	sync.Mutex
	listen string
	engine *fasthttp.Server
}

func newStatusServer(listen string) *statusServer {
	return &statusServer{
		listen: strings.TrimPrefix(listen, "tcp://"),
	}
}

func (s *statusServer) handler() fasthttp.RequestHandler {
	r := router.New()
	r.GET("/ping", ping)
	r.GET("/status", getStatus)
	r.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(lib.Registry, promhttp.HandlerOpts{}),
	))
	return r.Handler
}

func (s *statusServer) Start() error {
	s.Lock()
	defer s.Unlock()

	if s.engine != nil {
		return nil
	}
	s.engine = &fasthttp.Server{
		Handler: s.handler(),
	}

	go func(engine *fasthttp.Server, listen string) {
		log.Printf("Status server at %s", listen)
		if e := engine.ListenAndServe(listen); e != nil {
			log.Println("Status server ERROR:", e)
		}
	}(s.engine, s.listen)
	return nil
}

func (s *statusServer) Exit() {
	s.Lock()
	defer s.Unlock()

	if s.engine != nil {
		if e := s.engine.Shutdown(); e != nil {
			log.Println("Status server ERROR: shutting down failed", e)
		}
		s.engine = nil
	}
}

func ping(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody([]byte("{\"status\": \"success\"}"))
}

func collectStatus() *statusResponse {
	mutex.Lock()
	defer mutex.Unlock()

	s := &statusResponse{
		Version:       version,
		TotalRelayers: totalRelayers,
	}
	for _, r := range relayers {
		s.Relayers = append(s.Relayers, r.Status())
	}

	if ssdbClient != nil {
		s.Policy = ssdbClient.Ring().Policy().String()
		s.Ranges = ssdbClient.Ring().Ranges()
		s.Pools = ssdbClient.Pools().Stats()
		s.Invalid = ssdbClient.Monitor().Invalid()
	}
	return s
}

func getStatus(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")

	buf, err := ffjson.Marshal(collectStatus())
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBody([]byte("{\"status\": \"error\"}"))
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(buf)
	ffjson.Pool(buf)
}
