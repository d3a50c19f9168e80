package monitor

import (
	"context"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/gallir/smart-ssdb/lib"
	"github.com/gallir/smart-ssdb/ssdb/cluster"
)

const (
	defaultInterval     = time.Duration(lib.DefaultMonitorPeriod) * time.Second
	defaultWorkers      = lib.DefaultMonitorWorkers
	defaultProbeTimeout = time.Duration(lib.DefaultProbeTimeout) * time.Second
)

// ProbeFunc returns nil if the server is reachable again
type ProbeFunc func(ctx context.Context, s *cluster.Server) error

type Config struct {
	Interval     time.Duration
	Workers      int
	ProbeTimeout time.Duration
	Probe        ProbeFunc // TCPProbe if nil
}

// TCPProbe only checks that a connection can be opened
func TCPProbe(ctx context.Context, s *cluster.Server) error {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", s.Address())
	if err != nil {
		return err
	}
	return c.Close()
}

// tracked is an invalid server and the clusters that marked it
type tracked struct {
	server   *cluster.Server
	clusters map[*cluster.Cluster]struct{}
}

// Daemon probes the invalid servers periodically and marks them valid
// in every cluster that reported them once they answer
type Daemon struct {
	sync.Mutex
	config  Config
	servers map[string]*tracked
	probing map[string]bool
	sem     chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup // The loop
	probes  sync.WaitGroup
}

func New(c Config) *Daemon {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.Probe == nil {
		c.Probe = TCPProbe
	}
	return &Daemon{
		config:  c,
		servers: make(map[string]*tracked),
		probing: make(map[string]bool),
		sem:     make(chan struct{}, c.Workers),
	}
}

func NewFromConfig(c lib.MonitorConfig) *Daemon {
	return New(Config{
		Interval:     c.IntervalDuration(),
		Workers:      c.Workers,
		ProbeTimeout: c.ProbeTimeoutDuration(),
	})
}

// Watch implements cluster.Watcher
func (d *Daemon) Watch(s *cluster.Server, c *cluster.Cluster) {
	d.Lock()
	defer d.Unlock()

	tr, ok := d.servers[s.Address()]
	if !ok {
		tr = &tracked{
			server:   s,
			clusters: make(map[*cluster.Cluster]struct{}),
		}
		d.servers[s.Address()] = tr
	}
	tr.clusters[c] = struct{}{}
	lib.Debugf("Monitor: watching %s for cluster %s", s, c.ID())
}

// Invalid returns the addresses being probed, sorted
func (d *Daemon) Invalid() []string {
	d.Lock()
	defer d.Unlock()

	list := make([]string, 0, len(d.servers))
	for addr := range d.servers {
		list = append(list, addr)
	}
	sort.Strings(list)
	return list
}

// Start runs the probe loop in background, it does nothing if it's running
func (d *Daemon) Start() {
	d.Lock()
	defer d.Unlock()

	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(1)
	go d.loop(ctx)
	log.Printf("Recovery monitor started, interval %s workers %d", d.config.Interval, d.config.Workers)
}

// Stop ends the loop and waits for the running probes
func (d *Daemon) Stop() {
	d.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	d.probes.Wait()
	log.Println("Recovery monitor stopped")
}

func (d *Daemon) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.round(ctx)
		}
	}
}

// RunOnce runs a round and waits for its probes
func (d *Daemon) RunOnce(ctx context.Context) {
	d.round(ctx).Wait()
}

func (d *Daemon) round(ctx context.Context) *sync.WaitGroup {
	var jobs []*tracked

	d.Lock()
	for addr, tr := range d.servers {
		for c := range tr.clusters {
			if !c.Contains(tr.server) {
				lib.Debugf("Monitor: %s no longer in cluster %s", addr, c.ID())
				delete(tr.clusters, c)
			}
		}
		if len(tr.clusters) == 0 {
			delete(d.servers, addr)
			continue
		}
		if d.probing[addr] {
			continue
		}
		d.probing[addr] = true
		jobs = append(jobs, tr)
	}
	d.Unlock()

	wg := &sync.WaitGroup{}
	for i, tr := range jobs {
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			d.Lock()
			for _, pending := range jobs[i:] {
				delete(d.probing, pending.server.Address())
			}
			d.Unlock()
			return wg
		}

		wg.Add(1)
		d.probes.Add(1)
		go func(tr *tracked) {
			defer func() {
				<-d.sem
				wg.Done()
				d.probes.Done()
			}()
			d.probe(ctx, tr)
		}(tr)
	}
	return wg
}

func (d *Daemon) probe(ctx context.Context, tr *tracked) {
	addr := tr.server.Address()
	pctx, cancel := context.WithTimeout(ctx, d.config.ProbeTimeout)
	err := d.config.Probe(pctx, tr.server)
	cancel()

	d.Lock()
	delete(d.probing, addr)
	if err != nil {
		d.Unlock()
		lib.Probes.WithLabelValues("failed").Inc()
		lib.Debugf("Monitor: %s still down: %s", addr, err)
		return
	}

	clusters := make([]*cluster.Cluster, 0, len(tr.clusters))
	for c := range tr.clusters {
		clusters = append(clusters, c)
	}
	if d.servers[addr] == tr {
		delete(d.servers, addr)
	}
	d.Unlock()

	lib.Probes.WithLabelValues("ok").Inc()
	lib.ServerRecoveries.WithLabelValues(addr).Inc()
	for _, c := range clusters {
		c.MarkValid(tr.server)
	}
	log.Printf("Server %s is reachable again", addr)
}
