package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	libdebug "runtime/debug"
	"sync"
	"syscall"

	"github.com/gallir/smart-ssdb/lib"
	"github.com/gallir/smart-ssdb/ssdb/client"
	"github.com/gallir/smart-ssdb/ssdb/cluster"
	"github.com/gallir/smart-ssdb/ssdb/relay"
)

const (
	version = "1.2.0"
)

var (
	mutex         sync.Mutex
	relayers      = make(map[string]lib.Relayer)
	totalRelayers = 0
	ssdbClient    *client.Client
	status        *statusServer
	done          = make(chan bool)
	reloadSig     = make(chan os.Signal, 1)
	exitSig       = make(chan os.Signal, 1)
)

func getNewServer(conf lib.RelayerConfig) (lib.Relayer, error) {
	return relay.New(conf, ssdbClient, done)
}

func startOrReload() bool {
	mutex.Lock()
	defer mutex.Unlock()

	// Check config is OK
	newConf, err := lib.ReadConfig(lib.GlobalConfig.ConfigFileName)
	if err != nil {
		log.Println("Bad configuration", err)
		return false
	}

	if newConf.GOGC > 100 {
		libdebug.SetGCPercent(newConf.GOGC)
		log.Println("Set GCPercent to", newConf.GOGC)
	} else {
		libdebug.SetGCPercent(100)
	}

	if ssdbClient == nil {
		ssdbClient, err = client.NewFromConfig(newConf)
		if err != nil {
			log.Println("Error creating the clusters", err)
			return false
		}
		log.Printf("Ring ready with %d clusters, policy %s", ssdbClient.Ring().Len(), ssdbClient.Ring().Policy())
	} else {
		reloadClusters(newConf)
	}

	if status == nil && newConf.Status != "" {
		status = newStatusServer(newConf.Status)
		if e := status.Start(); e != nil {
			log.Println("E: Error starting status server", e)
			status = nil
		}
	}

	lib.Debugf("%#v", newConf.Relayer)

	newEndpoints := make(map[string]bool)

	for _, conf := range newConf.Relayer {
		endpoint, ok := relayers[conf.Listen]
		newEndpoints[conf.Listen] = true
		if !ok {
			// Start a new relayer
			r, err := getNewServer(conf)
			if err != nil {
				log.Println("E: Error starting relayer", conf.Listen, err)
				continue
			}
			lib.Debugf("Starting new relayer at %s", conf.Listen)
			if e := r.Start(); e == nil {
				relayers[conf.Listen] = r
				totalRelayers++
			}
		} else {
			// The relayer exists, reload it
			err := endpoint.Reload(&conf)
			if err != nil {
				log.Println("E: Error reloading", conf.Listen, err)
			}
		}
	}

	for endpoint, r := range relayers {
		_, ok := newEndpoints[endpoint]
		if !ok {
			log.Printf("Deleting old endpoint %s", endpoint)
			delete(relayers, endpoint)
			r.Exit()
		}
	}

	return true
}

// reloadClusters adds the new clusters after the one preceding them in the
// configuration and removes the ones no longer configured. Changes inside
// an existing cluster need a restart.
func reloadClusters(conf *lib.Config) {
	ring := ssdbClient.Ring()
	configured := make(map[string]bool)

	var prev *cluster.Cluster
	for _, cc := range conf.Cluster {
		configured[cc.ID] = true
		if c := ring.ClusterByID(cc.ID); c != nil {
			prev = c
			continue
		}

		nc, err := cluster.NewFromConfig(cc)
		if err != nil {
			log.Println("E: Error in cluster", cc.ID, err)
			continue
		}
		after := prev
		if after == nil {
			after = ring.Clusters()[0]
		}
		if err := ssdbClient.AddCluster(nc, after); err != nil {
			log.Println("E: Error adding cluster", cc.ID, err)
			continue
		}
		log.Printf("Cluster %s added after %s", nc.ID(), after.ID())
		prev = nc
	}

	for _, c := range ring.Clusters() {
		if configured[c.ID()] {
			continue
		}
		if err := ring.RemoveCluster(c.ID()); err != nil {
			log.Println("E: Error removing cluster", c.ID(), err)
			continue
		}
		log.Printf("Cluster %s removed", c.ID())
	}
}

func exit() {
	mutex.Lock()
	defer mutex.Unlock()

	for _, r := range relayers {
		r.Exit()
	}
	if status != nil {
		status.Exit()
	}
	if ssdbClient != nil {
		ssdbClient.Close()
	}
}

func main() {
	lib.ParseFlags()
	setRLimit()

	// Show version and exit
	if lib.GlobalConfig.ShowVersion {
		fmt.Println("smart-ssdb version", version)
		showRLimit()
		os.Exit(0)
	}

	if !lib.GlobalConfig.Debug {
		initLogging("smart-ssdb")
	}

	// Listen for reload signals
	signal.Notify(reloadSig, reloadSignals...)
	signal.Notify(exitSig, os.Interrupt, syscall.SIGTERM)

	// Reload config
	go func() {
		for {
			<-reloadSig
			startOrReload()
		}
	}()

	// Relayers confirm their exit here
	go func() {
		for range done {
			lib.Debugf("Relayer finished")
		}
	}()

	if !startOrReload() {
		os.Exit(1)
	}

	s := <-exitSig
	log.Printf("Signal %s received, exiting", s)
	exit()
	os.Exit(0)
}
