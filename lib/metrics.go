package lib

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "ssdb"

// Registry holds every collector exposed by the status endpoint
var Registry = prometheus.NewRegistry()

var (
	factory = promauto.With(Registry)

	// Requests counts finished requests by result: ok | server_error | failed
	Requests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "requests_total",
		Help:      "Requests sent through the sharded client.",
	}, []string{"result"})

	Retries = factory.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "retries_total",
		Help:      "Attempts retried on another server or cluster.",
	})

	ServerInvalidations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "server_invalidations_total",
		Help:      "Servers marked invalid after a connection fault.",
	}, []string{"server"})

	ServerRecoveries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "server_recoveries_total",
		Help:      "Servers restored by the recovery daemon.",
	}, []string{"server"})

	ClusterFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cluster_failures_total",
		Help:      "Clusters reported failed to the ring.",
	}, []string{"cluster"})

	Probes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "probes_total",
		Help:      "Recovery probes by result: ok | failed.",
	}, []string{"result"})

	BorrowSeconds = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "pool_borrow_seconds",
		Help:      "Time waiting for a pooled connection.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	})
)
