// Prometheus collectors for the engine. Label cardinality is bounded by the
// fixed set of wire event names.
package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// eventsIngested counts state-changing events accepted by this instance.
	eventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Total events ingested by the synchronization engine, by event name.",
		},
		[]string{"event"},
	)

	// remoteApplied counts events received from other instances over the bus.
	remoteApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_remote_events_total",
			Help: "Total events applied from the broadcast bus, by event name.",
		},
		[]string{"event"},
	)

	// busPublishFailures counts committed events that could not be propagated.
	busPublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_bus_publish_failures_total",
			Help: "Total bus publish failures (writes stay committed; clustering degrades).",
		},
	)
)

func init() {
	prometheus.MustRegister(eventsIngested, remoteApplied, busPublishFailures)
}
