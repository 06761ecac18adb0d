package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Saturation in aolcore is never an error for producers: the oldest event is
// dropped, the slowest subscriber is evicted, the full queue rejects. These
// counters are the best-effort record of those drops.
var (
	// EventsDropped counts events evicted from the ring on overflow.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aolcore",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events evicted from the bounded event ring on overflow.",
	})

	// SubscribersEvicted counts bus subscribers dropped for being slow or dead.
	SubscribersEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aolcore",
		Subsystem: "bus",
		Name:      "subscribers_evicted_total",
		Help:      "Pub/sub subscribers evicted after missing the delivery deadline.",
	})

	// RouteQueueRejections counts route submissions rejected at capacity.
	RouteQueueRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aolcore",
		Subsystem: "router",
		Name:      "queue_rejections_total",
		Help:      "Route requests rejected because the request queue was full.",
	})

	// ProbeFailures counts failed health probes.
	ProbeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aolcore",
		Subsystem: "health",
		Name:      "probe_failures_total",
		Help:      "Health probes that returned non-200 or failed to connect.",
	})

	// DeliberationRestarts counts credit-engine-ordered workflow restarts.
	DeliberationRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aolcore",
		Subsystem: "credit",
		Name:      "deliberation_restarts_total",
		Help:      "Deliberation restarts ordered by the credit engine.",
	})
)
