package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SOS coordination metrics. All registered on the default registry and
// exposed via /metrics.
var (
	activationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sos_activations_total",
			Help: "SOS activation attempts by result",
		},
		[]string{"result"},
	)

	cancellationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sos_cancellations_total",
			Help: "SOS cancellations by result",
		},
		[]string{"result"},
	)

	responsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sos_responses_total",
			Help: "Helper responses by answer",
		},
		[]string{"can_help"},
	)

	staleResponsesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sos_stale_responses_discarded_total",
			Help: "Responses discarded because they predate the active request",
		},
	)

	fanoutHelpers = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sos_fanout_helpers",
			Help:    "Matched helpers per fanout",
			Buckets: prometheus.LinearBuckets(0, 2, 11),
		},
	)

	cleanupRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sos_cleanup_retries_total",
			Help: "Retried store operations during request cleanup",
		},
	)

	wsConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sos_ws_connections",
			Help: "Currently attached realtime clients",
		},
	)
)

func IncActivation(result string)   { activationsTotal.WithLabelValues(result).Inc() }
func IncCancellation(result string) { cancellationsTotal.WithLabelValues(result).Inc() }

func IncResponse(canHelp bool) {
	if canHelp {
		responsesTotal.WithLabelValues("true").Inc()
	} else {
		responsesTotal.WithLabelValues("false").Inc()
	}
}

func IncStaleResponse()          { staleResponsesTotal.Inc() }
func ObserveFanout(helpers int)  { fanoutHelpers.Observe(float64(helpers)) }
func IncCleanupRetry()           { cleanupRetriesTotal.Inc() }
func SetWSConnections(n float64) { wsConnections.Set(n) }
