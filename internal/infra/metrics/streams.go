package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(openStreams, streamsRejectedTotal) }

var openStreams = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "event_streams_open",
		Help: "Number of currently open SSE event streams.",
	},
)

var streamsRejectedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "event_streams_rejected_total",
		Help: "Total number of streams rejected by the per-user cap.",
	},
)

func IncOpenStreams() { openStreams.Inc() }
func DecOpenStreams() { openStreams.Dec() }
func IncStreamsRejected() { streamsRejectedTotal.Inc() }
