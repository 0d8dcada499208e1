package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(queueEnqueuedTotal, queueRetriesTotal, queueDeadLettersTotal) }

var queueEnqueuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "queue_enqueued_total",
		Help: "Total number of job messages enqueued, labeled by kind.",
	},
	[]string{"kind"}, // 'execute', 'poll'
)

var queueRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "queue_retries_total",
		Help: "Total number of message redeliveries after a handler failure.",
	},
	[]string{"kind"},
)

var queueDeadLettersTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "queue_dead_letters_total",
		Help: "Total number of messages moved to the dead-letter list.",
	},
	[]string{"kind"},
)

func IncEnqueued(kind string) { queueEnqueuedTotal.WithLabelValues(norm(kind)).Inc() }
func IncRetry(kind string) { queueRetriesTotal.WithLabelValues(norm(kind)).Inc() }
func IncDeadLetter(kind string) { queueDeadLettersTotal.WithLabelValues(norm(kind)).Inc() }
