package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(runsSubmittedTotal, runsFinishedTotal, runsRejectedTotal) }

var runsSubmittedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "runs_submitted_total",
		Help: "Total number of runs accepted for execution.",
	},
)

var runsFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "runs_finished_total",
		Help: "Total number of runs reaching a terminal status.",
	},
	[]string{"status"}, // 'ready', 'failed', 'canceled'
)

var runsRejectedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "runs_rejected_total",
		Help: "Total number of submissions rejected by the admission limit.",
	},
)

func IncRunSubmitted() { runsSubmittedTotal.Inc() }

func IncRunFinished(status string) {
	runsFinishedTotal.WithLabelValues(norm(status)).Inc()
}

func IncRunRejected() { runsRejectedTotal.Inc() }
