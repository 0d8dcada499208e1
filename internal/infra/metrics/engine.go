package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(engineCallLatencyMs, tokenRefreshTotal) }

var engineCallLatencyMs = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "engine_call_latency_ms",
		Help:    "Remote query engine call latency distribution in milliseconds.",
		Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
	},
	[]string{"op", "success"}, // op: validate|create_target|execute|job_status|fetch_results
)

var tokenRefreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "token_refresh_total",
		Help: "Total number of upstream credential refresh calls.",
	},
	[]string{"success"},
)

func ObserveEngineCall(op string, latencyMs int, success bool) {
	engineCallLatencyMs.WithLabelValues(norm(op), strconv.FormatBool(success)).Observe(float64(latencyMs))
}

func IncTokenRefresh(success bool) {
	tokenRefreshTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}
