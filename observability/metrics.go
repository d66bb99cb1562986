package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type swapMetrics struct {
	operations *prometheus.CounterVec
	openSwaps  prometheus.Gauge
	pruned     prometheus.Counter
	scanned    prometheus.Counter
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	swapMetricsOnce sync.Once
	swapRegistry    *swapMetrics
)

// RPCMetrics returns the lazily-initialised registry used to record JSON-RPC
// request activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and status code.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "otc",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by throttling.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of one RPC request. The status code should be
// the HTTP status ultimately written to the response.
func (m *rpcMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards stay consistent.
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// SwapMetrics returns the lazily-initialised registry tracking swap engine
// activity.
func SwapMetrics() *swapMetrics {
	swapMetricsOnce.Do(func() {
		swapRegistry = &swapMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "swap",
				Name:      "operations_total",
				Help:      "Count of swap lifecycle operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			openSwaps: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "otc",
				Subsystem: "swap",
				Name:      "open_total",
				Help:      "Number of currently open swaps.",
			}),
			pruned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "swap",
				Name:      "pruned_total",
				Help:      "Count of terminal swaps removed by pruning.",
			}),
			scanned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "otc",
				Subsystem: "registry",
				Name:      "tokens_examined_total",
				Help:      "Count of token identifiers examined by batch validation.",
			}),
		}
		prometheus.MustRegister(
			swapRegistry.operations,
			swapRegistry.openSwaps,
			swapRegistry.pruned,
			swapRegistry.scanned,
		)
	})
	return swapRegistry
}

// RecordOperation counts one swap lifecycle operation.
func (m *swapMetrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// SetOpenSwaps updates the open swap gauge.
func (m *swapMetrics) SetOpenSwaps(n int) {
	if m == nil {
		return
	}
	m.openSwaps.Set(float64(n))
}

// RecordPruned counts swaps removed by a prune pass.
func (m *swapMetrics) RecordPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pruned.Add(float64(n))
}

// RecordExamined counts identifiers examined by a validation batch.
func (m *swapMetrics) RecordExamined(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.scanned.Add(float64(n))
}
