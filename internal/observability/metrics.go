// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solana-nft-custody/internal/domain"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Settlement metrics
	FeesCollected     *prometheus.CounterVec
	SwapVolume        prometheus.Counter
	SwapCompensations prometheus.Counter

	// Event delivery metrics
	EventsPublished *prometheus.CounterVec
	FeedSubscribers prometheus.Gauge

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulOperation prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "nft_custody"
	}

	return &Metrics{
		// Operation metrics
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "operations",
			Name:      "total",
			Help:      "Total number of custody and swap operations by outcome code",
		}, []string{"operation", "code"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "operations",
			Name:      "duration_seconds",
			Help:      "Operation latency including the storage transaction",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		// Settlement metrics
		FeesCollected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "fees_collected_total",
			Help:      "Settlement balance collected as fees",
		}, []string{"fee"}),
		SwapVolume: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "swap_volume_total",
			Help:      "Settlement balance moved by executed swaps",
		}),
		SwapCompensations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "swap_compensations_total",
			Help:      "Swaps whose balance movement was reversed after an asset transfer failure",
		}),

		// Event delivery metrics
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Custody events handed to publishers",
		}, []string{"sink", "status"}),
		FeedSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "feed_subscribers",
			Help:      "Connected websocket feed subscribers",
		}),

		// Latency metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "Latency of asset custody RPC calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Health metrics
		LastSuccessfulOperation: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_operation_timestamp",
			Help:      "Unix timestamp of last committed operation",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOperation records an operation outcome and its latency.
func RecordOperation(operation string, seconds float64, err error) {
	code := "OK"
	if err != nil {
		code = domain.ErrorCode(err)
	}
	DefaultMetrics.OperationsTotal.WithLabelValues(operation, code).Inc()
	DefaultMetrics.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordFees adds collected lock and protocol fees.
func RecordFees(lockFee, protocolFee uint64) {
	DefaultMetrics.FeesCollected.WithLabelValues("lock").Add(float64(lockFee))
	DefaultMetrics.FeesCollected.WithLabelValues("protocol").Add(float64(protocolFee))
}

// RecordSwapExecuted adds an executed swap amount.
func RecordSwapExecuted(amount uint64) {
	DefaultMetrics.SwapVolume.Add(float64(amount))
}

// RecordSwapCompensated increments the compensation counter.
func RecordSwapCompensated() {
	DefaultMetrics.SwapCompensations.Inc()
}

// RecordPublish records delivery of n events to a sink.
func RecordPublish(sink string, n int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.EventsPublished.WithLabelValues(sink, status).Add(float64(n))
}

// SetFeedSubscribers updates the feed subscriber gauge.
func SetFeedSubscribers(n int) {
	DefaultMetrics.FeedSubscribers.Set(float64(n))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// UpdateLastSuccessfulOperation sets the health timestamp.
func UpdateLastSuccessfulOperation(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulOperation.Set(float64(unixSeconds))
}
