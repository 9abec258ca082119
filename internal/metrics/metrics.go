package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsTotal counts protocol requests by command and outcome.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filehub_requests_total",
			Help: "Total number of protocol requests handled by the server.",
		},
		[]string{"command", "outcome"},
	)

	// RequestDuration measures how long a request takes from decode to close.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filehub_request_duration_seconds",
			Help:    "Histogram of latencies for protocol requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// CacheLookups counts shared cache lookups by result.
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filehub_cache_lookups_total",
			Help: "Number of shared cache lookups by result.",
		},
		[]string{"result"},
	)

	// CacheEvictions counts entries pushed out by round-robin replacement.
	CacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "filehub_cache_evictions_total",
			Help: "Number of cache entries evicted to make room for a new name.",
		},
	)

	// BytesTotal counts payload bytes moved over the protocol.
	BytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filehub_bytes_total",
			Help: "Payload bytes transferred, by direction.",
		},
		[]string{"direction"},
	)

	// ActiveConnections is the number of connections currently being handled.
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "filehub_active_connections",
			Help: "Connections currently being handled.",
		},
	)
)

// Outcomes recorded in RequestsTotal.
const (
	OutcomeOK             = "ok"
	OutcomeNotFound       = "file_not_found"
	OutcomeInvalidName    = "invalid_name"
	OutcomeNoRequest      = "no_request"
	OutcomeDigestMismatch = "digest_mismatch"
	OutcomeProtocolError  = "protocol_error"
	OutcomeStorageError   = "storage_error"
	OutcomeTransportError = "transport_error"
	OutcomePanic          = "handler_panic"
)

var registerOnce sync.Once

// Register registers all metrics in the default registry. Later calls are
// no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RequestDuration,
			CacheLookups,
			CacheEvictions,
			BytesTotal,
			ActiveConnections,
		)
	})
}

// RecordRequest records the outcome and latency of one request. An empty
// command is reported as "unknown".
func RecordRequest(command, outcome string, durationSeconds float64) {
	if command == "" {
		command = "unknown"
	}
	RequestsTotal.WithLabelValues(command, outcome).Inc()
	RequestDuration.WithLabelValues(command).Observe(durationSeconds)
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(result).Inc()
}

// RecordEviction counts one round-robin eviction when evicted is non-empty.
func RecordEviction(evicted string) {
	if evicted != "" {
		CacheEvictions.Inc()
	}
}

// RecordBytes adds n payload bytes in direction "in" or "out".
func RecordBytes(direction string, n int) {
	if n > 0 {
		BytesTotal.WithLabelValues(direction).Add(float64(n))
	}
}
