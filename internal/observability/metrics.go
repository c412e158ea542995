package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	loaderCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calypsold",
			Subsystem: "loader",
			Name:      "commands_total",
			Help:      "Loader commands handled, by command and result.",
		},
		[]string{"command", "result"},
	)
	loaderConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "calypsold",
			Subsystem: "loader",
			Name:      "active_connections",
			Help:      "Loader client connections currently being served.",
		},
	)
	loaderConnectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "calypsold",
			Subsystem: "loader",
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of loader client connections in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	translations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calypsold",
			Subsystem: "guestmem",
			Name:      "translations_total",
			Help:      "Guest page translations, by cache hit, miss, or error.",
		},
		[]string{"result"},
	)
	memoryBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calypsold",
			Subsystem: "guestmem",
			Name:      "bytes_total",
			Help:      "Bytes moved to or from guest memory.",
		},
		[]string{"direction"},
	)
	jumps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calypsold",
			Subsystem: "trigger",
			Name:      "jumps_total",
			Help:      "Execution redirects, by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calypsold",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "calypsold",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			loaderCommands,
			loaderConnections,
			loaderConnectionDuration,
			translations,
			memoryBytes,
			jumps,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordCommand(command, result string) {
	RegisterMetrics()
	loaderCommands.WithLabelValues(command, result).Inc()
}

func ConnectionOpened() {
	RegisterMetrics()
	loaderConnections.Inc()
}

func ConnectionClosed(lifetime time.Duration) {
	RegisterMetrics()
	loaderConnections.Dec()
	loaderConnectionDuration.Observe(lifetime.Seconds())
}

func RecordTranslation(result string) {
	RegisterMetrics()
	translations.WithLabelValues(result).Inc()
}

func RecordMemoryBytes(direction string, n int) {
	RegisterMetrics()
	memoryBytes.WithLabelValues(direction).Add(float64(n))
}

func RecordJump(backend, outcome string) {
	RegisterMetrics()
	jumps.WithLabelValues(backend, outcome).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
