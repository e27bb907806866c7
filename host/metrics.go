package host

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the Prometheus metrics of a decoder.
type Metrics struct {
	// Decode call metrics
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	InputBytes   prometheus.Histogram
	RowsDecoded  prometheus.Counter

	// Pool metrics
	PoolActive prometheus.Gauge
	PoolIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates metrics with the given namespace in a fresh registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		CallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_calls_total",
			Help:      "Total decode calls by operation and status",
		}, []string{"op", "status"}),
		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_duration_seconds",
			Help:      "Decode call duration by operation",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
		InputBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_input_bytes",
			Help:      "Size of IPC payloads staged in the guest",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}),
		RowsDecoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_decoded_total",
			Help:      "Total number of rows returned to callers",
		}),

		PoolActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_active",
			Help:      "Number of module instances running a call",
		}),
		PoolIdle: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_idle",
			Help:      "Number of idle module instances",
		}),

		registry: reg,
	}
}

// Registry returns the registry the metrics are registered in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCall records one decode call.
func (m *Metrics) RecordCall(op string, err error, inputBytes int, rows int64, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CallsTotal.WithLabelValues(op, status).Inc()
	m.CallDuration.WithLabelValues(op).Observe(duration.Seconds())
	m.InputBytes.Observe(float64(inputBytes))
	m.RowsDecoded.Add(float64(rows))
}

// UpdatePool updates the pool gauges.
func (m *Metrics) UpdatePool(stats PoolStats) {
	m.PoolActive.Set(float64(stats.Active))
	m.PoolIdle.Set(float64(stats.Idle))
}

// MetricsServer runs an HTTP server exposing /metrics endpoint.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a new metrics server on the given address.
func NewMetricsServer(addr string, m *Metrics) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handler returns the server's HTTP handler.
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

// StartAsync starts the metrics server in a goroutine.
func (s *MetricsServer) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			Logger().Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

// Stop gracefully stops the metrics server.
func (s *MetricsServer) Stop() error {
	return s.server.Close()
}
