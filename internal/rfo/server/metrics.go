package server

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rfratto/remotefs/internal/rfo"
)

// Metrics holds server metrics. Use NewMetrics to create one.
type Metrics struct {
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	connections      prometheus.Gauge
	connectionsTotal prometheus.Counter
}

// NewMetrics creates a new set of metrics and registers them to reg. reg may
// be nil, in which case the metrics aren't registered anywhere.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "remotefs_requests_total",
			Help: "Total number of requests handled, partitioned by opcode and result.",
		}, []string{"op", "result"}),

		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remotefs_request_duration_seconds",
			Help:    "Time spent handling requests.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),

		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "remotefs_connections",
			Help: "Number of connections currently being served.",
		}),

		connectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "remotefs_connections_total",
			Help: "Total number of connections accepted.",
		}),
	}
}

// Middleware returns a Middleware which records request metrics.
func (m *Metrics) Middleware() Middleware {
	return FuncMiddleware(func(ctx context.Context, op rfo.Op, req rfo.Request, i Invoker) (rfo.Response, error) {
		start := time.Now()
		resp, err := i(ctx, op, req)

		result := "success"
		if err != nil || (resp != nil && rfo.ResponseError(resp) != 0) {
			result = "error"
		}
		m.requests.WithLabelValues(op.String(), result).Inc()
		m.requestDuration.WithLabelValues(op.String()).Observe(time.Since(start).Seconds())
		return resp, err
	})
}

func (m *Metrics) connectionOpened() {
	m.connections.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) connectionClosed() { m.connections.Dec() }
