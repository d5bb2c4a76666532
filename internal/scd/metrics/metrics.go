// Package metrics exposes Prometheus gauges for the rate limiters and
// counters for operation outcomes.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const namespace = "scd"

// PermitSource is a limiter whose permit levels are reported as gauges.
type PermitSource interface {
	Name() string
	AvailablePermits() float64
	Waiting() int64
}

type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
}

// New registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations served, by method, transport and outcome code.",
		}, []string{"method", "transport", "code"}),
	}
	m.registry.MustRegister(m.operations)
	return m
}

// WatchLimiters publishes the permit levels of every source.
func (m *Metrics) WatchLimiters(sources ...PermitSource) {
	for _, src := range sources {
		src := src
		labels := prometheus.Labels{"name": src.Name()}
		m.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "ratelimiter",
				Name:        "available_permissions",
				Help:        "Permits currently available in the bucket.",
				ConstLabels: labels,
			}, src.AvailablePermits),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "ratelimiter",
				Name:        "waiting_threads",
				Help:        "Callers currently acquiring a permit.",
				ConstLabels: labels,
			}, func() float64 { return float64(src.Waiting()) }),
		)
	}
}

// Observe counts one finished operation.
func (m *Metrics) Observe(method, transport, code string) {
	m.operations.WithLabelValues(method, transport, code).Inc()
}

func (m *Metrics) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		m.Observe(info.FullMethod, "grpc", status.Code(err).String())
		return resp, err
	}
}

// HTTPMiddleware counts requests to method by response status.
func (m *Metrics) HTTPMiddleware(next http.Handler, method string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.Observe(method, "http", strconv.Itoa(rec.status))
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry to tests and embedding servers.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
