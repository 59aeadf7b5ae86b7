package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the dev server collectors on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	ProxyRequests *prometheus.CounterVec
	ProxyLatency  *prometheus.HistogramVec
	ProxyErrors   *prometheus.CounterVec

	HMRClients  prometheus.Gauge
	HMRMessages *prometheus.CounterVec
}

// New creates a registry with all collectors registered, plus the Go
// runtime and process collectors.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.ProxyRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devserver_proxy_requests_total",
		Help: "Proxied requests by rule prefix and upstream status code",
	}, []string{"prefix", "code"})

	r.ProxyLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "devserver_proxy_request_duration_seconds",
		Help:    "Time spent proxying a request, including the upstream round trip",
		Buckets: prometheus.DefBuckets,
	}, []string{"prefix"})

	r.ProxyErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devserver_proxy_errors_total",
		Help: "Proxied requests that failed to reach the upstream",
	}, []string{"prefix"})

	r.HMRClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "devserver_hmr_clients",
		Help: "Connected hot-reload clients",
	})

	r.HMRMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devserver_hmr_messages_total",
		Help: "Hot-reload messages broadcast by type",
	}, []string{"type"})

	r.reg.MustRegister(
		r.ProxyRequests,
		r.ProxyLatency,
		r.ProxyErrors,
		r.HMRClients,
		r.HMRMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler exposes the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveProxy records a completed proxied request.
func (r *Registry) ObserveProxy(prefix string, code int, d time.Duration) {
	r.ProxyRequests.WithLabelValues(prefix, strconv.Itoa(code)).Inc()
	r.ProxyLatency.WithLabelValues(prefix).Observe(d.Seconds())
}

// ProxyError records a request that never got an upstream response.
func (r *Registry) ProxyError(prefix string) {
	r.ProxyErrors.WithLabelValues(prefix).Inc()
}

// ClientConnected and ClientDisconnected track the HMR client gauge.
func (r *Registry) ClientConnected()    { r.HMRClients.Inc() }
func (r *Registry) ClientDisconnected() { r.HMRClients.Dec() }

// MessageSent counts one broadcast HMR message.
func (r *Registry) MessageSent(kind string) {
	r.HMRMessages.WithLabelValues(kind).Inc()
}
