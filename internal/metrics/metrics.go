// Package metrics registers the gateway's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors the data plane reports into.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RateLimitedTotal *prometheus.CounterVec
	TCPConnsActive   *prometheus.GaugeVec
	SessionsExpired  prometheus.Counter
}

// New builds a metrics set on its own registry. sessions, when non-nil,
// feeds the live UDP session gauge.
func New(sessions func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lanegate_requests_total",
			Help: "HTTP requests by server, route, service and status code.",
		}, []string{"server", "route", "service", "code"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lanegate_request_duration_seconds",
			Help:    "Time from request receipt to upstream response completion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server", "route"}),
		RateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lanegate_rate_limited_total",
			Help: "Requests rejected by per-route rate limits.",
		}, []string{"route"}),
		TCPConnsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lanegate_tcp_connections_active",
			Help: "Open proxied TCP connections by server.",
		}, []string{"server"}),
		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "lanegate_udp_sessions_expired_total",
			Help: "UDP pseudo-connections dropped after their idle TTL.",
		}),
	}
	if sessions != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "lanegate_udp_sessions_active",
			Help: "Live UDP pseudo-connections.",
		}, sessions)
	}
	return m
}

// Handler exposes the registry for the admin listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
