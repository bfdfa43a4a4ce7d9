package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the console's Prometheus collectors. Each Server owns its
// own registry so tests never collide on duplicate registration.
type Metrics struct {
	registry *prometheus.Registry

	CommandsTotal   *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	StreamClients   prometheus.Gauge
	RecordsCaptured prometheus.Counter
}

// NewMetrics creates and registers the console collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_commands_total",
			Help: "Dispatched admin commands by name and outcome",
		}, []string{"command", "status"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "console_http_requests_total",
			Help: "HTTP admin API requests by method and status code",
		}, []string{"method", "code"}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "console_stream_clients",
			Help: "Connected websocket log stream clients",
		}),
		RecordsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "console_log_records_total",
			Help: "Log records pushed to the stream",
		}),
	}
	m.registry.MustRegister(m.CommandsTotal, m.HTTPRequests, m.StreamClients, m.RecordsCaptured)
	return m
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
