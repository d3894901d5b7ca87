// Package metrics registers the Prometheus instruments for the feed
// and exposes them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketfeed/logger"
)

// Metrics contains all Prometheus metrics for the market feed.
type Metrics struct {
	FramesReceived      *prometheus.CounterVec
	FramesDropped       *prometheus.CounterVec
	Reconnects          *prometheus.CounterVec
	ActiveSubscriptions prometheus.Gauge
	BootstrapLatency    prometheus.Histogram
	GatewayClients      prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all feed metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketfeed_frames_received_total",
			Help: "Total number of stream frames received per exchange and kind",
		}, []string{"exchange", "kind"}),

		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketfeed_frames_dropped_total",
			Help: "Total number of frames dropped per exchange and reason",
		}, []string{"exchange", "reason"}),

		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketfeed_reconnects_total",
			Help: "Total number of reconnect attempts per exchange",
		}, []string{"exchange"}),

		ActiveSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "marketfeed_active_subscriptions",
			Help: "Number of live exchange stream subscriptions",
		}),

		BootstrapLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketfeed_bootstrap_latency_seconds",
			Help:    "Time to fetch and parse the historical candle payload",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		GatewayClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "marketfeed_gateway_clients",
			Help: "Number of connected gateway websocket clients",
		}),

		registry: reg,
	}

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// RecordFrame increments the received frame counter.
func (m *Metrics) RecordFrame(exchange, kind string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(exchange, kind).Inc()
}

// RecordDrop increments the dropped frame counter.
func (m *Metrics) RecordDrop(exchange, reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(exchange, reason).Inc()
}

// RecordReconnect increments the reconnect counter.
func (m *Metrics) RecordReconnect(exchange string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(exchange).Inc()
}

// SetActiveSubscriptions records the current subscription count.
func (m *Metrics) SetActiveSubscriptions(n int) {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Set(float64(n))
}

// ObserveBootstrap records one candle bootstrap duration in seconds.
func (m *Metrics) ObserveBootstrap(seconds float64) {
	if m == nil {
		return
	}
	m.BootstrapLatency.Observe(seconds)
}

// SetGatewayClients records the current gateway client count.
func (m *Metrics) SetGatewayClients(n int) {
	if m == nil {
		return
	}
	m.GatewayClients.Set(float64(n))
}

// Serve exposes the metrics registry over HTTP on the given address.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.GetLogger().WithComponent("metrics").WithError(err).Error("metrics server failed")
		}
	}()
}
