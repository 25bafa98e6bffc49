// Package metrics exposes transport counters and gauges to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the transport collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pdusTotal     *prometheus.CounterVec
	submitResults *prometheus.CounterVec
	eventsTotal   *prometheus.CounterVec
	reconnects    *prometheus.CounterVec
	bindUp        *prometheus.GaugeVec
	throttled     *prometheus.GaugeVec
	retryQueue    *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pdusTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smpp_pdus_total",
				Help: "PDUs written to or read from the SMSC",
			},
			[]string{"bind", "command_id", "direction"},
		),
		submitResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smpp_submit_results_total",
				Help: "submit_sm responses by outcome",
			},
			[]string{"bind", "result"},
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smpp_bus_published_total",
				Help: "Inbound messages and events published to the bus",
			},
			[]string{"bind", "type"},
		),
		reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smpp_reconnects_total",
				Help: "Reconnect attempts after a session ended",
			},
			[]string{"bind"},
		),
		bindUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "smpp_bind_up",
				Help: "1 while the bind is bound",
			},
			[]string{"bind"},
		),
		throttled: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "smpp_throttled",
				Help: "1 while outbound traffic is throttled",
			},
			[]string{"bind"},
		),
		retryQueue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "smpp_retry_queue_length",
				Help: "Throttled PDUs waiting to be resent",
			},
			[]string{"bind"},
		),
	}
	m.registry.MustRegister(
		m.pdusTotal, m.submitResults, m.eventsTotal, m.reconnects,
		m.bindUp, m.throttled, m.retryQueue,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PDU(bind, commandID, direction string) {
	if m == nil {
		return
	}
	m.pdusTotal.WithLabelValues(bind, commandID, direction).Inc()
}

func (m *Metrics) SubmitResult(bind, result string) {
	if m == nil {
		return
	}
	m.submitResults.WithLabelValues(bind, result).Inc()
}

func (m *Metrics) Published(bind, kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(bind, kind).Inc()
}

func (m *Metrics) Reconnect(bind string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(bind).Inc()
}

func (m *Metrics) SetBound(bind string, up bool) {
	if m == nil {
		return
	}
	m.bindUp.WithLabelValues(bind).Set(boolValue(up))
}

func (m *Metrics) SetThrottled(bind string, on bool) {
	if m == nil {
		return
	}
	m.throttled.WithLabelValues(bind).Set(boolValue(on))
}

func (m *Metrics) SetRetryQueue(bind string, n int) {
	if m == nil {
		return
	}
	m.retryQueue.WithLabelValues(bind).Set(float64(n))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
