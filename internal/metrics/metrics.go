// Package metrics exposes agent counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	alertsSent      *prometheus.CounterVec
	inboundEvents   *prometheus.CounterVec
	staleUpdates    *prometheus.CounterVec
	duplicateAlerts prometheus.Counter
	cachedDrains    *prometheus.CounterVec
	dialogDepth     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		alertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nudge",
			Name:      "alerts_sent_total",
			Help:      "Outgoing alerts by final result.",
		}, []string{"result"}),
		inboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nudge",
			Name:      "inbound_events_total",
			Help:      "Push events received by action.",
		}, []string{"action"}),
		staleUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nudge",
			Name:      "stale_status_updates_total",
			Help:      "Status updates dropped because the alert id or order did not match.",
		}, []string{"status"}),
		duplicateAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nudge",
			Name:      "duplicate_alerts_total",
			Help:      "Incoming alerts ignored as replays.",
		}),
		cachedDrains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nudge",
			Name:      "cached_friend_attempts_total",
			Help:      "Cached friend intents replayed against the server by result.",
		}, []string{"result"}),
		dialogDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nudge",
			Name:      "dialog_queue_depth",
			Help:      "Prompts active or waiting.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.alertsSent,
		m.inboundEvents,
		m.staleUpdates,
		m.duplicateAlerts,
		m.cachedDrains,
		m.dialogDepth,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AlertSent(result string) {
	if m == nil {
		return
	}
	m.alertsSent.WithLabelValues(result).Inc()
}

func (m *Metrics) InboundEvent(action string) {
	if m == nil {
		return
	}
	m.inboundEvents.WithLabelValues(action).Inc()
}

func (m *Metrics) StaleUpdate(status string) {
	if m == nil {
		return
	}
	m.staleUpdates.WithLabelValues(status).Inc()
}

func (m *Metrics) DuplicateAlert() {
	if m == nil {
		return
	}
	m.duplicateAlerts.Inc()
}

func (m *Metrics) CachedAttempt(result string) {
	if m == nil {
		return
	}
	m.cachedDrains.WithLabelValues(result).Inc()
}

func (m *Metrics) SetDialogDepth(n int) {
	if m == nil {
		return
	}
	m.dialogDepth.Set(float64(n))
}
