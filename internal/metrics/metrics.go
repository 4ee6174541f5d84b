// Package metrics provides Prometheus metrics for the cadence agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent.
type Metrics struct {
	UpdatesTotal     prometheus.Counter
	PostsTotal       *prometheus.CounterVec
	TriggerSkips     *prometheus.CounterVec
	GenerationsTotal *prometheus.CounterVec
	SnapshotSaves    *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	TrackedChats     prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		UpdatesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cadence_updates_total",
				Help: "Total inbound updates drained from the transport.",
			},
		),
		PostsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadence_posts_total",
				Help: "Total posts sent by channel.",
			},
			[]string{"channel"},
		),
		TriggerSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadence_trigger_skips_total",
				Help: "Ambient trigger ticks skipped by reason.",
			},
			[]string{"reason"},
		),
		GenerationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadence_generations_total",
				Help: "Content generation calls by kind and status.",
			},
			[]string{"kind", "status"},
		),
		SnapshotSaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadence_snapshot_saves_total",
				Help: "State snapshot writes by status.",
			},
			[]string{"status"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadence_errors_total",
				Help: "Total errors by component and type.",
			},
			[]string{"component", "type"},
		),
		TrackedChats: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cadence_tracked_chats",
				Help: "Number of chats with persisted state.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.UpdatesTotal)
	reg.MustRegister(m.PostsTotal)
	reg.MustRegister(m.TriggerSkips)
	reg.MustRegister(m.GenerationsTotal)
	reg.MustRegister(m.SnapshotSaves)
	reg.MustRegister(m.ErrorsTotal)
	reg.MustRegister(m.TrackedChats)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordPost increments the post counter for a channel ("reply" or "ambient").
func (m *Metrics) RecordPost(channel string) {
	m.PostsTotal.WithLabelValues(channel).Inc()
}

// RecordTriggerSkip increments the skip counter for a block reason.
func (m *Metrics) RecordTriggerSkip(reason string) {
	m.TriggerSkips.WithLabelValues(reason).Inc()
}

// RecordGeneration increments the generation counter.
func (m *Metrics) RecordGeneration(kind, status string) {
	m.GenerationsTotal.WithLabelValues(kind, status).Inc()
}

// RecordSnapshotSave increments the snapshot write counter.
func (m *Metrics) RecordSnapshotSave(status string) {
	m.SnapshotSaves.WithLabelValues(status).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errType string) {
	m.ErrorsTotal.WithLabelValues(component, errType).Inc()
}
