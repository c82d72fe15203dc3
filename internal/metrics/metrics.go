// Package metrics holds the process counters exposed on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vanishdrop"

type Metrics struct {
	registry *prometheus.Registry

	AccessOutcomes   *prometheus.CounterVec
	Deliveries       prometheus.Counter
	DeleteFailures   prometheus.Counter
	BroadcastSends   *prometheus.CounterVec
	RelayedMessages  *prometheus.CounterVec
	UploadsCommitted prometheus.Counter
	PendingCleanups  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AccessOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_outcomes_total",
			Help:      "Access requests by outcome.",
		}, []string{"outcome"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Bundles delivered in full.",
		}),
		DeleteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_delete_failures_total",
			Help:      "Messages that could not be deleted after their TTL.",
		}),
		BroadcastSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_sends_total",
			Help:      "Broadcast sends by result.",
		}, []string{"result"}),
		RelayedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Messages relayed between users and operators.",
		}, []string{"direction"}),
		UploadsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_committed_total",
			Help:      "Upload sessions committed as bundles.",
		}),
		PendingCleanups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_cleanups",
			Help:      "Scheduled cleanup jobs not yet fired.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.AccessOutcomes,
		m.Deliveries,
		m.DeleteFailures,
		m.BroadcastSends,
		m.RelayedMessages,
		m.UploadsCommitted,
		m.PendingCleanups,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
