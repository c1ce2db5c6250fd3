// Package metrics holds the Prometheus collectors shared by the tracker and
// the dashboard poller. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ghosttrack"

type Metrics struct {
	eventsSent        *prometheus.CounterVec
	deliveryFailures  *prometheus.CounterVec
	eventsDropped     prometheus.Counter
	refreshes         *prometheus.CounterVec
	invalidTimestamps prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		eventsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "events_sent_total",
			Help:      "Events handed to a transport, by transport.",
		}, []string{"transport"}),
		deliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "delivery_failures_total",
			Help:      "Events whose delivery failed, by transport.",
		}, []string{"transport"}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "events_dropped_total",
			Help:      "Events dropped before dispatch because the queue was full or closed.",
		}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dashboard",
			Name:      "refreshes_total",
			Help:      "Dashboard refresh cycles, by kind and result.",
		}, []string{"kind", "result"}),
		invalidTimestamps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dashboard",
			Name:      "invalid_timestamps_total",
			Help:      "Events skipped during bucketing because their timestamp did not parse.",
		}),
	}
}

func (m *Metrics) EventSent(transport string) {
	if m == nil {
		return
	}
	m.eventsSent.WithLabelValues(transport).Inc()
}

func (m *Metrics) DeliveryFailed(transport string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(transport).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// Refresh records the outcome of one refresh cycle. kind is "view" or
// "traffic".
func (m *Metrics) Refresh(kind string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.refreshes.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) InvalidTimestamps(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.invalidTimestamps.Add(float64(n))
}
