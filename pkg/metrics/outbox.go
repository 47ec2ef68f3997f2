package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics tracks relay throughput and backlog health.
type OutboxMetrics struct {
	delivered     *prometheus.CounterVec
	failed        *prometheus.CounterVec
	deadLettered  *prometheus.CounterVec
	exhausted     prometheus.Gauge
	cycleDuration prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	delivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "delivered_total",
		Help:      "Outbox entries delivered to the external sink.",
	}, []string{"event_type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "delivery_failures_total",
		Help:      "Failed delivery attempts.",
	}, []string{"event_type"})
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "dead_lettered_total",
		Help:      "Entries copied to the DLQ.",
	}, []string{"reason"})
	exhausted := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "exhausted_entries",
		Help:      "Unprocessed entries that used up every retry.",
	})
	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one relay polling cycle.",
		Buckets:   prometheus.DefBuckets,
	})
	reg.MustRegister(delivered, failed, deadLettered, exhausted, cycleDuration)
	return &OutboxMetrics{
		delivered:     delivered,
		failed:        failed,
		deadLettered:  deadLettered,
		exhausted:     exhausted,
		cycleDuration: cycleDuration,
	}
}

func (m *OutboxMetrics) IncDelivered(eventType string) {
	if m == nil || m.delivered == nil {
		return
	}
	m.delivered.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncFailed(eventType string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncDeadLettered(reason string) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *OutboxMetrics) SetExhausted(count int64) {
	if m == nil || m.exhausted == nil {
		return
	}
	m.exhausted.Set(float64(count))
}

func (m *OutboxMetrics) ObserveCycle(duration time.Duration) {
	if m == nil || m.cycleDuration == nil {
		return
	}
	m.cycleDuration.Observe(duration.Seconds())
}
