package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EventStoreMetrics covers appends, conflicts, snapshots and replays.
type EventStoreMetrics struct {
	appendDuration *prometheus.HistogramVec
	appended       *prometheus.CounterVec
	conflicts      *prometheus.CounterVec
	snapshots      *prometheus.CounterVec
	replayed       *prometheus.CounterVec
}

func NewEventStoreMetrics(reg prometheus.Registerer) *EventStoreMetrics {
	if reg == nil {
		return &EventStoreMetrics{}
	}
	appendDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "eventstore",
		Name:      "append_duration_seconds",
		Help:      "Latency of event log appends.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"aggregate_type"})
	appended := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eventstore",
		Name:      "events_appended_total",
		Help:      "Events written to the event log.",
	}, []string{"aggregate_type"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eventstore",
		Name:      "concurrency_conflicts_total",
		Help:      "Appends rejected by the optimistic version check.",
	}, []string{"aggregate_type"})
	snapshots := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eventstore",
		Name:      "snapshots_saved_total",
		Help:      "Snapshots written.",
	}, []string{"aggregate_type"})
	replayed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eventstore",
		Name:      "events_replayed_total",
		Help:      "Events handed to replay handlers.",
	}, []string{"mode"})
	reg.MustRegister(appendDuration, appended, conflicts, snapshots, replayed)
	return &EventStoreMetrics{
		appendDuration: appendDuration,
		appended:       appended,
		conflicts:      conflicts,
		snapshots:      snapshots,
		replayed:       replayed,
	}
}

// ObserveAppend records one successful append of count events.
func (m *EventStoreMetrics) ObserveAppend(aggregateType string, count int, duration time.Duration) {
	if m == nil || m.appended == nil {
		return
	}
	label := normalizeLabel(aggregateType)
	m.appendDuration.WithLabelValues(label).Observe(duration.Seconds())
	m.appended.WithLabelValues(label).Add(float64(count))
}

func (m *EventStoreMetrics) IncConflict(aggregateType string) {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.WithLabelValues(normalizeLabel(aggregateType)).Inc()
}

func (m *EventStoreMetrics) IncSnapshot(aggregateType string) {
	if m == nil || m.snapshots == nil {
		return
	}
	m.snapshots.WithLabelValues(normalizeLabel(aggregateType)).Inc()
}

// AddReplayed counts events delivered by a replay in the given mode
// ("all", "type").
func (m *EventStoreMetrics) AddReplayed(mode string, count int) {
	if m == nil || m.replayed == nil || count == 0 {
		return
	}
	m.replayed.WithLabelValues(normalizeLabel(mode)).Add(float64(count))
}
