package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestEventStoreMetricsCountAppendsAndConflicts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEventStoreMetrics(reg)

	m.ObserveAppend("account", 3, 5*time.Millisecond)
	m.ObserveAppend("account", 2, 5*time.Millisecond)
	m.IncConflict("account")
	m.IncSnapshot("")
	m.AddReplayed("all", 7)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "eventcore_eventstore_events_appended_total", "aggregate_type", "account"); err != nil || got != 5 {
		t.Fatalf("expected appended=5, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "eventcore_eventstore_concurrency_conflicts_total", "aggregate_type", "account"); err != nil || got != 1 {
		t.Fatalf("expected conflicts=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "eventcore_eventstore_snapshots_saved_total", "aggregate_type", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected snapshot under unknown label, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "eventcore_eventstore_events_replayed_total", "mode", "all"); err != nil || got != 7 {
		t.Fatalf("expected replayed=7, got %f (%v)", got, err)
	}
}

func TestOutboxMetricsExhaustedGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.SetExhausted(4)
	m.IncDeadLettered("max_attempts")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	mf := findMetricFamily(mfs, "eventcore_outbox_exhausted_entries")
	if mf == nil || len(mf.GetMetric()) != 1 {
		t.Fatalf("exhausted gauge missing")
	}
	if got := gaugeValue(mf.GetMetric()[0]); got != 4 {
		t.Fatalf("expected exhausted=4, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "eventcore_outbox_dead_lettered_total", "reason", "max_attempts"); err != nil || got != 1 {
		t.Fatalf("expected dead lettered=1, got %f (%v)", got, err)
	}
}

func gaugeValue(m *dto.Metric) float64 {
	return m.GetGauge().GetValue()
}
