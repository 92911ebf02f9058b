package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"qperf/internal/metrics"
	"qperf/internal/stats"
)

func TestNewCollectorRegistersEveryMetric(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.BytesTotal == nil || c.MessagesTotal == nil || c.ErrorsTotal == nil ||
		c.CQDepthHighWater == nil || c.ActiveTests == nil {
		t.Fatal("NewCollector left a metric nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestActiveTestsGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.TestStarted("tcp_bw", "run1")
	if v := gaugeValue(t, c.ActiveTests, "tcp_bw", "run1"); v != 1 {
		t.Errorf("ActiveTests = %v, want 1", v)
	}

	c.TestFinished("tcp_bw", "run1")
	if v := gaugeValue(t, c.ActiveTests, "tcp_bw", "run1"); v != 0 {
		t.Errorf("ActiveTests = %v, want 0", v)
	}
}

func TestObserveCountersLabelsEachRole(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.ObserveCounters("rc_bw", "run1", int(stats.RoleLocalSend), 4096, 1, 0)

	if v := counterValue(t, c.BytesTotal, "rc_bw", "local_send", "run1"); v != 4096 {
		t.Errorf("BytesTotal = %v, want 4096", v)
	}
	if v := counterValue(t, c.MessagesTotal, "rc_bw", "local_send", "run1"); v != 1 {
		t.Errorf("MessagesTotal = %v, want 1", v)
	}
}

func TestObserveCQDepth(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.ObserveCQDepth("rc_bw", "run1", 512)
	if v := gaugeValue(t, c.CQDepthHighWater, "rc_bw", "run1"); v != 512 {
		t.Errorf("CQDepthHighWater = %v, want 512", v)
	}
}

func TestRoleLabelOutOfRange(t *testing.T) {
	if metrics.RoleLabel(-1) != "unknown" {
		t.Error("RoleLabel(-1) should be \"unknown\"")
	}
	if metrics.RoleLabel(99) != "unknown" {
		t.Error("RoleLabel(99) should be \"unknown\"")
	}
}

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	g, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
