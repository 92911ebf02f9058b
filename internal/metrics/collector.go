// Package metrics mirrors live qperf run statistics into Prometheus
// gauges/counters, alongside (never instead of) the control channel's
// stdout report and final stats exchange.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "qperf"
	subsystem = "run"
)

// Label names for qperf run metrics.
const (
	labelTest = "test"
	labelRole = "role"
	labelRun  = "run_id"
)

// Collector holds every qperf Prometheus metric. One Collector is created
// per process and reused across the tests named on the command line; each
// run is disambiguated by the run_id label (internal/config wires an
// xid-generated identifier in).
type Collector struct {
	// BytesTotal counts bytes transferred, labeled by test and role
	// (local_send, local_recv, remote_send, remote_recv).
	BytesTotal *prometheus.CounterVec

	// MessagesTotal counts completed messages, same labels as BytesTotal.
	MessagesTotal *prometheus.CounterVec

	// ErrorsTotal counts I/O or verb errors observed during a test.
	ErrorsTotal *prometheus.CounterVec

	// CQDepthHighWater records the highest completion-queue depth observed
	// by an RDMA test (0 for socket tests).
	CQDepthHighWater *prometheus.GaugeVec

	// ActiveTests tracks the number of tests currently in flight (0 or 1
	// per process, but exported as a gauge for uniformity with multi-test
	// batch runs).
	ActiveTests *prometheus.GaugeVec
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := newMetrics()
	reg.MustRegister(
		c.BytesTotal,
		c.MessagesTotal,
		c.ErrorsTotal,
		c.CQDepthHighWater,
		c.ActiveTests,
	)
	return c
}

func newMetrics() *Collector {
	testRoleRun := []string{labelTest, labelRole, labelRun}
	testRun := []string{labelTest, labelRun}

	return &Collector{
		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bytes_total",
			Help:      "Total bytes transferred, by test and role.",
		}, testRoleRun),

		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_total",
			Help:      "Total messages completed, by test and role.",
		}, testRoleRun),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total I/O or verb errors observed, by test and role.",
		}, testRoleRun),

		CQDepthHighWater: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cq_depth_high_water",
			Help:      "Highest RDMA completion-queue depth observed during the run.",
		}, testRun),

		ActiveTests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_tests",
			Help:      "Number of tests currently in flight.",
		}, testRun),
	}
}

// roleLabels is the stable ordering this package reports stats.Block roles
// under, matching internal/stats.Role's declaration order.
var roleLabels = [...]string{"local_send", "local_recv", "remote_send", "remote_recv"}

// RoleLabel returns the metric label for a stats.Role ordinal.
func RoleLabel(role int) string {
	if role < 0 || role >= len(roleLabels) {
		return "unknown"
	}
	return roleLabels[role]
}

// TestStarted marks one test as in flight.
func (c *Collector) TestStarted(test, runID string) {
	c.ActiveTests.WithLabelValues(test, runID).Inc()
}

// TestFinished clears a test's in-flight gauge.
func (c *Collector) TestFinished(test, runID string) {
	c.ActiveTests.WithLabelValues(test, runID).Dec()
}

// ObserveCounters publishes one role's final byte/message/error counts.
// Call once per role at test completion with the cumulative totals from
// stats.Block; stats.Block's counters never reset mid-test, so calling
// this more than once per test would double-count.
func (c *Collector) ObserveCounters(test, runID string, role int, bytes, msgs, errs uint64) {
	roleLabel := RoleLabel(role)
	c.BytesTotal.WithLabelValues(test, roleLabel, runID).Add(float64(bytes))
	c.MessagesTotal.WithLabelValues(test, roleLabel, runID).Add(float64(msgs))
	c.ErrorsTotal.WithLabelValues(test, roleLabel, runID).Add(float64(errs))
}

// ObserveCQDepth publishes the CQ high-water mark for an RDMA test.
func (c *Collector) ObserveCQDepth(test, runID string, depth uint32) {
	c.CQDepthHighWater.WithLabelValues(test, runID).Set(float64(depth))
}
