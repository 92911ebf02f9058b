// Package rdmatest implements the RDMA measurement loops that run once a
// qperf.internal/rdma.Device has completed its handshake (spec.md Section
// 4.8): send/receive and bidirectional bandwidth, ping-pong latency, RDMA
// write polling latency, RDMA read latency/bandwidth, and atomic
// messaging rate.
package rdmatest

import (
	"qperf/internal/clock"
	"qperf/internal/rdma"
	"qperf/internal/rdma/verbs"
	"qperf/internal/stats"
)

// NCQE is the standard pipeline depth used by bandwidth loops (spec.md
// GLOSSARY).
const NCQE = 1024

// Work request identifiers are fixed across every loop in this package
// (spec.md Section 4.8: "1=send, 2=receive, 3=rdma/atomic").
const (
	wrSend = 1
	wrRecv = 2
	wrRDMA = 3
)

// pollCompletions wraps the two completion-harvest modes behind one call
// (spec.md Section 4.8's "common completion-poll helper"). A finished
// signal observed either before or immediately after a blocking
// get_cq_event is treated as zero completions, never an error. nMax is
// also the caller's current outstanding-WR count, so this is where the
// CQ-depth high-water-mark gauge (spec.md Section 3) gets its samples.
func pollCompletions(dev *rdma.Device, fin *clock.Finished, nMax int, block *stats.Block) ([]verbs.WC, error) {
	block.ObserveCQDepth(uint32(nMax))
	if fin.IsSet() {
		return nil, nil
	}
	if dev.PollMode() {
		return dev.CQ().PollCQ(nMax)
	}
	cq, err := dev.CompChannel().GetEvent()
	if err != nil {
		if fin.IsSet() {
			return nil, nil
		}
		return nil, err
	}
	if err := cq.ReqNotify(false); err != nil {
		return nil, err
	}
	return cq.PollCQ(nMax)
}

// shouldInline reports whether msgSize qualifies for the INLINE send flag
// (spec.md Section 4.8's inlining rule; never applied to RDMA reads or
// atomics, so callers of those ops never consult this).
func shouldInline(msgSize int, maxInlineData uint32) bool {
	return uint32(msgSize) <= maxInlineData
}
