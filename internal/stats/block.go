// Package stats implements the measurement statistics block (spec.md
// Sections 3 and 4.5): monotonic counters partitioned by role, updated only
// by their owning side during a test run.
package stats

import (
	"sync/atomic"

	"qperf/internal/wire"
)

// Role mirrors wire.Role; re-exported here so callers updating counters
// don't need to import the wire package directly.
type Role = wire.Role

const (
	RoleLocalSend  = wire.RoleLocalSend
	RoleLocalRecv  = wire.RoleLocalRecv
	RoleRemoteSend = wire.RoleRemoteSend
	RoleRemoteRecv = wire.RoleRemoteRecv
)

// roleCounters is the atomic, single-writer-per-process counter triple for
// one role. Atomics are used not for multi-writer safety (spec.md Section 5
// guarantees a single writer per process) but so the metrics exporter
// (internal/metrics) can read a consistent snapshot concurrently.
type roleCounters struct {
	bytes atomic.Uint64
	msgs  atomic.Uint64
	errs  atomic.Uint64
}

// Block is the live, in-process measurement statistics block for one side
// of one test (spec.md Section 3). The four roles are independent; only
// RoleLocalSend and RoleLocalRecv are written directly by the measurement
// loop on this process. RoleRemoteSend/RoleRemoteRecv are populated once,
// after Channel.ExchangeResults returns the peer's block.
type Block struct {
	roles [4]roleCounters

	// cqDepthHWM is the maximum completion-queue depth observed (RDMA
	// tests only; spec.md Section 3).
	cqDepthHWM atomic.Uint32
}

// AddBytes credits n bytes to role's monotonic byte counter (spec.md
// Section 4.5: "the bytes counter accrues the payload size of every
// successful operation").
func (b *Block) AddBytes(role Role, n uint64) {
	b.roles[role].bytes.Add(n)
}

// IncMsgs increments role's message counter by one (spec.md Section 4.5:
// "once per successful operation").
func (b *Block) IncMsgs(role Role) {
	b.roles[role].msgs.Add(1)
}

// IncErrs increments role's error counter by one (spec.md Section 4.5:
// "once per status-not-success completion").
func (b *Block) IncErrs(role Role) {
	b.roles[role].errs.Add(1)
}

// ObserveCQDepth raises the completion-queue high-water-mark gauge to depth
// if depth is greater than the current value.
func (b *Block) ObserveCQDepth(depth uint32) {
	for {
		cur := b.cqDepthHWM.Load()
		if depth <= cur {
			return
		}
		if b.cqDepthHWM.CompareAndSwap(cur, depth) {
			return
		}
	}
}

// Counters returns a point-in-time snapshot of role's counters.
func (b *Block) Counters(role Role) wire.RoleCounters {
	rc := &b.roles[role]
	return wire.RoleCounters{
		Bytes: rc.bytes.Load(),
		Msgs:  rc.msgs.Load(),
		Errs:  rc.errs.Load(),
	}
}

// ToWire builds the wire.StatsBlock snapshot sent over the control channel
// at test end (spec.md Section 4.2's exchange_results).
func (b *Block) ToWire(timeSamples [9]uint64) wire.StatsBlock {
	var w wire.StatsBlock
	for r := range w.Roles {
		w.Roles[r] = b.Counters(Role(r))
	}
	w.CQDepthHWM = b.cqDepthHWM.Load()
	w.TimeSamples = timeSamples
	return w
}

// AdoptRemote folds the peer's send/receive counters (as observed by the
// peer) into this block's remote-* roles, completing the symmetric view
// spec.md Section 3 Invariant 4 requires: after ExchangeResults both sides
// hold a full four-role block. Peer values are added rather than stored:
// for RDMA read and atomic tests (spec.md Section 4.5), the local side
// already credited RoleRemoteSend/RoleRemoteRecv with a synthetic value
// while the passive peer's own local counters stayed at zero, so a plain
// overwrite would erase that synthetic credit instead of agreeing with it.
func (b *Block) AdoptRemote(peer wire.StatsBlock) {
	addRole := func(role Role, rc wire.RoleCounters) {
		b.roles[role].bytes.Add(rc.Bytes)
		b.roles[role].msgs.Add(rc.Msgs)
		b.roles[role].errs.Add(rc.Errs)
	}
	// The peer's local-send is our remote-send (observed by us via them),
	// and vice versa, per spec.md Section 3's role definitions.
	addRole(RoleRemoteSend, peer.Roles[wire.RoleLocalSend])
	addRole(RoleRemoteRecv, peer.Roles[wire.RoleLocalRecv])
	if peer.CQDepthHWM > b.cqDepthHWM.Load() {
		b.cqDepthHWM.Store(peer.CQDepthHWM)
	}
}
