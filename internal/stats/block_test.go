package stats_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"qperf/internal/stats"
	"qperf/internal/wire"
)

func TestCountersAreMonotonic(t *testing.T) {
	var b stats.Block
	b.AddBytes(stats.RoleLocalSend, 100)
	b.AddBytes(stats.RoleLocalSend, 50)
	b.IncMsgs(stats.RoleLocalSend)
	b.IncMsgs(stats.RoleLocalSend)
	b.IncErrs(stats.RoleLocalSend)

	c := b.Counters(stats.RoleLocalSend)
	require.Equal(t, uint64(150), c.Bytes)
	require.Equal(t, uint64(2), c.Msgs)
	require.Equal(t, uint64(1), c.Errs)
}

func TestObserveCQDepthKeepsMax(t *testing.T) {
	var b stats.Block
	b.ObserveCQDepth(10)
	b.ObserveCQDepth(5)
	b.ObserveCQDepth(42)
	w := b.ToWire([9]uint64{})
	require.Equal(t, uint32(42), w.CQDepthHWM)
}

func TestAdoptRemoteCompletesSymmetricView(t *testing.T) {
	var local stats.Block
	local.AddBytes(stats.RoleLocalSend, 1000)
	local.IncMsgs(stats.RoleLocalSend)

	peerWire := wire.StatsBlock{}
	peerWire.Roles[wire.RoleLocalSend] = wire.RoleCounters{Bytes: 2000, Msgs: 2}
	peerWire.Roles[wire.RoleLocalRecv] = wire.RoleCounters{Bytes: 1000, Msgs: 1}

	local.AdoptRemote(peerWire)

	require.Equal(t, uint64(2000), local.Counters(stats.RoleRemoteSend).Bytes)
	require.Equal(t, uint64(1000), local.Counters(stats.RoleRemoteRecv).Bytes)
}

func TestAdoptRemotePreservesSyntheticReadCredit(t *testing.T) {
	// RDMA read/atomic tests credit RoleRemoteSend locally (spec.md Section
	// 4.5's rem_s) while the passive peer's own LocalSend stays at zero;
	// AdoptRemote must not let the peer's zero erase that credit.
	var local stats.Block
	local.AddBytes(stats.RoleRemoteSend, 4096)
	local.IncMsgs(stats.RoleRemoteSend)

	peerWire := wire.StatsBlock{}
	peerWire.Roles[wire.RoleLocalSend] = wire.RoleCounters{Bytes: 0, Msgs: 0}

	local.AdoptRemote(peerWire)

	c := local.Counters(stats.RoleRemoteSend)
	require.Equal(t, uint64(4096), c.Bytes)
	require.Equal(t, uint64(1), c.Msgs)
}
