package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"qperf/internal/wire"
)

func TestRequestRoundTrip(t *testing.T) {
	req := wire.Request{
		Version:      wire.Version{Major: 1, Minor: 2, Patch: 3},
		TestIndex:    7,
		LocalPort:    0,
		RemotePort:   19765,
		MsgSize:      65536,
		MTU:          1024,
		SockBufSize:  0,
		Duration:     2,
		PollMode:     1,
		RdAtomic:     16,
		Affinity:     0,
		AccessRecv:   1,
		Flip:         0,
		NoMsgs:       0,
		TimeoutMicro: 0,
		Identifier:   "mlx5_0:1",
		Rate:         "40_gb_sec",
		SetMask:      0x1807,
	}

	buf, err := req.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, wire.RequestSize)

	var got wire.Request
	require.NoError(t, got.UnmarshalBinary(buf))
	require.Equal(t, req, got)
}

func TestRequestUnmarshalToleratesTrailingBytes(t *testing.T) {
	req := wire.Request{Version: wire.Version{Major: 1}, TestIndex: 1, Identifier: "x", Rate: "y"}
	buf, err := req.MarshalBinary()
	require.NoError(t, err)

	padded := append(buf, 0xDE, 0xAD, 0xBE, 0xEF)
	var got wire.Request
	require.NoError(t, got.UnmarshalBinary(padded))
	require.Equal(t, req, got)
}

func TestRequestUnmarshalRejectsShortBuffer(t *testing.T) {
	var got wire.Request
	require.Error(t, got.UnmarshalBinary(make([]byte, wire.RequestSize-1)))
}

func TestCheckVersionRejectsMajorMismatch(t *testing.T) {
	ours := wire.Version{Major: 2, Minor: 0, Patch: 0}
	peer := wire.Version{Major: 1, Minor: 9, Patch: 9}
	require.ErrorIs(t, wire.CheckVersion(ours, peer), wire.ErrMajorVersionMismatch)
}

func TestCheckVersionTeleratesMinorDrift(t *testing.T) {
	ours := wire.Version{Major: 1, Minor: 0, Patch: 0}
	peer := wire.Version{Major: 1, Minor: 5, Patch: 2}
	require.NoError(t, wire.CheckVersion(ours, peer))
}

func TestConnContextRoundTrip(t *testing.T) {
	c := wire.ConnContext{LID: 0x1, QPN: 0x1234, PSN: 0xABCDEF, RKey: 0x5566, VAddr: 0x7FFE00001000}
	buf, err := c.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, wire.ConnContextSize)

	var got wire.ConnContext
	require.NoError(t, got.UnmarshalBinary(buf))
	require.Equal(t, c, got)
}

func TestStatsBlockRoundTrip(t *testing.T) {
	var s wire.StatsBlock
	s.Roles[wire.RoleLocalSend] = wire.RoleCounters{Bytes: 1 << 30, Msgs: 1000, Errs: 2}
	s.Roles[wire.RoleRemoteRecv] = wire.RoleCounters{Bytes: 1 << 29, Msgs: 999, Errs: 0}
	s.CQDepthHWM = 2048
	for i := range s.TimeSamples {
		s.TimeSamples[i] = uint64(i) * 17
	}

	buf, err := s.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, wire.StatsBlockSize)

	var got wire.StatsBlock
	require.NoError(t, got.UnmarshalBinary(buf))
	require.Equal(t, s, got)
}
