package params_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"qperf/internal/params"
	"qperf/internal/wire"
)

func TestDefaultsAreUnsetAndUnused(t *testing.T) {
	tbl := params.NewTable()
	require.NoError(t, tbl.Validate())
	require.Equal(t, uint32(1), tbl.U32(params.MsgSize))
}

func TestSetButUnusedFailsValidate(t *testing.T) {
	tbl := params.NewTable()
	require.NoError(t, tbl.SetByUser(params.MsgSize, 4096))
	err := tbl.Validate()
	require.ErrorIs(t, err, params.ErrNotApplicable)
	require.Contains(t, err.Error(), params.MsgSize)
}

func TestMarkUsedSatisfiesValidate(t *testing.T) {
	tbl := params.NewTable()
	require.NoError(t, tbl.SetByUser(params.MsgSize, 4096))
	tbl.MarkUsed(params.MsgSize)
	require.NoError(t, tbl.Validate())
}

func TestRequestRoundTrip(t *testing.T) {
	tbl := params.NewTable()
	require.NoError(t, tbl.SetByUser(params.MsgSize, 65536))
	require.NoError(t, tbl.SetByUserStr(params.Identifier, "mlx5_0:1"))

	var req wire.Request
	tbl.ToRequestParams(&req)
	require.Equal(t, uint32(65536), req.MsgSize)
	require.Equal(t, "mlx5_0:1", req.Identifier)

	other := params.NewTable()
	other.FromRequestParams(req)
	require.Equal(t, uint32(65536), other.U32(params.MsgSize))
	require.Equal(t, "mlx5_0:1", other.Str(params.Identifier))
}

func TestUnknownParameterErrors(t *testing.T) {
	tbl := params.NewTable()
	require.Error(t, tbl.SetByUser("bogus", 1))
}

func TestFromRequestParamsOnlyAdoptsSetMaskBits(t *testing.T) {
	tbl := params.NewTable()
	require.NoError(t, tbl.SetByUser(params.MsgSize, 65536))

	var req wire.Request
	tbl.ToRequestParams(&req)
	require.NotZero(t, req.MsgSize)
	require.Zero(t, req.MTU)

	other := params.NewTable()
	other.FromRequestParams(req)
	require.True(t, other.IsSet(params.MsgSize))
	require.False(t, other.IsSet(params.MTU), "MTU was never set by the sender, so it must stay unset on the receiver")

	// An unset-but-received default must never trip Validate on its own.
	other.MarkUsed(params.MsgSize)
	require.NoError(t, other.Validate())
}
