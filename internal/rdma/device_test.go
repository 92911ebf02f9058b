package rdma

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseIdentifierDefaultsPortToOne(t *testing.T) {
	dev, port, err := parseIdentifier("mlx5_0")
	require.NoError(t, err)
	require.Equal(t, "mlx5_0", dev)
	require.EqualValues(t, 1, port)
}

func TestParseIdentifierHonorsExplicitPort(t *testing.T) {
	dev, port, err := parseIdentifier("mlx5_1:2")
	require.NoError(t, err)
	require.Equal(t, "mlx5_1", dev)
	require.EqualValues(t, 2, port)
}

func TestParseIdentifierRejectsBadPort(t *testing.T) {
	_, _, err := parseIdentifier("mlx5_0:nope")
	require.Error(t, err)
}

func TestParseIdentifierEmptyDefaultsDeviceAndPort(t *testing.T) {
	dev, port, err := parseIdentifier("")
	require.NoError(t, err)
	require.Empty(t, dev)
	require.EqualValues(t, 1, port)
}

func TestClampRdAtomicRespectsDeviceMax(t *testing.T) {
	require.EqualValues(t, 4, clampRdAtomic(16, 4))
	require.EqualValues(t, 2, clampRdAtomic(2, 4))
	require.EqualValues(t, 0, clampRdAtomic(5, 0))
}

func TestRandomPSNStaysWithin24Bits(t *testing.T) {
	for i := 0; i < 32; i++ {
		psn, err := randomPSN()
		require.NoError(t, err)
		require.Less(t, psn, uint32(1<<24))
	}
}
