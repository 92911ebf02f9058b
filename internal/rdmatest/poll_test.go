package rdmatest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldInlineThreshold(t *testing.T) {
	require.True(t, shouldInline(64, 64))
	require.True(t, shouldInline(32, 64))
	require.False(t, shouldInline(128, 64))
	require.False(t, shouldInline(1, 0))
}

func TestDoneMaskCombinesBothDirections(t *testing.T) {
	done := 0
	done |= doneOutbound
	require.NotEqual(t, doneBoth, done)
	done |= doneInbound
	require.Equal(t, doneBoth, done)
}

func TestCasSeedMatchesDocumentedStartingValue(t *testing.T) {
	require.EqualValues(t, 0x0123456789abcdef, casSeed)
}
