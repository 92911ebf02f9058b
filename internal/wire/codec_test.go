package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"qperf/internal/wire"
)

func TestRoundTripUint(t *testing.T) {
	for _, n := range []int{1, 2, 4, 8} {
		var max uint64 = 1<<(uint(n)*8) - 1
		for _, v := range []uint64{0, 1, max, max / 2} {
			buf := make([]byte, n)
			wire.NewEncoder(buf).PutUint(v, n)
			got := wire.NewDecoder(buf).Uint(n)
			require.Equal(t, v, got, "width %d value %d", n, v)
		}
	}
}

func TestRoundTripString(t *testing.T) {
	cases := []struct {
		s string
		n int
	}{
		{"", 8},
		{"ib0", 64},
		{"exactly8", 8},
		{"this-string-is-longer-than-the-field-width", 16},
	}
	for _, c := range cases {
		buf := make([]byte, c.n)
		wire.NewEncoder(buf).PutString(c.s, c.n)
		got := wire.NewDecoder(buf).String(c.n)
		if len(c.s) > c.n-1 {
			require.Equal(t, c.s[:c.n-1], got)
		} else {
			require.Equal(t, c.s, got)
		}
	}
}

func TestDecoderRemainingToleratesMinorDrift(t *testing.T) {
	buf := make([]byte, 12)
	enc := wire.NewEncoder(buf)
	enc.PutUint(0xAA, 4)
	enc.PutUint(0xBB, 4)
	// 4 trailing bytes represent a field added by a later minor version.
	dec := wire.NewDecoder(buf)
	require.Equal(t, uint64(0xAA), dec.Uint(4))
	require.Equal(t, uint64(0xBB), dec.Uint(4))
	require.Equal(t, 4, dec.Remaining())
}
