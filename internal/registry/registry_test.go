package registry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"qperf/internal/registry"
)

func TestLookupKnownTests(t *testing.T) {
	for _, name := range []string{"tcp_bw", "udp_lat", "rc_rdma_read_lat", "ud_bi_bw", "uc_compare_swap_mr"} {
		e, err := registry.Lookup(name)
		require.NoError(t, err, name)
		require.Equal(t, name, e.Name)
		require.NotNil(t, e.ClientFn)
		require.NotNil(t, e.ServerFn)
	}
}

func TestLookupUnknownTestErrors(t *testing.T) {
	_, err := registry.Lookup("not_a_real_test")
	require.Error(t, err)
}

func TestLookupIndexRoundTripsWithLookup(t *testing.T) {
	e, err := registry.Lookup("tcp_bw")
	require.NoError(t, err)

	byIdx, err := registry.LookupIndex(e.Index)
	require.NoError(t, err)
	require.Equal(t, e.Name, byIdx.Name)
}

func TestUDHasNoRDMAWriteVariant(t *testing.T) {
	_, err := registry.Lookup("ud_rdma_write_lat")
	require.Error(t, err)
}

func TestNamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, n := range registry.Names() {
		require.False(t, seen[n], "duplicate test name %s", n)
		seen[n] = true
	}
}
