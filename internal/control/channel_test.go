package control_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"qperf/internal/control"
	"qperf/internal/wire"
)

func pipeChannels(t *testing.T) (client, server *control.Channel) {
	t.Helper()
	c, s := net.Pipe()
	t.Cleanup(func() {
		_ = c.Close()
		_ = s.Close()
	})
	return control.New(c), control.New(s)
}

func TestRequestRoundTripOverChannel(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, server := pipeChannels(t)

	req := wire.Request{Version: wire.Version{Major: 1}, TestIndex: 3, Identifier: "mlx5_0:1", Rate: "40_gb_sec"}

	errc := make(chan error, 1)
	go func() { errc <- client.SendRequest(req) }()

	got, err := server.RecvRequest(wire.Version{Major: 1})
	require.NoError(t, err)
	require.NoError(t, <-errc)
	require.Equal(t, req, got)
}

func TestRecvRequestRejectsMajorMismatch(t *testing.T) {
	client, server := pipeChannels(t)

	req := wire.Request{Version: wire.Version{Major: 9}}
	go func() { _ = client.SendRequest(req) }()

	_, err := server.RecvRequest(wire.Version{Major: 1})
	require.ErrorIs(t, err, wire.ErrMajorVersionMismatch)
}

func TestSynchronizeBothSidesProceed(t *testing.T) {
	client, server := pipeChannels(t)

	var clientOK, serverOK bool
	done := make(chan struct{})
	go func() {
		var err error
		clientOK, err = client.Synchronize()
		require.NoError(t, err)
		close(done)
	}()

	var err error
	serverOK, err = server.Synchronize()
	require.NoError(t, err)
	<-done

	require.True(t, clientOK)
	require.True(t, serverOK)
}

func TestSynchronizeFailsCleanlyWhenPeerCloses(t *testing.T) {
	c, s := net.Pipe()
	require.NoError(t, c.Close())

	ch := control.New(s)
	ok, err := ch.Synchronize()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExchangeResultsIsSymmetric(t *testing.T) {
	client, server := pipeChannels(t)

	var clientStats, serverStats wire.StatsBlock
	clientStats.Roles[wire.RoleLocalSend] = wire.RoleCounters{Bytes: 100, Msgs: 1}
	serverStats.Roles[wire.RoleLocalRecv] = wire.RoleCounters{Bytes: 100, Msgs: 1}

	type result struct {
		peer wire.StatsBlock
		err  error
	}
	clientResult := make(chan result, 1)
	go func() {
		peer, err := client.ExchangeResults(clientStats)
		clientResult <- result{peer, err}
	}()

	peerFromClient, err := server.ExchangeResults(serverStats)
	require.NoError(t, err)
	r := <-clientResult
	require.NoError(t, r.err)

	require.Equal(t, clientStats, peerFromClient)
	require.Equal(t, serverStats, r.peer)
}
