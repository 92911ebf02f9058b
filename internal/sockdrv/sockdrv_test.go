package sockdrv_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qperf/internal/clock"
	"qperf/internal/sockdrv"
	"qperf/internal/stats"
)

func TestTCPBandwidthLoopback(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	var fin clock.Finished
	var serverBlock, clientBlock stats.Block

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := l.Accept()
		require.NoError(t, err)
		defer conn.Close()
		sockdrv.BandwidthRecv(conn, 4096, &fin, &serverBlock)
	}()

	clientConn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	alarm := clock.ArmAlarm(100*time.Millisecond, &fin)
	defer alarm.Stop()
	sockdrv.BandwidthSend(clientConn, 4096, &fin, &clientBlock)
	<-serverDone

	require.Positive(t, clientBlock.Counters(stats.RoleLocalSend).Bytes)
	require.Zero(t, clientBlock.Counters(stats.RoleLocalSend).Errs)
}

func TestTCPPingPongLoopback(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	var fin clock.Finished
	var serverBlock, clientBlock stats.Block

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := l.Accept()
		require.NoError(t, err)
		defer conn.Close()
		sockdrv.PingPongServer(conn, 1, &fin, &serverBlock)
	}()

	clientConn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	alarm := clock.ArmAlarm(100*time.Millisecond, &fin)
	defer alarm.Stop()
	sockdrv.PingPongClient(clientConn, 1, &fin, &clientBlock)
	<-serverDone

	sendMsgs := clientBlock.Counters(stats.RoleLocalSend).Msgs
	recvMsgs := clientBlock.Counters(stats.RoleLocalRecv).Msgs
	require.Positive(t, sendMsgs)
	require.InDelta(t, sendMsgs, recvMsgs, 1)
}

func TestUDPBandwidthLoopback(t *testing.T) {
	serverConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer serverConn.Close()

	clientConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer clientConn.Close()

	var fin clock.Finished
	var serverBlock, clientBlock stats.Block

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		sockdrv.BandwidthRecvDgram(serverConn, 64, &fin, &serverBlock)
	}()

	alarm := clock.ArmAlarm(100*time.Millisecond, &fin)
	defer alarm.Stop()
	sockdrv.BandwidthSendDgram(clientConn, serverConn.LocalAddr(), 64, &fin, &clientBlock)
	<-serverDone

	require.Positive(t, clientBlock.Counters(stats.RoleLocalSend).Msgs)
}
