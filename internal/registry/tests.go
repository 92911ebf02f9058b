package registry

import (
	"qperf/internal/rdmatest"
	"qperf/internal/sockdrv"
)

func init() {
	var idx uint16

	next := func() uint16 {
		i := idx
		idx++
		return i
	}

	// Stream sockets: TCP and SDP share the same driver, since both expose
	// a net.Conn (spec.md Section 4.6).
	for _, proto := range []string{"tcp", "sdp"} {
		register(Entry{
			Name:  proto + "_bw",
			Index: next(),
			ClientFn: func(s *Session) error {
				sockdrv.BandwidthSend(s.Conn, s.MsgSize, s.Finished, s.Block)
				return nil
			},
			ServerFn: func(s *Session) error {
				sockdrv.BandwidthRecv(s.Conn, s.MsgSize, s.Finished, s.Block)
				return nil
			},
		})
		register(Entry{
			Name:  proto + "_lat",
			Index: next(),
			ClientFn: func(s *Session) error {
				sockdrv.PingPongClient(s.Conn, s.MsgSize, s.Finished, s.Block)
				return nil
			},
			ServerFn: func(s *Session) error {
				sockdrv.PingPongServer(s.Conn, s.MsgSize, s.Finished, s.Block)
				return nil
			},
		})
	}

	// Datagram sockets: UDP and RDS share the packet-conn driver.
	for _, proto := range []string{"udp", "rds"} {
		register(Entry{
			Name:  proto + "_bw",
			Index: next(),
			ClientFn: func(s *Session) error {
				sockdrv.BandwidthSendDgram(s.PacketConn, s.PeerAddr, s.MsgSize, s.Finished, s.Block)
				return nil
			},
			ServerFn: func(s *Session) error {
				sockdrv.BandwidthRecvDgram(s.PacketConn, s.MsgSize, s.Finished, s.Block)
				return nil
			},
		})
		register(Entry{
			Name:  proto + "_lat",
			Index: next(),
			ClientFn: func(s *Session) error {
				sockdrv.LatencyClientDgram(s.PacketConn, s.PeerAddr, s.MsgSize, s.Finished, s.Block)
				return nil
			},
			ServerFn: func(s *Session) error {
				sockdrv.LatencyServerDgram(s.PacketConn, s.MsgSize, s.Finished, s.Block)
				return nil
			},
		})
	}

	// RDMA transports: RC, UC, UD. Bandwidth, bidirectional bandwidth and
	// ping-pong latency are common to all three (spec.md Section 4.8); RDMA
	// write/read and atomics only make sense on RC/UC (UD has no remote
	// addressing).
	for _, transport := range []string{"rc", "uc", "ud"} {
		register(Entry{
			Name:  transport + "_bw",
			Index: next(),
			ClientFn: func(s *Session) error {
				return rdmatest.SendBandwidthClient(s.RDMA, s.MsgSize, s.NoMsgsCap, s.Finished, s.Block)
			},
			ServerFn: func(s *Session) error {
				return rdmatest.RecvBandwidthServer(s.RDMA, s.MsgSize, s.AccessRecv, s.Finished, s.Block)
			},
		})
		register(Entry{
			Name:  transport + "_bi_bw",
			Index: next(),
			ClientFn: func(s *Session) error {
				return rdmatest.BidirectionalBandwidth(s.RDMA, s.MsgSize, s.Finished, s.Block)
			},
			ServerFn: func(s *Session) error {
				return rdmatest.BidirectionalBandwidth(s.RDMA, s.MsgSize, s.Finished, s.Block)
			},
		})
		register(Entry{
			Name:  transport + "_lat",
			Index: next(),
			ClientFn: func(s *Session) error {
				return rdmatest.PingPongLatency(s.RDMA, s.MsgSize, true, s.Finished, s.Block)
			},
			ServerFn: func(s *Session) error {
				return rdmatest.PingPongLatency(s.RDMA, s.MsgSize, false, s.Finished, s.Block)
			},
		})

		if transport == "ud" {
			continue
		}

		register(Entry{
			Name:  transport + "_rdma_write_lat",
			Index: next(),
			// RDMAWritePollLatency is symmetric: both sides RDMA-write a
			// marker into the peer's buffer and spin-read their own, so the
			// server is not a passive target here (spec.md Section 4.8's
			// scenario 4: "client and server flip a marker byte until the
			// alarm fires; server reports a positive recv.msgs").
			ClientFn: func(s *Session) error {
				return rdmatest.RDMAWritePollLatency(s.RDMA, s.Finished, s.Block)
			},
			ServerFn: func(s *Session) error {
				return rdmatest.RDMAWritePollLatency(s.RDMA, s.Finished, s.Block)
			},
		})
		register(Entry{
			Name:  transport + "_rdma_read_lat",
			Index: next(),
			ClientFn: func(s *Session) error {
				return rdmatest.ReadClient(s.RDMA, s.MsgSize, 1, s.Finished, s.Block)
			},
			ServerFn: func(s *Session) error {
				rdmatest.ServerNop(s.Finished)
				return nil
			},
		})
		register(Entry{
			Name:  transport + "_rdma_read_bw",
			Index: next(),
			ClientFn: func(s *Session) error {
				return rdmatest.ReadClient(s.RDMA, s.MsgSize, s.NoMsgsCap, s.Finished, s.Block)
			},
			ServerFn: func(s *Session) error {
				rdmatest.ServerNop(s.Finished)
				return nil
			},
		})
		register(Entry{
			Name:  transport + "_fetch_add_mr",
			Index: next(),
			ClientFn: func(s *Session) error {
				return rdmatest.AtomicRate(s.RDMA, rdmatest.AtomicFetchAdd, int(s.RDMA.MaxRdAtomic()), s.Verify, s.Finished, s.Block)
			},
			ServerFn: func(s *Session) error {
				rdmatest.ServerNop(s.Finished)
				return nil
			},
		})
		register(Entry{
			Name:  transport + "_compare_swap_mr",
			Index: next(),
			ClientFn: func(s *Session) error {
				return rdmatest.AtomicRate(s.RDMA, rdmatest.AtomicCompareSwap, int(s.RDMA.MaxRdAtomic()), s.Verify, s.Finished, s.Block)
			},
			ServerFn: func(s *Session) error {
				rdmatest.ServerNop(s.Finished)
				return nil
			},
		})
	}
}
