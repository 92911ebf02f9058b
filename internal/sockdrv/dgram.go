package sockdrv

import (
	"net"
	"time"

	"qperf/internal/clock"
	"qperf/internal/stats"
)

// sendOneDatagram writes buf as a single datagram. spec.md Section 9's
// resolved Open Question standardizes on "bytes returned equals bytes
// requested" as the success criterion for datagram sockets (some original
// drivers instead counted only negative returns as errors; this codebase
// always compares n against len(buf)).
//
// The write deadline bounds the call to clock.PollInterval so a blocked
// send wakes up to re-check fin the same way EINTR would (clock.Classify
// treats the resulting timeout the same way).
func sendOneDatagram(conn net.PacketConn, addr net.Addr, buf []byte, fin *clock.Finished) (int, error) {
	_ = conn.SetWriteDeadline(time.Now().Add(clock.PollInterval))
	n, err := conn.WriteTo(buf, addr)
	outcome, progressed := clock.Classify(n, err, fin)
	if outcome == clock.OutcomeFatal {
		return 0, err
	}
	return progressed, nil
}

func recvOneDatagram(conn net.PacketConn, buf []byte, fin *clock.Finished) (int, net.Addr, error) {
	_ = conn.SetReadDeadline(time.Now().Add(clock.PollInterval))
	n, addr, err := conn.ReadFrom(buf)
	outcome, progressed := clock.Classify(n, err, fin)
	if outcome == clock.OutcomeFatal {
		return 0, nil, err
	}
	return progressed, addr, nil
}

// BandwidthSend is the datagram bandwidth sender loop: fire datagrams at
// addr until fin is set, without waiting for acknowledgement (spec.md
// Section 4.6: "Datagram send/receive without fragmentation").
func BandwidthSendDgram(conn net.PacketConn, addr net.Addr, msgSize int, fin *clock.Finished, block *stats.Block) {
	buf := make([]byte, msgSize)
	for !fin.IsSet() {
		n, err := sendOneDatagram(conn, addr, buf, fin)
		if err != nil {
			block.IncErrs(stats.RoleLocalSend)
			continue
		}
		if n == 0 {
			continue // EINTR-under-finished or short-write skip
		}
		if n != msgSize {
			block.IncErrs(stats.RoleLocalSend)
			continue
		}
		block.AddBytes(stats.RoleLocalSend, uint64(n))
		block.IncMsgs(stats.RoleLocalSend)
	}
}

// BandwidthRecvDgram is the datagram bandwidth receiver loop.
func BandwidthRecvDgram(conn net.PacketConn, msgSize int, fin *clock.Finished, block *stats.Block) {
	buf := make([]byte, msgSize)
	for !fin.IsSet() {
		n, _, err := recvOneDatagram(conn, buf, fin)
		if err != nil {
			block.IncErrs(stats.RoleLocalRecv)
			continue
		}
		if n == 0 {
			continue
		}
		if n != msgSize {
			block.IncErrs(stats.RoleLocalRecv)
			continue
		}
		block.AddBytes(stats.RoleLocalRecv, uint64(n))
		block.IncMsgs(stats.RoleLocalRecv)
	}
}

// LatencyClientDgram drives the datagram ping-pong client: send then wait
// for the echo (spec.md Section 4.6: "the latency variant echoes to the
// source address of the most recent datagram").
func LatencyClientDgram(conn net.PacketConn, addr net.Addr, msgSize int, fin *clock.Finished, block *stats.Block) {
	out := make([]byte, msgSize)
	in := make([]byte, msgSize)
	for !fin.IsSet() {
		n, err := sendOneDatagram(conn, addr, out, fin)
		if err != nil {
			block.IncErrs(stats.RoleLocalSend)
			continue
		}
		if n != msgSize {
			continue
		}
		block.AddBytes(stats.RoleLocalSend, uint64(n))
		block.IncMsgs(stats.RoleLocalSend)

		n, _, err = recvOneDatagram(conn, in, fin)
		if err != nil {
			block.IncErrs(stats.RoleLocalRecv)
			continue
		}
		if n != msgSize {
			continue
		}
		block.AddBytes(stats.RoleLocalRecv, uint64(n))
		block.IncMsgs(stats.RoleLocalRecv)
	}
}

// LatencyServerDgram drives the datagram ping-pong server: receive, then
// echo the datagram back to its source address.
func LatencyServerDgram(conn net.PacketConn, msgSize int, fin *clock.Finished, block *stats.Block) {
	buf := make([]byte, msgSize)
	for !fin.IsSet() {
		n, src, err := recvOneDatagram(conn, buf, fin)
		if err != nil {
			block.IncErrs(stats.RoleLocalRecv)
			continue
		}
		if n != msgSize || src == nil {
			continue
		}
		block.AddBytes(stats.RoleLocalRecv, uint64(n))
		block.IncMsgs(stats.RoleLocalRecv)

		n, err = sendOneDatagram(conn, src, buf[:n], fin)
		if err != nil {
			block.IncErrs(stats.RoleLocalSend)
			continue
		}
		if n == msgSize {
			block.AddBytes(stats.RoleLocalSend, uint64(n))
			block.IncMsgs(stats.RoleLocalSend)
		}
	}
}
