package sockdrv

import (
	"net"
	"time"

	"qperf/internal/clock"
	"qperf/internal/stats"
)

// SendFull writes buf to conn in full, looping over short writes until
// every byte is sent or fin becomes set (spec.md Section 4.6: "send_full
// ... call[s] the underlying stream I/O repeatedly until the full message
// size has been transferred, returning early if finished becomes set").
// It reports the number of bytes actually written.
//
// Each Write is bounded by clock.PollInterval so the alarm can actually
// wake a blocked call -- net.Conn has no signal-interrupt, so a deadline
// timeout is this codebase's stand-in for EINTR (clock.Classify).
func SendFull(conn net.Conn, buf []byte, fin *clock.Finished) (int, error) {
	total := 0
	for total < len(buf) {
		if fin.IsSet() {
			return total, nil
		}
		_ = conn.SetWriteDeadline(time.Now().Add(clock.PollInterval))
		n, err := conn.Write(buf[total:])
		outcome, progressed := clock.Classify(n, err, fin)
		switch outcome {
		case clock.OutcomeFatal:
			return total, err
		case clock.OutcomeNoProgress:
			return total, nil
		case clock.OutcomeProgress:
			total += progressed
		}
	}
	return total, nil
}

// RecvFull reads len(buf) bytes from conn in full, the mirror of SendFull.
// A zero-byte read is interpreted as end-of-file and sets fin (spec.md
// Section 4.6).
func RecvFull(conn net.Conn, buf []byte, fin *clock.Finished) (int, error) {
	total := 0
	for total < len(buf) {
		if fin.IsSet() {
			return total, nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(clock.PollInterval))
		n, err := conn.Read(buf[total:])
		if err == nil && n == 0 {
			fin.Set()
			return total, nil
		}
		outcome, progressed := clock.Classify(n, err, fin)
		switch outcome {
		case clock.OutcomeFatal:
			return total, err
		case clock.OutcomeNoProgress:
			return total, nil
		case clock.OutcomeProgress:
			total += progressed
		}
	}
	return total, nil
}

// BandwidthSend runs the stream bandwidth client/sender side: repeatedly
// SendFull a fixed-size message until fin becomes set, accounting every
// complete send (spec.md Section 4.6, 4.8-style bandwidth loops applied to
// sockets).
func BandwidthSend(conn net.Conn, msgSize int, fin *clock.Finished, block *stats.Block) {
	buf := make([]byte, msgSize)
	for !fin.IsSet() {
		n, err := SendFull(conn, buf, fin)
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

// BandwidthRecv runs the stream bandwidth server/receiver side.
func BandwidthRecv(conn net.Conn, msgSize int, fin *clock.Finished, block *stats.Block) {
	buf := make([]byte, msgSize)
	for !fin.IsSet() {
		n, err := RecvFull(conn, buf, fin)
		if err != nil {
			block.IncErrs(stats.RoleLocalRecv)
			continue
		}
		if n == msgSize {
			block.AddBytes(stats.RoleLocalRecv, uint64(n))
			block.IncMsgs(stats.RoleLocalRecv)
		}
	}
}

// PingPongClient drives the stream latency client side: send one message,
// wait for the echo, repeat until fin is set (spec.md Section 4.6's
// "latency variants additionally record paired send+receive counts per
// iteration").
func PingPongClient(conn net.Conn, msgSize int, fin *clock.Finished, block *stats.Block) {
	out := make([]byte, msgSize)
	in := make([]byte, msgSize)
	for !fin.IsSet() {
		if n, err := SendFull(conn, out, fin); err != nil {
			block.IncErrs(stats.RoleLocalSend)
			continue
		} else if n != msgSize {
			continue
		}
		block.AddBytes(stats.RoleLocalSend, uint64(msgSize))
		block.IncMsgs(stats.RoleLocalSend)

		n, err := RecvFull(conn, in, fin)
		if err != nil {
			block.IncErrs(stats.RoleLocalRecv)
			continue
		}
		if n == msgSize {
			block.AddBytes(stats.RoleLocalRecv, uint64(n))
			block.IncMsgs(stats.RoleLocalRecv)
		}
	}
}

// PingPongServer drives the stream latency server side: receive a message
// then immediately echo it back.
func PingPongServer(conn net.Conn, msgSize int, fin *clock.Finished, block *stats.Block) {
	buf := make([]byte, msgSize)
	for !fin.IsSet() {
		n, err := RecvFull(conn, buf, fin)
		if err != nil {
			block.IncErrs(stats.RoleLocalRecv)
			continue
		}
		if n != msgSize {
			continue
		}
		block.AddBytes(stats.RoleLocalRecv, uint64(n))
		block.IncMsgs(stats.RoleLocalRecv)

		if n, err := SendFull(conn, buf, fin); err != nil {
			block.IncErrs(stats.RoleLocalSend)
		} else if n == msgSize {
			block.AddBytes(stats.RoleLocalSend, uint64(n))
			block.IncMsgs(stats.RoleLocalSend)
		}
	}
}
