package rdmatest

import (
	"qperf/internal/clock"
	"qperf/internal/rdma"
	"qperf/internal/rdma/verbs"
	"qperf/internal/stats"
)

const (
	doneOutbound = 1 << 0
	doneInbound  = 1 << 1
	doneBoth     = doneOutbound | doneInbound
)

// PingPongLatency drives the two-sided send/receive latency loop usable on
// RC, UC and UD alike (spec.md Section 4.8, "Ping-pong latency"). Each
// side keeps one receive and one send outstanding; isClient controls only
// which side fires the very first message.
func PingPongLatency(dev *rdma.Device, msgSize int, isClient bool, fin *clock.Finished, block *stats.Block) error {
	if err := postRecv(dev, msgSize); err != nil {
		return err
	}
	if isClient {
		if err := postSend(dev, msgSize); err != nil {
			return err
		}
	}

	done := 0
	for !fin.IsSet() {
		wcs, err := pollCompletions(dev, fin, 2, block)
		if err != nil {
			continue
		}
		for _, wc := range wcs {
			switch wc.WRID {
			case wrSend:
				if wc.Success() {
					block.AddBytes(stats.RoleLocalSend, uint64(msgSize))
					block.IncMsgs(stats.RoleLocalSend)
					done |= doneOutbound
				} else {
					block.IncErrs(stats.RoleLocalSend)
				}
			case wrRecv:
				if wc.Success() {
					block.AddBytes(stats.RoleLocalRecv, uint64(wc.ByteLen))
					block.IncMsgs(stats.RoleLocalRecv)
					done |= doneInbound
				} else {
					block.IncErrs(stats.RoleLocalRecv)
				}
			}
		}
		if done == doneBoth && !fin.IsSet() {
			done = 0
			if err := postRecv(dev, msgSize); err != nil {
				return err
			}
			if err := postSend(dev, msgSize); err != nil {
				return err
			}
		}
	}
	return nil
}

// RDMAWritePollLatency is the single-sided write-poll latency test: the
// sender RDMA-writes a one-byte marker to the first and last byte of the
// remote buffer, then spin-reads its own buffer for the peer's marker.
// Polling goes directly against the CQ, never through completion events,
// because that is how sub-microsecond deltas get measured (spec.md
// Section 4.8).
//
// dev.Buffer() holds two disjoint regions of MsgSize bytes each
// (rdma.Options.BufRegions = 2): region 0 is what the peer's RDMA write
// lands into, and the region this side spin-polls; region 1 is this
// side's own write source. Both sides write to the peer's region 0 (at
// dev.Remote.VAddr, offset 0), so the write source and the spin target
// never alias -- aliasing them would make every iteration observe its
// own write instead of the peer's.
func RDMAWritePollLatency(dev *rdma.Device, fin *clock.Finished, block *stats.Block) error {
	msgSize := int(dev.MsgSize())
	poll := dev.Buffer()[:msgSize]
	src := dev.Buffer()[msgSize : 2*msgSize]

	marker := byte(1)
	for !fin.IsSet() {
		if err := writeMarker(dev, src, marker); err != nil {
			block.IncErrs(stats.RoleLocalSend)
			continue
		}
		wcs, err := dev.CQ().PollCQ(1)
		if err != nil {
			block.IncErrs(stats.RoleLocalSend)
			continue
		}
		for _, wc := range wcs {
			if wc.WRID == wrRDMA && wc.Success() {
				block.IncMsgs(stats.RoleLocalSend)
			}
		}

		for !fin.IsSet() {
			last := poll[0]
			if len(poll) > 1 {
				last = poll[len(poll)-1]
			}
			if last == marker {
				block.IncMsgs(stats.RoleLocalRecv)
				break
			}
		}
		marker++
	}
	return nil
}

// writeMarker RDMA-writes marker into the first and last byte of src (this
// side's write-source region) and posts src as the write's payload,
// landing at offset 0 of the peer's registered buffer -- the peer's own
// poll region.
func writeMarker(dev *rdma.Device, src []byte, marker byte) error {
	src[0] = marker
	if n := len(src); n > 1 {
		src[n-1] = marker
	}
	return dev.QP().PostSend(verbs.SendWR{
		WRID:       wrRDMA,
		Opcode:     verbs.OpRDMAWrite,
		Buf:        src,
		LKey:       dev.LKey(),
		RemoteAddr: dev.Remote.VAddr,
		RKey:       dev.Remote.RKey,
	})
}
