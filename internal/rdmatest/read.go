package rdmatest

import (
	"runtime"

	"qperf/internal/clock"
	"qperf/internal/rdma"
	"qperf/internal/rdma/verbs"
	"qperf/internal/stats"
)

// ReadClient issues RDMA reads against the peer's registered buffer and
// accounts both local receive bytes and a synthetic remote-send credit,
// since the passive server never posts anything of its own to count
// (spec.md Section 4.8, "RDMA read latency/bandwidth (client)").
func ReadClient(dev *rdma.Device, msgSize int, noMsgsCap uint64, fin *clock.Finished, block *stats.Block) error {
	post := func() error {
		return dev.QP().PostSend(verbs.SendWR{
			WRID:       wrRDMA,
			Opcode:     verbs.OpRDMARead,
			Buf:        dev.Buffer()[:msgSize],
			LKey:       dev.LKey(),
			RemoteAddr: dev.Remote.VAddr,
			RKey:       dev.Remote.RKey,
		})
	}

	outstanding := 0
	for i := 0; i < NCQE; i++ {
		if err := post(); err != nil {
			return err
		}
		outstanding++
	}

	var completed uint64
	for !fin.IsSet() {
		if noMsgsCap > 0 && completed >= noMsgsCap {
			return nil
		}
		wcs, err := pollCompletions(dev, fin, outstanding, block)
		if err != nil {
			block.IncErrs(stats.RoleLocalRecv)
			continue
		}
		for _, wc := range wcs {
			if wc.WRID != wrRDMA {
				continue
			}
			outstanding--
			if !wc.Success() {
				block.IncErrs(stats.RoleLocalRecv)
				continue
			}
			block.AddBytes(stats.RoleLocalRecv, uint64(msgSize))
			block.IncMsgs(stats.RoleLocalRecv)
			block.AddBytes(stats.RoleRemoteSend, uint64(msgSize))
			block.IncMsgs(stats.RoleRemoteSend)
			completed++
			if fin.IsSet() || (noMsgsCap > 0 && completed >= noMsgsCap) {
				continue
			}
			if err := post(); err != nil {
				block.IncErrs(stats.RoleLocalRecv)
				continue
			}
			outstanding++
		}
	}
	return nil
}

// ServerNop is the passive target side of the RDMA read test: it arms
// nothing and simply pauses until fin is set (spec.md Section 4.8,
// "server_nop -- arms nothing, just pauses until finished").
func ServerNop(fin *clock.Finished) {
	for !fin.IsSet() {
		runtime.Gosched()
	}
}
