package rdmatest

import (
	"encoding/binary"
	"fmt"

	"qperf/internal/clock"
	"qperf/internal/rdma"
	"qperf/internal/rdma/verbs"
	"qperf/internal/stats"
)

// AtomicOp selects fetch-add or compare-swap (spec.md Section 4.8,
// "Atomic messaging rate").
type AtomicOp int

const (
	AtomicFetchAdd AtomicOp = iota
	AtomicCompareSwap
)

// atomicSlot is one outstanding atomic operation's remembered pre-image,
// needed by verification mode to check the returned "old value" against
// what this slot expects (spec.md Section 4.8).
type atomicSlot struct {
	expectedOld uint64
}

// casSeed is the documented starting value for the compare-swap
// verification sequence (spec.md Section 8, "Verification atomic tests"):
// each slot's counter starts here and increments by 1 per completed swap.
const casSeed = 0x0123456789abcdef

// AtomicRate issues rdAtomic concurrent signaled atomic operations and
// reposts a replacement on every completion (spec.md Section 4.8: "client
// issues rd_atomic concurrent signaled fetch-add / compare-swap
// operations; on each completion, post a replacement"). Each of the
// rdAtomic concurrent operations targets its own 8-byte local and remote
// slot (rdma.Options.AtomicSlots reserves the room), since pipelining
// several atomics against one shared 8 bytes would race both on the wire
// and in the local result buffer. When verify is true, a returned old
// value that disagrees with the slot's remembered expectation is a fatal
// test error, matching "mismatch is a fatal test error".
func AtomicRate(dev *rdma.Device, op AtomicOp, rdAtomic int, verify bool, fin *clock.Finished, block *stats.Block) error {
	if rdAtomic <= 0 {
		rdAtomic = 1
	}
	buf := dev.Buffer()
	if slotCap := len(buf) / 8; slotCap < rdAtomic {
		if slotCap == 0 {
			return fmt.Errorf("rdmatest: atomic buffer must be at least 8 bytes")
		}
		rdAtomic = slotCap
	}
	slots := make([]atomicSlot, rdAtomic)

	opcode := verbs.OpAtomicFetchAdd
	if op == AtomicCompareSwap {
		opcode = verbs.OpAtomicCmpSwap
		for i := range slots {
			slots[i].expectedOld = casSeed
		}
		if err := primeCompareSwapSlots(dev, buf, rdAtomic, fin); err != nil {
			return err
		}
	}

	post := func(slot int) error {
		off := slot * 8
		wr := verbs.SendWR{
			WRID:       wrRDMA,
			Opcode:     opcode,
			Buf:        buf[off : off+8],
			LKey:       dev.LKey(),
			RemoteAddr: dev.Remote.VAddr + uint64(off),
			RKey:       dev.Remote.RKey,
			CompareAdd: 1,
		}
		if op == AtomicCompareSwap {
			wr.CompareAdd = slots[slot].expectedOld
			wr.SwapValue = slots[slot].expectedOld + 1
		}
		return dev.QP().PostSend(wr)
	}

	// The completion queue for a single QP delivers completions in post
	// order, so a FIFO of slot indices (rather than the shared wrRDMA work
	// request id) is what disambiguates which of the rdAtomic concurrent
	// operations each completion belongs to.
	pending := make([]int, 0, rdAtomic)
	for i := 0; i < rdAtomic; i++ {
		if err := post(i); err != nil {
			return err
		}
		pending = append(pending, i)
	}

	outstanding := rdAtomic
	for !fin.IsSet() {
		wcs, err := pollCompletions(dev, fin, outstanding, block)
		if err != nil {
			block.IncErrs(stats.RoleLocalSend)
			continue
		}
		for _, wc := range wcs {
			if wc.WRID != wrRDMA {
				continue
			}
			if len(pending) == 0 {
				continue
			}
			slot := pending[0]
			pending = pending[1:]
			if !wc.Success() {
				block.IncErrs(stats.RoleLocalSend)
				continue
			}
			block.IncMsgs(stats.RoleLocalSend)
			// Atomic ops pull/modify the peer's memory without the peer
			// posting anything of its own, so the local side also credits
			// a synthetic remote-send observation (spec.md Section 4.5:
			// "For RDMA read and atomic operations the local side ALSO
			// credits rem_s"), mirroring ReadClient.
			block.AddBytes(stats.RoleRemoteSend, 8)
			block.IncMsgs(stats.RoleRemoteSend)

			off := slot * 8
			old := binary.BigEndian.Uint64(buf[off : off+8])
			if verify {
				if old != slots[slot].expectedOld {
					return fmt.Errorf("rdmatest: atomic verify mismatch: got %d want %d", old, slots[slot].expectedOld)
				}
			}
			slots[slot].expectedOld = old + 1
			if fin.IsSet() {
				continue
			}
			if err := post(slot); err != nil {
				block.IncErrs(stats.RoleLocalSend)
				continue
			}
			pending = append(pending, slot)
		}
	}
	return nil
}

// primeCompareSwapSlots RDMA-writes casSeed into every slot's remote
// counter before the compare-swap loop starts, so the first swap against
// each slot sees the documented starting value instead of whatever
// arbitrary content the remote buffer held (spec.md Section 8).
func primeCompareSwapSlots(dev *rdma.Device, buf []byte, rdAtomic int, fin *clock.Finished) error {
	for i := 0; i < rdAtomic; i++ {
		binary.BigEndian.PutUint64(buf[i*8:i*8+8], casSeed)
	}
	region := rdAtomic * 8
	if err := dev.QP().PostSend(verbs.SendWR{
		WRID:       wrRDMA,
		Opcode:     verbs.OpRDMAWrite,
		Buf:        buf[:region],
		LKey:       dev.LKey(),
		RemoteAddr: dev.Remote.VAddr,
		RKey:       dev.Remote.RKey,
	}); err != nil {
		return fmt.Errorf("rdmatest: atomic prime: %w", err)
	}
	for {
		wcs, err := dev.CQ().PollCQ(1)
		if err != nil {
			return fmt.Errorf("rdmatest: atomic prime: %w", err)
		}
		for _, wc := range wcs {
			if wc.WRID == wrRDMA {
				if !wc.Success() {
					return fmt.Errorf("rdmatest: atomic prime: completion status %v", wc.Status)
				}
				return nil
			}
		}
		if fin.IsSet() {
			return fmt.Errorf("rdmatest: atomic prime: cancelled before completion")
		}
	}
}
