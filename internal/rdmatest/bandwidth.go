package rdmatest

import (
	"qperf/internal/clock"
	"qperf/internal/rdma"
	"qperf/internal/rdma/verbs"
	"qperf/internal/stats"
)

func postSend(dev *rdma.Device, msgSize int) error {
	return dev.QP().PostSend(verbs.SendWR{
		WRID:   wrSend,
		Opcode: verbs.OpSend,
		Buf:    dev.Buffer()[:msgSize],
		LKey:   dev.LKey(),
		Inline: shouldInline(msgSize, dev.MaxInlineData()),
		AH:     dev.AH(),
		DestQPN: dev.Remote.QPN,
	})
}

func postRecv(dev *rdma.Device, msgSize int) error {
	return dev.QP().PostRecv(verbs.RecvWR{
		WRID: wrRecv,
		Buf:  dev.Buffer()[:msgSize],
		LKey: dev.LKey(),
	})
}

// SendBandwidthClient primes the send queue with NCQE signaled sends, then
// reposts one send per completed one, stopping when fin fires or noMsgsCap
// (0 meaning unlimited) is reached (spec.md Section 4.8, "Send/receive
// bandwidth (client)").
func SendBandwidthClient(dev *rdma.Device, msgSize int, noMsgsCap uint64, fin *clock.Finished, block *stats.Block) error {
	outstanding := 0
	for i := 0; i < NCQE; i++ {
		if err := postSend(dev, msgSize); err != nil {
			return err
		}
		outstanding++
	}

	var sent uint64
	for !fin.IsSet() {
		if noMsgsCap > 0 && sent >= noMsgsCap {
			return nil
		}
		wcs, err := pollCompletions(dev, fin, outstanding, block)
		if err != nil {
			block.IncErrs(stats.RoleLocalSend)
			continue
		}
		for _, wc := range wcs {
			if wc.WRID != wrSend {
				continue
			}
			outstanding--
			if !wc.Success() {
				block.IncErrs(stats.RoleLocalSend)
				continue
			}
			block.AddBytes(stats.RoleLocalSend, uint64(msgSize))
			block.IncMsgs(stats.RoleLocalSend)
			sent++
			if fin.IsSet() || (noMsgsCap > 0 && sent >= noMsgsCap) {
				continue
			}
			if err := postSend(dev, msgSize); err != nil {
				block.IncErrs(stats.RoleLocalSend)
				continue
			}
			outstanding++
		}
	}
	return nil
}

// RecvBandwidthServer primes the receive queue with NCQE receives, then
// reposts one per completion, optionally touching the buffer to pull
// cache-lines when touchOnRecv is set (spec.md Section 4.8, "Send/receive
// bandwidth (server)").
func RecvBandwidthServer(dev *rdma.Device, msgSize int, touchOnRecv bool, fin *clock.Finished, block *stats.Block) error {
	outstanding := 0
	for i := 0; i < NCQE; i++ {
		if err := postRecv(dev, msgSize); err != nil {
			return err
		}
		outstanding++
	}

	buf := dev.Buffer()
	for !fin.IsSet() {
		wcs, err := pollCompletions(dev, fin, outstanding, block)
		if err != nil {
			block.IncErrs(stats.RoleLocalRecv)
			continue
		}
		for _, wc := range wcs {
			if wc.WRID != wrRecv {
				continue
			}
			outstanding--
			if !wc.Success() {
				block.IncErrs(stats.RoleLocalRecv)
				continue
			}
			if touchOnRecv && len(buf) > 0 {
				_ = buf[0]
			}
			block.AddBytes(stats.RoleLocalRecv, uint64(wc.ByteLen))
			block.IncMsgs(stats.RoleLocalRecv)
			if fin.IsSet() {
				continue
			}
			if err := postRecv(dev, msgSize); err != nil {
				block.IncErrs(stats.RoleLocalRecv)
				continue
			}
			outstanding++
		}
	}
	return nil
}

// BidirectionalBandwidth runs both the send and the receive pipelines on
// one queue pair concurrently primed (spec.md Section 4.8, "Bidirectional
// bandwidth": "both sides post NCQE sends AND NCQE receives").
func BidirectionalBandwidth(dev *rdma.Device, msgSize int, fin *clock.Finished, block *stats.Block) error {
	outSend, outRecv := 0, 0
	for i := 0; i < NCQE; i++ {
		if err := postSend(dev, msgSize); err != nil {
			return err
		}
		outSend++
		if err := postRecv(dev, msgSize); err != nil {
			return err
		}
		outRecv++
	}

	for !fin.IsSet() {
		wcs, err := pollCompletions(dev, fin, outSend+outRecv, block)
		if err != nil {
			continue
		}
		for _, wc := range wcs {
			switch wc.WRID {
			case wrSend:
				outSend--
				if wc.Success() {
					block.AddBytes(stats.RoleLocalSend, uint64(msgSize))
					block.IncMsgs(stats.RoleLocalSend)
				} else {
					block.IncErrs(stats.RoleLocalSend)
				}
				if !fin.IsSet() {
					if err := postSend(dev, msgSize); err == nil {
						outSend++
					}
				}
			case wrRecv:
				outRecv--
				if wc.Success() {
					block.AddBytes(stats.RoleLocalRecv, uint64(wc.ByteLen))
					block.IncMsgs(stats.RoleLocalRecv)
				} else {
					block.IncErrs(stats.RoleLocalRecv)
				}
				if !fin.IsSet() {
					if err := postRecv(dev, msgSize); err == nil {
						outRecv++
					}
				}
			}
		}
	}
	return nil
}
