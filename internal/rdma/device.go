// Package rdma drives one RDMA queue pair through its full lifecycle --
// open, init (connection-context exchange), prepare (RTR/RTS), and
// teardown -- on top of the internal/rdma/verbs cgo binding (spec.md
// Section 4.7).
package rdma

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"qperf/internal/control"
	"qperf/internal/rdma/verbs"
	"qperf/internal/wire"
)

// Transport mirrors verbs.TransportType, re-exported so callers outside
// this package never import internal/rdma/verbs directly.
type Transport = verbs.TransportType

const (
	TransportRC = verbs.TransportRC
	TransportUC = verbs.TransportUC
	TransportUD = verbs.TransportUD
)

// udGRHBytes is the Global Routing Header reservation UD receive buffers
// carry ahead of the payload (spec.md Section 4.7, step 5).
const udGRHBytes = 40

// Options configures Open (spec.md Section 4.7's open() parameter list).
type Options struct {
	Transport  Transport
	Identifier string // "device[:port]", default port 1
	MsgSize    uint32
	MaxSendWR  uint32
	MaxRecvWR  uint32
	MTUBytes   uint32
	PollMode   bool
	RdAtomic   uint32
	AccessRecv bool

	// InlineThreshold becomes the queue pair's max_inline_data; messages at
	// or under it get the INLINE send flag (spec.md Section 4.8).
	InlineThreshold uint32

	// AtomicSlots reserves room for this many concurrent 8-byte atomic
	// targets when non-zero, so AtomicRate's rdAtomic outstanding
	// fetch-add/compare-swap operations each get a distinct local and
	// remote 8-byte slot instead of racing on a shared one.
	AtomicSlots uint32

	// BufRegions reserves this many disjoint MsgSize-sized regions in the
	// registered buffer instead of one. RDMAWritePollLatency needs two:
	// region 0 is what the peer's RDMA write lands into (and what this
	// side spin-polls), region 1 is this side's own write source -- the
	// same memory cannot serve as both, or the spin-read observes its own
	// local write instead of the peer's. Zero is treated as one region.
	BufRegions uint32
}

// Device holds every resource acquired for one test's queue pair, in
// acquisition order, so Close can release them in reverse (spec.md Section
// 4.7's close() ordering and Section 3 Invariant 3).
type Device struct {
	opts Options

	devList *verbs.DeviceList
	ctx     *verbs.Context
	chan_   *verbs.CompChannel
	pd      *verbs.ProtectionDomain
	buf     []byte
	mr      *verbs.MemoryRegion
	cq      *verbs.CompletionQueue
	qp      *verbs.QueuePair
	ah      *verbs.AddressHandle

	portNum    uint8
	mtu        mtuEnum
	maxRdAtomic uint8

	Local  Local
	Remote Remote
}

// Local is the connection context this side exposes once Open completes
// (spec.md Section 4.7, step 8).
type Local struct {
	LID   uint16
	QPN   uint32
	PSN   uint32
	RKey  uint32
	VAddr uint64
}

// Remote is the peer's connection context, filled in by Init.
type Remote struct {
	LID   uint16
	QPN   uint32
	PSN   uint32
	RKey  uint32
	VAddr uint64
}

// Open allocates every queue-pair resource and drives the QP RESET -> INIT
// (spec.md Section 4.7, steps 1-8).
func Open(opts Options) (*Device, error) {
	mtuVal, err := mtuFromBytes(opts.MTUBytes)
	if err != nil {
		return nil, fmt.Errorf("rdma: open: %w", err)
	}
	devName, portNum, err := parseIdentifier(opts.Identifier)
	if err != nil {
		return nil, fmt.Errorf("rdma: open: %w", err)
	}

	devList, err := verbs.GetDeviceList()
	if err != nil {
		return nil, fmt.Errorf("rdma: open: %w", err)
	}
	idx := 0
	if devName != "" {
		idx = -1
		for i := 0; i < devList.Len(); i++ {
			if devList.Name(i) == devName {
				idx = i
				break
			}
		}
		if idx < 0 {
			devList.Free()
			return nil, fmt.Errorf("rdma: open: device %q not found", devName)
		}
	}

	ctx, err := devList.Open(idx)
	if err != nil {
		devList.Free()
		return nil, fmt.Errorf("rdma: open: %w", err)
	}

	d := &Device{opts: opts, devList: devList, ctx: ctx, portNum: portNum, mtu: mtuVal}

	if err := d.allocate(); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.modifyToInit(); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.fillLocalContext(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Device) allocate() error {
	var err error
	if !d.opts.PollMode {
		if d.chan_, err = d.ctx.CreateCompChannel(); err != nil {
			return fmt.Errorf("rdma: comp channel: %w", err)
		}
	}
	if d.pd, err = d.ctx.AllocPD(); err != nil {
		return fmt.Errorf("rdma: alloc pd: %w", err)
	}

	regions := d.opts.BufRegions
	if regions == 0 {
		regions = 1
	}
	bufLen := int(d.opts.MsgSize) * int(regions)
	if atomicLen := int(d.opts.AtomicSlots) * 8; atomicLen > bufLen {
		bufLen = atomicLen
	}
	if d.opts.Transport == TransportUD {
		bufLen += udGRHBytes
	}
	d.buf = make([]byte, bufLen)

	access := verbs.AccessLocalWrite
	if d.opts.AccessRecv || d.opts.Transport != TransportUD {
		access |= verbs.AccessRemoteWrite | verbs.AccessRemoteRead | verbs.AccessRemoteAtomic
	}
	if d.mr, err = d.pd.RegMR(d.buf, access); err != nil {
		return fmt.Errorf("rdma: reg mr: %w", err)
	}

	cqe := int(d.opts.MaxSendWR + d.opts.MaxRecvWR)
	if d.cq, err = d.ctx.CreateCQ(cqe, d.chan_); err != nil {
		return fmt.Errorf("rdma: create cq: %w", err)
	}

	qpAttr := verbs.QPInitAttr{
		SendCQ:        d.cq,
		RecvCQ:        d.cq,
		MaxSendWR:     d.opts.MaxSendWR,
		MaxRecvWR:     d.opts.MaxRecvWR,
		MaxSendSGE:    1,
		MaxRecvSGE:    1,
		MaxInlineData: d.opts.InlineThreshold,
		Transport:     d.opts.Transport,
	}
	if d.qp, err = d.pd.CreateQP(qpAttr); err != nil {
		return fmt.Errorf("rdma: create qp: %w", err)
	}
	return nil
}

func (d *Device) modifyToInit() error {
	if err := d.qp.ModifyToInit(verbs.InitAttr{
		PortNum:    d.portNum,
		AccessRecv: d.opts.AccessRecv || d.opts.Transport != TransportUD,
	}); err != nil {
		return fmt.Errorf("rdma: modify init: %w", err)
	}

	maxQPRdAtom, err := d.ctx.QueryDeviceMaxQPRdAtom()
	if err != nil {
		return fmt.Errorf("rdma: query device: %w", err)
	}
	d.maxRdAtomic = clampRdAtomic(d.opts.RdAtomic, maxQPRdAtom)
	return nil
}

func (d *Device) fillLocalContext() error {
	lid, err := d.ctx.QueryPortLID(d.portNum)
	if err != nil {
		return fmt.Errorf("rdma: query port: %w", err)
	}
	psn, err := randomPSN()
	if err != nil {
		return fmt.Errorf("rdma: psn: %w", err)
	}
	d.Local = Local{
		LID:   lid,
		QPN:   d.qp.QPN(),
		PSN:   psn,
		RKey:  d.mr.RKey(),
		VAddr: d.mr.Addr(),
	}
	return nil
}

// Init exchanges the local connection context for the remote's over ch
// (spec.md Section 4.7's init(): "client sends first, then reads; server
// reads first, then sends").
func (d *Device) Init(ch *control.Channel, isClient bool) error {
	local := wire.ConnContext{
		LID:   uint32(d.Local.LID),
		QPN:   d.Local.QPN,
		PSN:   d.Local.PSN,
		RKey:  d.Local.RKey,
		VAddr: d.Local.VAddr,
	}
	var remote wire.ConnContext
	var err error
	if isClient {
		if err = ch.SendConnContext(local); err != nil {
			return fmt.Errorf("rdma: init: send: %w", err)
		}
		if remote, err = ch.RecvConnContext(); err != nil {
			return fmt.Errorf("rdma: init: recv: %w", err)
		}
	} else {
		if remote, err = ch.RecvConnContext(); err != nil {
			return fmt.Errorf("rdma: init: recv: %w", err)
		}
		if err = ch.SendConnContext(local); err != nil {
			return fmt.Errorf("rdma: init: send: %w", err)
		}
	}
	d.Remote = Remote{
		LID:   uint16(remote.LID),
		QPN:   remote.QPN,
		PSN:   remote.PSN,
		RKey:  remote.RKey,
		VAddr: remote.VAddr,
	}
	if d.opts.Transport == TransportUD {
		if d.ah, err = d.pd.CreateAH(d.Remote.LID, d.portNum); err != nil {
			return fmt.Errorf("rdma: init: create ah: %w", err)
		}
	}
	return nil
}

// Prepare transitions the queue pair RTR -> RTS (spec.md Section 4.7's
// prepare(), using the per-transport flag sets from its state table) and,
// if not in poll mode, arms one CQ notification.
func (d *Device) Prepare() error {
	if err := d.qp.ModifyToRTR(verbs.RTRAttr{
		Transport:     d.opts.Transport,
		PathMTU:       d.mtu,
		DestQPN:       d.Remote.QPN,
		RQPSN:         d.Remote.PSN,
		DestLID:       d.Remote.LID,
		PortNum:       d.portNum,
		MaxDestRdAtom: d.maxRdAtomic,
	}); err != nil {
		return fmt.Errorf("rdma: prepare: rtr: %w", err)
	}
	if err := d.qp.ModifyToRTS(verbs.RTSAttr{
		Transport: d.opts.Transport,
		SQPSN:     d.Local.PSN,
		MaxRdAtom: d.maxRdAtomic,
	}); err != nil {
		return fmt.Errorf("rdma: prepare: rts: %w", err)
	}
	if !d.opts.PollMode {
		if err := d.cq.ReqNotify(false); err != nil {
			return fmt.Errorf("rdma: prepare: req_notify: %w", err)
		}
	}
	return nil
}

// Buffer returns the registered pinned message buffer.
func (d *Device) Buffer() []byte { return d.buf }

// MsgSize returns the per-region message size Open was given. Buffer()
// is this many bytes long per region (see Options.BufRegions).
func (d *Device) MsgSize() uint32 { return d.opts.MsgSize }

// LKey and RKey expose the memory region's keys to the measurement loops.
func (d *Device) LKey() uint32 { return d.mr.LKey() }
func (d *Device) RKey() uint32 { return d.mr.RKey() }

// QP, CQ, CompChannel and AH expose the underlying verbs resources to
// internal/rdmatest's measurement loops, which post work requests and poll
// completions directly.
func (d *Device) QP() *verbs.QueuePair         { return d.qp }
func (d *Device) CQ() *verbs.CompletionQueue   { return d.cq }
func (d *Device) CompChannel() *verbs.CompChannel { return d.chan_ }
func (d *Device) AH() *verbs.AddressHandle     { return d.ah }
func (d *Device) MaxRdAtomic() uint8           { return d.maxRdAtomic }
func (d *Device) PollMode() bool               { return d.opts.PollMode }
func (d *Device) MaxInlineData() uint32        { return d.opts.InlineThreshold }

// Close releases every resource in the reverse of its acquisition order --
// AH, CQ, QP, MR, PD, completion channel, device context, buffer, device
// list (spec.md Section 4.7's close(), Section 3 Invariant 3).
func (d *Device) Close() error {
	if d.ah != nil {
		d.ah.Destroy()
		d.ah = nil
	}
	if d.cq != nil {
		d.cq.Destroy()
		d.cq = nil
	}
	if d.qp != nil {
		d.qp.Destroy()
		d.qp = nil
	}
	if d.mr != nil {
		d.mr.Deregister()
		d.mr = nil
	}
	if d.pd != nil {
		d.pd.Dealloc()
		d.pd = nil
	}
	if d.chan_ != nil {
		d.chan_.Destroy()
		d.chan_ = nil
	}
	if d.ctx != nil {
		d.ctx.Close()
		d.ctx = nil
	}
	d.buf = nil
	if d.devList != nil {
		d.devList.Free()
		d.devList = nil
	}
	return nil
}

func clampRdAtomic(requested uint32, maxQPRdAtom int) uint8 {
	if maxQPRdAtom < 0 {
		maxQPRdAtom = 0
	}
	if requested > uint32(maxQPRdAtom) {
		requested = uint32(maxQPRdAtom)
	}
	if requested > 255 {
		requested = 255
	}
	return uint8(requested)
}

func randomPSN() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]) & 0xFFFFFF, nil
}
