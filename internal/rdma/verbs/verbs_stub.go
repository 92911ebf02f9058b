//go:build !(linux && cgo)

package verbs

import "errors"

// ErrRDMAUnsupported is returned by every verbs entry point when built
// without Linux+cgo (no libibverbs binding exists outside that
// combination). This mirrors the teacher's tcpinfo_other.go /
// rawsock_other.go stub shape.
var ErrRDMAUnsupported = errors.New("verbs: RDMA requires linux and cgo")

type TransportType int

const (
	TransportRC TransportType = iota
	TransportUC
	TransportUD
)

type DeviceList struct{}

func GetDeviceList() (*DeviceList, error) { return nil, ErrRDMAUnsupported }
func (l *DeviceList) Free()               {}
func (l *DeviceList) Len() int             { return 0 }
func (l *DeviceList) Name(i int) string    { return "" }
func (l *DeviceList) Open(i int) (*Context, error) {
	return nil, ErrRDMAUnsupported
}

type Context struct{}

func (c *Context) Close() error                           { return nil }
func (c *Context) QueryDeviceMaxQPRdAtom() (int, error)   { return 0, ErrRDMAUnsupported }
func (c *Context) QueryPortLID(port uint8) (uint16, error) { return 0, ErrRDMAUnsupported }
func (c *Context) AllocPD() (*ProtectionDomain, error)    { return nil, ErrRDMAUnsupported }
func (c *Context) CreateCompChannel() (*CompChannel, error) {
	return nil, ErrRDMAUnsupported
}
func (c *Context) CreateCQ(cqe int, channel *CompChannel) (*CompletionQueue, error) {
	return nil, ErrRDMAUnsupported
}

type ProtectionDomain struct{}

func (pd *ProtectionDomain) Dealloc() error { return nil }
func (pd *ProtectionDomain) RegMR(buf []byte, access int) (*MemoryRegion, error) {
	return nil, ErrRDMAUnsupported
}
func (pd *ProtectionDomain) CreateQP(attr QPInitAttr) (*QueuePair, error) {
	return nil, ErrRDMAUnsupported
}
func (pd *ProtectionDomain) CreateAH(destLID uint16, portNum uint8) (*AddressHandle, error) {
	return nil, ErrRDMAUnsupported
}

const (
	AccessLocalWrite   = 1
	AccessRemoteWrite  = 2
	AccessRemoteRead   = 4
	AccessRemoteAtomic = 8
)

type MemoryRegion struct{}

func (mr *MemoryRegion) LKey() uint32       { return 0 }
func (mr *MemoryRegion) RKey() uint32       { return 0 }
func (mr *MemoryRegion) Addr() uint64       { return 0 }
func (mr *MemoryRegion) Deregister() error  { return nil }

type CompChannel struct{}

func (ch *CompChannel) Destroy() error                   { return nil }
func (ch *CompChannel) GetEvent() (*CompletionQueue, error) { return nil, ErrRDMAUnsupported }

type CompletionQueue struct{}

func (cq *CompletionQueue) Destroy() error                      { return nil }
func (cq *CompletionQueue) ReqNotify(solicitedOnly bool) error   { return ErrRDMAUnsupported }
func (cq *CompletionQueue) PollCQ(nMax int) ([]WC, error)        { return nil, ErrRDMAUnsupported }

type WC struct {
	WRID    uint64
	Status  uint32
	Opcode  uint32
	ByteLen uint32
}

func (w WC) Success() bool { return false }

type QPInitAttr struct {
	SendCQ        *CompletionQueue
	RecvCQ        *CompletionQueue
	MaxSendWR     uint32
	MaxRecvWR     uint32
	MaxSendSGE    uint32
	MaxRecvSGE    uint32
	MaxInlineData uint32
	Transport     TransportType
}

type QueuePair struct{}

func (qp *QueuePair) Destroy() error { return nil }
func (qp *QueuePair) QPN() uint32    { return 0 }

type InitAttr struct {
	PortNum    uint8
	AccessRecv bool
}

func (qp *QueuePair) ModifyToInit(a InitAttr) error { return ErrRDMAUnsupported }

type RTRAttr struct {
	Transport     TransportType
	PathMTU       MTUValue
	DestQPN       uint32
	RQPSN         uint32
	DestLID       uint16
	PortNum       uint8
	MaxDestRdAtom uint8
}

func (qp *QueuePair) ModifyToRTR(a RTRAttr) error { return ErrRDMAUnsupported }

type RTSAttr struct {
	Transport TransportType
	SQPSN     uint32
	MaxRdAtom uint8
}

func (qp *QueuePair) ModifyToRTS(a RTSAttr) error { return ErrRDMAUnsupported }

type AddressHandle struct{}

func (ah *AddressHandle) Destroy() error { return nil }

const (
	OpSend           = 1
	OpRDMAWrite      = 2
	OpRDMARead       = 3
	OpAtomicFetchAdd = 4
	OpAtomicCmpSwap  = 5
)

type SendWR struct {
	WRID       uint64
	Opcode     int
	Buf        []byte
	LKey       uint32
	Inline     bool
	RemoteAddr uint64
	RKey       uint32
	CompareAdd uint64
	SwapValue  uint64
	AH         *AddressHandle
	DestQPN    uint32
}

func (qp *QueuePair) PostSend(wr SendWR) error { return ErrRDMAUnsupported }

type RecvWR struct {
	WRID uint64
	Buf  []byte
	LKey uint32
}

func (qp *QueuePair) PostRecv(wr RecvWR) error { return ErrRDMAUnsupported }

// MTUValue mirrors the linux-only MTUValue so callers compile on every
// platform.
type MTUValue struct {
	Raw uint32
}

// MTUFromBytes stub: always errors, since there's no real ibv_mtu enum to map to.
func MTUFromBytes(n uint32) (MTUValue, error) { return MTUValue{}, ErrRDMAUnsupported }
