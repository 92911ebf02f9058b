package verbs

/*
#include <infiniband/verbs.h>

// ibv_send_wr's rdma/atomic/ud fields live in an anonymous union; cgo can't
// address union members directly, so these small helpers set them on the
// C side, the same indirection the teacher reaches for whenever a C struct
// shape doesn't map cleanly onto Go (see its cgo-free but analogous
// raw-syscall helpers in internal/netio/rawsock_linux.go).
static void qperf_set_rdma(struct ibv_send_wr *wr, uint64_t remote_addr, uint32_t rkey) {
	wr->wr.rdma.remote_addr = remote_addr;
	wr->wr.rdma.rkey = rkey;
}

static void qperf_set_atomic(struct ibv_send_wr *wr, uint64_t remote_addr, uint32_t rkey,
                              uint64_t compare_add, uint64_t swap) {
	wr->wr.atomic.remote_addr = remote_addr;
	wr->wr.atomic.rkey = rkey;
	wr->wr.atomic.compare_add = compare_add;
	wr->wr.atomic.swap = swap;
}

static void qperf_set_ud(struct ibv_send_wr *wr, struct ibv_ah *ah, uint32_t dest_qpn) {
	wr->wr.ud.ah = ah;
	wr->wr.ud.remote_qpn = dest_qpn;
	wr->wr.ud.remote_qkey = 0;
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// QueuePair wraps ibv_qp.
type QueuePair struct {
	ptr *C.struct_ibv_qp
}

// QPInitAttr configures CreateQP (spec.md Section 4.7, step 5: "queue pair
// sized for the negotiated message count and send/receive depth").
type QPInitAttr struct {
	SendCQ       *CompletionQueue
	RecvCQ       *CompletionQueue
	MaxSendWR    uint32
	MaxRecvWR    uint32
	MaxSendSGE   uint32
	MaxRecvSGE   uint32
	MaxInlineData uint32
	Transport    TransportType
}

// CreateQP creates a queue pair in the RESET state.
func (pd *ProtectionDomain) CreateQP(attr QPInitAttr) (*QueuePair, error) {
	var cAttr C.struct_ibv_qp_init_attr
	cAttr.send_cq = attr.SendCQ.ptr
	cAttr.recv_cq = attr.RecvCQ.ptr
	cAttr.qp_type = attr.Transport.ibvQPType()
	cAttr.cap.max_send_wr = C.uint32_t(attr.MaxSendWR)
	cAttr.cap.max_recv_wr = C.uint32_t(attr.MaxRecvWR)
	cAttr.cap.max_send_sge = C.uint32_t(attr.MaxSendSGE)
	cAttr.cap.max_recv_sge = C.uint32_t(attr.MaxRecvSGE)
	cAttr.cap.max_inline_data = C.uint32_t(attr.MaxInlineData)

	qp := C.ibv_create_qp(pd.ptr, &cAttr)
	if qp == nil {
		return nil, fmt.Errorf("verbs: ibv_create_qp failed")
	}
	return &QueuePair{ptr: qp}, nil
}

// Destroy releases the queue pair. Callers must destroy queue pairs before
// their completion queues (spec.md Section 3 Invariant 3).
func (qp *QueuePair) Destroy() error {
	if qp.ptr == nil {
		return nil
	}
	if rc := C.ibv_destroy_qp(qp.ptr); rc != 0 {
		return fmt.Errorf("verbs: ibv_destroy_qp: rc=%d", rc)
	}
	qp.ptr = nil
	return nil
}

// QPN returns the queue pair number, exchanged over the control channel as
// part of wire.ConnContext.
func (qp *QueuePair) QPN() uint32 { return uint32(qp.ptr.qp_num) }

// InitAttr is the INIT-state transition's parameters (spec.md Section 4.7's
// QP state-machine table).
type InitAttr struct {
	PortNum   uint8
	AccessRecv bool // PKT access flags for REMOTE_WRITE/REMOTE_READ/REMOTE_ATOMIC
}

// ModifyToInit transitions RESET -> INIT.
func (qp *QueuePair) ModifyToInit(a InitAttr) error {
	var attr C.struct_ibv_qp_attr
	attr.qp_state = C.IBV_QPS_INIT
	attr.pkey_index = 0
	attr.port_num = C.uint8_t(a.PortNum)
	var access C.int = C.IBV_ACCESS_LOCAL_WRITE
	if a.AccessRecv {
		access |= C.IBV_ACCESS_REMOTE_WRITE | C.IBV_ACCESS_REMOTE_READ | C.IBV_ACCESS_REMOTE_ATOMIC
	}
	attr.qp_access_flags = C.uint32_t(access)

	mask := C.IBV_QP_STATE | C.IBV_QP_PKEY_INDEX | C.IBV_QP_PORT | C.IBV_QP_ACCESS_FLAGS
	if rc := C.ibv_modify_qp(qp.ptr, &attr, C.int(mask)); rc != 0 {
		return fmt.Errorf("verbs: modify_qp(INIT): rc=%d", rc)
	}
	return nil
}

// RTRAttr is the INIT -> RTR transition's parameters, carrying the peer's
// ConnContext fields (spec.md Section 4.7's defaults: RETRY_CNT=7,
// RNR_RETRY=7, MIN_RNR_TIMER=12, TIMEOUT=14).
type RTRAttr struct {
	Transport     TransportType
	PathMTU       MTUValue
	DestQPN       uint32
	RQPSN         uint32
	DestLID       uint16
	PortNum       uint8
	MaxDestRdAtom uint8
}

// ModifyToRTR transitions INIT -> RTR (Ready To Receive).
func (qp *QueuePair) ModifyToRTR(a RTRAttr) error {
	var attr C.struct_ibv_qp_attr
	attr.qp_state = C.IBV_QPS_RTR
	attr.path_mtu = a.PathMTU.ibv()
	attr.dest_qp_num = C.uint32_t(a.DestQPN)
	attr.rq_psn = C.uint32_t(a.RQPSN)
	attr.min_rnr_timer = 12
	attr.max_dest_rd_atomic = C.uint8_t(a.MaxDestRdAtom)

	attr.ah_attr.dlid = C.uint16_t(a.DestLID)
	attr.ah_attr.sl = 0
	attr.ah_attr.src_path_bits = 0
	attr.ah_attr.port_num = C.uint8_t(a.PortNum)

	mask := C.IBV_QP_STATE | C.IBV_QP_PATH_MTU
	if a.Transport != TransportUD {
		mask |= C.IBV_QP_AV | C.IBV_QP_DEST_QPN | C.IBV_QP_RQ_PSN
		if a.Transport == TransportRC {
			mask |= C.IBV_QP_MAX_DEST_RD_ATOMIC | C.IBV_QP_MIN_RNR_TIMER
		}
	}
	if rc := C.ibv_modify_qp(qp.ptr, &attr, C.int(mask)); rc != 0 {
		return fmt.Errorf("verbs: modify_qp(RTR): rc=%d", rc)
	}
	return nil
}

// RTSAttr is the RTR -> RTS transition's parameters.
type RTSAttr struct {
	Transport  TransportType
	SQPSN      uint32
	MaxRdAtom  uint8
}

// ModifyToRTS transitions RTR -> RTS (Ready To Send), the final state
// before traffic flows (spec.md Section 4.7's QP state-machine table).
func (qp *QueuePair) ModifyToRTS(a RTSAttr) error {
	var attr C.struct_ibv_qp_attr
	attr.qp_state = C.IBV_QPS_RTS
	attr.sq_psn = C.uint32_t(a.SQPSN)
	attr.timeout = 14
	attr.retry_cnt = 7
	attr.rnr_retry = 7
	attr.max_rd_atomic = C.uint8_t(a.MaxRdAtom)

	mask := C.IBV_QP_STATE | C.IBV_QP_SQ_PSN
	if a.Transport == TransportRC {
		mask |= C.IBV_QP_TIMEOUT | C.IBV_QP_RETRY_CNT | C.IBV_QP_RNR_RETRY | C.IBV_QP_MAX_QP_RD_ATOMIC
	}
	if rc := C.ibv_modify_qp(qp.ptr, &attr, C.int(mask)); rc != 0 {
		return fmt.Errorf("verbs: modify_qp(RTS): rc=%d", rc)
	}
	return nil
}

// AddressHandle wraps ibv_ah, required for UD sends (spec.md Section 4.7:
// "UD additionally creates one address handle per remote peer").
type AddressHandle struct {
	ptr *C.struct_ibv_ah
}

// CreateAH creates an address handle to destLID on portNum.
func (pd *ProtectionDomain) CreateAH(destLID uint16, portNum uint8) (*AddressHandle, error) {
	var attr C.struct_ibv_ah_attr
	attr.dlid = C.uint16_t(destLID)
	attr.port_num = C.uint8_t(portNum)
	ah := C.ibv_create_ah(pd.ptr, &attr)
	if ah == nil {
		return nil, fmt.Errorf("verbs: ibv_create_ah failed")
	}
	return &AddressHandle{ptr: ah}, nil
}

// Destroy releases the address handle.
func (ah *AddressHandle) Destroy() error {
	if ah.ptr == nil {
		return nil
	}
	if rc := C.ibv_destroy_ah(ah.ptr); rc != 0 {
		return fmt.Errorf("verbs: ibv_destroy_ah: rc=%d", rc)
	}
	ah.ptr = nil
	return nil
}

// Opcode values for PostSend, matching spec.md Section 4.8's
// "one work-request id per verb: 1=send, 2=receive, 3=RDMA/atomic".
const (
	OpSend            = 1
	OpRDMAWrite       = 2
	OpRDMARead        = 3
	OpAtomicFetchAdd  = 4
	OpAtomicCmpSwap   = 5
)

// SendWR describes one posted send-side work request.
type SendWR struct {
	WRID       uint64
	Opcode     int
	Buf        []byte
	LKey       uint32
	Inline     bool
	RemoteAddr uint64
	RKey       uint32
	CompareAdd uint64 // atomic: add value (fetch-add) or compare value (cmp-swap)
	SwapValue  uint64 // atomic: swap value (cmp-swap only)
	AH         *AddressHandle // UD only
	DestQPN    uint32         // UD only
}

// PostSend posts one send work request (spec.md Section 4.8's send/RDMA
// write/RDMA read/atomic verbs).
func (qp *QueuePair) PostSend(wr SendWR) error {
	var sge C.struct_ibv_sge
	if len(wr.Buf) > 0 {
		sge.addr = C.uint64_t(uintptr(unsafe.Pointer(&wr.Buf[0])))
		sge.length = C.uint32_t(len(wr.Buf))
		sge.lkey = C.uint32_t(wr.LKey)
	}

	var cwr C.struct_ibv_send_wr
	cwr.wr_id = C.uint64_t(wr.WRID)
	cwr.sg_list = &sge
	cwr.num_sge = 1
	cwr.next = nil
	if wr.Inline {
		cwr.send_flags = C.IBV_SEND_INLINE | C.IBV_SEND_SIGNALED
	} else {
		cwr.send_flags = C.IBV_SEND_SIGNALED
	}

	switch wr.Opcode {
	case OpSend:
		cwr.opcode = C.IBV_WR_SEND
		if wr.AH != nil {
			setUD(&cwr, wr.AH.ptr, wr.DestQPN)
		}
	case OpRDMAWrite:
		cwr.opcode = C.IBV_WR_RDMA_WRITE
		setRDMA(&cwr, wr.RemoteAddr, wr.RKey)
	case OpRDMARead:
		cwr.opcode = C.IBV_WR_RDMA_READ
		setRDMA(&cwr, wr.RemoteAddr, wr.RKey)
	case OpAtomicFetchAdd:
		cwr.opcode = C.IBV_WR_ATOMIC_FETCH_AND_ADD
		setAtomic(&cwr, wr.RemoteAddr, wr.RKey, wr.CompareAdd, 0)
	case OpAtomicCmpSwap:
		cwr.opcode = C.IBV_WR_ATOMIC_CMP_AND_SWP
		setAtomic(&cwr, wr.RemoteAddr, wr.RKey, wr.CompareAdd, wr.SwapValue)
	default:
		return fmt.Errorf("verbs: unknown send opcode %d", wr.Opcode)
	}

	var bad *C.struct_ibv_send_wr
	if rc := C.ibv_post_send(qp.ptr, &cwr, &bad); rc != 0 {
		return fmt.Errorf("verbs: ibv_post_send: rc=%d", rc)
	}
	return nil
}

func setRDMA(wr *C.struct_ibv_send_wr, remoteAddr uint64, rkey uint32) {
	C.qperf_set_rdma(wr, C.uint64_t(remoteAddr), C.uint32_t(rkey))
}

func setAtomic(wr *C.struct_ibv_send_wr, remoteAddr uint64, rkey uint32, compareAdd, swap uint64) {
	C.qperf_set_atomic(wr, C.uint64_t(remoteAddr), C.uint32_t(rkey), C.uint64_t(compareAdd), C.uint64_t(swap))
}

func setUD(wr *C.struct_ibv_send_wr, ah *C.struct_ibv_ah, destQPN uint32) {
	C.qperf_set_ud(wr, ah, C.uint32_t(destQPN))
}

// RecvWR describes one posted receive-side work request.
type RecvWR struct {
	WRID uint64
	Buf  []byte
	LKey uint32
}

// PostRecv posts one receive work request.
func (qp *QueuePair) PostRecv(wr RecvWR) error {
	var sge C.struct_ibv_sge
	if len(wr.Buf) > 0 {
		sge.addr = C.uint64_t(uintptr(unsafe.Pointer(&wr.Buf[0])))
		sge.length = C.uint32_t(len(wr.Buf))
		sge.lkey = C.uint32_t(wr.LKey)
	}
	var cwr C.struct_ibv_recv_wr
	cwr.wr_id = C.uint64_t(wr.WRID)
	cwr.sg_list = &sge
	cwr.num_sge = 1
	cwr.next = nil

	var bad *C.struct_ibv_recv_wr
	if rc := C.ibv_post_recv(qp.ptr, &cwr, &bad); rc != 0 {
		return fmt.Errorf("verbs: ibv_post_recv: rc=%d", rc)
	}
	return nil
}
