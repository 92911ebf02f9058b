// Package verbs is a thin cgo binding over libibverbs. RDMA queue-pair
// control has no pure-Go binding anywhere in the Go ecosystem -- the kernel
// interface is only reachable through libibverbs' userspace verbs, the same
// way the teacher repo drops into golang.org/x/sys/unix raw syscalls in
// internal/netio/rawsock_linux.go for functionality net.Conn cannot express.
// cgo is the equivalent escape hatch one layer further down, for a C ABI
// stdlib has no binding for at all.
package verbs

/*
#cgo linux pkg-config: libibverbs
#include <stdlib.h>
#include <string.h>
#include <infiniband/verbs.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// TransportType mirrors spec.md Section 4.7's three queue-pair transports.
type TransportType int

const (
	TransportRC TransportType = iota
	TransportUC
	TransportUD
)

func (t TransportType) ibvQPType() C.enum_ibv_qp_type {
	switch t {
	case TransportUC:
		return C.IBV_QPT_UC
	case TransportUD:
		return C.IBV_QPT_UD
	default:
		return C.IBV_QPT_RC
	}
}

// MTUValue is the negotiated path MTU, carrying the ibv_mtu enum value in
// a build-tag-neutral shape so callers outside this package never need the
// cgo type (spec.md Section 4.7: "Translate MTU number to MTU enum; reject
// out-of-set values").
type MTUValue struct {
	Raw uint32
}

func (m MTUValue) ibv() C.enum_ibv_mtu { return C.enum_ibv_mtu(m.Raw) }

// MTUFromBytes maps a raw byte count to the nearest-or-exact ibv_mtu enum
// value, the set {256, 512, 1024, 2048, 4096} spec.md Section 3 names.
func MTUFromBytes(n uint32) (MTUValue, error) {
	switch n {
	case 256:
		return MTUValue{Raw: uint32(C.IBV_MTU_256)}, nil
	case 512:
		return MTUValue{Raw: uint32(C.IBV_MTU_512)}, nil
	case 1024:
		return MTUValue{Raw: uint32(C.IBV_MTU_1024)}, nil
	case 2048:
		return MTUValue{Raw: uint32(C.IBV_MTU_2048)}, nil
	case 4096:
		return MTUValue{Raw: uint32(C.IBV_MTU_4096)}, nil
	default:
		return MTUValue{}, fmt.Errorf("verbs: unsupported MTU %d", n)
	}
}

// DeviceList is the result of ibv_get_device_list, freed with Free.
type DeviceList struct {
	ptr **C.struct_ibv_device
	n   C.int
}

// GetDeviceList enumerates RDMA devices (spec.md Section 4.7, step 4).
func GetDeviceList() (*DeviceList, error) {
	var n C.int
	ptr := C.ibv_get_device_list(&n)
	if ptr == nil {
		return nil, fmt.Errorf("verbs: ibv_get_device_list failed")
	}
	return &DeviceList{ptr: ptr, n: n}, nil
}

// Free releases the device list. Call only after every opened device has
// been closed (devices hold a reference into the list's backing storage).
func (l *DeviceList) Free() {
	if l.ptr != nil {
		C.ibv_free_device_list(l.ptr)
		l.ptr = nil
	}
}

// Len reports the number of enumerated devices.
func (l *DeviceList) Len() int { return int(l.n) }

// Name returns the i'th device's name.
func (l *DeviceList) Name(i int) string {
	dev := deviceAt(l.ptr, i)
	return C.GoString(&dev.name[0])
}

func deviceAt(ptr **C.struct_ibv_device, i int) *C.struct_ibv_device {
	const ptrSize = unsafe.Sizeof(*ptr)
	return *(**C.struct_ibv_device)(unsafe.Pointer(uintptr(unsafe.Pointer(ptr)) + uintptr(i)*ptrSize))
}

// Open opens the i'th device in the list (spec.md Section 4.7, step 5).
func (l *DeviceList) Open(i int) (*Context, error) {
	dev := deviceAt(l.ptr, i)
	ctx := C.ibv_open_device(dev)
	if ctx == nil {
		return nil, fmt.Errorf("verbs: ibv_open_device failed")
	}
	return &Context{ptr: ctx}, nil
}

// Context wraps an opened ibv_context (device context, spec.md Section
// 3/4.7).
type Context struct {
	ptr *C.struct_ibv_context
}

// Close closes the device context (spec.md Section 4.7's teardown order:
// "... completion channel, device context, buffer, device list").
func (c *Context) Close() error {
	if c.ptr == nil {
		return nil
	}
	if rc := C.ibv_close_device(c.ptr); rc != 0 {
		return fmt.Errorf("verbs: ibv_close_device: rc=%d", rc)
	}
	c.ptr = nil
	return nil
}

// QueryDeviceMaxQPRdAtom returns max_qp_rd_atom, used to clamp the
// configured outstanding-atomic count (spec.md Section 4.7, step 7).
func (c *Context) QueryDeviceMaxQPRdAtom() (int, error) {
	var attr C.struct_ibv_device_attr
	if rc := C.ibv_query_device(c.ptr, &attr); rc != 0 {
		return 0, fmt.Errorf("verbs: ibv_query_device: rc=%d", rc)
	}
	return int(attr.max_qp_rd_atom), nil
}

// QueryPortLID returns the port's LID (spec.md Section 4.7, step 8).
func (c *Context) QueryPortLID(port uint8) (uint16, error) {
	var pa C.struct_ibv_port_attr
	if rc := C.ibv_query_port(c.ptr, C.uint8_t(port), &pa); rc != 0 {
		return 0, fmt.Errorf("verbs: ibv_query_port: rc=%d", rc)
	}
	return uint16(pa.lid), nil
}

// AllocPD allocates a protection domain (spec.md Section 4.7, step 5).
func (c *Context) AllocPD() (*ProtectionDomain, error) {
	pd := C.ibv_alloc_pd(c.ptr)
	if pd == nil {
		return nil, fmt.Errorf("verbs: ibv_alloc_pd failed")
	}
	return &ProtectionDomain{ptr: pd}, nil
}

// CreateCompChannel allocates a completion event channel, used only in
// event mode (spec.md Section 4.8).
func (c *Context) CreateCompChannel() (*CompChannel, error) {
	ch := C.ibv_create_comp_channel(c.ptr)
	if ch == nil {
		return nil, fmt.Errorf("verbs: ibv_create_comp_channel failed")
	}
	return &CompChannel{ptr: ch}, nil
}

// ProtectionDomain wraps ibv_pd.
type ProtectionDomain struct {
	ptr *C.struct_ibv_pd
}

// Dealloc releases the protection domain (reverse of AllocPD, spec.md
// Section 4.7's teardown order).
func (pd *ProtectionDomain) Dealloc() error {
	if pd.ptr == nil {
		return nil
	}
	if rc := C.ibv_dealloc_pd(pd.ptr); rc != 0 {
		return fmt.Errorf("verbs: ibv_dealloc_pd: rc=%d", rc)
	}
	pd.ptr = nil
	return nil
}

// Access flags for RegMR (spec.md Section 4.7: "memory region with all four
// access flags").
const (
	AccessLocalWrite  = C.IBV_ACCESS_LOCAL_WRITE
	AccessRemoteWrite = C.IBV_ACCESS_REMOTE_WRITE
	AccessRemoteRead  = C.IBV_ACCESS_REMOTE_READ
	AccessRemoteAtomic = C.IBV_ACCESS_REMOTE_ATOMIC
)

// MemoryRegion wraps ibv_mr: a pinned, rkey-tagged buffer registration.
type MemoryRegion struct {
	ptr *C.struct_ibv_mr
}

// RegMR registers buf for local and remote access with the given access
// flags (bitwise OR of the Access* constants).
func (pd *ProtectionDomain) RegMR(buf []byte, access int) (*MemoryRegion, error) {
	var addr unsafe.Pointer
	if len(buf) > 0 {
		addr = unsafe.Pointer(&buf[0])
	}
	mr := C.ibv_reg_mr(pd.ptr, addr, C.size_t(len(buf)), C.int(access))
	if mr == nil {
		return nil, fmt.Errorf("verbs: ibv_reg_mr failed")
	}
	return &MemoryRegion{ptr: mr}, nil
}

// LKey returns the memory region's local key.
func (mr *MemoryRegion) LKey() uint32 { return uint32(mr.ptr.lkey) }

// RKey returns the memory region's remote key.
func (mr *MemoryRegion) RKey() uint32 { return uint32(mr.ptr.rkey) }

// Addr returns the registered virtual address.
func (mr *MemoryRegion) Addr() uint64 { return uint64(uintptr(mr.ptr.addr)) }

// Deregister releases the memory region (spec.md Section 4.7's teardown
// order, before the protection domain).
func (mr *MemoryRegion) Deregister() error {
	if mr.ptr == nil {
		return nil
	}
	if rc := C.ibv_dereg_mr(mr.ptr); rc != 0 {
		return fmt.Errorf("verbs: ibv_dereg_mr: rc=%d", rc)
	}
	mr.ptr = nil
	return nil
}

// CompChannel wraps ibv_comp_channel, used only in event mode.
type CompChannel struct {
	ptr *C.struct_ibv_comp_channel
}

// Destroy releases the completion channel.
func (ch *CompChannel) Destroy() error {
	if ch.ptr == nil {
		return nil
	}
	if rc := C.ibv_destroy_comp_channel(ch.ptr); rc != 0 {
		return fmt.Errorf("verbs: ibv_destroy_comp_channel: rc=%d", rc)
	}
	ch.ptr = nil
	return nil
}

// CompletionQueue wraps ibv_cq.
type CompletionQueue struct {
	ptr *C.struct_ibv_cq
}

// CreateCQ creates a completion queue sized cqe (spec.md Section 4.7, step
// 5: "completion queue sized max_send_wr + max_recv_wr"). channel may be
// nil for poll-mode-only operation.
func (c *Context) CreateCQ(cqe int, channel *CompChannel) (*CompletionQueue, error) {
	var chPtr *C.struct_ibv_comp_channel
	if channel != nil {
		chPtr = channel.ptr
	}
	cq := C.ibv_create_cq(c.ptr, C.int(cqe), nil, chPtr, 0)
	if cq == nil {
		return nil, fmt.Errorf("verbs: ibv_create_cq failed")
	}
	return &CompletionQueue{ptr: cq}, nil
}

// Destroy releases the completion queue. Must be called before the
// associated queue pair is destroyed (spec.md Section 3 Invariant 3).
func (cq *CompletionQueue) Destroy() error {
	if cq.ptr == nil {
		return nil
	}
	if rc := C.ibv_destroy_cq(cq.ptr); rc != 0 {
		return fmt.Errorf("verbs: ibv_destroy_cq: rc=%d", rc)
	}
	cq.ptr = nil
	return nil
}

// ReqNotify arms one completion-queue notification (spec.md Section 4.7:
// "If not in poll mode, arm CQ notifications once at the end of prepare").
// solicitedOnly requests notification only for solicited completions.
func (cq *CompletionQueue) ReqNotify(solicitedOnly bool) error {
	so := C.int(0)
	if solicitedOnly {
		so = 1
	}
	if rc := C.ibv_req_notify_cq(cq.ptr, so); rc != 0 {
		return fmt.Errorf("verbs: ibv_req_notify_cq: rc=%d", rc)
	}
	return nil
}

// GetEvent blocks for one completion-queue event on channel, then
// acknowledges it and re-arms cq's owner for the next iteration (spec.md
// Section 4.8's event mode: "call get_cq_event() (blocking); on return
// rearm notifications with req_notify_cq()").
func (ch *CompChannel) GetEvent() (*CompletionQueue, error) {
	var cqPtr *C.struct_ibv_cq
	var cqContext unsafe.Pointer
	if rc := C.ibv_get_cq_event(ch.ptr, &cqPtr, &cqContext); rc != 0 {
		return nil, fmt.Errorf("verbs: ibv_get_cq_event: rc=%d", rc)
	}
	C.ibv_ack_cq_events(cqPtr, 1)
	return &CompletionQueue{ptr: cqPtr}, nil
}

// WC is one harvested work completion (spec.md Section 4.8).
type WC struct {
	WRID     uint64
	Status   uint32 // 0 == IBV_WC_SUCCESS
	Opcode   uint32
	ByteLen  uint32
}

// Success reports whether the completion status is IBV_WC_SUCCESS.
func (w WC) Success() bool { return w.Status == uint32(C.IBV_WC_SUCCESS) }

// PollCQ harvests up to nMax completions (spec.md Section 4.8's poll
// mode: "call poll_cq(n_max); returns the number of completions harvested
// (0..n_max)").
func (cq *CompletionQueue) PollCQ(nMax int) ([]WC, error) {
	if nMax <= 0 {
		return nil, nil
	}
	wcs := make([]C.struct_ibv_wc, nMax)
	n := C.ibv_poll_cq(cq.ptr, C.int(nMax), &wcs[0])
	if n < 0 {
		return nil, fmt.Errorf("verbs: ibv_poll_cq: rc=%d", n)
	}
	out := make([]WC, n)
	for i := range out {
		out[i] = WC{
			WRID:    uint64(wcs[i].wr_id),
			Status:  uint32(wcs[i].status),
			Opcode:  uint32(wcs[i].opcode),
			ByteLen: uint32(wcs[i].byte_len),
		}
	}
	return out, nil
}
