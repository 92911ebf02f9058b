package wire

import "fmt"

// idFieldWidth and rateFieldWidth are the fixed widths of the two strings
// carried in every REQUEST (spec.md Section 6: "two fixed-length strings of
// 64 bytes").
const (
	idFieldWidth   = 64
	rateFieldWidth = 64
)

// requestParamCount is the number of uint32 parameters in the REQUEST, in
// the stable declaration order spec.md Section 6 requires.
const requestParamCount = 13

// RequestSize is the fixed wire length of a REQUEST: the version triple (6
// bytes) + test index (2 bytes) + 13 uint32 parameters (52 bytes) + the
// set-bitmask (4 bytes) + two 64-byte strings (128 bytes).
const RequestSize = 6 + 2 + requestParamCount*4 + 4 + idFieldWidth + rateFieldWidth

// Version is the on-wire major/minor/patch triple (spec.md Section 3).
// Receivers refuse any REQUEST whose Major differs from their own; Minor
// drift is tolerated by ignoring trailing unknown bytes (spec.md Section 6).
type Version struct {
	Major uint16
	Minor uint16
	Patch uint16
}

// Request is the message sent once, client to server, at the start of every
// test (spec.md Section 3). Field order below is the wire order.
type Request struct {
	Version   Version
	TestIndex uint16

	LocalPort    uint32
	RemotePort   uint32
	MsgSize      uint32
	MTU          uint32
	SockBufSize  uint32
	Duration     uint32 // seconds
	PollMode     uint32 // 0 = event mode, 1 = poll mode
	RdAtomic     uint32
	Affinity     uint32
	AccessRecv   uint32 // 0/1: touch received buffer
	Flip         uint32 // 0/1: flip client/server roles
	NoMsgs       uint32 // 0 = unbounded
	TimeoutMicro uint32 // per-op timeout, microseconds

	Identifier string // "device[:port]" or host identifier, spec.md Section 4.7
	Rate       string // rate-table key, spec.md Section 4.7

	// SetMask has one bit per parameter above (uint32 fields first in wire
	// order, then Identifier at bit 13 and Rate at bit 14), set exactly
	// when the sender's params.Table had that entry's set bit true. A
	// receiver uses this to decide whether to adopt a value as
	// user-supplied or leave it at the local default.
	SetMask uint32
}

// MarshalBinary encodes r into the fixed RequestSize wire format.
func (r Request) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RequestSize)
	e := NewEncoder(buf)
	e.PutUint(uint64(r.Version.Major), 2)
	e.PutUint(uint64(r.Version.Minor), 2)
	e.PutUint(uint64(r.Version.Patch), 2)
	e.PutUint(uint64(r.TestIndex), 2)
	for _, v := range r.params() {
		e.PutUint(uint64(v), 4)
	}
	e.PutUint(uint64(r.SetMask), 4)
	e.PutString(r.Identifier, idFieldWidth)
	e.PutString(r.Rate, rateFieldWidth)
	return buf, nil
}

// UnmarshalBinary decodes a REQUEST from buf. buf may be longer than
// RequestSize (minor-version drift, spec.md Section 6): trailing bytes are
// ignored. It is an error for buf to be shorter than RequestSize.
func (r *Request) UnmarshalBinary(buf []byte) error {
	if len(buf) < RequestSize {
		return fmt.Errorf("wire: request too short: got %d bytes, need at least %d", len(buf), RequestSize)
	}
	d := NewDecoder(buf)
	r.Version.Major = uint16(d.Uint(2))
	r.Version.Minor = uint16(d.Uint(2))
	r.Version.Patch = uint16(d.Uint(2))
	r.TestIndex = uint16(d.Uint(2))

	params := make([]uint32, requestParamCount)
	for i := range params {
		params[i] = uint32(d.Uint(4))
	}
	r.setParams(params)
	r.SetMask = uint32(d.Uint(4))

	r.Identifier = d.String(idFieldWidth)
	r.Rate = d.String(rateFieldWidth)
	return nil
}

// params returns the 13 uint32 fields in stable wire order.
func (r Request) params() [requestParamCount]uint32 {
	return [requestParamCount]uint32{
		r.LocalPort, r.RemotePort, r.MsgSize, r.MTU, r.SockBufSize,
		r.Duration, r.PollMode, r.RdAtomic, r.Affinity,
		r.AccessRecv, r.Flip, r.NoMsgs, r.TimeoutMicro,
	}
}

// setParams assigns the 13 uint32 fields from wire order. Panics if p has
// the wrong length, which would indicate a codec bug rather than bad input.
func (r *Request) setParams(p []uint32) {
	if len(p) != requestParamCount {
		panic(fmt.Sprintf("wire: expected %d request params, got %d", requestParamCount, len(p)))
	}
	r.LocalPort, r.RemotePort, r.MsgSize, r.MTU, r.SockBufSize = p[0], p[1], p[2], p[3], p[4]
	r.Duration, r.PollMode, r.RdAtomic, r.Affinity = p[5], p[6], p[7], p[8]
	r.AccessRecv, r.Flip, r.NoMsgs, r.TimeoutMicro = p[9], p[10], p[11], p[12]
}

// ErrMajorVersionMismatch is returned by CheckVersion when the peer's major
// version differs from ours (spec.md Section 3: "Receivers MUST refuse a
// request whose major version differs from their own").
var ErrMajorVersionMismatch = fmt.Errorf("wire: major version mismatch")

// CheckVersion validates peer against ours, tolerating any minor/patch
// drift.
func CheckVersion(ours, peer Version) error {
	if ours.Major != peer.Major {
		return fmt.Errorf("%w: local=%d peer=%d", ErrMajorVersionMismatch, ours.Major, peer.Major)
	}
	return nil
}
