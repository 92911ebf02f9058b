// Package params implements the typed parameter table (spec.md Section 4.3):
// a "set"/"use"/"validate" lifecycle for the negotiated per-test options,
// paired into a local (L_*) and remote (R_*) view per node.
package params

import (
	"fmt"
	"sort"

	"qperf/internal/wire"
)

// Kind is the wire type tag of a parameter entry (spec.md Section 3:
// "carrying a type tag (uint32 or string)").
type Kind int

const (
	KindUint32 Kind = iota
	KindString
)

// Names of every recognized parameter (spec.md Section 6's option letters,
// named). These map 1:1 onto wire.Request's fields.
const (
	LocalPort    = "local_port"
	RemotePort   = "remote_port"
	MsgSize      = "msg_size"
	MTU          = "mtu"
	SockBufSize  = "sock_buf_size"
	Identifier   = "id"
	Rate         = "rate"
	Duration     = "time"
	PollMode     = "poll_mode"
	RdAtomic     = "rd_atomic"
	Affinity     = "affinity"
	AccessRecv   = "access_recv"
	Flip         = "flip"
	NoMsgs       = "no_msgs"
	TimeoutMicro = "timeout"
)

// entry is one recognized option: its type, default, current value, and the
// set/used bits spec.md Section 3 requires.
type entry struct {
	kind       Kind
	defaultU32 uint32
	defaultStr string
	valueU32   uint32
	valueStr   string
	set        bool // true once a user supplied a value (CLI or REQUEST)
	used       bool // true once a driver consumed the value
}

// ErrNotApplicable is returned by Validate for any parameter whose set bit
// is true but whose used bit is false after driver startup (spec.md Section
// 4.3).
var ErrNotApplicable = fmt.Errorf("parameter not applicable to this test")

// Table is one node's parameter set (either the "local view" or the
// "remote view" spec.md Section 4.3 describes).
type Table struct {
	entries map[string]*entry
	order   []string
}

// NewTable builds a Table with every recognized parameter at its default,
// unset and unused.
func NewTable() *Table {
	t := &Table{entries: make(map[string]*entry)}
	t.registerU32(LocalPort, 0)
	t.registerU32(RemotePort, 19765)
	t.registerU32(MsgSize, 1)
	t.registerU32(MTU, 1024)
	t.registerU32(SockBufSize, 0)
	t.registerStr(Identifier, "")
	t.registerStr(Rate, "")
	t.registerU32(Duration, 10)
	t.registerU32(PollMode, 0)
	t.registerU32(RdAtomic, 1)
	t.registerU32(Affinity, 0)
	t.registerU32(AccessRecv, 0)
	t.registerU32(Flip, 0)
	t.registerU32(NoMsgs, 0)
	t.registerU32(TimeoutMicro, 0)
	return t
}

func (t *Table) registerU32(name string, def uint32) {
	t.entries[name] = &entry{kind: KindUint32, defaultU32: def, valueU32: def}
	t.order = append(t.order, name)
}

func (t *Table) registerStr(name string, def string) {
	t.entries[name] = &entry{kind: KindString, defaultStr: def, valueStr: def}
	t.order = append(t.order, name)
}

func (t *Table) lookup(name string) (*entry, error) {
	e, ok := t.entries[name]
	if !ok {
		return nil, fmt.Errorf("params: unknown parameter %q", name)
	}
	return e, nil
}

// SetByUser records a user-supplied uint32 value (spec.md Section 4.3:
// "from CLI parsing"), marking the entry's set bit.
func (t *Table) SetByUser(name string, value uint32) error {
	return t.setU32(name, value, true)
}

// SetByUserStr records a user-supplied string value.
func (t *Table) SetByUserStr(name, value string) error {
	return t.setStr(name, value, true)
}

// setDefault adopts value without marking the entry as user-supplied; used
// when decoding a REQUEST whose SetMask bit for name is clear, so a peer's
// untouched default never trips this node's own unused-parameter check.
func (t *Table) setDefault(name string, value uint32) error {
	return t.setU32(name, value, false)
}

func (t *Table) setDefaultStr(name, value string) error {
	return t.setStr(name, value, false)
}

func (t *Table) setU32(name string, value uint32, markSet bool) error {
	e, err := t.lookup(name)
	if err != nil {
		return err
	}
	if e.kind != KindUint32 {
		return fmt.Errorf("params: %q is a string parameter", name)
	}
	e.valueU32 = value
	if markSet {
		e.set = true
	}
	return nil
}

func (t *Table) setStr(name, value string, markSet bool) error {
	e, err := t.lookup(name)
	if err != nil {
		return err
	}
	if e.kind != KindString {
		return fmt.Errorf("params: %q is a uint32 parameter", name)
	}
	e.valueStr = value
	if markSet {
		e.set = true
	}
	return nil
}

// IsSet reports whether name's set bit is true (spec.md Section 4.3): a
// user supplied it, whether on the CLI or inside an incoming REQUEST.
func (t *Table) IsSet(name string) bool {
	e, ok := t.entries[name]
	return ok && e.set
}

// MarkUsed records that a driver consumed name's value (spec.md Section
// 4.3).
func (t *Table) MarkUsed(name string) {
	if e, ok := t.entries[name]; ok {
		e.used = true
	}
}

// U32 returns name's current uint32 value.
func (t *Table) U32(name string) uint32 {
	e, ok := t.entries[name]
	if !ok || e.kind != KindUint32 {
		return 0
	}
	return e.valueU32
}

// Str returns name's current string value.
func (t *Table) Str(name string) string {
	e, ok := t.entries[name]
	if !ok || e.kind != KindString {
		return ""
	}
	return e.valueStr
}

// Validate fails if any parameter's set bit is true but used bit is false
// (spec.md Section 4.3). Errors are sorted by parameter name for
// deterministic output.
func (t *Table) Validate() error {
	var offenders []string
	for _, name := range t.order {
		e := t.entries[name]
		if e.set && !e.used {
			offenders = append(offenders, name)
		}
	}
	if len(offenders) == 0 {
		return nil
	}
	sort.Strings(offenders)
	return fmt.Errorf("%w: %v", ErrNotApplicable, offenders)
}

// requestParamOrder is the stable bit order SetMask uses: the 13 uint32
// parameters in wire.Request.params' order, then the two strings.
var requestParamOrder = []string{
	LocalPort, RemotePort, MsgSize, MTU, SockBufSize,
	Duration, PollMode, RdAtomic, Affinity,
	AccessRecv, Flip, NoMsgs, TimeoutMicro,
}

const (
	setMaskBitIdentifier = 13
	setMaskBitRate       = 14
)

// ToRequestParams copies this table's 13 uint32 + 2 string fields into the
// corresponding wire.Request fields, along with a SetMask bit per field
// recording whether this table's set bit was true (spec.md Section 4.3:
// "the client copies L_* values into a per-node local view ... and ships
// both inside the REQUEST"). Without the mask a receiver could not tell a
// user-supplied zero from an untouched default.
func (t *Table) ToRequestParams(req *wire.Request) {
	req.LocalPort = t.U32(LocalPort)
	req.RemotePort = t.U32(RemotePort)
	req.MsgSize = t.U32(MsgSize)
	req.MTU = t.U32(MTU)
	req.SockBufSize = t.U32(SockBufSize)
	req.Duration = t.U32(Duration)
	req.PollMode = t.U32(PollMode)
	req.RdAtomic = t.U32(RdAtomic)
	req.Affinity = t.U32(Affinity)
	req.AccessRecv = t.U32(AccessRecv)
	req.Flip = t.U32(Flip)
	req.NoMsgs = t.U32(NoMsgs)
	req.TimeoutMicro = t.U32(TimeoutMicro)
	req.Identifier = t.Str(Identifier)
	req.Rate = t.Str(Rate)

	var mask uint32
	for i, name := range requestParamOrder {
		if t.IsSet(name) {
			mask |= 1 << uint(i)
		}
	}
	if t.IsSet(Identifier) {
		mask |= 1 << setMaskBitIdentifier
	}
	if t.IsSet(Rate) {
		mask |= 1 << setMaskBitRate
	}
	req.SetMask = mask
}

// FromRequestParams adopts the 13 uint32 + 2 string fields of req into this
// table, marking an entry's set bit only when req.SetMask says the sender
// had it set -- a parameter the sender never touched stays at this table's
// own default, unset, so it can never trip this node's Validate (spec.md
// Section 4.3: "adopts both the local and remote view shipped inside the
// REQUEST").
func (t *Table) FromRequestParams(req wire.Request) {
	values := []uint32{
		req.LocalPort, req.RemotePort, req.MsgSize, req.MTU, req.SockBufSize,
		req.Duration, req.PollMode, req.RdAtomic, req.Affinity,
		req.AccessRecv, req.Flip, req.NoMsgs, req.TimeoutMicro,
	}
	for i, name := range requestParamOrder {
		if req.SetMask&(1<<uint(i)) != 0 {
			_ = t.SetByUser(name, values[i])
		} else {
			_ = t.setDefault(name, values[i])
		}
	}
	if req.SetMask&(1<<setMaskBitIdentifier) != 0 {
		_ = t.SetByUserStr(Identifier, req.Identifier)
	} else {
		_ = t.setDefaultStr(Identifier, req.Identifier)
	}
	if req.SetMask&(1<<setMaskBitRate) != 0 {
		_ = t.SetByUserStr(Rate, req.Rate)
	} else {
		_ = t.setDefaultStr(Rate, req.Rate)
	}
}
