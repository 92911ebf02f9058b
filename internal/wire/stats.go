package wire

// Role indexes the four counter roles a StatsBlock tracks (spec.md Section
// 3): local send, local receive, remote send (observed by peer), remote
// receive.
type Role int

const (
	RoleLocalSend Role = iota
	RoleLocalRecv
	RoleRemoteSend
	RoleRemoteRecv
	roleCount
)

// timeSampleCount is the number of CPU-time samples per spec.md Section 3:
// real, user, nice, kernel, idle, iowait, irq, soft-irq, steal.
const timeSampleCount = 9

// RoleCounters is one role's monotonic {bytes, messages, errors} triple.
type RoleCounters struct {
	Bytes uint64
	Msgs  uint64
	Errs  uint64
}

// roleCountersSize is the wire size of one RoleCounters value.
const roleCountersSize = 8 * 3

// StatsBlockSize is the fixed wire length of a StatsBlock: four role
// counter triples, a cq-depth gauge, and nine time samples.
const StatsBlockSize = int(roleCount)*roleCountersSize + 4 + timeSampleCount*8

// StatsBlock is the per-side measurement statistics block exchanged once
// per test via Channel.ExchangeResults (spec.md Sections 3, 4.5, 4.2).
type StatsBlock struct {
	Roles [roleCount]RoleCounters

	// CQDepthHWM is the maximum completion-queue depth gauge observed
	// during the test (RDMA tests only; zero for socket tests).
	CQDepthHWM uint32

	// TimeSamples holds the nine wall/CPU time samples in the fixed order
	// documented on Role above: real, user, nice, kernel, idle, iowait,
	// irq, soft-irq, steal.
	TimeSamples [timeSampleCount]uint64
}

// MarshalBinary encodes s in struct order.
func (s StatsBlock) MarshalBinary() ([]byte, error) {
	buf := make([]byte, StatsBlockSize)
	e := NewEncoder(buf)
	for _, rc := range s.Roles {
		e.PutUint(rc.Bytes, 8)
		e.PutUint(rc.Msgs, 8)
		e.PutUint(rc.Errs, 8)
	}
	e.PutUint(uint64(s.CQDepthHWM), 4)
	for _, t := range s.TimeSamples {
		e.PutUint(t, 8)
	}
	return buf, nil
}

// UnmarshalBinary decodes a StatsBlock from buf.
func (s *StatsBlock) UnmarshalBinary(buf []byte) error {
	d := NewDecoder(buf)
	for i := range s.Roles {
		s.Roles[i].Bytes = d.Uint(8)
		s.Roles[i].Msgs = d.Uint(8)
		s.Roles[i].Errs = d.Uint(8)
	}
	s.CQDepthHWM = uint32(d.Uint(4))
	for i := range s.TimeSamples {
		s.TimeSamples[i] = d.Uint(8)
	}
	return nil
}
