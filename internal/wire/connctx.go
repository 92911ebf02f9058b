package wire

// ConnContextSize is the fixed wire length of a ConnContext: lid, qpn, psn,
// rkey (4 bytes each) plus vaddr (8 bytes) — spec.md Section 6.
const ConnContextSize = 4 + 4 + 4 + 4 + 8

// ConnContext is the RDMA connection context exchanged once per side per
// test (spec.md Section 3): local identifier, queue-pair number, starting
// packet sequence number, remote key, and virtual address of the registered
// buffer.
type ConnContext struct {
	LID   uint32
	QPN   uint32
	PSN   uint32
	RKey  uint32
	VAddr uint64
}

// MarshalBinary encodes c in the fixed wire order lid, qpn, psn, rkey, vaddr.
func (c ConnContext) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ConnContextSize)
	e := NewEncoder(buf)
	e.PutUint(uint64(c.LID), 4)
	e.PutUint(uint64(c.QPN), 4)
	e.PutUint(uint64(c.PSN), 4)
	e.PutUint(uint64(c.RKey), 4)
	e.PutUint(c.VAddr, 8)
	return buf, nil
}

// UnmarshalBinary decodes a ConnContext from buf.
func (c *ConnContext) UnmarshalBinary(buf []byte) error {
	d := NewDecoder(buf)
	c.LID = uint32(d.Uint(4))
	c.QPN = uint32(d.Uint(4))
	c.PSN = uint32(d.Uint(4))
	c.RKey = uint32(d.Uint(4))
	c.VAddr = d.Uint(8)
	return nil
}
