// Package control implements the client<->server control channel (spec.md
// Section 4.2): a single TCP connection carrying the REQUEST, transport
// setup messages, the barrier token, and the final statistics exchange.
package control

import (
	"encoding"
	"fmt"
	"io"
	"net"
	"time"

	"qperf/internal/wire"
)

// DefaultPort is the well-known TCP control port (spec.md Section 6).
const DefaultPort = 19765

// Channel wraps the single bidirectional control-channel connection. Any
// I/O error on it is fatal (spec.md Section 4.2): the test is marked
// unsuccessful and no further steps are attempted, so every method here
// returns a plain wrapped error rather than trying to recover.
type Channel struct {
	conn net.Conn
}

// New wraps an already-established connection (spec.md Section 4.2:
// "established once per test").
func New(conn net.Conn) *Channel {
	return &Channel{conn: conn}
}

// Listen binds addr (host:port, port 0 meaning DefaultPort when addr has no
// port) and returns a listener the server Accepts exactly one client
// control connection from, per test.
func Listen(addr string) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("control: listen %s: %w", addr, err)
	}
	return l, nil
}

// Accept blocks for the single client connection spec.md Section 4.2
// describes ("listens, accepts one client").
func Accept(l net.Listener) (*Channel, error) {
	conn, err := l.Accept()
	if err != nil {
		return nil, fmt.Errorf("control: accept: %w", err)
	}
	return New(conn), nil
}

// Dial connects the client side of the control channel.
func Dial(addr string) (*Channel, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("control: dial %s: %w", addr, err)
	}
	return New(conn), nil
}

// Close releases the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}

// Conn exposes the underlying connection so TCP-based measurement loops can
// reuse the control channel itself as the data path (spec.md Section 4.2:
// "a single TCP connection carrying the REQUEST, transport setup messages,
// the barrier token, and the final statistics exchange").
func (c *Channel) Conn() net.Conn {
	return c.conn
}

// SendRequest serializes and fully writes req. Client-only (spec.md Section
// 4.2).
func (c *Channel) SendRequest(req wire.Request) error {
	return c.sendBinary("request", req)
}

// RecvRequest fully reads and validates a REQUEST. Server-only (spec.md
// Section 4.2): version is checked against ours, and the test index is
// returned for the registry lookup (internal/registry).
func (c *Channel) RecvRequest(ours wire.Version) (wire.Request, error) {
	buf := make([]byte, wire.RequestSize)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return wire.Request{}, fmt.Errorf("control: recv request: %w", err)
	}
	var req wire.Request
	if err := req.UnmarshalBinary(buf); err != nil {
		return wire.Request{}, fmt.Errorf("control: decode request: %w", err)
	}
	if err := wire.CheckVersion(ours, req.Version); err != nil {
		return wire.Request{}, fmt.Errorf("control: %w", err)
	}
	return req, nil
}

// SendMesg writes buf in full. label is used only in error messages.
func (c *Channel) SendMesg(buf []byte, label string) error {
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("control: send %s: %w", label, err)
	}
	return nil
}

// RecvMesg reads exactly len(buf) bytes into buf. label is used only in
// error messages.
func (c *Channel) RecvMesg(buf []byte, label string) error {
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return fmt.Errorf("control: recv %s: %w", label, err)
	}
	return nil
}

// sendBinary marshals v and writes it in full.
func (c *Channel) sendBinary(label string, v encoding.BinaryMarshaler) error {
	buf, err := v.MarshalBinary()
	if err != nil {
		return fmt.Errorf("control: encode %s: %w", label, err)
	}
	return c.SendMesg(buf, label)
}

// SendConnContext sends an RDMA connection context (spec.md Section 4.7).
func (c *Channel) SendConnContext(ctx wire.ConnContext) error {
	return c.sendBinary("conn-context", ctx)
}

// RecvConnContext reads an RDMA connection context.
func (c *Channel) RecvConnContext() (wire.ConnContext, error) {
	buf := make([]byte, wire.ConnContextSize)
	if err := c.RecvMesg(buf, "conn-context"); err != nil {
		return wire.ConnContext{}, err
	}
	var ctx wire.ConnContext
	if err := ctx.UnmarshalBinary(buf); err != nil {
		return wire.ConnContext{}, fmt.Errorf("control: decode conn-context: %w", err)
	}
	return ctx, nil
}

// Synchronize is the two-way barrier spec.md Section 4.2 describes: each
// side writes one byte, each reads one byte. It returns false, without
// error, if the peer closed the channel before the barrier completed --
// spec.md Section 9's resolved Open Question requires that a failed
// barrier always skip the measurement loop and proceed straight to
// ExchangeResults, which is why this returns a bool rather than only an
// error.
func (c *Channel) Synchronize() (bool, error) {
	var tok [1]byte
	if _, err := c.conn.Write(tok[:]); err != nil {
		return false, nil //nolint:nilerr // peer-closed is a barrier failure, not a fatal control error
	}
	if _, err := io.ReadFull(c.conn, tok[:]); err != nil {
		return false, nil //nolint:nilerr // same as above
	}
	return true, nil
}

// ExchangeResults writes local's wire snapshot, then reads the peer's,
// exactly once per test (spec.md Section 3 Invariant 4, Section 4.2). Both
// sides therefore always write before reading, avoiding a read-then-write /
// write-then-read mismatch between client and server.
func (c *Channel) ExchangeResults(local wire.StatsBlock) (wire.StatsBlock, error) {
	if err := c.sendBinary("stats", local); err != nil {
		return wire.StatsBlock{}, err
	}
	buf := make([]byte, wire.StatsBlockSize)
	if err := c.RecvMesg(buf, "stats"); err != nil {
		return wire.StatsBlock{}, err
	}
	var peer wire.StatsBlock
	if err := peer.UnmarshalBinary(buf); err != nil {
		return wire.StatsBlock{}, fmt.Errorf("control: decode stats: %w", err)
	}
	return peer, nil
}

// SetDeadline applies a read/write deadline to the underlying connection.
// Used to bound setup-phase control-channel calls so a hung peer does not
// wedge the whole test (spec.md Section 7's setup-error taxonomy).
func (c *Channel) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}
