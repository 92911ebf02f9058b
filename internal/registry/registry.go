// Package registry maps test names to client/server function pairs and
// dispatches the one the CLI selected (spec.md Section 4.9).
package registry

import (
	"fmt"
	"net"

	"qperf/internal/clock"
	"qperf/internal/control"
	"qperf/internal/params"
	"qperf/internal/rdma"
	"qperf/internal/stats"
)

// Session carries every resource a test function might need. Only the
// fields relevant to the selected transport are populated; socket tests
// use Conn/PacketConn, RDMA tests use RDMA.
type Session struct {
	Channel    *control.Channel
	Params     *params.Table
	Finished   *clock.Finished
	Block      *stats.Block
	MsgSize    int
	NoMsgsCap  uint64
	AccessRecv bool
	Verify     bool

	Conn       net.Conn
	PacketConn net.PacketConn
	PeerAddr   net.Addr

	RDMA *rdma.Device
}

// Func is one side (client or server) of a registered test.
type Func func(s *Session) error

// Entry is one row of the dispatch table: a test name, its wire index, and
// its client/server function pair (spec.md Section 4.9).
type Entry struct {
	Name     string
	Index    uint16
	ClientFn Func
	ServerFn Func
}

var table []Entry
var byName = map[string]*Entry{}
var byIndex = map[uint16]*Entry{}

func register(e Entry) {
	table = append(table, e)
	cp := e
	byName[e.Name] = &cp
	byIndex[e.Index] = &cp
}

// Lookup resolves a test by name (the CLI's test argument, spec.md
// Section 6).
func Lookup(name string) (*Entry, error) {
	e, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("registry: unknown test %q", name)
	}
	return e, nil
}

// LookupIndex resolves a test by its wire index (spec.md Section 4.9:
// "The server reads the test index from the request and invokes the
// corresponding server function").
func LookupIndex(idx uint16) (*Entry, error) {
	e, ok := byIndex[idx]
	if !ok {
		return nil, fmt.Errorf("registry: unknown test index %d", idx)
	}
	return e, nil
}

// Names lists every registered test name, in registration order.
func Names() []string {
	names := make([]string, len(table))
	for i, e := range table {
		names[i] = e.Name
	}
	return names
}
