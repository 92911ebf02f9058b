//go:build linux

package sockdrv

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// RawAddr is a platform-neutral IP/port pair used by the SDP/RDS
// constructors below, so callers never need to reference
// golang.org/x/sys/unix directly (kept out of non-linux builds). It also
// implements net.Addr so it can be passed straight to a PacketConn's
// WriteTo as the RDS destination.
type RawAddr struct {
	IP   net.IP
	Port int
}

// Network identifies the address family this RawAddr was resolved against.
func (a RawAddr) Network() string { return "rds" }

func (a RawAddr) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
}

func (a RawAddr) toSockaddr() (unix.Sockaddr, error) {
	if v4 := a.IP.To4(); v4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = a.Port
		copy(sa.Addr[:], v4)
		return &sa, nil
	}
	v6 := a.IP.To16()
	if v6 == nil {
		return nil, fmt.Errorf("sockdrv: invalid IP %v", a.IP)
	}
	var sa unix.SockaddrInet6
	sa.Port = a.Port
	copy(sa.Addr[:], v6)
	return &sa, nil
}

// newRawSocket creates a socket in family/typ and wraps it as an *os.File
// so the stdlib net package's FileConn/FilePacketConn/FileListener helpers
// can take over buffering and deadlines -- the same "drop into a raw
// syscall only where the stdlib has no portable name for the address
// family, then hand the fd back to net" pattern the teacher uses in
// internal/netio/rawsock_linux.go for BFD's GTSM socket options.
func newRawSocket(family, typ int, name string) (*os.File, error) {
	fd, err := unix.Socket(family, typ, 0)
	if err != nil {
		return nil, fmt.Errorf("sockdrv: socket(%d): %w", family, err)
	}
	return os.NewFile(uintptr(fd), name), nil
}

// DialSDP connects a stream socket in the (dynamically resolved) SDP
// address family to raddr.
func DialSDP(raddr RawAddr) (net.Conn, error) {
	sa, err := raddr.toSockaddr()
	if err != nil {
		return nil, err
	}
	f, err := newRawSocket(ResolveAFSDP(), unix.SOCK_STREAM, "sdp")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := unix.Connect(int(f.Fd()), sa); err != nil {
		return nil, fmt.Errorf("sockdrv: sdp connect: %w", err)
	}
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("sockdrv: sdp fileconn: %w", err)
	}
	return conn, nil
}

// ListenSDP binds a listening stream socket in the SDP address family.
func ListenSDP(laddr RawAddr) (net.Listener, error) {
	sa, err := laddr.toSockaddr()
	if err != nil {
		return nil, err
	}
	f, err := newRawSocket(ResolveAFSDP(), unix.SOCK_STREAM, "sdp-listener")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := unix.Bind(int(f.Fd()), sa); err != nil {
		return nil, fmt.Errorf("sockdrv: sdp bind: %w", err)
	}
	if err := unix.Listen(int(f.Fd()), unix.SOMAXCONN); err != nil {
		return nil, fmt.Errorf("sockdrv: sdp listen: %w", err)
	}
	l, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("sockdrv: sdp filelistener: %w", err)
	}
	return l, nil
}

// ListenRDS binds a datagram socket in the (dynamically resolved) RDS
// address family.
func ListenRDS(laddr RawAddr) (net.PacketConn, error) {
	sa, err := laddr.toSockaddr()
	if err != nil {
		return nil, err
	}
	f, err := newRawSocket(ResolveAFRDS(), unix.SOCK_SEQPACKET, "rds")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := unix.Bind(int(f.Fd()), sa); err != nil {
		return nil, fmt.Errorf("sockdrv: rds bind: %w", err)
	}
	pc, err := net.FilePacketConn(f)
	if err != nil {
		return nil, fmt.Errorf("sockdrv: rds filepacketconn: %w", err)
	}
	return pc, nil
}

// SetBufSize applies size to both the receive and send buffers of conn
// (SO_RCVBUF and SO_SNDBUF) via the raw fd, the same setsockopt-through-
// SyscallConn idiom the teacher uses for BFD's GTSM options in
// internal/netio/rawsock_linux.go. size <= 0 leaves the OS default alone.
// Working through syscall.Conn rather than the concrete *net.TCPConn/
// *net.UDPConn types means the one implementation covers every transport
// this package hands back, including the SDP/RDS sockets built on raw fds.
func SetBufSize(conn any, size int) error {
	if size <= 0 {
		return nil
	}
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return fmt.Errorf("sockdrv: %T does not expose a raw fd", conn)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return fmt.Errorf("sockdrv: syscallconn: %w", err)
	}
	var setErr error
	if err := rc.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size); e != nil {
			setErr = fmt.Errorf("sockdrv: setsockopt SO_RCVBUF: %w", e)
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, size); e != nil {
			setErr = fmt.Errorf("sockdrv: setsockopt SO_SNDBUF: %w", e)
		}
	}); err != nil {
		return fmt.Errorf("sockdrv: control: %w", err)
	}
	return setErr
}
