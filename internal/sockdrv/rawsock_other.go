//go:build !linux

package sockdrv

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// RawAddr mirrors the linux-only RawAddr so callers compile on every
// platform; only Linux can actually open an SDP/RDS socket.
type RawAddr struct {
	IP   net.IP
	Port int
}

// Network and String let RawAddr satisfy net.Addr on every platform, even
// though only the linux build can actually dial/listen with one.
func (a RawAddr) Network() string { return "rds" }

func (a RawAddr) String() string {
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
}

// ErrUnsupportedPlatform is returned by the SDP/RDS constructors on any
// platform other than Linux, the same "stub returns an error" shape the
// teacher uses for tcpinfo's non-Linux fallback files.
var ErrUnsupportedPlatform = errors.New("sockdrv: SDP/RDS transports require linux")

func DialSDP(RawAddr) (net.Conn, error) {
	return nil, ErrUnsupportedPlatform
}

func ListenSDP(RawAddr) (net.Listener, error) {
	return nil, ErrUnsupportedPlatform
}

func ListenRDS(RawAddr) (net.PacketConn, error) {
	return nil, ErrUnsupportedPlatform
}

// bufferedConn is satisfied by *net.TCPConn, *net.UDPConn, *net.IPConn and
// *net.UnixConn -- every concrete conn type TCP/UDP setup can hand back on
// a non-Linux build.
type bufferedConn interface {
	SetReadBuffer(bytes int) error
	SetWriteBuffer(bytes int) error
}

// SetBufSize applies size to conn's receive and write buffers when conn
// exposes the stdlib SetReadBuffer/SetWriteBuffer pair. size <= 0 leaves
// the OS default alone. SDP/RDS never reach here on this platform, so
// there is no raw fd to drop into x/sys/unix for, unlike the Linux build.
func SetBufSize(conn any, size int) error {
	if size <= 0 {
		return nil
	}
	bc, ok := conn.(bufferedConn)
	if !ok {
		return nil
	}
	if err := bc.SetReadBuffer(size); err != nil {
		return fmt.Errorf("sockdrv: set read buffer: %w", err)
	}
	if err := bc.SetWriteBuffer(size); err != nil {
		return fmt.Errorf("sockdrv: set write buffer: %w", err)
	}
	return nil
}
