package socks5session

import (
	"encoding/binary"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/haldirsson/socks5d/internal/socks5proto"
)

// sockaddrFor builds the raw sockaddr connect(2) needs for addr/port.
func sockaddrFor(addr netip.Addr, port uint16) unix.Sockaddr {
	if addr.Is4() || addr.Is4In6() {
		sa := &unix.SockaddrInet4{Port: int(port)}
		sa.Addr = addr.As4()
		return sa
	}
	sa := &unix.SockaddrInet6{Port: int(port)}
	sa.Addr = addr.As16()
	return sa
}

// getSocketError reads a connecting socket's pending error via SO_ERROR.
// A zero errno with ok=true means the connect succeeded.
func getSocketError(fd int) (unix.Errno, bool) {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return 0, false
	}
	return unix.Errno(v), true
}

// buildReply encodes the SOCKS5 reply: 10 bytes for an IPv4 (or unset)
// bound address, 22 for IPv6. BND.ADDR/PORT are echoed as zeroes.
func buildReply(status byte, bound netip.Addr) []byte {
	if bound.Is6() && !bound.Is4In6() {
		out := make([]byte, 4+16+2)
		out[0], out[1], out[2], out[3] = socks5proto.Version, status, 0x00, socks5proto.ATYPIPv6
		binary.BigEndian.PutUint16(out[20:], 0)
		return out
	}
	out := make([]byte, 4+4+2)
	out[0], out[1], out[2], out[3] = socks5proto.Version, status, 0x00, socks5proto.ATYPIPv4
	binary.BigEndian.PutUint16(out[8:], 0)
	return out
}
