package main

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/haldirsson/socks5d/internal/reactor"
)

// listenBacklog is a fixed backlog rather than a configurable one.
const listenBacklog = 1024

// newListenSocket creates a non-blocking, SO_REUSEADDR TCP listening
// socket bound to addr. When addr is an IPv6 address, IPV6_V6ONLY is set
// so the caller can run independent v4 and v6 listeners on the same port.
func newListenSocket(addr netip.AddrPort) (fd int, err error) {
	domain := unix.AF_INET
	if addr.Addr().Is6() && !addr.Addr().Is4In6() {
		domain = unix.AF_INET6
	}

	fd, err = unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	closeOnErr := func() { unix.Close(fd) }

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		closeOnErr()
		return -1, fmt.Errorf("set SO_REUSEADDR: %w", err)
	}

	if domain == unix.AF_INET6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			closeOnErr()
			return -1, fmt.Errorf("set IPV6_V6ONLY: %w", err)
		}
		sa := &unix.SockaddrInet6{Port: int(addr.Port()), Addr: addr.Addr().As16()}
		if err := unix.Bind(fd, sa); err != nil {
			closeOnErr()
			return -1, fmt.Errorf("bind %s: %w", addr, err)
		}
	} else {
		sa := &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().As4()}
		if err := unix.Bind(fd, sa); err != nil {
			closeOnErr()
			return -1, fmt.Errorf("bind %s: %w", addr, err)
		}
	}

	if err := unix.Listen(fd, listenBacklog); err != nil {
		closeOnErr()
		return -1, fmt.Errorf("listen %s: %w", addr, err)
	}
	return fd, nil
}

// acceptLoopHandler is a reactor.Handler registered against a listening
// socket at Read interest; every readiness tick it drains accept(2) until
// EAGAIN, handing each new connection to onAccept.
type acceptLoopHandler struct {
	fd       int
	onAccept func(clientFd int, remote netip.AddrPort)
}

func (h acceptLoopHandler) OnReadReady() {
	for {
		fd, sa, err := unix.Accept4(h.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			return
		}
		h.onAccept(fd, sockaddrToAddrPort(sa))
	}
}

func (h acceptLoopHandler) OnWriteReady() {}
func (h acceptLoopHandler) OnBlockReady() {}
func (h acceptLoopHandler) OnClose()      {}

func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port))
	default:
		return netip.AddrPort{}
	}
}

// registerAcceptLoop binds a listening socket on addr and registers an
// accept-loop handler against r, invoking onAccept for every accepted
// connection.
func registerAcceptLoop(r *reactor.Reactor, addr netip.AddrPort, onAccept func(clientFd int, remote netip.AddrPort)) error {
	fd, err := newListenSocket(addr)
	if err != nil {
		return err
	}
	h := acceptLoopHandler{fd: fd, onAccept: onAccept}
	if err := r.Register(fd, h, reactor.Read); err != nil {
		unix.Close(fd)
		return fmt.Errorf("register listener %s: %w", addr, err)
	}
	return nil
}
