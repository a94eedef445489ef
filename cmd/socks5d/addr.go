package main

import (
	"fmt"
	"net/netip"
)

// bindAddrs resolves a CLI-supplied bind address into the concrete list of
// addresses a listener should register. An explicit address yields exactly
// one entry. The unspecified addresses ("0.0.0.0", "::", "") are special:
// both an IPv4 and an IPv6 listener are started on the same port, with
// IPV6_V6ONLY applied to the v6 socket by newListenSocket.
func bindAddrs(bindAddr string, port uint16) ([]netip.AddrPort, error) {
	if bindAddr == "" || bindAddr == "0.0.0.0" || bindAddr == "::" {
		return []netip.AddrPort{
			netip.AddrPortFrom(netip.IPv4Unspecified(), port),
			netip.AddrPortFrom(netip.IPv6Unspecified(), port),
		}, nil
	}

	addr, err := netip.ParseAddr(bindAddr)
	if err != nil {
		return nil, fmt.Errorf("parse bind address %q: %w", bindAddr, err)
	}
	return []netip.AddrPort{netip.AddrPortFrom(addr, port)}, nil
}
