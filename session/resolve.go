package session

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// Resolver turns a host name into IP addresses.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// resolve converts host and port to a UDP address. Literal addresses are
// parsed directly; names go through the resolver, honoring ctx. With
// preferV4 set, an IPv4 result is chosen over IPv6 when both exist.
func resolve(ctx context.Context, r Resolver, host string, port int, preferV4 bool) (*net.UDPAddr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip.Unmap(), uint16(port))), nil
	}

	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %q: no addresses", host)
	}

	pick := addrs[0]
	if preferV4 {
		for _, a := range addrs {
			if a.Unmap().Is4() {
				pick = a
				break
			}
		}
	}
	return net.UDPAddrFromAddrPort(netip.AddrPortFrom(pick.Unmap(), uint16(port))), nil
}
