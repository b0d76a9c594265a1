// Package netutil enumerates local IPv4 addresses for mDNS self-filtering.
//
// This is a narrow, host-enumeration concern (net.Interfaces/InterfaceAddrs)
// that none of the pack's third-party libraries cover — mDNS/DNS-SD clients
// consume local addresses, they don't enumerate them, and no other dependency
// in the module's stack wraps this. It stays on the standard library.
package netutil

import "net"

// LocalIPv4s returns the non-loopback IPv4 addresses bound to this host's
// network interfaces, private-range (RFC 1918) addresses first since those
// are preferred when matching against an mDNS-advertised address.
func LocalIPv4s() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	var private, public []string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil || ip4.IsLoopback() {
			continue
		}
		if IsPrivate(ip4) {
			private = append(private, ip4.String())
		} else {
			public = append(public, ip4.String())
		}
	}
	return append(private, public...), nil
}

// IsPrivate reports whether ip falls within an RFC 1918 private range.
func IsPrivate(ip net.IP) bool {
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// Contains reports whether addrs includes target.
func Contains(addrs []string, target string) bool {
	for _, a := range addrs {
		if a == target {
			return true
		}
	}
	return false
}
