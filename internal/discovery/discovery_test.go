package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestIsSelfByInstanceName(t *testing.T) {
	a := New("unimesh", "linux", 7890)
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: "unimesh-" + a.serviceID[:8],
		},
		AddrIPv4: []net.IP{net.ParseIP("203.0.113.5")},
		Port:     9999,
	}
	if !a.isSelf(entry) {
		t.Fatal("entry whose instance name contains our service_id should be filtered as self")
	}
}

func TestIsSelfByPortAndAddress(t *testing.T) {
	a := New("unimesh", "linux", 7890)

	local, err := mockLocalAddr(t)
	if err != nil {
		t.Skip("no local IPv4 address available in this environment")
	}

	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: "some-other-instance",
		},
		AddrIPv4: []net.IP{net.ParseIP(local)},
		Port:     7890,
	}
	if !a.isSelf(entry) {
		t.Fatal("entry matching our port and a local address should be filtered as self")
	}
}

func TestIsSelfFalseForDistinctPeer(t *testing.T) {
	a := New("unimesh", "linux", 7890)
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: "peer-on-another-host",
		},
		AddrIPv4: []net.IP{net.ParseIP("203.0.113.5")},
		Port:     7890,
	}
	if a.isSelf(entry) {
		t.Fatal("entry with a different instance and a non-local address should not be filtered")
	}
}

func TestSweepDropsStaleDevices(t *testing.T) {
	a := New("unimesh", "linux", 7890)
	a.devices["203.0.113.5:9999"] = Device{
		Address:  "203.0.113.5",
		Port:     9999,
		LastSeen: time.Now().Add(-deviceTimeout - time.Second),
	}
	a.sweep()
	if len(a.GetDiscoveredDevices()) != 0 {
		t.Fatal("expected stale device to be swept")
	}
}

func mockLocalAddr(t *testing.T) (string, error) {
	t.Helper()
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil || ip4.IsLoopback() {
			continue
		}
		return ip4.String(), nil
	}
	return "", net.UnknownNetworkError("no ipv4 address")
}
