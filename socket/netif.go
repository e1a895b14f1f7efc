package socket

import (
	"net"

	"github.com/pkg/errors"
)

// NetIf is the network interface used by the sender.
type NetIf struct {
	Iface     *net.Interface
	IP        net.IP
	Mask      net.IPMask
	Broadcast net.IP
}

// Name returns the name of the interface.
func (n *NetIf) Name() string {
	if n.Iface == nil {
		return ""
	}
	return n.Iface.Name
}

// FindInterface finds interface by name or by one of its IPv4 addresses.
// If name is empty, the first interface being up, not loopback and having IPv4 address is used.
func FindInterface(name string) (*NetIf, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var fallback *NetIf
	for _, iface := range ifaces {
		ipNet := ipv4Net(iface)
		if ipNet == nil {
			continue
		}
		netIf := newNetIf(iface, ipNet)

		if name != "" {
			if iface.Name == name || ipNet.IP.Equal(net.ParseIP(name)) {
				return netIf, nil
			}
			continue
		}

		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback == 0 {
			return netIf, nil
		}
		if fallback == nil {
			fallback = netIf
		}
	}

	if name == "" && fallback != nil {
		return fallback, nil
	}
	return nil, errors.Errorf("no usable interface found for %q", name)
}

func ipv4Net(iface net.Interface) *net.IPNet {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.To4() != nil {
			return ipNet
		}
	}
	return nil
}

func newNetIf(iface net.Interface, ipNet *net.IPNet) *NetIf {
	netIf := &NetIf{
		Iface: &iface,
		IP:    ipNet.IP.To4(),
		Mask:  ipNet.Mask,
	}
	if iface.Flags&net.FlagBroadcast != 0 {
		netIf.Broadcast = BroadcastAddress(netIf.IP, netIf.Mask)
	}
	return netIf
}

// BroadcastAddress computes directed broadcast address of the network.
func BroadcastAddress(ip net.IP, mask net.IPMask) net.IP {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil
	}
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	bcast := make(net.IP, net.IPv4len)
	for i := range bcast {
		bcast[i] = ip4[i] | ^mask[i]
	}
	return bcast
}

// DefaultMulticastAddress derives data multicast address from the low 24 bits of the interface address.
func DefaultMulticastAddress(ip net.IP) net.IP {
	ip4 := ip.To4()
	if ip4 == nil {
		return net.IPv4(232, 0, 0, 1).To4()
	}
	return net.IPv4(232, ip4[1], ip4[2], ip4[3]).To4()
}
