// Package network finds the local IPv4 address and subnet broadcast address
// that name-service queries are sent from and to.
package network

import (
	"fmt"
	"net"
	"net/netip"
)

// Address is an IPv4 address assigned to an interface.
type Address struct {
	IP        netip.Addr
	Broadcast netip.Addr
	Interface string
}

// Broadcast returns address | ^mask for an IPv4 address and mask.
func Broadcast(ip net.IP, mask net.IPMask) (netip.Addr, bool) {
	ip4 := ip.To4()
	if ip4 == nil {
		return netip.Addr{}, false
	}
	m := mask
	if len(m) == net.IPv6len {
		m = m[12:]
	}
	if len(m) != net.IPv4len {
		return netip.Addr{}, false
	}
	network := ipToUint32(ip4) & ipToUint32(net.IP(m))
	broadcast := network | ^ipToUint32(net.IP(m))
	addr, _ := netip.AddrFromSlice(uint32ToIP(broadcast).To4())
	return addr, true
}

// BroadcastCIDR returns the broadcast address of an IPv4 CIDR such as
// "192.168.1.24/24".
func BroadcastCIDR(cidr string) (netip.Addr, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return netip.Addr{}, err
	}
	b, ok := Broadcast(ip, ipnet.Mask)
	if !ok {
		return netip.Addr{}, fmt.Errorf("network: %s is not an IPv4 network", cidr)
	}
	return b, nil
}

func ipToUint32(ip net.IP) uint32 {
	ip = ip.To4()
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func uint32ToIP(u uint32) net.IP {
	return net.IPv4(byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

// Addresses lists the IPv4 addresses of interfaces that are up and not
// loopback, in interface order.
func Addresses() ([]Address, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	var out []Address
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			bcast, ok := Broadcast(ipnet.IP, ipnet.Mask)
			if !ok {
				continue
			}
			ip, _ := netip.AddrFromSlice(ipnet.IP.To4())
			out = append(out, Address{IP: ip, Broadcast: bcast, Interface: iface.Name})
		}
	}
	return out, nil
}

// Select picks the entry matching preferred, or the first entry when
// preferred is the zero Addr. A preferred address that is not assigned
// selects nothing.
func Select(addrs []Address, preferred netip.Addr) (Address, bool) {
	if preferred.IsValid() {
		preferred = preferred.Unmap()
		for _, a := range addrs {
			if a.IP == preferred {
				return a, true
			}
		}
		return Address{}, false
	}
	if len(addrs) == 0 {
		return Address{}, false
	}
	return addrs[0], true
}

// Resolver finds the local address and broadcast address for a preferred
// local IPv4 address.
type Resolver struct {
	// List enumerates candidate addresses. Nil uses Addresses.
	List func() ([]Address, error)
}

func (r Resolver) lookup(preferred netip.Addr) (Address, bool) {
	list := r.List
	if list == nil {
		list = Addresses
	}
	addrs, err := list()
	if err != nil {
		return Address{}, false
	}
	return Select(addrs, preferred)
}

// BroadcastAddress returns the subnet broadcast address for preferred, or
// for the first eligible interface when preferred is the zero Addr.
func (r Resolver) BroadcastAddress(preferred netip.Addr) (netip.Addr, bool) {
	a, ok := r.lookup(preferred)
	return a.Broadcast, ok
}

// LocalAddress returns the local IPv4 address chosen for preferred.
func (r Resolver) LocalAddress(preferred netip.Addr) (netip.Addr, bool) {
	a, ok := r.lookup(preferred)
	return a.IP, ok
}
