// Package netdev maps IPv4 addresses to interface names and interface
// names to PCI bus addresses.
package netdev

import (
	"net/netip"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"

	"netaffinity/pkg"
	"netaffinity/pkg/types"
)

// AddrLister enumerates the IPv4 addresses bound to host interfaces.
type AddrLister func() ([]types.InterfaceAddress, error)

// ListAddresses returns every IPv4 address bound to a host interface, in
// the order the kernel reports them.
func ListAddresses() ([]types.InterfaceAddress, error) {
	h, err := netlink.NewHandle()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open netlink handle")
	}
	defer h.Close()

	addrs, err := h.AddrList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list addresses")
	}

	names := make(map[int]string)
	records := make([]types.InterfaceAddress, 0, len(addrs))
	for _, addr := range addrs {
		if addr.IPNet == nil {
			continue
		}
		ip4 := addr.IP.To4()
		if ip4 == nil {
			continue
		}

		// The label carries aliases such as eth0:1; fall back to the link name.
		name := addr.Label
		if name == "" {
			name = names[addr.LinkIndex]
			if name == "" {
				link, err := h.LinkByIndex(addr.LinkIndex)
				if err != nil {
					pkg.WithError(err).WithField("index", addr.LinkIndex).Debug("failed to resolve link name")
					continue
				}
				name = link.Attrs().Name
				names[addr.LinkIndex] = name
			}
		}

		rec := types.InterfaceAddress{Name: name}
		copy(rec.IPv4[:], ip4)
		records = append(records, rec)
	}

	return records, nil
}

// ParseIPv4 parses a dotted-decimal IPv4 literal.
func ParseIPv4(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, false
	}
	return addr, true
}

// Resolver answers best-effort interface lookups.
type Resolver struct {
	list AddrLister
}

// NewResolver creates a resolver backed by netlink
func NewResolver() *Resolver {
	return &Resolver{list: ListAddresses}
}

// NewResolverWithLister creates a resolver backed by the given lister
func NewResolverWithLister(list AddrLister) *Resolver {
	return &Resolver{list: list}
}

// DevByIP returns the name of the interface bound to ip, or "" when ip is
// not a valid IPv4 literal or no interface carries it. The first matching
// record wins.
func (r *Resolver) DevByIP(ip string) string {
	addr, ok := ParseIPv4(ip)
	if !ok {
		pkg.WithField("ip", ip).Debug("not an IPv4 literal")
		return ""
	}

	records, err := r.list()
	if err != nil {
		pkg.WithError(err).WithField("ip", ip).Debug("interface enumeration failed")
		return ""
	}

	for _, rec := range records {
		if rec.Addr() == addr {
			return rec.Name
		}
	}

	pkg.WithField("ip", ip).Debug("no interface bound to address")
	return ""
}

// PCIByDev returns the PCI bus address of dev, see PCIByDev.
func (r *Resolver) PCIByDev(dev string) string {
	return PCIByDev(dev)
}
