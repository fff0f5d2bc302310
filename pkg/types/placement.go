package types

import "net/netip"

// InterfaceAddress is one IPv4 address bound to a host interface
type InterfaceAddress struct {
	Name string  `json:"name"`
	IPv4 [4]byte `json:"ipv4"`
}

// Addr returns the address as a netip.Addr
func (a InterfaceAddress) Addr() netip.Addr {
	return netip.AddrFrom4(a.IPv4)
}

// Placement is the result of resolving an IPv4 address down to the CPUs
// local to the adapter that owns it. Fields left empty (or -1 for Socket)
// could not be resolved.
type Placement struct {
	IP         string `json:"ip"`
	Interface  string `json:"interface"`
	PCIAddress string `json:"pci_address"`
	Socket     int    `json:"socket"`
	CPUs       []int  `json:"cpus"`
	CPUList    string `json:"cpu_list"`
	UsableCPUs string `json:"usable_cpus,omitempty"`
	RDMADevice string `json:"rdma_device,omitempty"`
	GID        string `json:"gid,omitempty"`
}

// Resolved reports whether the chain reached a socket
func (p *Placement) Resolved() bool {
	return p.Socket >= 0
}
