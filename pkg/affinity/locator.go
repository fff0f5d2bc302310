// Package affinity chains the netdev, topology and rdma resolvers to place
// an IPv4 address on the CPUs local to the adapter that owns it.
package affinity

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/utils/cpuset"

	"netaffinity/pkg"
	"netaffinity/pkg/netdev"
	"netaffinity/pkg/rdma"
	"netaffinity/pkg/topology"
	"netaffinity/pkg/types"
)

// allowedMask returns the CPUs the calling process may run on.
var allowedMask = func() (cpuset.CPUSet, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return cpuset.New(), errors.Wrap(err, "sched_getaffinity")
	}
	var cpus []int
	for cpu := 0; cpu < len(set)*64; cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	return cpuset.New(cpus...), nil
}

// Interfaces is the IP→device→PCI part of the chain.
type Interfaces interface {
	DevByIP(ip string) string
	PCIByDev(dev string) string
}

// Topology is the PCI→socket→CPU part of the chain.
type Topology interface {
	SocketByPCI(pciAddr string) int
	CPUsBySocket(socket int) ([]int, error)
}

// Locator resolves placements. A nil mapper disables the RDMA lookups.
type Locator struct {
	ifaces Interfaces
	topo   Topology
	mapper *rdma.Mapper
}

// NewLocator creates a locator. ifaces defaults to a netlink-backed
// resolver and topo to one reading /sys and /proc.
func NewLocator(ifaces Interfaces, topo Topology, mapper *rdma.Mapper) *Locator {
	if ifaces == nil {
		ifaces = netdev.NewResolver()
	}
	if topo == nil {
		topo = topology.NewResolver("", nil)
	}
	return &Locator{ifaces: ifaces, topo: topo, mapper: mapper}
}

// Locate walks IP→device→PCI→socket→CPUs and returns as much of the chain
// as could be resolved. Unresolved fields stay empty and Socket stays -1.
// Only a malformed address or a topology failure is an error.
func (l *Locator) Locate(ip string) (*types.Placement, error) {
	ipv4, err := rdma.IPv4FromString(ip)
	if err != nil {
		return nil, err
	}

	p := &types.Placement{IP: ip, Socket: topology.UnknownSocket, CPUs: []int{}}
	if l.mapper != nil {
		p.GID = rdma.IPv4ToGID(ipv4).String()
	}
	log := pkg.WithField("ip", ip)

	p.Interface = l.ifaces.DevByIP(ip)
	if p.Interface == "" {
		log.Info("no interface carries the address")
		return p, nil
	}
	if l.mapper != nil {
		p.RDMADevice = l.mapper.DevToIBDev(p.Interface)
	}

	p.PCIAddress = l.ifaces.PCIByDev(p.Interface)
	if p.PCIAddress == "" {
		log.WithField("device", p.Interface).Info("no PCI address for interface")
		return p, nil
	}

	p.Socket = l.topo.SocketByPCI(p.PCIAddress)
	if p.Socket < 0 {
		log.WithField("pci", p.PCIAddress).Info("no NUMA socket for device")
		return p, nil
	}

	cpus, err := l.topo.CPUsBySocket(p.Socket)
	if err != nil {
		return p, err
	}
	set := cpuset.New(cpus...)
	p.CPUs = set.List()
	p.CPUList = set.String()

	allowed, err := allowedMask()
	if err != nil {
		log.WithError(err).Warn("cannot read process affinity mask")
		return p, nil
	}
	p.UsableCPUs = set.Intersection(allowed).String()

	return p, nil
}
