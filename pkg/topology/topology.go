// Package topology maps PCI devices to NUMA sockets and sockets to the
// logical CPUs they own.
package topology

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"netaffinity/pkg"
)

const defaultSysRoot = "/sys"

// UnknownSocket is returned when a device has no NUMA information.
const UnknownSocket = -1

// Resolver answers PCI→socket and socket→CPU queries. Nothing is cached:
// every call reads the platform again.
type Resolver struct {
	root string
	cpus CPUProvider
	log  *logrus.Logger
}

// NewResolver creates a resolver reading PCI attributes under sysRoot and
// CPU topology from cpus.
func NewResolver(sysRoot string, cpus CPUProvider) *Resolver {
	if cpus == nil {
		cpus = NewCPUInfoProvider("")
	}
	return &Resolver{
		root: sysRoot,
		cpus: cpus,
		log:  pkg.StandardLogger(),
	}
}

// WithLogger replaces the logger used for the fatal path.
func (r *Resolver) WithLogger(log *logrus.Logger) *Resolver {
	r.log = log
	return r
}

func (r *Resolver) sysPath(pathElem ...string) string {
	if r.root == "" {
		r.root = defaultSysRoot
	}
	return filepath.Join(append([]string{r.root}, pathElem...)...)
}

// SocketByPCI returns the NUMA node the platform reports for the PCI device
// at pciAddr, or UnknownSocket if the attribute is missing, unreadable or
// malformed.
func (r *Resolver) SocketByPCI(pciAddr string) int {
	if pciAddr == "" || strings.ContainsRune(pciAddr, os.PathSeparator) {
		return UnknownSocket
	}

	numaPath := r.sysPath("bus", "pci", "devices", pciAddr, "numa_node")
	data, err := os.ReadFile(numaPath)
	if err != nil {
		pkg.WithError(err).WithField("pci", pciAddr).Debug("no NUMA node for device")
		return UnknownSocket
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return UnknownSocket
	}
	socket, err := strconv.Atoi(fields[0])
	if err != nil {
		pkg.WithField("pci", pciAddr).Debugf("invalid NUMA node %q", fields[0])
		return UnknownSocket
	}

	return socket
}

// SocketsByCPU returns the socket id of each logical CPU in ascending CPU
// order. The error is always a *TopologyError.
func (r *Resolver) SocketsByCPU() ([]int, error) {
	return r.cpus.SocketsByCPU()
}

// CPUListWithSocketIndex returns, for each socket id, the CPUs it owns.
func (r *Resolver) CPUListWithSocketIndex() ([][]int, error) {
	sockets, err := r.SocketsByCPU()
	if err != nil {
		return nil, err
	}
	return GroupCPUsBySocket(sockets), nil
}

// CPUsBySocket returns the CPUs of socket in ascending order. A socket id
// that is negative or beyond the highest observed socket yields an empty
// list.
func (r *Resolver) CPUsBySocket(socket int) ([]int, error) {
	groups, err := r.CPUListWithSocketIndex()
	if err != nil {
		return nil, err
	}
	return cpusOf(groups, socket), nil
}

// MustSocketsByCPU is SocketsByCPU with the topology failure reported on
// stderr and the process terminated.
func (r *Resolver) MustSocketsByCPU() []int {
	sockets, err := r.SocketsByCPU()
	if err != nil {
		r.fatal(err)
		return nil
	}
	return sockets
}

// MustCPUsBySocket is CPUsBySocket with the topology failure treated as
// fatal.
func (r *Resolver) MustCPUsBySocket(socket int) []int {
	return cpusOf(GroupCPUsBySocket(r.MustSocketsByCPU()), socket)
}

func (r *Resolver) fatal(err error) {
	r.log.WithError(err).Fatal("cannot determine CPU topology")
}

func cpusOf(groups [][]int, socket int) []int {
	if socket < 0 || socket >= len(groups) {
		return []int{}
	}
	return groups[socket]
}

// GroupCPUsBySocket inverts a per-CPU socket sequence into per-socket CPU
// lists. The result has 1+max(sockets) buckets; bucket s holds, in
// ascending order, every CPU index i with sockets[i] == s. Negative entries
// belong to no bucket.
func GroupCPUsBySocket(sockets []int) [][]int {
	highest := -1
	for _, s := range sockets {
		if s > highest {
			highest = s
		}
	}
	if highest < 0 {
		return [][]int{}
	}

	groups := make([][]int, highest+1)
	for i := range groups {
		groups[i] = []int{}
	}
	for cpu, s := range sockets {
		if s < 0 {
			continue
		}
		groups[s] = append(groups[s], cpu)
	}

	return groups
}
