package topology

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// CPUProvider supplies the socket id of every logical CPU, indexed by
// logical CPU id. CPUs the platform reports no topology for hold
// UnknownSocket. Implementations return a *TopologyError on failure.
type CPUProvider interface {
	SocketsByCPU() ([]int, error)
}

// CPUInfoProvider reads the "physical id" of each processor record in
// /proc/cpuinfo.
type CPUInfoProvider struct {
	root string
}

// NewCPUInfoProvider creates a provider reading cpuinfo under procRoot
func NewCPUInfoProvider(procRoot string) *CPUInfoProvider {
	return &CPUInfoProvider{root: procRoot}
}

func (p *CPUInfoProvider) getRoot() string {
	if p.root == "" {
		p.root = procfs.DefaultMountPoint
	}
	return p.root
}

// SocketsByCPU implements CPUProvider.
func (p *CPUInfoProvider) SocketsByCPU() ([]int, error) {
	source := filepath.Join(p.getRoot(), "cpuinfo")

	fs, err := procfs.NewFS(p.getRoot())
	if err != nil {
		return nil, wrapTopologyError(source, err, "failed to open procfs")
	}

	cpus, err := fs.CPUInfo()
	if err != nil {
		return nil, wrapTopologyError(source, err, "failed to read cpuinfo")
	}
	if len(cpus) == 0 {
		return nil, topologyErrorf(source, "no processor records")
	}

	byCPU := make(map[int]int, len(cpus))
	for _, cpu := range cpus {
		id, err := strconv.Atoi(strings.TrimSpace(cpu.PhysicalID))
		if err != nil || id < 0 {
			return nil, topologyErrorf(source, "processor %d has invalid physical id %q", cpu.Processor, cpu.PhysicalID)
		}
		byCPU[int(cpu.Processor)] = id
	}

	return indexByCPU(byCPU), nil
}

// indexByCPU lays out per-CPU socket ids by logical CPU id. CPUs without a
// record (offline, or gaps in the numbering) get UnknownSocket.
func indexByCPU(byCPU map[int]int) []int {
	highest := -1
	for cpu := range byCPU {
		if cpu > highest {
			highest = cpu
		}
	}

	sockets := make([]int, highest+1)
	for cpu := range sockets {
		sockets[cpu] = UnknownSocket
	}
	for cpu, socket := range byCPU {
		sockets[cpu] = socket
	}
	return sockets
}

// SysfsCPUProvider reads topology/physical_package_id of each CPU under
// /sys/devices/system/cpu. Offline CPUs expose no topology and hold
// UnknownSocket.
type SysfsCPUProvider struct {
	root string
}

// NewSysfsCPUProvider creates a provider reading sysfs under sysRoot
func NewSysfsCPUProvider(sysRoot string) *SysfsCPUProvider {
	return &SysfsCPUProvider{root: sysRoot}
}

func (p *SysfsCPUProvider) cpuPath(pathElem ...string) string {
	root := p.root
	if root == "" {
		root = defaultSysRoot
	}
	return filepath.Join(append([]string{root, "devices", "system", "cpu"}, pathElem...)...)
}

// SocketsByCPU implements CPUProvider.
func (p *SysfsCPUProvider) SocketsByCPU() ([]int, error) {
	source := p.cpuPath()

	entries, err := os.ReadDir(source)
	if err != nil {
		return nil, wrapTopologyError(source, err, "failed to read cpu directory")
	}

	var ids []int
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "cpu") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(name, "cpu"))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	byCPU := make(map[int]int, len(ids))
	for _, id := range ids {
		data, err := os.ReadFile(p.cpuPath("cpu"+strconv.Itoa(id), "topology", "physical_package_id"))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, wrapTopologyError(source, err, "failed to read physical_package_id")
		}
		socket, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil || socket < 0 {
			return nil, topologyErrorf(source, "cpu%d has invalid physical_package_id %q", id, strings.TrimSpace(string(data)))
		}
		byCPU[id] = socket
	}

	if len(byCPU) == 0 {
		return nil, topologyErrorf(source, "no cpu topology records")
	}

	return indexByCPU(byCPU), nil
}
