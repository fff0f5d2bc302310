package affinity

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/vishvananda/netlink"
	"k8s.io/utils/cpuset"

	"netaffinity/pkg/rdma"
	"netaffinity/pkg/topology"
	"netaffinity/pkg/types"
)

type fakeInterfaces struct {
	mu   sync.Mutex
	devs map[string]string
	pcis map[string]string
}

func (f *fakeInterfaces) DevByIP(ip string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devs[ip]
}

func (f *fakeInterfaces) PCIByDev(dev string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pcis[dev]
}

func (f *fakeInterfaces) bind(ip, dev string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devs[ip] = dev
}

type fakeTopology struct {
	numa    map[string]int
	sockets []int
	err     error
}

func (f *fakeTopology) SocketByPCI(pciAddr string) int {
	if s, ok := f.numa[pciAddr]; ok {
		return s
	}
	return topology.UnknownSocket
}

func (f *fakeTopology) CPUsBySocket(socket int) ([]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	groups := topology.GroupCPUsBySocket(f.sockets)
	if socket < 0 || socket >= len(groups) {
		return []int{}, nil
	}
	return groups[socket], nil
}

func stubAllowedMask(t *testing.T, cpus ...int) {
	t.Helper()
	orig := allowedMask
	allowedMask = func() (cpuset.CPUSet, error) {
		return cpuset.New(cpus...), nil
	}
	t.Cleanup(func() { allowedMask = orig })
}

func newFakes() (*fakeInterfaces, *fakeTopology) {
	ifaces := &fakeInterfaces{
		devs: map[string]string{
			"192.168.1.1": "ens10f1",
			"10.0.0.5":    "veth0",
			"10.0.0.6":    "ens11f0",
		},
		pcis: map[string]string{
			"ens10f1": "0000:3b:00.1",
			"ens11f0": "0000:af:00.0",
		},
	}
	topo := &fakeTopology{
		numa:    map[string]int{"0000:3b:00.1": 1},
		sockets: []int{0, 0, 0, 0, 1, 1, 1, 1},
	}
	return ifaces, topo
}

func TestLocate(t *testing.T) {
	stubAllowedMask(t, 0, 1, 5, 6)
	ifaces, topo := newFakes()
	l := NewLocator(ifaces, topo, nil)

	tests := []struct {
		name     string
		ip       string
		expected *types.Placement
	}{
		{
			name: "fully resolved",
			ip:   "192.168.1.1",
			expected: &types.Placement{
				IP:         "192.168.1.1",
				Interface:  "ens10f1",
				PCIAddress: "0000:3b:00.1",
				Socket:     1,
				CPUs:       []int{4, 5, 6, 7},
				CPUList:    "4-7",
				UsableCPUs: "5-6",
			},
		},
		{
			name:     "unbound address",
			ip:       "172.16.0.1",
			expected: &types.Placement{IP: "172.16.0.1", Socket: -1, CPUs: []int{}},
		},
		{
			name:     "virtual device without PCI address",
			ip:       "10.0.0.5",
			expected: &types.Placement{IP: "10.0.0.5", Interface: "veth0", Socket: -1, CPUs: []int{}},
		},
		{
			name: "device without NUMA node",
			ip:   "10.0.0.6",
			expected: &types.Placement{
				IP:         "10.0.0.6",
				Interface:  "ens11f0",
				PCIAddress: "0000:af:00.0",
				Socket:     -1,
				CPUs:       []int{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Locate(tt.ip)
			if err != nil {
				t.Fatalf("Locate(%q) returned error: %v", tt.ip, err)
			}
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("Locate(%q) mismatch (-want +got):\n%s", tt.ip, diff)
			}
			if got.Resolved() != (tt.expected.Socket >= 0) {
				t.Errorf("Resolved() = %v", got.Resolved())
			}
		})
	}
}

func TestLocateErrors(t *testing.T) {
	stubAllowedMask(t, 0)
	ifaces, topo := newFakes()

	if _, err := NewLocator(ifaces, topo, nil).Locate("192.168.1"); err == nil {
		t.Error("expected error for malformed address")
	}

	topo.err = &topology.TopologyError{Source: "/proc/cpuinfo", Err: errors.New("no such file")}
	_, err := NewLocator(ifaces, topo, nil).Locate("192.168.1.1")
	if !topology.IsTopologyError(err) {
		t.Errorf("expected TopologyError, got %v", err)
	}
}

func TestLocateAffinityMaskUnavailable(t *testing.T) {
	orig := allowedMask
	allowedMask = func() (cpuset.CPUSet, error) {
		return cpuset.New(), errors.New("operation not permitted")
	}
	t.Cleanup(func() { allowedMask = orig })

	ifaces, topo := newFakes()
	p, err := NewLocator(ifaces, topo, nil).Locate("192.168.1.1")
	if err != nil {
		t.Fatalf("Locate returned error: %v", err)
	}
	if p.CPUList != "4-7" || p.UsableCPUs != "" {
		t.Errorf("got CPUList %q UsableCPUs %q", p.CPUList, p.UsableCPUs)
	}
}

func TestLocateWithRDMA(t *testing.T) {
	stubAllowedMask(t, 4, 5, 6, 7)
	ifaces, topo := newFakes()
	mapper := rdma.NewMapper(func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("mlx5_1 port 1 ==> ens10f1 (Up)\n")), nil
	})

	p, err := NewLocator(ifaces, topo, mapper).Locate("192.168.1.1")
	if err != nil {
		t.Fatalf("Locate returned error: %v", err)
	}
	if p.RDMADevice != "mlx5_1" {
		t.Errorf("RDMADevice = %q, want mlx5_1", p.RDMADevice)
	}
	if p.GID != "0000:0000:0000:0000:0000:ffff:c0a8:0101" {
		t.Errorf("GID = %q", p.GID)
	}
	if p.UsableCPUs != "4-7" {
		t.Errorf("UsableCPUs = %q, want 4-7", p.UsableCPUs)
	}
}

type netlinkFeed struct {
	addrs chan netlink.AddrUpdate
	links chan netlink.LinkUpdate
}

// stubNetlink replaces the kernel notification streams. A non-nil err makes
// the subscription fail.
func stubNetlink(t *testing.T, err error) *netlinkFeed {
	t.Helper()
	feed := &netlinkFeed{
		addrs: make(chan netlink.AddrUpdate),
		links: make(chan netlink.LinkUpdate),
	}
	orig := subscribeNetlink
	subscribeNetlink = func(done <-chan struct{}) (<-chan netlink.AddrUpdate, <-chan netlink.LinkUpdate, error) {
		if err != nil {
			return nil, nil, err
		}
		return feed.addrs, feed.links, nil
	}
	t.Cleanup(func() { subscribeNetlink = orig })
	return feed
}

type watchRun struct {
	placements chan *types.Placement
	cancel     context.CancelFunc
	done       chan error
}

func startWatcher(t *testing.T, w *Watcher) *watchRun {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	run := &watchRun{
		placements: make(chan *types.Placement, 4),
		cancel:     cancel,
		done:       make(chan error, 1),
	}
	go func() {
		run.done <- w.Run(ctx, func(p *types.Placement) { run.placements <- p })
	}()
	return run
}

func (r *watchRun) receive(t *testing.T) *types.Placement {
	t.Helper()
	select {
	case p := <-r.placements:
		return p
	case err := <-r.done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for placement")
	}
	return nil
}

func (r *watchRun) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestWatcherAddressUpdate(t *testing.T) {
	stubAllowedMask(t, 0, 1, 2, 3, 4, 5, 6, 7)
	feed := stubNetlink(t, nil)
	ifaces, topo := newFakes()
	ifaces.bind("192.168.1.1", "")

	// no class/net directory: netlink alone drives the watcher
	w := NewWatcher(NewLocator(ifaces, topo, nil), t.TempDir(), "192.168.1.1").WithDebounce(20 * time.Millisecond)
	run := startWatcher(t, w)

	if p := run.receive(t); p.Interface != "" || p.Resolved() {
		t.Fatalf("initial placement = %+v, want unresolved", p)
	}

	ifaces.bind("192.168.1.1", "ens10f1")
	feed.addrs <- netlink.AddrUpdate{
		LinkAddress: net.IPNet{IP: net.IPv4(192, 168, 1, 1), Mask: net.CIDRMask(24, 32)},
		NewAddr:     true,
	}

	p := run.receive(t)
	if p.Interface != "ens10f1" || p.Socket != 1 || p.CPUList != "4-7" {
		t.Errorf("placement after address update = %+v", p)
	}

	// a link flap that leaves the placement unchanged is not reported
	feed.links <- netlink.LinkUpdate{}
	ifaces.bind("192.168.1.1", "")
	feed.links <- netlink.LinkUpdate{}
	if p := run.receive(t); p.Interface != "" {
		t.Errorf("placement after link removal = %+v", p)
	}

	run.stop(t)
}

func TestWatcherDirectoryFallback(t *testing.T) {
	stubAllowedMask(t, 0, 1, 2, 3, 4, 5, 6, 7)
	stubNetlink(t, errors.New("protocol not supported"))
	ifaces, topo := newFakes()
	ifaces.bind("192.168.1.1", "")

	root := t.TempDir()
	netDir := filepath.Join(root, "class", "net")
	if err := os.MkdirAll(netDir, 0755); err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(NewLocator(ifaces, topo, nil), root, "192.168.1.1").WithDebounce(20 * time.Millisecond)
	run := startWatcher(t, w)

	if p := run.receive(t); p.Interface != "" || p.Resolved() {
		t.Fatalf("initial placement = %+v, want unresolved", p)
	}

	ifaces.bind("192.168.1.1", "ens10f1")
	if err := os.Mkdir(filepath.Join(netDir, "ens10f1"), 0755); err != nil {
		t.Fatal(err)
	}

	p := run.receive(t)
	if p.Interface != "ens10f1" || p.Socket != 1 || p.CPUList != "4-7" {
		t.Errorf("placement after hotplug = %+v", p)
	}

	run.stop(t)
}

func TestWatcherNoTrigger(t *testing.T) {
	stubNetlink(t, errors.New("protocol not supported"))
	ifaces, topo := newFakes()
	w := NewWatcher(NewLocator(ifaces, topo, nil), t.TempDir(), "192.168.1.1")
	if err := w.Run(context.Background(), func(*types.Placement) {}); err == nil {
		t.Error("expected error when neither netlink nor class/net can be watched")
	}
}
