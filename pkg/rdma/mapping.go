package rdma

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"netaffinity/pkg"
)

// DefaultMappingCommand is the host helper printing the RDMA→netdev table.
var DefaultMappingCommand = []string{"ibdev2netdev"}

// Mapping is one row of the device mapping table, e.g.
// "mlx5_1 port 1 ==> ens10f1 (Up)".
type Mapping struct {
	RDMADevice string `json:"rdma_device"`
	Port       int    `json:"port"`
	NetDevice  string `json:"net_device"`
	State      string `json:"state,omitempty"`
}

// TableSource yields the raw mapping table. The caller closes the reader.
type TableSource func() (io.ReadCloser, error)

// CommandSource runs argv and returns its standard output.
func CommandSource(argv ...string) TableSource {
	return func() (io.ReadCloser, error) {
		if len(argv) == 0 {
			return nil, errors.New("no mapping command configured")
		}
		out, err := exec.Command(argv[0], argv[1:]...).Output()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to run %s", argv[0])
		}
		return io.NopCloser(bytes.NewReader(out)), nil
	}
}

// SysfsSource renders the same table from /sys/class/infiniband for hosts
// without the helper: one row per port of each RDMA device that has a
// network interface.
func SysfsSource(sysRoot string) TableSource {
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	return func() (io.ReadCloser, error) {
		ibRoot := filepath.Join(sysRoot, "class", "infiniband")
		devs, err := os.ReadDir(ibRoot)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read infiniband class")
		}

		var buf bytes.Buffer
		for _, dev := range devs {
			netdevs, err := os.ReadDir(filepath.Join(ibRoot, dev.Name(), "device", "net"))
			if err != nil || len(netdevs) == 0 {
				continue
			}
			ports, err := os.ReadDir(filepath.Join(ibRoot, dev.Name(), "ports"))
			if err != nil || len(ports) == 0 {
				continue
			}
			for i, port := range ports {
				netdev := netdevs[0].Name()
				if i < len(netdevs) {
					netdev = netdevs[i].Name()
				}
				state := "Down"
				if data, err := os.ReadFile(filepath.Join(sysRoot, "class", "net", netdev, "operstate")); err == nil &&
					strings.TrimSpace(string(data)) == "up" {
					state = "Up"
				}
				fmt.Fprintf(&buf, "%s port %s ==> %s (%s)\n", dev.Name(), port.Name(), netdev, state)
			}
		}
		return io.NopCloser(&buf), nil
	}
}

// ParseMappingTable reads rows of the form
// "RDMA_NAME <word> <port> ==> ETH_NAME <rest of line>". Rows without the
// arrow in fourth position are skipped.
func ParseMappingTable(r io.Reader) ([]Mapping, error) {
	var mappings []Mapping

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[3] != "==>" {
			continue
		}
		// the port column is informational; a non-numeric one is kept as 0
		port, _ := strconv.Atoi(fields[2])
		m := Mapping{RDMADevice: fields[0], Port: port, NetDevice: fields[4]}
		if len(fields) > 5 {
			m.State = strings.Trim(fields[5], "()")
		}
		mappings = append(mappings, m)
	}

	return mappings, scanner.Err()
}

// Mapper translates between Ethernet and RDMA device names. The table is
// fetched again on every call.
type Mapper struct {
	source TableSource
}

// NewMapper creates a mapper reading the table from source
func NewMapper(source TableSource) *Mapper {
	if source == nil {
		source = CommandSource(DefaultMappingCommand...)
	}
	return &Mapper{source: source}
}

// Mappings fetches and parses the current table.
func (m *Mapper) Mappings() ([]Mapping, error) {
	rc, err := m.source()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return ParseMappingTable(rc)
}

func (m *Mapper) lookup(match func(Mapping) bool, pick func(Mapping) string) string {
	mappings, err := m.Mappings()
	if err != nil {
		pkg.WithError(err).Debug("device mapping table unavailable")
		return ""
	}
	for _, mapping := range mappings {
		if match(mapping) {
			return pick(mapping)
		}
	}
	return ""
}

// DevToIBDev returns the RDMA device behind Ethernet device dev
// (ens10f1 → mlx5_1), or "".
func (m *Mapper) DevToIBDev(dev string) string {
	return m.lookup(
		func(mp Mapping) bool { return mp.NetDevice == dev },
		func(mp Mapping) string { return mp.RDMADevice },
	)
}

// IBDevToDev returns the Ethernet device of RDMA device ibdev
// (mlx5_1 → ens10f1), or "".
func (m *Mapper) IBDevToDev(ibdev string) string {
	return m.lookup(
		func(mp Mapping) bool { return mp.RDMADevice == ibdev },
		func(mp Mapping) string { return mp.NetDevice },
	)
}
