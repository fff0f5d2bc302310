// Package rdma translates between Ethernet and RDMA device identities and
// encodes IPv4 addresses as RDMA GIDs.
package rdma

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"netaffinity/pkg"
)

// ErrDeviceNotFound is returned when no RDMA device has the requested name.
var ErrDeviceNotFound = errors.New("RDMA device not found")

// Device describes one RDMA device visible to the verbs subsystem
type Device struct {
	Name            string `json:"name"`
	Index           uint32 `json:"index"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	NodeGUID        string `json:"node_guid,omitempty"`
	NumPorts        uint32 `json:"num_ports,omitempty"`
}

// DeviceLister enumerates RDMA devices.
type DeviceLister interface {
	Devices() ([]Device, error)
}

// NetlinkLister lists devices over the RDMA netlink family. RDMA link
// attributes carry no port count, so it is read from sysfs under SysRoot.
type NetlinkLister struct {
	SysRoot string
}

// listRdmaLinks is a variable so tests can run without an RDMA netlink
// socket.
var listRdmaLinks = func() ([]*netlink.RdmaLink, error) {
	h, err := netlink.NewHandle(unix.NETLINK_RDMA)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open RDMA netlink handle")
	}
	defer h.Close()

	links, err := h.RdmaLinkList()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list RDMA links")
	}
	return links, nil
}

// Devices implements DeviceLister.
func (l NetlinkLister) Devices() ([]Device, error) {
	links, err := listRdmaLinks()
	if err != nil {
		return nil, err
	}

	sysfs := NewSysfsLister(l.SysRoot)
	devices := make([]Device, 0, len(links))
	for _, link := range links {
		devices = append(devices, Device{
			Name:            link.Attrs.Name,
			Index:           link.Attrs.Index,
			FirmwareVersion: link.Attrs.FirmwareVersion,
			NodeGUID:        link.Attrs.NodeGuid,
			NumPorts:        sysfs.numPorts(link.Attrs.Name),
		})
	}
	return devices, nil
}

// SysfsLister lists the entries of /sys/class/infiniband in name order.
type SysfsLister struct {
	root string
}

// NewSysfsLister creates a lister reading sysfs under sysRoot
func NewSysfsLister(sysRoot string) *SysfsLister {
	return &SysfsLister{root: sysRoot}
}

func (s *SysfsLister) classPath(pathElem ...string) string {
	root := s.root
	if root == "" {
		root = "/sys"
	}
	return filepath.Join(append([]string{root, "class", "infiniband"}, pathElem...)...)
}

// Devices implements DeviceLister.
func (s *SysfsLister) Devices() ([]Device, error) {
	entries, err := os.ReadDir(s.classPath())
	if err != nil {
		return nil, errors.Wrap(err, "failed to read infiniband class")
	}

	devices := make([]Device, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		dev := Device{
			Name:            name,
			Index:           uint32(len(devices)),
			FirmwareVersion: s.readAttr(name, "fw_ver"),
			NodeGUID:        s.readAttr(name, "node_guid"),
			NumPorts:        s.numPorts(name),
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

func (s *SysfsLister) numPorts(dev string) uint32 {
	ports, err := os.ReadDir(s.classPath(dev, "ports"))
	if err != nil {
		return 0
	}
	return uint32(len(ports))
}

func (s *SysfsLister) readAttr(dev, attr string) string {
	data, err := os.ReadFile(s.classPath(dev, attr))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ShowDevices writes the name of every RDMA device to w. A listing failure
// is logged and nothing is written.
func ShowDevices(lister DeviceLister, w io.Writer) {
	devices, err := lister.Devices()
	if err != nil {
		pkg.WithError(err).Error("failed to get RDMA device list")
		return
	}

	fmt.Fprintln(w, "Devices:")
	for _, dev := range devices {
		fmt.Fprintln(w, dev.Name)
	}
}

// FindDevice returns the device called name, or ErrDeviceNotFound.
func FindDevice(lister DeviceLister, name string) (*Device, error) {
	devices, err := lister.Devices()
	if err != nil {
		return nil, err
	}

	for i := range devices {
		if devices[i].Name == name {
			return &devices[i], nil
		}
	}
	return nil, errors.Wrapf(ErrDeviceNotFound, "%q", name)
}
