package netdev

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/safchain/ethtool"

	"netaffinity/pkg"
)

// DriverInfo is the ETHTOOL_GDRVINFO answer for one interface
type DriverInfo struct {
	Driver          string `json:"driver"`
	Version         string `json:"version"`
	FirmwareVersion string `json:"firmware_version"`
	BusInfo         string `json:"bus_info"`
}

type driverInfoReader interface {
	DriverInfo(intf string) (ethtool.DrvInfo, error)
	Close()
}

// openEthtool is a variable so tests can replace the ioctl channel.
var openEthtool = func() (driverInfoReader, error) {
	return ethtool.NewEthtool()
}

// GetDriverInfo queries the driver information of an interface through a
// fresh ethtool control socket, closed before returning.
func GetDriverInfo(dev string) (*DriverInfo, error) {
	if dev == "" {
		return nil, errors.New("interface name required")
	}

	e, err := openEthtool()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open ethtool socket")
	}
	defer e.Close()

	drv, err := e.DriverInfo(dev)
	if err != nil {
		return nil, errors.Wrapf(err, "ETHTOOL_GDRVINFO failed for %s", dev)
	}

	return &DriverInfo{
		Driver:          trimNul(drv.Driver),
		Version:         trimNul(drv.Version),
		FirmwareVersion: trimNul(drv.FwVersion),
		BusInfo:         trimNul(drv.BusInfo),
	}, nil
}

func trimNul(s string) string {
	return strings.TrimRight(s, "\x00")
}

// PCIByDev returns the bus address (e.g. 0000:e3:00.1) reported by the
// driver of dev. Any failure, including devices without bus information,
// yields "".
func PCIByDev(dev string) string {
	info, err := GetDriverInfo(dev)
	if err != nil {
		pkg.WithError(err).WithField("interface", dev).Debug("no driver info")
		return ""
	}
	return info.BusInfo
}
