package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"netaffinity/pkg"
	"netaffinity/pkg/rdma"
)

var gidDecode bool

var rdmaCmd = &cobra.Command{
	Use:   "rdma",
	Short: "RDMA device names and GIDs",
	Long: `Translate between Ethernet and RDMA device names and between IPv4
addresses and RDMA GIDs.

Device lookups need rdma.enabled in the configuration; the GID codec
always works.

Examples:
  netaffinity rdma devices
  netaffinity rdma ibdev ens10f1           # mlx5_1
  netaffinity rdma netdev mlx5_1           # ens10f1
  netaffinity rdma gid 192.168.1.1         # 0000:0000:0000:0000:0000:ffff:c0a8:0101
  netaffinity rdma gid --decode 0000:0000:0000:0000:0000:ffff:c0a8:0101`,
}

var rdmaDevicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List RDMA devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRDMA(); err != nil {
			return err
		}
		lister := cfg.DeviceLister()
		if !jsonOutput() {
			rdma.ShowDevices(lister, cmd.OutOrStdout())
			return nil
		}
		devices, err := lister.Devices()
		if err != nil {
			pkg.Error("failed to get RDMA device list: %v", err)
			devices = []rdma.Device{}
		}
		return printResult(cmd.OutOrStdout(), devices, nil)
	},
}

var rdmaFindCmd = &cobra.Command{
	Use:   "find <rdma-device>",
	Short: "Show one RDMA device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRDMA(); err != nil {
			return err
		}
		dev, err := rdma.FindDevice(cfg.DeviceLister(), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), dev, func(w io.Writer) {
			fmt.Fprintf(w, "%s\tindex %d\tports %d\tfw %s\tguid %s\n",
				dev.Name, dev.Index, dev.NumPorts, orUnknown(dev.FirmwareVersion), orUnknown(dev.NodeGUID))
		})
	},
}

var rdmaIBDevCmd = &cobra.Command{
	Use:   "ibdev <interface>",
	Short: "Print the RDMA device behind an Ethernet interface",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRDMA(); err != nil {
			return err
		}
		ibdev := cfg.Mapper().DevToIBDev(args[0])
		if ibdev == "" {
			return fmt.Errorf("no RDMA device for %s", args[0])
		}
		return printValue(cmd.OutOrStdout(), "rdma_device", ibdev)
	},
}

var rdmaNetdevCmd = &cobra.Command{
	Use:   "netdev <rdma-device>",
	Short: "Print the Ethernet interface of an RDMA device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireRDMA(); err != nil {
			return err
		}
		dev := cfg.Mapper().IBDevToDev(args[0])
		if dev == "" {
			return fmt.Errorf("no interface for %s", args[0])
		}
		return printValue(cmd.OutOrStdout(), "interface", dev)
	},
}

var rdmaGIDCmd = &cobra.Command{
	Use:   "gid <ip> | --decode <gid>",
	Short: "Convert between IPv4 addresses and IPv4-mapped GIDs",
	Args:  cobra.ExactArgs(1),
	RunE:  runGID,
}

func init() {
	rootCmd.AddCommand(rdmaCmd)
	rdmaCmd.AddCommand(rdmaDevicesCmd)
	rdmaCmd.AddCommand(rdmaFindCmd)
	rdmaCmd.AddCommand(rdmaIBDevCmd)
	rdmaCmd.AddCommand(rdmaNetdevCmd)
	rdmaCmd.AddCommand(rdmaGIDCmd)

	rdmaGIDCmd.Flags().BoolVar(&gidDecode, "decode", false, "Decode a GID into its IPv4 address")
}

func requireRDMA() error {
	if !cfg.RDMA.Enabled {
		return errors.New("RDMA support is disabled, set rdma.enabled in the configuration")
	}
	return nil
}

func runGID(cmd *cobra.Command, args []string) error {
	if !gidDecode {
		ip, err := rdma.IPv4FromString(args[0])
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), "gid", rdma.IPv4ToGID(ip).String())
	}

	gid, err := rdma.ParseGID(args[0])
	if err != nil {
		return err
	}
	addr, ok := gid.IPv4()
	if !ok {
		return errors.Errorf("%s is not an IPv4-mapped GID", gid)
	}
	return printValue(cmd.OutOrStdout(), "ip", addr.String())
}
