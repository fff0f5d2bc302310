package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"k8s.io/utils/cpuset"

	"netaffinity/pkg"
)

var devCmd = &cobra.Command{
	Use:   "dev <ip>",
	Short: "Print the interface an IPv4 address is bound to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dev := newInterfaces().DevByIP(args[0])
		if dev == "" {
			return fmt.Errorf("no interface carries %s", args[0])
		}
		return printValue(cmd.OutOrStdout(), "interface", dev)
	},
}

var pciCmd = &cobra.Command{
	Use:   "pci <interface>",
	Short: "Print the PCI bus address of an interface",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pci := newInterfaces().PCIByDev(args[0])
		if pci == "" {
			return fmt.Errorf("no PCI address for %s", args[0])
		}
		return printValue(cmd.OutOrStdout(), "pci_address", pci)
	},
}

var socketCmd = &cobra.Command{
	Use:   "socket <pci-address>",
	Short: "Print the NUMA socket of a PCI device (-1 when unknown)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		socket := cfg.Topology().SocketByPCI(args[0])
		return printResult(cmd.OutOrStdout(), map[string]int{"socket": socket}, func(w io.Writer) {
			fmt.Fprintln(w, socket)
		})
	},
}

var cpusSocket int

var cpusCmd = &cobra.Command{
	Use:   "cpus [socket]",
	Short: "Print the CPUs of a socket, or the socket of every CPU",
	Long: `With a socket id, print the logical CPUs that socket owns in ascending
order; a socket that does not exist prints an empty list. Without one,
print the socket id of each logical CPU in CPU order. CPUs without
topology information (offline, or gaps in the numbering) show as -1.

A negative socket id looks like a flag on the command line; pass it with
--socket or after "--":
  netaffinity cpus --socket -1
  netaffinity cpus -- -1

A CPU topology that cannot be read is fatal.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCPUs,
}

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Print the CPUs owned by every socket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		groups, err := cfg.Topology().CPUListWithSocketIndex()
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), map[string][][]int{"sockets": groups}, func(w io.Writer) {
			for socket, cpus := range groups {
				fmt.Fprintf(w, "socket %d: %s\n", socket, cpuset.New(cpus...).String())
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(devCmd)
	rootCmd.AddCommand(pciCmd)
	rootCmd.AddCommand(socketCmd)
	rootCmd.AddCommand(cpusCmd)
	rootCmd.AddCommand(topologyCmd)

	cpusCmd.Flags().IntVar(&cpusSocket, "socket", 0, "Socket id, also accepts negative ids")
}

func runCPUs(cmd *cobra.Command, args []string) error {
	topo := cfg.Topology()
	out := cmd.OutOrStdout()

	bySocket := cmd.Flags().Changed("socket")
	if bySocket && len(args) > 0 {
		return fmt.Errorf("socket given both as argument %s and --socket", args[0])
	}

	if !bySocket && len(args) == 0 {
		sockets := topo.MustSocketsByCPU()
		return printResult(out, map[string][]int{"sockets": sockets}, func(w io.Writer) {
			fmt.Fprintln(w, joinInts(sockets))
		})
	}

	socket := cpusSocket
	if !bySocket {
		var err error
		if socket, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("invalid socket id: %s", args[0])
		}
	}
	pkg.Debug("listing CPUs of socket %d", socket)
	cpus := topo.MustCPUsBySocket(socket)
	return printResult(out, map[string][]int{"cpus": cpus}, func(w io.Writer) {
		fmt.Fprintln(w, joinInts(cpus))
	})
}

func printValue(w io.Writer, key, value string) error {
	return printResult(w, map[string]string{key: value}, func(w io.Writer) {
		fmt.Fprintln(w, value)
	})
}
