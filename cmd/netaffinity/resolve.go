package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"netaffinity/pkg"
	"netaffinity/pkg/affinity"
	"netaffinity/pkg/netdev"
	"netaffinity/pkg/types"
)

var watchDebounce time.Duration

// newLocator and newInterfaces are replaced in tests
var newInterfaces = func() affinity.Interfaces {
	return netdev.NewResolver()
}

var newLocator = func() *affinity.Locator {
	return affinity.NewLocator(newInterfaces(), cfg.Topology(), cfg.Mapper())
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <ip>",
	Short: "Resolve an IPv4 address to its interface, PCI device, socket and CPUs",
	Long: `Resolve walks IP -> interface -> PCI address -> NUMA socket -> CPUs and
prints as much of the chain as could be resolved. Unresolved steps are
shown as "unknown". With rdma.enabled set, the RDMA device and the GID of
the address are included.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

var watchCmd = &cobra.Command{
	Use:   "watch <ip>",
	Short: "Resolve an address again whenever interfaces appear or disappear",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", affinity.DefaultDebounce, "Quiet period after an interface event")
}

func runResolve(cmd *cobra.Command, args []string) error {
	p, err := newLocator().Locate(args[0])
	if err != nil {
		return err
	}
	return printPlacement(cmd.OutOrStdout(), p)
}

func printPlacement(w io.Writer, p *types.Placement) error {
	return printResult(w, p, func(w io.Writer) {
		fmt.Fprint(w, formatPlacementText(p))
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := affinity.NewWatcher(newLocator(), cfg.SysfsRoot, args[0]).WithDebounce(watchDebounce)
	out := cmd.OutOrStdout()
	return w.Run(ctx, func(p *types.Placement) {
		pkg.Info("placement of %s: interface %q socket %d", p.IP, p.Interface, p.Socket)
		if err := printPlacement(out, p); err != nil {
			pkg.Warn("failed to print placement: %v", err)
		}
	})
}
