package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"netaffinity/internal/config"
	"netaffinity/pkg"
)

var (
	configPath   string
	logLevel     string
	outputFormat string

	// cfg is loaded before any subcommand runs
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "netaffinity",
	Short: "Resolve where a network address lives: interface, PCI device, NUMA socket and CPUs",
	Long: `netaffinity walks the chain from an IPv4 address to the CPUs local to the
adapter that owns it:

  IP address -> interface -> PCI bus address -> NUMA socket -> CPU list

and, on hosts with RDMA adapters, between Ethernet and RDMA device names
and IPv4 addresses and RDMA GIDs.

Examples:
  netaffinity resolve 192.168.1.1          # Full placement of an address
  netaffinity socket 0000:3b:00.1          # NUMA socket of a PCI device
  netaffinity cpus 1                       # CPUs of socket 1
  netaffinity rdma gid 192.168.1.1         # IPv4-mapped GID
  netaffinity resolve 10.0.0.1 --format json`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides the configuration)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format: text, json")
}

func setup(cmd *cobra.Command, args []string) error {
	switch strings.ToLower(outputFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid format: %s. Use: text or json", outputFormat)
	}

	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.LogLevel = logLevel
	}
	if err := pkg.SetLogLevelFromString(loaded.LogLevel); err != nil {
		return err
	}
	if err := pkg.SetFormatFromString(loaded.LogFormat); err != nil {
		return err
	}

	pkg.WithFields(logrus.Fields{
		"config":   configPath,
		"sysfs":    loaded.SysfsRoot,
		"topology": loaded.TopologySource,
		"rdma":     loaded.RDMA.Enabled,
	}).Debug("configuration loaded")

	cfg = loaded
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
