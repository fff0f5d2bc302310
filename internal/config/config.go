package config

import (
	"os"
	"strings"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"netaffinity/pkg"
	"netaffinity/pkg/rdma"
	"netaffinity/pkg/topology"
)

// DefaultPath is where the CLI looks for a configuration file
const DefaultPath = "/etc/netaffinity/config.yaml"

// Topology and RDMA source names
const (
	SourceCPUInfo = "cpuinfo"
	SourceSysfs   = "sysfs"
	SourceNetlink = "netlink"
	SourceCommand = "command"
)

// Config represents the netaffinity configuration
type Config struct {
	LogLevel       string     `yaml:"log_level"`
	LogFormat      string     `yaml:"log_format"`
	SysfsRoot      string     `yaml:"sysfs_root"`
	ProcfsRoot     string     `yaml:"procfs_root"`
	TopologySource string     `yaml:"topology_source"`
	RDMA           RDMAConfig `yaml:"rdma"`
}

// RDMAConfig controls the optional RDMA lookups
type RDMAConfig struct {
	Enabled        bool     `yaml:"enabled"`
	DeviceSource   string   `yaml:"device_source"`
	MappingSource  string   `yaml:"mapping_source"`
	MappingCommand []string `yaml:"mapping_command"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel:       "warn",
		LogFormat:      "text",
		SysfsRoot:      "/sys",
		ProcfsRoot:     "/proc",
		TopologySource: SourceCPUInfo,
		RDMA: RDMAConfig{
			DeviceSource:   SourceNetlink,
			MappingSource:  SourceCommand,
			MappingCommand: append([]string(nil), rdma.DefaultMappingCommand...),
		},
	}
}

// LoadConfig loads configuration from a YAML file and fills every unset
// field from Default. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		pkg.WithField("path", path).Debug("no configuration file, using defaults")
		return Default(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	return Parse(data)
}

// Parse decodes YAML configuration and merges it over the defaults.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	if err := mergo.Merge(&config, Default()); err != nil {
		return nil, errors.Wrap(err, "failed to apply defaults")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects unknown levels, formats and sources.
func (c *Config) Validate() error {
	if _, err := pkg.ParseLogLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return errors.Errorf("log_format: unknown format %q", c.LogFormat)
	}
	switch c.TopologySource {
	case SourceCPUInfo, SourceSysfs:
	default:
		return errors.Errorf("topology_source: unknown source %q", c.TopologySource)
	}
	switch c.RDMA.DeviceSource {
	case SourceNetlink, SourceSysfs:
	default:
		return errors.Errorf("rdma.device_source: unknown source %q", c.RDMA.DeviceSource)
	}
	switch c.RDMA.MappingSource {
	case SourceCommand:
		if len(c.RDMA.MappingCommand) == 0 || c.RDMA.MappingCommand[0] == "" {
			return errors.New("rdma.mapping_command: empty command")
		}
	case SourceSysfs:
	default:
		return errors.Errorf("rdma.mapping_source: unknown source %q", c.RDMA.MappingSource)
	}
	return nil
}

// CPUProvider returns the topology provider selected by topology_source.
func (c *Config) CPUProvider() topology.CPUProvider {
	if c.TopologySource == SourceSysfs {
		return topology.NewSysfsCPUProvider(c.SysfsRoot)
	}
	return topology.NewCPUInfoProvider(c.ProcfsRoot)
}

// Topology returns a resolver over the configured sysfs root and provider.
func (c *Config) Topology() *topology.Resolver {
	return topology.NewResolver(c.SysfsRoot, c.CPUProvider())
}

// DeviceLister returns the RDMA device lister selected by
// rdma.device_source.
func (c *Config) DeviceLister() rdma.DeviceLister {
	if c.RDMA.DeviceSource == SourceSysfs {
		return rdma.NewSysfsLister(c.SysfsRoot)
	}
	return rdma.NetlinkLister{SysRoot: c.SysfsRoot}
}

// Mapper returns the RDMA name mapper, or nil when RDMA is disabled.
func (c *Config) Mapper() *rdma.Mapper {
	if !c.RDMA.Enabled {
		return nil
	}
	if c.RDMA.MappingSource == SourceSysfs {
		return rdma.NewMapper(rdma.SysfsSource(c.SysfsRoot))
	}
	return rdma.NewMapper(rdma.CommandSource(c.RDMA.MappingCommand...))
}
