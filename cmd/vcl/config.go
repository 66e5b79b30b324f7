package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/amine-kherroubi/vcl/internal/util/logging"
	"github.com/amine-kherroubi/vcl/pkg/vmm"
)

const (
	// ConfigPathEnvKey is the environment variable key for the config file path.
	ConfigPathEnvKey = "VCL_CONFIG_PATH"

	envPrefix = "VCL_"
)

// Config is used to configure vcl.
//
// Every field has a default, so the config file is optional. Some fields may
// be overridden through VCL_* environment variables.
type Config struct {
	// URI is the libvirt connection URI.
	URI string `json:"uri"`

	// ImageDir is where new disk images are created when no path is given.
	ImageDir string `json:"imageDir"`

	// Emulator is the emulator binary written into new definitions. Empty
	// lets the hypervisor pick its default.
	Emulator string `json:"emulator"`

	Log LogConfig `json:"log"`

	// Network is the attachment used by `vcl create` when neither --network
	// nor --bridge is given.
	Network NetworkConfig `json:"network"`

	// VM holds the sizing defaults of new VMs.
	VM VMDefaults `json:"vm"`

	// Disk configures the image tool.
	Disk DiskConfig `json:"disk"`

	// MetricsServer is the configuration for the metrics server.
	MetricsServer MetricsServerConfig `json:"metricsServer"`
}

type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `json:"level"`
	// File receives the logs. Terminal output stays reserved for results.
	File        string `json:"file"`
	Development bool   `json:"development"`
}

type NetworkConfig struct {
	// Mode is "network" or "bridge".
	Mode string `json:"mode"`
	// Source is the libvirt network or host bridge name.
	Source string `json:"source"`
}

type VMDefaults struct {
	MemoryMB   int `json:"memoryMB"`
	VCPUs      int `json:"vcpus"`
	DiskSizeGB int `json:"diskSizeGB"`
}

type DiskConfig struct {
	// Tool is the qemu-img binary.
	Tool string `json:"tool"`
	// PrependCmd runs the tool through a wrapper, e.g. ["sudo", "-n"].
	PrependCmd []string `json:"prependCmd"`
}

type MetricsServerConfig struct {
	Enabled bool `json:"enabled"`
	// Path is the path for the metrics server.
	Path string `json:"path"`
	// Port is the port for the metrics server.
	Port int `json:"port"`
	// Username and Password enable basic authentication when Username is set.
	Username string `json:"username"`
	Password string `json:"password"`
}

// defaultConfig returns the configuration used when no file is given.
func defaultConfig() *Config {
	return &Config{
		URI:      vmm.DefaultURI,
		ImageDir: "/var/lib/libvirt/images",
		Log: LogConfig{
			Level: "info",
			File:  "vcl.log",
		},
		Network: NetworkConfig{
			Mode:   string(vmm.NetworkModeNetwork),
			Source: vmm.DefaultNetwork,
		},
		VM: VMDefaults{
			MemoryMB:   1024,
			VCPUs:      1,
			DiskSizeGB: 10,
		},
		Disk: DiskConfig{
			Tool: "qemu-img",
		},
		MetricsServer: MetricsServerConfig{
			Path: "/metrics",
			Port: 9090,
		},
	}
}

// loadConfig reads the config file at path, or the one named by
// VCL_CONFIG_PATH when path is empty, on top of the defaults. Environment
// overrides are applied last.
func loadConfig(path string, getenv func(string) string) (*Config, error) {
	config := defaultConfig()

	if path == "" {
		path = getenv(ConfigPathEnvKey)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Parse YAML (uses json tags)
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	config.applyEnv(getenv)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	overrides := map[string]*string{
		"URI":       &c.URI,
		"IMAGE_DIR": &c.ImageDir,
		"EMULATOR":  &c.Emulator,
		"LOG_LEVEL": &c.Log.Level,
		"LOG_FILE":  &c.Log.File,

		"METRICS_PASSWORD": &c.MetricsServer.Password,
	}
	for key, field := range overrides {
		if v := getenv(envPrefix + key); v != "" {
			*field = v
		}
	}

	if v := getenv(envPrefix + "NETWORK"); v != "" {
		c.Network = NetworkConfig{Mode: string(vmm.NetworkModeNetwork), Source: v}
	}
	if v := getenv(envPrefix + "BRIDGE"); v != "" {
		c.Network = NetworkConfig{Mode: string(vmm.NetworkModeBridge), Source: v}
	}
}

// Validate returns every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.URI == "" {
		errs = append(errs, errors.New("uri must be set"))
	}
	if c.ImageDir == "" || !filepath.IsAbs(c.ImageDir) {
		errs = append(errs, fmt.Errorf("imageDir must be an absolute path, got %q", c.ImageDir))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	switch vmm.NetworkMode(c.Network.Mode) {
	case vmm.NetworkModeNetwork:
	case vmm.NetworkModeBridge:
		if c.Network.Source == "" {
			errs = append(errs, errors.New("network.source must name a bridge in bridge mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("network.mode must be %q or %q, got %q",
			vmm.NetworkModeNetwork, vmm.NetworkModeBridge, c.Network.Mode))
	}

	if c.VM.MemoryMB <= 0 {
		errs = append(errs, fmt.Errorf("vm.memoryMB must be greater than zero, got %d", c.VM.MemoryMB))
	}
	if c.VM.VCPUs <= 0 {
		errs = append(errs, fmt.Errorf("vm.vcpus must be greater than zero, got %d", c.VM.VCPUs))
	}
	if c.VM.DiskSizeGB <= 0 {
		errs = append(errs, fmt.Errorf("vm.diskSizeGB must be greater than zero, got %d", c.VM.DiskSizeGB))
	}
	if strings.TrimSpace(c.Disk.Tool) == "" {
		errs = append(errs, errors.New("disk.tool must be set"))
	}

	if c.MetricsServer.Enabled {
		if c.MetricsServer.Port <= 0 || c.MetricsServer.Port > 65535 {
			errs = append(errs, fmt.Errorf("metricsServer.port must be between 1 and 65535, got %d", c.MetricsServer.Port))
		}
		if !strings.HasPrefix(c.MetricsServer.Path, "/") {
			errs = append(errs, fmt.Errorf("metricsServer.path must start with /, got %q", c.MetricsServer.Path))
		}
		if c.MetricsServer.Username != "" && c.MetricsServer.Password == "" {
			errs = append(errs, errors.New("metricsServer.password must be set along with metricsServer.username"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// networkAttachment converts the validated network section.
func (c *Config) networkAttachment() vmm.NetworkAttachment {
	return vmm.NetworkAttachment{
		Mode:   vmm.NetworkMode(c.Network.Mode),
		Source: c.Network.Source,
	}
}
