// Package config handles tetherbpf configuration.
//
// Configuration is loaded with overlay semantics:
//
//  1. Start with built-in defaults (embedded via go:embed from default.toml)
//  2. Overlay with config file values (if the file exists)
//  3. CLI flags and environment variables override at runtime (handled
//     by the CLI layer)
//
// A valid configuration is therefore always available, even with no
// config file present. The TOML decoder only sets fields present in
// the file, leaving unspecified fields at their defaults.
//
// If the config file exists but is invalid, Load returns an error
// rather than silently falling back to defaults.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed default.toml
var defaultConfigTOML string

// DefaultConfigPath is the default path to the tetherbpf config file.
const DefaultConfigPath = "/etc/tetherbpf/tetherbpf.toml"

// Config is the top-level tetherbpf configuration.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	Netd    NetdConfig    `toml:"netd"`
	Loader  LoaderConfig  `toml:"loader"`
	Hal     HalConfig     `toml:"hal"`
	Metrics MetricsConfig `toml:"metrics"`
}

// LoggingConfig controls logging behaviour.
type LoggingConfig struct {
	// Level is the log spec (e.g., "info" or "info,netd=debug").
	Level string `toml:"level"`
	// Format is the output format: "text" or "json".
	Format string `toml:"format"`
	// Components provides an alternative way to specify per-component
	// levels.
	Components map[string]string `toml:"components"`
}

// ToSpec converts the LoggingConfig to a log spec string. Level takes
// precedence; otherwise Components are joined onto an info base.
func (c *LoggingConfig) ToSpec() string {
	if c.Level != "" {
		return c.Level
	}

	if len(c.Components) == 0 {
		return ""
	}

	parts := make([]string, 0, len(c.Components)+1)
	parts = append(parts, "info")

	for component, level := range c.Components {
		parts = append(parts, component+"="+level)
	}

	return strings.Join(parts, ",")
}

// NetdConfig controls the BPF handler.
type NetdConfig struct {
	// CgroupRoot is the cgroup the accounting programs attach to.
	CgroupRoot string `toml:"cgroup_root"`
	// SdkLevel is the platform SDK level used for capability gating.
	SdkLevel int `toml:"sdk_level"`
	// EnforceLoader makes Init wait synchronously for the loader
	// instead of proceeding optimistically after triggering it.
	EnforceLoader bool `toml:"enforce_loader"`
}

// LoaderConfig controls the boot-time object loader.
type LoaderConfig struct {
	// ObjectDirs are scanned in order for the critical *.o files,
	// pinned under the netd pin directory.
	ObjectDirs []string `toml:"object_dirs"`
	// TetherObjectDirs are scanned for the tethering offload objects.
	// They load after the critical set and gate only the mainline
	// marker, so boot does not block on them.
	TetherObjectDirs []string `toml:"tether_object_dirs"`
	// Optional lists object basenames whose load failure is tolerated.
	// Everything else in its stage is boot-blocking.
	Optional []string `toml:"optional"`
}

// HalConfig locates the offload management process endpoints.
type HalConfig struct {
	// AidlSocket is probed first when resolving a binding.
	AidlSocket string `toml:"aidl_socket"`
	// HidlSocket is the fallback endpoint.
	HidlSocket string `toml:"hidl_socket"`
}

// MetricsConfig controls the optional metrics listener.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// DefaultConfig returns the default configuration from the embedded
// default.toml.
func DefaultConfig() Config {
	var cfg Config
	if _, err := toml.Decode(defaultConfigTOML, &cfg); err != nil {
		// Unreachable unless default.toml is broken at build time.
		return Config{
			Logging: LoggingConfig{Level: "info", Format: "text"},
			Netd:    NetdConfig{CgroupRoot: "/sys/fs/cgroup", SdkLevel: 35},
		}
	}
	return cfg
}

// Load reads configuration from a file path with overlay semantics.
//
// Behaviour:
//   - File missing: returns default configuration (no error)
//   - File exists and valid: overlays file values onto defaults
//   - File exists but invalid: returns error (fail fast)
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics enabled but no listen address configured")
	}
	return nil
}
