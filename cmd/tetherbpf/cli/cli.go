// Package cli provides the Kong-based command-line interface for
// tetherbpf.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"

	"github.com/alecthomas/kong"

	"github.com/tetherbpf/tetherbpf/config"
	"github.com/tetherbpf/tetherbpf/logging"
)

// CLI is the root command structure for tetherbpf.
type CLI struct {
	Config  string `name:"config" help:"Config file path." default:"${default_config_path}"`
	Log     string `name:"log" help:"Log spec (e.g., 'info,netd=debug')." env:"TETHERBPF_LOG"`
	Base    string `name:"base" help:"Runtime state directory." default:"${default_base}"`
	BpfRoot string `name:"bpf-root" help:"BPF filesystem mount point." default:"${default_bpf_root}"`

	// Out receives command output. Nil means os.Stdout; tests
	// substitute a buffer.
	Out io.Writer `kong:"-"`

	Serve     ServeCmd     `cmd:"" help:"Run the tethering BPF daemon."`
	Load      LoadCmd      `cmd:"" help:"Load and pin the BPF objects once, then exit."`
	Status    StatusCmd    `cmd:"" help:"Show loader, attachment and control-service state."`
	Doctor    DoctorCmd    `cmd:"" help:"Run coherency checks over markers, pins and maps."`
	Tag       TagCmd       `cmd:"" help:"Tag a scratch socket through a running daemon."`
	Conntrack ConntrackCmd `cmd:"" help:"Dump the kernel connection tracking table."`
	Version   VersionCmd   `cmd:"" help:"Print build information."`
}

// KongOptions returns the Kong configuration options for the CLI.
func KongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("tetherbpf"),
		kong.Description("Tethering BPF object loader, socket accounting service and hardware offload orchestrator."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.TypeMapper(reflect.TypeOf(TagValue{}), tagValueMapper()),
		kong.Vars{
			"default_config_path": config.DefaultConfigPath,
			"default_base":        "/run/tetherbpf",
			"default_bpf_root":    "/sys/fs/bpf",
		},
	}
}

// LoadConfig loads the configuration from the config file path.
func (c *CLI) LoadConfig() (config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// RuntimeDirs builds the runtime directory layout from the base and
// bpf-root flags.
func (c *CLI) RuntimeDirs() (config.RuntimeDirs, error) {
	return config.NewRuntimeDirs(c.Base, c.BpfRoot)
}

// Logger creates a logger for CLI commands.
// CLI commands default to WARN level for quieter output.
// Use LoggerFromConfig for the long-running serve command.
func (c *CLI) Logger() (*slog.Logger, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}

	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	// CLI commands default to warn unless --log is specified.
	spec := c.Log
	if spec == "" {
		spec = "warn"
	}

	return logging.New(logging.Options{
		CLISpec:    spec,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stderr,
	})
}

// LoggerFromConfig creates a logger using config file settings.
// Used by the serve command, where INFO level is appropriate and
// output goes to stdout for daemon log collection.
func (c *CLI) LoggerFromConfig() (*slog.Logger, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}

	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	return logging.New(logging.Options{
		CLISpec:    c.Log,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stdout,
	})
}

// WriteOut writes p to the CLI output, treating a short write as an
// error so truncated output never passes silently.
func (c *CLI) WriteOut(p []byte) error {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	n, err := out.Write(p)
	if err != nil {
		return err
	}
	if n < len(p) {
		return io.ErrShortWrite
	}
	return nil
}

// PrintOut writes s to the CLI output.
func (c *CLI) PrintOut(s string) error {
	return c.WriteOut([]byte(s))
}

// PrintOutf formats and writes to the CLI output.
func (c *CLI) PrintOutf(format string, args ...any) error {
	return c.WriteOut(fmt.Appendf(nil, format, args...))
}
