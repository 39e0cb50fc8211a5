package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvVar is the environment variable holding the log spec.
const EnvVar = "TETHERBPF_LOG"

// Format is the log output format.
type Format string

const (
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
	// FormatJSON outputs logs in JSON format.
	FormatJSON Format = "json"
)

// ParseFormat parses a format string into a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %q", s)
	}
}

// Options configures the logger factory.
type Options struct {
	// CLISpec is the log spec from a command line flag (highest
	// precedence).
	CLISpec string
	// EnvSpec is the log spec from TETHERBPF_LOG.
	EnvSpec string
	// ConfigSpec is the log spec from the config file (lowest
	// precedence).
	ConfigSpec string
	// Format is the output format (text or json).
	Format Format
	// Output is the writer for log output. Defaults to os.Stderr.
	Output io.Writer
}

// New creates a slog.Logger with component-level filtering.
// Precedence: CLISpec > EnvSpec > ConfigSpec > defaults.
func New(opts Options) (*slog.Logger, error) {
	specStr := ""
	switch {
	case opts.CLISpec != "":
		specStr = opts.CLISpec
	case opts.EnvSpec != "":
		specStr = opts.EnvSpec
	case opts.ConfigSpec != "":
		specStr = opts.ConfigSpec
	}

	spec, err := ParseSpec(specStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log spec: %w", err)
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	// The inner handler passes everything; the component handler is
	// the one place filtering happens.
	handlerOpts := &slog.HandlerOptions{
		Level: LevelTrace.ToSlog(),
	}

	var inner slog.Handler
	switch opts.Format {
	case FormatJSON:
		inner = slog.NewJSONHandler(output, handlerOpts)
	default:
		inner = slog.NewTextHandler(output, handlerOpts)
	}

	return slog.New(NewComponentHandler(inner, &spec)), nil
}

// FromEnv creates a logger from the TETHERBPF_LOG environment
// variable alone.
func FromEnv() (*slog.Logger, error) {
	return New(Options{
		EnvSpec: os.Getenv(EnvVar),
	})
}
