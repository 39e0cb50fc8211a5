package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/tetherbpf/tetherbpf/server"
)

// ServeCmd runs the tethering BPF daemon.
type ServeCmd struct{}

// Run executes the serve command.
func (c *ServeCmd) Run(cli *CLI) error {
	logger, err := cli.LoggerFromConfig()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	appConfig, err := cli.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dirs, err := cli.RuntimeDirs()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return server.Run(ctx, server.RunConfig{
		Dirs:   dirs,
		Config: appConfig,
		Logger: logger,
	})
}
