package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tetherbpf/tetherbpf/loader"
	"github.com/tetherbpf/tetherbpf/metrics"
	"github.com/tetherbpf/tetherbpf/store/sqlite"
)

// LoadCmd loads and pins the BPF objects once, then exits. The same
// code path runs inside the daemon; running it standalone is for init
// scripts that want the objects pinned before anything else starts.
type LoadCmd struct{}

// Run executes the load command.
func (c *LoadCmd) Run(cli *CLI) error {
	logger, err := cli.Logger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	cfg, err := cli.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dirs, err := cli.RuntimeDirs()
	if err != nil {
		return err
	}
	if err := dirs.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare runtime directories: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := sqlite.New(ctx, dirs.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("open ledger %s: %w", dirs.DBPath(), err)
	}
	defer st.Close()

	ldr := loader.New(cfg.Loader, dirs, loader.DefaultDependencies(logger), metrics.New(), st, logger)
	if err := ldr.Run(ctx); err != nil {
		return err
	}

	for _, marker := range []struct {
		stage string
		path  string
	}{
		{"netd", dirs.LoadedMarkerPath()},
		{"tethering", dirs.MainlineMarkerPath()},
	} {
		state := "pending"
		if _, err := os.Stat(marker.path); err == nil {
			state = "done"
		}
		if err := cli.PrintOutf("%s stage: %s (%s)\n", marker.stage, state, marker.path); err != nil {
			return err
		}
	}
	return nil
}
