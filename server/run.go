// Package server assembles the tetherbpf daemon: ledger, BPF object
// loader, cgroup accounting handler, offload session orchestrator,
// control socket service and the optional metrics listener.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	tetherbpf "github.com/tetherbpf/tetherbpf"
	"github.com/tetherbpf/tetherbpf/config"
	"github.com/tetherbpf/tetherbpf/hal"
	"github.com/tetherbpf/tetherbpf/loader"
	"github.com/tetherbpf/tetherbpf/metrics"
	"github.com/tetherbpf/tetherbpf/netd"
	"github.com/tetherbpf/tetherbpf/offload"
	"github.com/tetherbpf/tetherbpf/store/sqlite"
)

// RunConfig carries everything Run needs to assemble the daemon.
type RunConfig struct {
	// Dirs locates the runtime tree: pin directories, markers, the
	// ledger database and the control socket.
	Dirs config.RuntimeDirs

	// Config is the validated daemon configuration.
	Config config.Config

	// Logger receives all daemon logging. If nil, a default
	// text-format logger writing to stdout is used.
	Logger *slog.Logger
}

// Run assembles the daemon and serves the control socket until ctx is
// cancelled. Fatal setup failures (platform detection, ledger open,
// handler init) return an error; the offload service being absent is
// not fatal, the daemon then runs accounting only.
func Run(ctx context.Context, rc RunConfig) error {
	log := rc.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	if err := rc.Dirs.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare runtime directories: %w", err)
	}

	platform, err := tetherbpf.DetectPlatform(rc.Config.Netd.SdkLevel)
	if err != nil {
		return fmt.Errorf("detect platform: %w", err)
	}
	log.Info("platform detected", "platform", platform.String())

	m := metrics.New()

	st, err := sqlite.New(ctx, rc.Dirs.DBPath(), log)
	if err != nil {
		return fmt.Errorf("open ledger %s: %w", rc.Dirs.DBPath(), err)
	}
	defer st.Close()

	ldr := loader.New(rc.Config.Loader, rc.Dirs, loader.DefaultDependencies(log), m, st, log)
	startLoader := func(ctx context.Context) error {
		go func() {
			if err := ldr.Run(ctx); err != nil {
				log.Error("bpf object loader failed", "error", err)
			}
		}()
		return nil
	}

	deps := netd.DefaultDependencies(rc.Dirs, platform, startLoader, log)
	handler := netd.NewHandler(netd.DefaultOptions(rc.Dirs, rc.Config.Netd.EnforceLoader), platform, deps, log)
	if err := handler.Init(ctx, rc.Config.Netd.CgroupRoot); err != nil {
		return fmt.Errorf("initialize bpf handler: %w", err)
	}
	defer handler.Close()

	// The attachment table is advisory; the authoritative state is
	// what the kernel reports. A write failure must not stop boot.
	if err := st.ReplaceAttachments(ctx, handler.Attachments()); err != nil {
		log.Warn("recording attachments in ledger", "error", err)
	}

	hw := offload.New(offload.DefaultDependencies(rc.Config.Hal.AidlSocket, rc.Config.Hal.HidlSocket, log), log)
	if version := hw.InitOffload(newSessionCallbacks(m, log)); version != hal.VersionNone {
		m.HalSessions.Set(1)
		defer func() {
			hw.StopOffload()
			m.HalSessions.Set(0)
		}()
	} else {
		log.Info("no offload session, running accounting only")
	}

	if rc.Config.Metrics.Enabled {
		stop, err := serveMetrics(rc.Config.Metrics.Listen, m, log)
		if err != nil {
			return fmt.Errorf("start metrics listener: %w", err)
		}
		defer stop()
	}

	svc := netd.NewService(handler, m, log)
	log.Info("serving control socket", "path", rc.Dirs.SocketPath())
	return svc.Serve(ctx, rc.Dirs.SocketPath())
}
