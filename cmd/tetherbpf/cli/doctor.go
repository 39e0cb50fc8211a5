package cli

import (
	"context"
	"fmt"
	"path/filepath"

	tetherbpf "github.com/tetherbpf/tetherbpf"
	"github.com/tetherbpf/tetherbpf/bpffs"
	"github.com/tetherbpf/tetherbpf/bpfmap"
	"github.com/tetherbpf/tetherbpf/doctor"
	"github.com/tetherbpf/tetherbpf/netd"
)

// DoctorCmd runs read-only coherency checks across the bpf
// filesystem, the loader markers, the pinned maps and the control
// service. Exits non-zero when any check finds an error.
type DoctorCmd struct {
	OutputFlags
}

// Run executes the doctor command.
func (c *DoctorCmd) Run(cli *CLI) error {
	logger, err := cli.Logger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	dirs, err := cli.RuntimeDirs()
	if err != nil {
		return err
	}

	state := doctor.State{}

	mounted, err := bpffs.IsMounted(bpffs.DefaultMountInfoPath, dirs.BpfRoot())
	if err != nil {
		return fmt.Errorf("check bpf filesystem: %w", err)
	}
	state.BpffsMounted = mounted

	state.NetdMarker = fileExists(dirs.LoadedMarkerPath())
	state.TetherMarker = fileExists(dirs.MainlineMarkerPath())

	scanner := bpffs.NewScanner(bpffs.ScannerDirs{
		Netd:   dirs.NetdDir(),
		Tether: dirs.TetherDir(),
	})
	for pin, err := range scanner.Pins(context.Background()) {
		if err != nil {
			return fmt.Errorf("scan pin directories: %w", err)
		}
		if filepath.Dir(pin.Path) == dirs.NetdDir() {
			state.NetdPins = append(state.NetdPins, pin)
		} else {
			state.TetherPins = append(state.TetherPins, pin)
		}
	}

	// Map reads need the pins to exist; absence is already its own
	// finding, so failures here just leave the checks skipped.
	if configuration, err := bpfmap.OpenPinned[uint32, uint32](dirs.NetdPinPath(tetherbpf.ConfigurationMapName)); err == nil {
		if sel, err := configuration.Lookup(tetherbpf.CurrentStatsMapConfigurationKey); err == nil {
			state.Selector = &sel
		}
		if err := configuration.Close(); err != nil {
			logger.Warn("closing configuration map", "error", err)
		}
	}
	if stats, err := bpfmap.OpenPinned[tetherbpf.StatsKey, tetherbpf.StatsValue](dirs.NetdPinPath(tetherbpf.StatsMapAName)); err == nil {
		state.StatsMaxEntries = stats.MaxEntries()
		if err := stats.Close(); err != nil {
			logger.Warn("closing stats map", "error", err)
		}
	}

	if client, err := netd.DialControl(dirs.SocketPath()); err == nil {
		state.DaemonRunning = true
		if count, err := client.TaggedSocketCount(); err == nil {
			state.TaggedCount = &count
		}
		if err := client.Close(); err != nil {
			logger.Warn("closing control connection", "error", err)
		}
	}

	report := doctor.Diagnose(state)

	output, err := FormatDoctor(report, &c.OutputFlags)
	if err != nil {
		return err
	}
	if err := cli.PrintOut(output); err != nil {
		return err
	}

	if report.HasErrors() {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}
