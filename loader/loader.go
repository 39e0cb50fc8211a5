// Package loader loads the BPF ELF objects the accounting datapath
// needs and pins their maps and programs on bpffs.
//
// Loading runs in two stages. The netd stage carries the critical
// per-socket accounting objects; any failure there is boot-blocking.
// The tethering stage carries the offload objects and gates only the
// mainline marker. Each stage finishes by publishing its marker file,
// the same files the BPF handler's boot wait polls.
//
// A flock-guarded writer lock serializes runs, so a daemon start
// racing a manual load cannot interleave pin writes.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cilium/ebpf/rlimit"

	tetherbpf "github.com/tetherbpf/tetherbpf"
	"github.com/tetherbpf/tetherbpf/config"
	"github.com/tetherbpf/tetherbpf/lock"
	"github.com/tetherbpf/tetherbpf/metrics"
)

// Ledger outcomes for one object load attempt.
const (
	OutcomeLoaded    = "loaded"
	OutcomeTolerated = "tolerated"
	OutcomeFailed    = "failed"
)

// A Record describes one object load attempt.
type Record struct {
	Stage   string
	Object  string
	Outcome string
	Detail  string
	Elapsed time.Duration
}

// Recorder persists load attempts for later inspection. Record errors
// are logged, never boot-blocking.
type Recorder interface {
	RecordLoad(ctx context.Context, rec Record) error
}

// Dependencies are the kernel and filesystem operations Run needs.
// Production wiring comes from DefaultDependencies; tests substitute
// fakes.
type Dependencies struct {
	// LoadObject loads one ELF into the kernel and pins its maps and
	// programs under pinDir.
	LoadObject func(objPath, pinDir string) (Pinned, error)
	// RemoveMemlock lifts RLIMIT_MEMLOCK before the first load. Map
	// creation charges locked memory on kernels without memcg BPF
	// accounting.
	RemoveMemlock func() error
	// WriteMarker publishes a stage completion marker.
	WriteMarker func(path string) error
}

// DefaultDependencies returns Dependencies backed by the real kernel
// and filesystem.
func DefaultDependencies(log *slog.Logger) Dependencies {
	return Dependencies{
		LoadObject: func(objPath, pinDir string) (Pinned, error) {
			return loadAndPin(objPath, pinDir, log)
		},
		RemoveMemlock: rlimit.RemoveMemlock,
		WriteMarker:   writeMarker,
	}
}

// stage is one loader pass: source directories whose objects pin into
// a single bpffs directory, completed by a marker.
type stage struct {
	name   string
	dirs   []string
	pinDir string
	marker string
}

// Loader loads and pins BPF objects at boot.
type Loader struct {
	cfg      config.LoaderConfig
	dirs     config.RuntimeDirs
	deps     Dependencies
	metrics  *metrics.Metrics
	recorder Recorder
	log      *slog.Logger
}

// New returns a Loader. recorder may be nil, in which case load
// attempts are not persisted.
func New(cfg config.LoaderConfig, dirs config.RuntimeDirs, deps Dependencies, m *metrics.Metrics, recorder Recorder, log *slog.Logger) *Loader {
	return &Loader{
		cfg:      cfg,
		dirs:     dirs,
		deps:     deps,
		metrics:  m,
		recorder: recorder,
		log:      log.With("component", "loader"),
	}
}

// Run executes the load sequence under the writer lock: the netd
// stage, then the tethering stage, each publishing its marker once
// every critical object in it is pinned. Stages whose marker already
// exists are skipped, so Run is safe to repeat.
func (l *Loader) Run(ctx context.Context) error {
	return lock.Run(ctx, l.dirs.Lock(), func(ctx context.Context, _ lock.WriterScope) error {
		return l.runLocked(ctx)
	})
}

func (l *Loader) runLocked(ctx context.Context) error {
	stages := l.stages()

	pending := false
	for _, st := range stages {
		if !markerDone(st.marker) {
			pending = true
		}
	}
	if !pending {
		l.log.Info("bpf objects already loaded, nothing to do")
		l.metrics.LoaderRuns.WithLabelValues("noop").Inc()
		return nil
	}

	if err := l.deps.RemoveMemlock(); err != nil {
		l.metrics.LoaderRuns.WithLabelValues("error").Inc()
		return tetherbpf.Fatal("remove memlock rlimit", err)
	}

	for _, st := range stages {
		if err := l.runStage(ctx, st); err != nil {
			l.metrics.LoaderRuns.WithLabelValues("error").Inc()
			return err
		}
	}

	l.metrics.LoaderRuns.WithLabelValues("ok").Inc()
	return nil
}

func (l *Loader) stages() []stage {
	return []stage{
		{name: "netd", dirs: l.cfg.ObjectDirs, pinDir: l.dirs.NetdDir(), marker: l.dirs.LoadedMarkerPath()},
		{name: "tethering", dirs: l.cfg.TetherObjectDirs, pinDir: l.dirs.TetherDir(), marker: l.dirs.MainlineMarkerPath()},
	}
}

func (l *Loader) runStage(ctx context.Context, st stage) error {
	log := l.log.With("stage", st.name)

	if markerDone(st.marker) {
		log.Debug("stage marker present, skipping")
		return nil
	}

	objs, err := ScanObjects(st.dirs, l.cfg.Optional)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(st.pinDir, 0o755); err != nil {
		return fmt.Errorf("create pin directory %s: %w", st.pinDir, err)
	}
	if n, err := clearPins(st.pinDir); err != nil {
		return err
	} else if n > 0 {
		log.Warn("removed stale pins from an interrupted run", "count", n)
	}

	for _, obj := range objs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start := time.Now()
		pinned, err := l.deps.LoadObject(obj.Path, st.pinDir)

		outcome, detail := OutcomeLoaded, ""
		if err != nil {
			detail = err.Error()
			outcome = OutcomeFailed
			if obj.Optional {
				outcome = OutcomeTolerated
			}
		}
		l.record(ctx, Record{
			Stage:   st.name,
			Object:  obj.Name,
			Outcome: outcome,
			Detail:  detail,
			Elapsed: time.Since(start),
		})

		if err != nil {
			if obj.Optional {
				log.Warn("optional object failed to load, continuing", "object", obj.Name, "error", err)
				continue
			}
			return tetherbpf.Fatal(fmt.Sprintf("load bpf object %s", obj.Name), err)
		}
		log.Debug("object loaded and pinned",
			"object", obj.Name,
			"maps", len(pinned.Maps),
			"programs", len(pinned.Programs))
	}

	if err := l.deps.WriteMarker(st.marker); err != nil {
		return fmt.Errorf("write %s marker: %w", st.name, err)
	}
	log.Info("stage complete", "objects", len(objs), "marker", st.marker)
	return nil
}

func (l *Loader) record(ctx context.Context, rec Record) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.RecordLoad(ctx, rec); err != nil {
		l.log.Warn("failed to record load attempt", "object", rec.Object, "error", err)
	}
}

func markerDone(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// clearPins removes leftover files from a pin directory. A previous
// run that died between pinning and writing its marker leaves pins
// that would fail this run's Pin calls with EEXIST.
func clearPins(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read pin directory %s: %w", dir, err)
	}

	n := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return n, fmt.Errorf("remove stale pin %s: %w", entry.Name(), err)
		}
		n++
	}
	return n, nil
}
