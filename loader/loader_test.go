package loader_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tetherbpf "github.com/tetherbpf/tetherbpf"
	"github.com/tetherbpf/tetherbpf/config"
	"github.com/tetherbpf/tetherbpf/loader"
	"github.com/tetherbpf/tetherbpf/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeKernel stands in for the load-and-pin path. It records every
// call as an event so tests can assert sequencing across stages, and
// it really creates marker files so repeat runs observe them.
type fakeKernel struct {
	events     []string
	pinDirs    map[string]string // object name -> pin dir it was loaded into
	loadErr    map[string]error  // object name -> injected failure
	memlocks   int
	memlockErr error
	markerErr  error
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{
		pinDirs: make(map[string]string),
		loadErr: make(map[string]error),
	}
}

func (k *fakeKernel) deps() loader.Dependencies {
	return loader.Dependencies{
		LoadObject: func(objPath, pinDir string) (loader.Pinned, error) {
			name := filepath.Base(objPath)
			k.events = append(k.events, "load "+name)
			k.pinDirs[name] = pinDir
			if err := k.loadErr[name]; err != nil {
				return loader.Pinned{}, err
			}
			return loader.Pinned{
				Maps:     []string{loader.MapPinName("x", "m")},
				Programs: []string{loader.ProgPinName("x", "p")},
			}, nil
		},
		RemoveMemlock: func() error {
			k.memlocks++
			return k.memlockErr
		},
		WriteMarker: func(path string) error {
			if k.markerErr != nil {
				return k.markerErr
			}
			k.events = append(k.events, "marker "+filepath.Base(path))
			return os.WriteFile(path, nil, 0o644)
		},
	}
}

type fakeRecorder struct {
	records []loader.Record
	err     error
}

func (r *fakeRecorder) RecordLoad(_ context.Context, rec loader.Record) error {
	r.records = append(r.records, rec)
	return r.err
}

type loaderEnv struct {
	cfg       config.LoaderConfig
	dirs      config.RuntimeDirs
	kernel    *fakeKernel
	recorder  *fakeRecorder
	metrics   *metrics.Metrics
	netdSrc   string
	tetherSrc string
}

func newLoaderEnv(t *testing.T) *loaderEnv {
	t.Helper()
	base := t.TempDir()

	dirs, err := config.NewRuntimeDirs(filepath.Join(base, "run"), filepath.Join(base, "bpf"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dirs.Base(), 0o755))

	env := &loaderEnv{
		dirs:      dirs,
		kernel:    newFakeKernel(),
		recorder:  &fakeRecorder{},
		metrics:   metrics.New(),
		netdSrc:   filepath.Join(base, "objects", "netd"),
		tetherSrc: filepath.Join(base, "objects", "tethering"),
	}
	env.cfg = config.LoaderConfig{
		ObjectDirs:       []string{env.netdSrc},
		TetherObjectDirs: []string{env.tetherSrc},
	}
	return env
}

func (e *loaderEnv) loader() *loader.Loader {
	return loader.New(e.cfg, e.dirs, e.kernel.deps(), e.metrics, e.recorder, testLogger())
}

func TestRun_LoadsStagesInOrder(t *testing.T) {
	env := newLoaderEnv(t)
	writeObject(t, env.netdSrc, "netd.o")
	writeObject(t, env.netdSrc, "clatd.o")
	writeObject(t, env.tetherSrc, "offload.o")

	require.NoError(t, env.loader().Run(context.Background()))

	assert.Equal(t, []string{
		"load clatd.o",
		"load netd.o",
		"marker bpf_progs_loaded",
		"load offload.o",
		"marker netbpf_load_done",
	}, env.kernel.events)

	assert.Equal(t, env.dirs.NetdDir(), env.kernel.pinDirs["netd.o"])
	assert.Equal(t, env.dirs.TetherDir(), env.kernel.pinDirs["offload.o"])
	assert.Equal(t, 1, env.kernel.memlocks)

	assert.FileExists(t, env.dirs.LoadedMarkerPath())
	assert.FileExists(t, env.dirs.MainlineMarkerPath())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.LoaderRuns.WithLabelValues("ok")))
}

func TestRun_SecondRunIsNoop(t *testing.T) {
	env := newLoaderEnv(t)
	writeObject(t, env.netdSrc, "netd.o")

	l := env.loader()
	require.NoError(t, l.Run(context.Background()))
	loaded := len(env.kernel.events)

	require.NoError(t, l.Run(context.Background()))

	assert.Len(t, env.kernel.events, loaded)
	assert.Equal(t, 1, env.kernel.memlocks)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.LoaderRuns.WithLabelValues("noop")))
}

func TestRun_ResumesAfterPartialBoot(t *testing.T) {
	env := newLoaderEnv(t)
	writeObject(t, env.netdSrc, "netd.o")
	writeObject(t, env.tetherSrc, "offload.o")
	require.NoError(t, os.WriteFile(env.dirs.LoadedMarkerPath(), nil, 0o644))

	require.NoError(t, env.loader().Run(context.Background()))

	assert.Equal(t, []string{
		"load offload.o",
		"marker netbpf_load_done",
	}, env.kernel.events)
}

func TestRun_CriticalFailureIsFatal(t *testing.T) {
	env := newLoaderEnv(t)
	writeObject(t, env.netdSrc, "netd.o")
	writeObject(t, env.tetherSrc, "offload.o")
	env.kernel.loadErr["netd.o"] = errors.New("verifier rejected program")

	err := env.loader().Run(context.Background())

	require.Error(t, err)
	assert.True(t, tetherbpf.IsFatal(err))
	assert.Contains(t, err.Error(), "netd.o")

	assert.NoFileExists(t, env.dirs.LoadedMarkerPath())
	assert.Equal(t, []string{"load netd.o"}, env.kernel.events)

	require.Len(t, env.recorder.records, 1)
	rec := env.recorder.records[0]
	assert.Equal(t, "netd", rec.Stage)
	assert.Equal(t, "netd.o", rec.Object)
	assert.Equal(t, loader.OutcomeFailed, rec.Outcome)
	assert.Contains(t, rec.Detail, "verifier")
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.LoaderRuns.WithLabelValues("error")))
}

func TestRun_OptionalFailureTolerated(t *testing.T) {
	env := newLoaderEnv(t)
	writeObject(t, env.netdSrc, "netd.o")
	writeObject(t, env.tetherSrc, "offload.o")
	writeObject(t, env.tetherSrc, "test.o")
	env.cfg.Optional = []string{"test.o"}
	env.kernel.loadErr["test.o"] = errors.New("no such hardware")

	require.NoError(t, env.loader().Run(context.Background()))

	assert.FileExists(t, env.dirs.LoadedMarkerPath())
	assert.FileExists(t, env.dirs.MainlineMarkerPath())

	outcomes := make(map[string]string)
	for _, rec := range env.recorder.records {
		outcomes[rec.Object] = rec.Outcome
	}
	assert.Equal(t, map[string]string{
		"netd.o":    loader.OutcomeLoaded,
		"offload.o": loader.OutcomeLoaded,
		"test.o":    loader.OutcomeTolerated,
	}, outcomes)
}

func TestRun_ClearsStalePins(t *testing.T) {
	env := newLoaderEnv(t)
	writeObject(t, env.netdSrc, "netd.o")
	require.NoError(t, os.MkdirAll(env.dirs.NetdDir(), 0o755))
	stale := filepath.Join(env.dirs.NetdDir(), "map_netd_orphan")
	require.NoError(t, os.WriteFile(stale, nil, 0o644))

	require.NoError(t, env.loader().Run(context.Background()))

	assert.NoFileExists(t, stale)
}

func TestRun_MemlockFailureIsFatal(t *testing.T) {
	env := newLoaderEnv(t)
	writeObject(t, env.netdSrc, "netd.o")
	env.kernel.memlockErr = errors.New("operation not permitted")

	err := env.loader().Run(context.Background())

	require.Error(t, err)
	assert.True(t, tetherbpf.IsFatal(err))
	assert.Empty(t, env.kernel.events)
}

func TestRun_ContextCancelled(t *testing.T) {
	env := newLoaderEnv(t)
	writeObject(t, env.netdSrc, "netd.o")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := env.loader().Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, env.kernel.events)
	assert.NoFileExists(t, env.dirs.LoadedMarkerPath())
}

func TestRun_RecorderErrorsAreNotFatal(t *testing.T) {
	env := newLoaderEnv(t)
	writeObject(t, env.netdSrc, "netd.o")
	env.recorder.err = errors.New("ledger closed")

	require.NoError(t, env.loader().Run(context.Background()))

	assert.FileExists(t, env.dirs.LoadedMarkerPath())
}

func TestRun_EmptyStagesStillPublishMarkers(t *testing.T) {
	env := newLoaderEnv(t)

	require.NoError(t, env.loader().Run(context.Background()))

	assert.FileExists(t, env.dirs.LoadedMarkerPath())
	assert.FileExists(t, env.dirs.MainlineMarkerPath())
	assert.Equal(t, []string{
		"marker bpf_progs_loaded",
		"marker netbpf_load_done",
	}, env.kernel.events)
}
