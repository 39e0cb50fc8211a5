// Package netd owns the kernel side of per-socket traffic
// accounting: it attaches the cgroup BPF program set at boot, opens
// the pinned accounting maps, and implements socket tagging with
// permission and entry-count enforcement. The tagging service
// (service.go) exposes these operations to local clients over a unix
// socket.
package netd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	tetherbpf "github.com/tetherbpf/tetherbpf"
	"github.com/tetherbpf/tetherbpf/bpfmap"
	"github.com/tetherbpf/tetherbpf/config"
)

// State tracks handler initialization progress.
type State int

const (
	StateUninitialized State = iota
	StateProgramsAttached
	StateMapsOpen
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateProgramsAttached:
		return "programs-attached"
	case StateMapsOpen:
		return "maps-open"
	case StateReady:
		return "ready"
	default:
		return "invalid"
	}
}

// Maps holds the pinned netd map handles. The cookie-tag handle
// doubles as the validity proxy: it is opened last, so a non-nil
// CookieTag implies every other map opened successfully.
type Maps struct {
	StatsA        bpfmap.Map[tetherbpf.StatsKey, tetherbpf.StatsValue]
	StatsB        bpfmap.Map[tetherbpf.StatsKey, tetherbpf.StatsValue]
	Configuration bpfmap.Map[uint32, uint32]
	UidPermission bpfmap.Map[uint32, tetherbpf.UidPermission]
	CookieTag     bpfmap.Map[uint64, tetherbpf.UidTagValue]
}

// Close releases every open handle.
func (m *Maps) Close() error {
	var errs []error
	for _, c := range []io.Closer{m.StatsA, m.StatsB, m.Configuration, m.UidPermission, m.CookieTag} {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// SocketInfo is what tagging needs to know about a candidate socket.
type SocketInfo struct {
	Family   int
	Protocol int
	Cookie   uint64
}

// Dependencies supplies the externals the handler touches. Tests
// substitute fakes; DefaultDependencies wires the real kernel.
type Dependencies struct {
	// SocketInfo introspects a socket descriptor.
	SocketInfo func(fd int) (SocketInfo, error)

	// MarkerExists reports whether a loader completion marker is
	// already on disk.
	MarkerExists func(path string) bool

	// WaitForMarker blocks until the marker appears, polling with
	// capped exponential backoff.
	WaitForMarker func(ctx context.Context, path string) error

	// StartLoader triggers the BPF object loader asynchronously.
	StartLoader func(ctx context.Context) error

	// AttachPrograms attaches the cgroup program set, returning a
	// handle keeping the attachments alive plus a record of what was
	// attached.
	AttachPrograms func(cgroupPath string) (io.Closer, []Attachment, error)

	// OpenMaps opens the five pinned maps, cookie-tag last.
	OpenMaps func() (Maps, error)
}

// DefaultDependencies wires Dependencies to the running kernel.
// startLoader is supplied by the caller so the trigger mechanism
// stays out of this package; nil makes the trigger a no-op.
func DefaultDependencies(dirs config.RuntimeDirs, platform tetherbpf.Platform, startLoader func(context.Context) error, log *slog.Logger) Dependencies {
	if startLoader == nil {
		startLoader = func(context.Context) error { return nil }
	}
	return Dependencies{
		SocketInfo:   KernelSocketInfo,
		MarkerExists: markerExists,
		WaitForMarker: func(ctx context.Context, path string) error {
			return waitForMarker(ctx, path, log)
		},
		StartLoader: startLoader,
		AttachPrograms: func(cgroupPath string) (io.Closer, []Attachment, error) {
			return AttachCgroupPrograms(dirs.NetdDir(), cgroupPath, platform, log)
		},
		OpenMaps: func() (Maps, error) {
			return OpenMaps(dirs.NetdDir())
		},
	}
}

// Options configures a Handler.
type Options struct {
	// PlatformMarker is written by the loader once the critical netd
	// objects are pinned. Init blocks on it.
	PlatformMarker string

	// MainlineMarker is written once the tethering objects are
	// pinned as well.
	MainlineMarker string

	// EnforceLoader makes Init block on MainlineMarker instead of
	// proceeding optimistically.
	EnforceLoader bool
}

// DefaultOptions derives handler options from the runtime layout.
func DefaultOptions(dirs config.RuntimeDirs, enforceLoader bool) Options {
	return Options{
		PlatformMarker: dirs.LoadedMarkerPath(),
		MainlineMarker: dirs.MainlineMarkerPath(),
		EnforceLoader:  enforceLoader,
	}
}

// Handler implements socket tagging over the netd BPF maps.
//
// Init must complete before TagSocket and UntagSocket are used; once
// it has, both are safe for concurrent use from many goroutines.
type Handler struct {
	log      *slog.Logger
	platform tetherbpf.Platform
	opts     Options
	deps     Dependencies

	state       State
	maps        Maps
	attachments io.Closer
	attached    []Attachment
}

// NewHandler returns an uninitialized Handler.
func NewHandler(opts Options, platform tetherbpf.Platform, deps Dependencies, log *slog.Logger) *Handler {
	return &Handler{
		log:      log.With("component", "netd"),
		platform: platform,
		opts:     opts,
		deps:     deps,
	}
}

// State reports initialization progress.
func (h *Handler) State() State {
	return h.state
}

// Attachments returns the programs Init attached, for the ledger.
// Empty until Init has run.
func (h *Handler) Attachments() []Attachment {
	return slices.Clone(h.attached)
}

// Init brings the handler to ready: waits for the loader, attaches
// the cgroup program set and opens the maps. Attach-phase failures
// come back as FatalError; a partially attached program set produces
// silently wrong accounting, so the process must not limp on.
func (h *Handler) Init(ctx context.Context, cgroupPath string) error {
	if h.state != StateUninitialized {
		return fmt.Errorf("init: handler is already %s", h.state)
	}

	if !h.deps.MarkerExists(h.opts.PlatformMarker) || !h.deps.MarkerExists(h.opts.MainlineMarker) {
		h.log.Info("bpf objects not fully loaded, triggering loader")
		if err := h.deps.StartLoader(ctx); err != nil {
			h.log.Warn("loader trigger failed", "error", err)
		}
	}

	// Boot gates on the critical objects. The wait is unbounded on
	// purpose; backoff caps the polling rate, not the duration.
	if err := h.deps.WaitForMarker(ctx, h.opts.PlatformMarker); err != nil {
		return fmt.Errorf("waiting for bpf objects: %w", err)
	}

	if !h.deps.MarkerExists(h.opts.MainlineMarker) {
		if h.opts.EnforceLoader {
			if err := h.deps.WaitForMarker(ctx, h.opts.MainlineMarker); err != nil {
				return fmt.Errorf("waiting for tethering bpf objects: %w", err)
			}
		} else {
			h.log.Warn("tethering bpf objects not loaded, proceeding without them")
		}
	}

	attachments, records, err := h.deps.AttachPrograms(cgroupPath)
	if err != nil {
		return tetherbpf.Fatal("attach cgroup programs", err)
	}
	h.attachments = attachments
	h.attached = records
	h.state = StateProgramsAttached

	maps, err := h.deps.OpenMaps()
	if err != nil {
		return fmt.Errorf("open netd maps: %w", err)
	}
	h.maps = maps
	h.state = StateMapsOpen

	if h.maps.CookieTag == nil {
		return errors.New("cookie-tag map missing after map open")
	}
	h.state = StateReady
	h.log.Info("bpf handler ready", "cgroup", cgroupPath, "platform", h.platform.String())
	return nil
}

// Close releases maps and detaches link-backed attachments. Only for
// tests and orderly shutdown; the daemon normally holds everything
// for its lifetime.
func (h *Handler) Close() error {
	var errs []error
	if h.attachments != nil {
		errs = append(errs, h.attachments.Close())
		h.attachments = nil
	}
	errs = append(errs, h.maps.Close())
	h.maps = Maps{}
	h.attached = nil
	h.state = StateUninitialized
	return errors.Join(errs...)
}
