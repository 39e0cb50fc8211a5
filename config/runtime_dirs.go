package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tetherbpf/tetherbpf/bpffs"
)

// RuntimeDirs holds the runtime paths tetherbpf reads and writes:
//
//	{base}/                 - runtime root
//	{base}/db/              - ledger database
//	{base}/.lock            - loader writer lock file
//	{base}/bpf_progs_loaded - loader marker, critical netd objects
//	{base}/netbpf_load_done - loader marker, tethering objects
//	{base}-sock/            - control socket directory
//	{bpf}/                  - bpffs mount
//	{bpf}/netd/             - netd map and program pins
//	{bpf}/tethering/        - offload program pins
//
// The netd pin directory is a compatibility surface: the kernel-side
// programs, the loader and the tag path all address maps there by
// fixed name.
//
// RuntimeDirs is immutable after construction. Use NewRuntimeDirs to
// create one; fields are unexported so an invalid instance cannot be
// built by hand.
type RuntimeDirs struct {
	base     string // runtime root (e.g., /run/tetherbpf)
	db       string // ledger database directory
	sock     string // control socket directory
	bpf      string // bpffs mount point
	netd     string // netd pins
	tether   string // tethering offload pins
	lock     string // loader writer lock file
	marker   string // marker, critical netd objects loaded
	mainline string // marker, tethering objects loaded
}

// DefaultRuntimeDirs returns RuntimeDirs with production defaults.
// Panics if the defaults are somehow invalid (should never happen).
func DefaultRuntimeDirs() RuntimeDirs {
	dirs, err := NewRuntimeDirs("/run/tetherbpf", "/sys/fs/bpf")
	if err != nil {
		panic(fmt.Sprintf("DefaultRuntimeDirs: %v", err))
	}
	return dirs
}

// NewRuntimeDirs creates RuntimeDirs rooted at base, with pins under
// the bpffs mounted at bpfRoot. The socket directory is {base}-sock
// so it can be mounted separately from the root.
//
// Returns an error if either path is empty or not absolute.
func NewRuntimeDirs(base, bpfRoot string) (RuntimeDirs, error) {
	for _, p := range []string{base, bpfRoot} {
		if p == "" {
			return RuntimeDirs{}, fmt.Errorf("path cannot be empty")
		}
		if !filepath.IsAbs(p) {
			return RuntimeDirs{}, fmt.Errorf("path must be absolute, got %q", p)
		}
	}

	return RuntimeDirs{
		base:     base,
		db:       filepath.Join(base, "db"),
		sock:     base + "-sock",
		bpf:      bpfRoot,
		netd:     filepath.Join(bpfRoot, "netd"),
		tether:   filepath.Join(bpfRoot, "tethering"),
		lock:     filepath.Join(base, ".lock"),
		marker:   filepath.Join(base, "bpf_progs_loaded"),
		mainline: filepath.Join(base, "netbpf_load_done"),
	}, nil
}

// Base returns the runtime root path.
func (d RuntimeDirs) Base() string { return d.base }

// DB returns the ledger database directory.
func (d RuntimeDirs) DB() string { return d.db }

// DBPath returns the full path of the ledger database file.
func (d RuntimeDirs) DBPath() string { return filepath.Join(d.db, "ledger.db") }

// Sock returns the control socket directory.
func (d RuntimeDirs) Sock() string { return d.sock }

// SocketPath returns the full path of the control socket.
func (d RuntimeDirs) SocketPath() string { return filepath.Join(d.sock, "tetherbpf.sock") }

// BpfRoot returns the bpffs mount point.
func (d RuntimeDirs) BpfRoot() string { return d.bpf }

// NetdDir returns the netd pin directory.
func (d RuntimeDirs) NetdDir() string { return d.netd }

// TetherDir returns the tethering offload pin directory.
func (d RuntimeDirs) TetherDir() string { return d.tether }

// Lock returns the loader writer lock file path.
func (d RuntimeDirs) Lock() string { return d.lock }

// LoadedMarkerPath returns the loader completion marker path. The
// marker exists once every critical BPF object has been loaded and
// pinned.
func (d RuntimeDirs) LoadedMarkerPath() string { return d.marker }

// MainlineMarkerPath returns the marker written once the tethering
// offload objects have been loaded and pinned as well. Unlike the
// critical marker, boot does not have to gate on it.
func (d RuntimeDirs) MainlineMarkerPath() string { return d.mainline }

// NetdPinPath returns the pin path of a named netd object. Names
// already carry their map_netd_/prog_netd_ prefix.
func (d RuntimeDirs) NetdPinPath(name string) string {
	return filepath.Join(d.netd, name)
}

// TetherPinPath returns the pin path of a named tethering object.
func (d RuntimeDirs) TetherPinPath(name string) string {
	return filepath.Join(d.tether, name)
}

// EnsureDirectories creates the runtime directories and makes sure a
// bpffs is mounted at the bpf root. Call at startup to fail fast on
// permission problems. Mounting requires CAP_SYS_ADMIN; if that is
// unavailable, bpffs must be pre-mounted by the init system.
func (d RuntimeDirs) EnsureDirectories() error {
	for _, dir := range []string{d.base, d.db, d.sock} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := bpffs.EnsureMounted(bpffs.DefaultMountInfoPath, d.bpf); err != nil {
		return fmt.Errorf("failed to ensure bpffs at %s: %w", d.bpf, err)
	}

	for _, dir := range []string{d.netd, d.tether} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create pin directory %s: %w", dir, err)
		}
	}

	return nil
}
