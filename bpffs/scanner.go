package bpffs

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// ScannerDirs holds the pin directories a Scanner enumerates. A plain
// struct rather than config.RuntimeDirs to avoid an import cycle.
type ScannerDirs struct {
	// Netd is the netd pin directory.
	Netd string
	// Tether is the tethering offload pin directory.
	Tether string
}

// PinKind classifies a pinned object by its name prefix.
type PinKind int

const (
	PinKindOther PinKind = iota
	PinKindMap
	PinKindProg
)

// String returns the string representation of the pin kind.
func (k PinKind) String() string {
	switch k {
	case PinKindMap:
		return "map"
	case PinKindProg:
		return "prog"
	default:
		return "other"
	}
}

// Pin is one pinned object found in a pin directory.
type Pin struct {
	// Path is the full pin path.
	Path string
	// Name is the pin's basename.
	Name string
	// Kind is derived from the name prefix (map_, prog_).
	Kind PinKind
}

// Scanner provides read-only enumeration of tetherbpf's pinned
// objects. It encapsulates the pin naming conventions; it never opens
// the pins themselves.
type Scanner struct {
	dirs ScannerDirs
}

// NewScanner creates a Scanner over the given pin directories.
func NewScanner(dirs ScannerDirs) *Scanner {
	return &Scanner{dirs: dirs}
}

// Pins returns an iterator over the pins in the netd directory
// followed by the tethering directory. A missing directory yields
// nothing; other enumeration failures are yielded as errors.
func (s *Scanner) Pins(ctx context.Context) iter.Seq2[Pin, error] {
	return func(yield func(Pin, error) bool) {
		for _, dir := range []string{s.dirs.Netd, s.dirs.Tether} {
			if dir == "" {
				continue
			}
			if !scanDir(ctx, dir, yield) {
				return
			}
		}
	}
}

func scanDir(ctx context.Context, dir string, yield func(Pin, error) bool) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true
		}
		return yield(Pin{}, fmt.Errorf("read dir %s: %w", dir, err))
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return yield(Pin{}, ctx.Err())
		}
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		pin := Pin{
			Path: filepath.Join(dir, name),
			Name: name,
			Kind: classifyPin(name),
		}
		if !yield(pin, nil) {
			return false
		}
	}

	return true
}

func classifyPin(name string) PinKind {
	switch {
	case strings.HasPrefix(name, "map_"):
		return PinKindMap
	case strings.HasPrefix(name, "prog_"):
		return PinKindProg
	default:
		return PinKindOther
	}
}
