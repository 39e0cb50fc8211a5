package loader

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cilium/ebpf"
)

// Pinned names the bpffs entries one object load produced.
type Pinned struct {
	Maps     []string
	Programs []string
}

// loadAndPin loads one BPF ELF into the kernel and pins its maps and
// programs under pinDir. On failure, every pin created so far is
// removed so a retry starts clean.
func loadAndPin(objPath, pinDir string, log *slog.Logger) (Pinned, error) {
	collSpec, err := ebpf.LoadCollectionSpec(objPath)
	if err != nil {
		return Pinned{}, fmt.Errorf("load collection spec: %w", err)
	}

	// Pin placement is decided here, not by the ELF's pinning
	// sections, which target libbpf's per-map layout.
	for _, mapSpec := range collSpec.Maps {
		mapSpec.Pinning = ebpf.PinNone
	}

	coll, err := ebpf.NewCollection(collSpec)
	if err != nil {
		return Pinned{}, fmt.Errorf("load collection: %w", err)
	}
	defer coll.Close()

	stem := strings.TrimSuffix(filepath.Base(objPath), ".o")

	var pinnedPaths []string
	cleanup := func() {
		for i := len(pinnedPaths) - 1; i >= 0; i-- {
			if err := os.Remove(pinnedPaths[i]); err != nil && !os.IsNotExist(err) {
				log.Warn("failed to remove pin during cleanup", "path", pinnedPaths[i], "error", err)
			}
		}
	}

	var pinned Pinned

	for _, name := range slices.Sorted(maps.Keys(coll.Maps)) {
		if strings.HasPrefix(name, ".") {
			// .rodata, .bss and friends stay anonymous.
			continue
		}
		pin := filepath.Join(pinDir, MapPinName(stem, name))
		if err := coll.Maps[name].Pin(pin); err != nil {
			cleanup()
			return Pinned{}, fmt.Errorf("pin map %q: %w", name, err)
		}
		pinnedPaths = append(pinnedPaths, pin)
		pinned.Maps = append(pinned.Maps, filepath.Base(pin))
	}

	for _, name := range slices.Sorted(maps.Keys(coll.Programs)) {
		progSpec := collSpec.Programs[name]
		pin := filepath.Join(pinDir, ProgPinName(stem, progSpec.SectionName))
		if err := coll.Programs[name].Pin(pin); err != nil {
			cleanup()
			return Pinned{}, fmt.Errorf("pin program %q: %w", name, err)
		}
		pinnedPaths = append(pinnedPaths, pin)
		pinned.Programs = append(pinned.Programs, filepath.Base(pin))
	}

	return pinned, nil
}

// writeMarker publishes a completion marker. Waiters check bare
// existence, so the file appears atomically via rename, never
// half-written.
func writeMarker(path string) error {
	tmp := path + ".tmp"
	content := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish marker: %w", err)
	}
	return nil
}
