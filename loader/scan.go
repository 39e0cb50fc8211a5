package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Object is one BPF ELF discovered by a directory scan.
type Object struct {
	// Name is the file basename, e.g. "netd.o". Optional-object
	// matching and pin naming both key off it.
	Name string
	// Path is the absolute location of the ELF.
	Path string
	// Optional marks objects whose load failure is tolerated.
	Optional bool
}

// Stem returns the object name without its .o suffix. Pin names embed
// it: netd.o owns map_netd_* and prog_netd_*.
func (o Object) Stem() string {
	return strings.TrimSuffix(o.Name, ".o")
}

// ScanObjects walks dirs in order and returns every *.o file found,
// sorted within each directory. Directories that do not exist are
// skipped; not every build ships every object set. Objects whose
// basename appears in optional are marked tolerable.
func ScanObjects(dirs []string, optional []string) ([]Object, error) {
	var objs []Object

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read object directory %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".o") {
				continue
			}
			objs = append(objs, Object{
				Name:     entry.Name(),
				Path:     filepath.Join(dir, entry.Name()),
				Optional: slices.Contains(optional, entry.Name()),
			})
		}
	}

	return objs, nil
}

// MapPinName returns the bpffs basename for a map owned by an object:
// map_<stem>_<name>.
func MapPinName(stem, mapName string) string {
	return "map_" + stem + "_" + mapName
}

// ProgPinName returns the bpffs basename for a program. ELF section
// names separate hook components with slashes; pins flatten them, so
// cgroupskb/ingress/stats in netd.o pins as
// prog_netd_cgroupskb_ingress_stats.
func ProgPinName(stem, section string) string {
	return "prog_" + stem + "_" + strings.ReplaceAll(section, "/", "_")
}
