// Package bpfmap provides typed access to BPF maps. The Map interface
// decouples map consumers from the kernel so tests can substitute an
// in-memory implementation; OpenPinned is the kernel-backed one.
package bpfmap

// UpdateFlags control update semantics. Values match the kernel's
// BPF_ANY, BPF_NOEXIST and BPF_EXIST.
type UpdateFlags uint64

const (
	// UpdateAny creates a new entry or replaces an existing one.
	UpdateAny UpdateFlags = iota
	// UpdateNoExist creates a new entry only.
	UpdateNoExist
	// UpdateExist replaces an existing entry only.
	UpdateExist
)

// Map is typed access to one BPF map. K and V must be fixed-size
// types matching the map's key and value layout exactly; OpenPinned
// verifies the sizes.
type Map[K comparable, V any] interface {
	// Lookup returns the value for key. A missing key yields an
	// error satisfying errors.Is(err, unix.ENOENT).
	Lookup(key K) (V, error)

	// Update writes value under key according to flags.
	Update(key K, value V, flags UpdateFlags) error

	// Delete removes key. A missing key yields an error satisfying
	// errors.Is(err, unix.ENOENT).
	Delete(key K) error

	// ForEach calls fn for entries in iteration order until fn
	// returns false or the map is exhausted. Iteration is not a
	// snapshot: entries written or deleted concurrently may or may
	// not be observed.
	ForEach(fn func(key K, value V) bool) error

	// MaxEntries returns the map's capacity.
	MaxEntries() uint32

	// Close releases the map handle. The pinned map itself stays
	// alive in the kernel.
	Close() error
}
