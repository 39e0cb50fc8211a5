package bpfmap

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"
)

// pinnedMap implements Map over a bpffs-pinned kernel map.
type pinnedMap[K comparable, V any] struct {
	m    *ebpf.Map
	path string
}

// OpenPinned opens the pinned map at path and verifies that K and V
// match the kernel object's key and value sizes. A mismatch means the
// caller's idea of the map layout is stale, which would corrupt
// entries silently, so it is rejected here.
func OpenPinned[K comparable, V any](path string) (Map[K, V], error) {
	keySize := binary.Size(*new(K))
	valueSize := binary.Size(*new(V))
	if keySize < 0 || valueSize < 0 {
		return nil, fmt.Errorf("open %s: key and value types must be fixed-size", path)
	}

	m, err := ebpf.LoadPinnedMap(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open pinned map %s: %w", path, err)
	}

	if m.KeySize() != uint32(keySize) || m.ValueSize() != uint32(valueSize) {
		m.Close()
		return nil, fmt.Errorf("open %s: map is %d/%d bytes per entry, caller expects %d/%d",
			path, m.KeySize(), m.ValueSize(), keySize, valueSize)
	}

	return &pinnedMap[K, V]{m: m, path: path}, nil
}

func (p *pinnedMap[K, V]) Lookup(key K) (V, error) {
	var value V
	if err := p.m.Lookup(&key, &value); err != nil {
		return value, fmt.Errorf("lookup %s: %w", p.path, translate(err))
	}
	return value, nil
}

func (p *pinnedMap[K, V]) Update(key K, value V, flags UpdateFlags) error {
	if err := p.m.Update(&key, &value, ebpf.MapUpdateFlags(flags)); err != nil {
		return fmt.Errorf("update %s: %w", p.path, translate(err))
	}
	return nil
}

func (p *pinnedMap[K, V]) Delete(key K) error {
	if err := p.m.Delete(&key); err != nil {
		return fmt.Errorf("delete %s: %w", p.path, translate(err))
	}
	return nil
}

func (p *pinnedMap[K, V]) ForEach(fn func(key K, value V) bool) error {
	var (
		key   K
		value V
	)
	it := p.m.Iterate()
	for it.Next(&key, &value) {
		if !fn(key, value) {
			return nil
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", p.path, err)
	}
	return nil
}

func (p *pinnedMap[K, V]) MaxEntries() uint32 {
	return p.m.MaxEntries()
}

func (p *pinnedMap[K, V]) Close() error {
	return p.m.Close()
}

var _ Map[uint64, uint64] = (*pinnedMap[uint64, uint64])(nil)

// translate rewrites cilium's sentinel errors back to the errnos the
// kernel produced, so callers can propagate raw errno per contract.
func translate(err error) error {
	switch {
	case errors.Is(err, ebpf.ErrKeyNotExist):
		return unix.ENOENT
	case errors.Is(err, ebpf.ErrKeyExist):
		return unix.EEXIST
	default:
		return err
	}
}
