package memory_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tetherbpf/tetherbpf/bpfmap"
	"github.com/tetherbpf/tetherbpf/bpfmap/memory"
)

func TestMap_LookupMissingIsENOENT(t *testing.T) {
	m := memory.New[uint64, uint32](4)
	_, err := m.Lookup(42)
	require.ErrorIs(t, err, unix.ENOENT)
}

func TestMap_UpdateFlags(t *testing.T) {
	m := memory.New[uint64, uint32](4)

	require.NoError(t, m.Update(1, 10, bpfmap.UpdateNoExist))
	err := m.Update(1, 11, bpfmap.UpdateNoExist)
	require.ErrorIs(t, err, unix.EEXIST)

	require.NoError(t, m.Update(1, 12, bpfmap.UpdateExist))
	err = m.Update(2, 20, bpfmap.UpdateExist)
	require.ErrorIs(t, err, unix.ENOENT)

	require.NoError(t, m.Update(2, 20, bpfmap.UpdateAny))
	require.NoError(t, m.Update(2, 21, bpfmap.UpdateAny))

	v, err := m.Lookup(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(21), v)
}

func TestMap_CapacityIsE2BIG(t *testing.T) {
	m := memory.New[uint64, uint32](2)
	require.NoError(t, m.Update(1, 1, bpfmap.UpdateAny))
	require.NoError(t, m.Update(2, 2, bpfmap.UpdateAny))

	err := m.Update(3, 3, bpfmap.UpdateAny)
	require.ErrorIs(t, err, unix.E2BIG)

	// Overwriting an existing key does not consume capacity.
	require.NoError(t, m.Update(2, 22, bpfmap.UpdateAny))
}

func TestMap_DeleteSemantics(t *testing.T) {
	m := memory.New[uint64, uint32](4)
	m.Seed(7, 70)

	require.NoError(t, m.Delete(7))
	require.ErrorIs(t, m.Delete(7), unix.ENOENT)
	assert.Equal(t, uint64(1), m.Deletes())
}

func TestMap_ForEachTracksLiveEntries(t *testing.T) {
	m := memory.New[uint64, uint32](8)
	for i := uint64(1); i <= 4; i++ {
		m.Seed(i, uint32(i*10))
	}

	var seen []uint64
	err := m.ForEach(func(k uint64, v uint32) bool {
		if k == 1 {
			// Deleting mid-iteration is allowed; the deleted
			// entry must not reappear.
			require.NoError(t, m.Delete(3))
		}
		seen = append(seen, k)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 4}, seen)
}

func TestMap_ForEachStopsOnFalse(t *testing.T) {
	m := memory.New[uint64, uint32](8)
	m.Seed(1, 1)
	m.Seed(2, 2)
	m.Seed(3, 3)

	count := 0
	err := m.ForEach(func(k uint64, v uint32) bool {
		count++
		return count < 2
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMap_ErrorInjection(t *testing.T) {
	m := memory.New[uint64, uint32](4)
	m.Seed(1, 1)

	injected := errors.New("injected")

	m.LookupErr = injected
	_, err := m.Lookup(1)
	require.ErrorIs(t, err, injected)
	m.LookupErr = nil

	m.FailOnKey[1] = unix.EFAULT
	_, err = m.Lookup(1)
	require.ErrorIs(t, err, unix.EFAULT)
	require.ErrorIs(t, m.Update(1, 2, bpfmap.UpdateAny), unix.EFAULT)
	require.ErrorIs(t, m.Delete(1), unix.EFAULT)

	m.ForEachErr = injected
	require.ErrorIs(t, m.ForEach(func(uint64, uint32) bool { return true }), injected)
}
