package winemu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T) *Heap {
	t.Helper()
	m := NewMaps()
	r, err := m.CreateMap("heap", 0x600000, 0x100000, PermRead|PermWrite)
	require.NoError(t, err)
	h := NewHeap(m, false)
	h.Reserve(r)
	return h
}

func TestHeapAllocBucketsBySize(t *testing.T) {
	h := newTestHeap(t)

	a1, err := h.Alloc(10, false)
	require.NoError(t, err)
	size, ok := h.Size(a1)
	require.True(t, ok)
	require.Equal(t, uint64(16), size) // rounds up to the 16-byte bucket
}

func TestHeapFreeRecyclesBlock(t *testing.T) {
	h := newTestHeap(t)

	a1, err := h.Alloc(20, false)
	require.NoError(t, err)
	require.True(t, h.Free(a1))

	a2, err := h.Alloc(20, false)
	require.NoError(t, err)
	require.Equal(t, a1, a2) // freed block reused before bumping further
}

func TestHeapAllocZeroedMemory(t *testing.T) {
	h := newTestHeap(t)
	addr, err := h.Alloc(64, false)
	require.NoError(t, err)
	require.NoError(t, h.maps.WriteBytes(addr, []byte{0xFF, 0xFF, 0xFF, 0xFF}))
	require.True(t, h.Free(addr))

	addr2, err := h.Alloc(64, true)
	require.NoError(t, err)
	require.Equal(t, addr, addr2)
	b, err := h.maps.ReadBytes(addr2, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0}, b)
}

func TestHeapReAllocMovesAcrossBuckets(t *testing.T) {
	h := newTestHeap(t)
	addr, err := h.Alloc(10, false)
	require.NoError(t, err)

	newAddr, err := h.ReAlloc(addr, 5000)
	require.NoError(t, err)
	require.NotEqual(t, addr, newAddr)
	size, ok := h.Size(newAddr)
	require.True(t, ok)
	require.GreaterOrEqual(t, size, uint64(5000))
}

func TestHeapFreeUnknownBlock(t *testing.T) {
	h := newTestHeap(t)
	require.False(t, h.Free(0x999999))
}
