// heap.go - bucketed size-class allocator standing in for the Win32
// default process heap (HeapAlloc/HeapFree/HeapReAlloc).
//
// Grounded on maps.go's bump-allocator idiom for the underlying address
// space (one big anonymous region reserved up front, chunks carved out
// of it by a free-list instead of a pointer that only ever grows); no
// compaction, matching RtlHeap's behavior of leaving freed blocks for
// reuse rather than ever moving live data.
package winemu

import "fmt"

// heap bucket size classes, doubling from 16 bytes up to 64KB; anything
// bigger gets its own dedicated mapping instead of living in a bucket.
var heapBucketSizes = []uint64{16, 32, 64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

const heapLargeThreshold = 65536

type heapBlock struct {
	addr uint64
	size uint64
}

// Heap is one Win32 heap object: a reserved arena carved into size-class
// buckets, plus a side table for large (over-bucket) allocations.
type Heap struct {
	maps    *Maps
	region  *MemoryRegion
	cursor  uint64
	buckets map[uint64][]uint64 // bucket size -> free block addresses
	live    map[uint64]heapBlock
	lenient bool
}

// NewHeap creates a heap over m with no arena yet; Reserve binds the
// region that bucketed allocations are carved from.
func NewHeap(m *Maps, lenient bool) *Heap {
	return &Heap{maps: m, buckets: make(map[uint64][]uint64), live: make(map[uint64]heapBlock), lenient: lenient}
}

// Reserve binds the heap to an already-mapped region; the caller maps
// the region (so it controls placement and naming) and hands it here.
func (h *Heap) Reserve(r *MemoryRegion) {
	h.region = r
	h.cursor = r.Base
}

func bucketFor(size uint64) uint64 {
	for _, b := range heapBucketSizes {
		if size <= b {
			return b
		}
	}
	return 0 // large allocation, not bucketed
}

// Alloc returns `size` usable bytes, optionally zeroed (HEAP_ZERO_MEMORY).
func (h *Heap) Alloc(size uint64, zero bool) (uint64, error) {
	if size == 0 {
		size = 1
	}
	bucket := bucketFor(size)
	if bucket == 0 {
		return h.allocLarge(size, zero)
	}
	if free := h.buckets[bucket]; len(free) > 0 {
		addr := free[len(free)-1]
		h.buckets[bucket] = free[:len(free)-1]
		h.live[addr] = heapBlock{addr: addr, size: bucket}
		if zero {
			h.maps.WriteBytes(addr, make([]byte, bucket))
		}
		return addr, nil
	}
	if h.region == nil || h.cursor+bucket > h.region.end() {
		if h.lenient {
			return h.allocLarge(bucket, zero)
		}
		return 0, fmt.Errorf("heap: arena exhausted allocating %d bytes: %w", size, ErrNoMap)
	}
	addr := h.cursor
	h.cursor += bucket
	h.live[addr] = heapBlock{addr: addr, size: bucket}
	if zero {
		h.maps.WriteBytes(addr, make([]byte, bucket))
	}
	return addr, nil
}

func (h *Heap) allocLarge(size uint64, zero bool) (uint64, error) {
	r, err := h.maps.AllocAnonymous(fmt.Sprintf("heap_large_%x", size), size, PermRead|PermWrite)
	if err != nil {
		return 0, err
	}
	h.live[r.Base] = heapBlock{addr: r.Base, size: r.Size}
	_ = zero // a freshly bumped mapping already reads as zero
	return r.Base, nil
}

// Free returns a block to its bucket's free list for reuse. It reports
// false if addr is not a live allocation.
func (h *Heap) Free(addr uint64) bool {
	blk, ok := h.live[addr]
	if !ok {
		return false
	}
	delete(h.live, addr)
	bucket := bucketFor(blk.size)
	if bucket == 0 || blk.size > heapLargeThreshold {
		// Large allocations got their own dedicated mapping in
		// allocLarge rather than a bucket slot; releasing them means
		// tearing down that mapping outright, the way VirtualFree's
		// MEM_RELEASE actually unmaps the pages instead of recycling
		// them for the next same-size request.
		h.maps.Dealloc(addr)
		return true
	}
	h.buckets[bucket] = append(h.buckets[bucket], addr)
	return true
}

// Size returns the usable size of a live allocation.
func (h *Heap) Size(addr uint64) (uint64, bool) {
	blk, ok := h.live[addr]
	return blk.size, ok
}

// ReAlloc grows or shrinks a block, copying contents into a new block
// when it must move (it moves whenever the requested size falls in a
// different size class, or exceeds the size of a large block's mapping).
func (h *Heap) ReAlloc(addr uint64, newSize uint64) (uint64, error) {
	blk, ok := h.live[addr]
	if !ok {
		return 0, fmt.Errorf("heap: realloc of unknown block 0x%x: %w", addr, ErrInvalidArgument)
	}
	if bucketFor(newSize) == bucketFor(blk.size) && newSize <= blk.size {
		return addr, nil
	}
	newAddr, err := h.Alloc(newSize, false)
	if err != nil {
		return 0, err
	}
	data, _ := h.maps.ReadBytes(addr, int(min64(blk.size, newSize)))
	_ = h.maps.WriteBytes(newAddr, data)
	h.Free(addr)
	return newAddr, nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
