package malloc

import (
	"context"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/memkit/memkit/arena"
	"github.com/memkit/memkit/heap"
	"github.com/memkit/memkit/memutils"
)

// Ptr identifies a live allocation: the byte offset of its payload within the
// allocator's arena.
type Ptr int

// NullPtr is the null-equivalent Ptr, returned for zero-size requests and on failure.
const NullPtr Ptr = heap.NullOffset

// Allocator is a malloc-style allocator over a growable arena. It layers bookkeeping
// on top of its heap that the heap deliberately does not do itself: every live
// allocation is tracked with its requested size, so misuse such as freeing an unknown
// Ptr is reported instead of corrupting the heap, allocations still live at Destroy
// are logged, and debug builds place anti-corruption markers after every payload.
//
// An Allocator is not synchronized. The consumer must guarantee it is used from only
// one goroutine at a time.
type Allocator struct {
	logger *slog.Logger
	arena  arena.Arena
	heap   *heap.Heap

	// live maps every outstanding Ptr to the payload size the consumer requested,
	// which can be smaller than the block's capacity.
	live *swiss.Map[Ptr, int]
}

var _ memutils.Validatable = &Allocator{}

// Alloc allocates at least size bytes and returns the allocation's Ptr. A size of 0
// is a successful no-op returning NullPtr. When the arena is exhausted, Alloc returns
// NullPtr and an error wrapping memutils.ErrOutOfMemory.
func (a *Allocator) Alloc(size int) (Ptr, error) {
	if size < 0 {
		return NullPtr, errors.Errorf("invalid allocation size %d", size)
	}
	if size == 0 {
		return NullPtr, nil
	}

	bp, err := a.heap.Malloc(size + memutils.DebugMargin)
	if err != nil {
		return NullPtr, err
	}

	memutils.WriteMagicValue(a.heap.Bytes(bp), size)
	a.live.Put(Ptr(bp), size)

	a.logger.Debug("Allocator::Alloc", slog.Int("Size", size), slog.Int("Offset", bp))
	return Ptr(bp), nil
}

// Free releases the allocation at p. Freeing NullPtr is a no-op. Unlike the
// underlying heap, Free rejects a Ptr it did not hand out rather than corrupting
// block metadata, and in debug builds it verifies the allocation's anti-corruption
// marker before releasing it.
func (a *Allocator) Free(p Ptr) error {
	if p == NullPtr {
		return nil
	}

	size, ok := a.live.Get(p)
	if !ok {
		return errors.Errorf("attempted to free offset %d, which is not a live allocation", int(p))
	}

	if !memutils.ValidateMagicValue(a.heap.Bytes(int(p)), size) {
		return errors.Errorf("memory corruption detected after the allocation at offset %d", int(p))
	}

	a.heap.Free(int(p))
	a.live.Delete(p)

	a.logger.Debug("Allocator::Free", slog.Int("Offset", int(p)))
	return nil
}

// Realloc resizes the allocation at p to hold at least size bytes, moving it and
// preserving the smaller of the old and new payload sizes. With p NullPtr it behaves
// as Alloc; with size 0 it behaves as Free and returns NullPtr. When the resize
// fails, the original allocation is untouched and still live.
func (a *Allocator) Realloc(p Ptr, size int) (Ptr, error) {
	if p == NullPtr {
		return a.Alloc(size)
	}

	if size == 0 {
		return NullPtr, a.Free(p)
	}

	if size < 0 {
		return NullPtr, errors.Errorf("invalid allocation size %d", size)
	}

	if _, ok := a.live.Get(p); !ok {
		return NullPtr, errors.Errorf("attempted to resize offset %d, which is not a live allocation", int(p))
	}

	bp, err := a.heap.Realloc(int(p), size+memutils.DebugMargin)
	if err != nil {
		return NullPtr, err
	}

	memutils.WriteMagicValue(a.heap.Bytes(bp), size)
	a.live.Delete(p)
	a.live.Put(Ptr(bp), size)

	a.logger.Debug("Allocator::Realloc", slog.Int("Offset", int(p)), slog.Int("NewOffset", bp), slog.Int("Size", size))
	return Ptr(bp), nil
}

// Bytes returns the payload of the allocation at p, sized to the consumer's original
// request. The returned slice is only valid until the next allocator operation:
// growth can move the arena's backing bytes. Bytes returns nil for a Ptr that is not
// a live allocation.
func (a *Allocator) Bytes(p Ptr) []byte {
	size, ok := a.live.Get(p)
	if !ok {
		return nil
	}

	return a.heap.Bytes(int(p))[:size]
}

// AllocationCount returns the number of live allocations.
func (a *Allocator) AllocationCount() int {
	return a.live.Count()
}

// Stats sums the allocator's usage numbers into the provided statistics object.
func (a *Allocator) Stats(stats *memutils.Statistics) {
	a.heap.AddStatistics(stats)
}

// DetailedStats sums the allocator's usage and fragmentation numbers into the
// provided statistics object.
func (a *Allocator) DetailedStats(stats *memutils.DetailedStatistics) {
	a.heap.AddDetailedStatistics(stats)
}

// BuildStatsString returns a JSON document of the allocator's usage numbers. When
// detailed is true, it includes the full block sequence of the underlying heap,
// which requires a complete heap walk.
func (a *Allocator) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()
	obj := writer.Object()

	var stats memutils.DetailedStatistics
	stats.Clear()
	a.heap.AddDetailedStatistics(&stats)

	statsObj := obj.Name("General").Object()
	statsObj.Name("BlockCount").Int(stats.BlockCount)
	statsObj.Name("BlockBytes").Int(stats.BlockBytes)
	statsObj.Name("AllocationCount").Int(stats.AllocationCount)
	statsObj.Name("AllocationBytes").Int(stats.AllocationBytes)
	statsObj.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)
	statsObj.End()

	if detailed {
		heapObj := obj.Name("Heap").Object()
		a.heap.HeapJsonData(heapObj)
		heapObj.End()
	}

	obj.End()
	return string(writer.Bytes())
}

// CheckCorruption verifies the anti-corruption marker of every live allocation. It
// returns nil when every marker is intact. Markers are only written when the module
// is built with the debug_mem_utils build tag; without it this method cannot fail,
// but it walks every live allocation regardless, so it should only be run as part of
// some sort of diagnostic regime.
func (a *Allocator) CheckCorruption() error {
	var corrupted error
	a.live.Iter(func(p Ptr, size int) bool {
		if !memutils.ValidateMagicValue(a.heap.Bytes(int(p)), size) {
			corrupted = errors.Errorf("memory corruption detected after the allocation at offset %d", int(p))
			return true
		}
		return false
	})

	return corrupted
}

// Validate checks the structural invariants of the underlying heap and the
// consistency of the allocator's live-allocation registry against it. When the
// allocator is functioning correctly it cannot return an error.
func (a *Allocator) Validate() error {
	if err := a.heap.Validate(); err != nil {
		return err
	}

	if a.heap.AllocationCount() != a.live.Count() {
		return errors.Errorf("the heap holds %d allocations but the registry holds %d", a.heap.AllocationCount(), a.live.Count())
	}

	var mismatch error
	a.live.Iter(func(p Ptr, size int) bool {
		if !a.heap.Allocated(int(p)) {
			mismatch = errors.Errorf("the registry lists offset %d as live, but its block is free", int(p))
			return true
		}
		if size+memutils.DebugMargin > a.heap.PayloadCap(int(p)) {
			mismatch = errors.Errorf("the registry lists %d bytes at offset %d, but the block only holds %d", size, int(p), a.heap.PayloadCap(int(p)))
			return true
		}
		return false
	})

	return mismatch
}

// Destroy tears the allocator down and releases the arena's backing store. If any
// allocation is still live, every one of them is logged and Destroy returns an error
// without releasing anything, leaving the allocator usable for cleanup.
func (a *Allocator) Destroy() error {
	if !a.heap.IsEmpty() {
		_ = a.heap.VisitAllRegions(func(offset, size int, free bool) error {
			if free {
				return nil
			}

			a.logUnreleasedMemory(offset, size)
			return nil
		})

		return errors.New("some allocations were not freed before the destruction of this allocator!")
	}

	a.arena.Release()
	a.live = nil
	a.heap = nil
	return nil
}

func (a *Allocator) logUnreleasedMemory(offset, size int) {
	a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("offset", offset),
		slog.Int("size", size),
	)
}
