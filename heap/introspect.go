package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"

	"github.com/memkit/memkit/memutils"
)

// Size returns the total number of bytes the heap currently occupies in its arena,
// block metadata included.
func (h *Heap) Size() int {
	return h.arena.Len()
}

// PayloadCap returns the payload capacity in bytes of the block whose payload starts
// at bp. This can exceed the size originally requested because of alignment rounding
// and unsplit remainders.
func (h *Heap) PayloadCap(bp int) int {
	return h.blockSize(hdr(bp)) - dwordSize
}

// Allocated returns whether the block whose payload starts at bp is currently
// allocated.
func (h *Heap) Allocated(bp int) bool {
	return h.allocated(hdr(bp))
}

// Bytes returns the full payload of the block whose payload starts at bp. The
// returned slice is only valid until the next heap mutation: growth can move the
// arena's backing bytes.
func (h *Heap) Bytes(bp int) []byte {
	return h.arena.Bytes()[bp : bp+h.PayloadCap(bp)]
}

// VisitAllRegions calls handleBlock once for every block between the prologue and the
// epilogue, in address order, with the block's payload offset, payload capacity, and
// whether it is free.
func (h *Heap) VisitAllRegions(handleBlock func(offset, size int, free bool) error) error {
	for bp := h.nextBlock(h.base); h.blockSize(hdr(bp)) > 0; bp = h.nextBlock(bp) {
		err := handleBlock(bp, h.PayloadCap(bp), !h.allocated(hdr(bp)))
		if err != nil {
			return err
		}
	}

	return nil
}

// AllocationCount returns the number of live allocations in the heap.
func (h *Heap) AllocationCount() int {
	var count int
	for bp := h.nextBlock(h.base); h.blockSize(hdr(bp)) > 0; bp = h.nextBlock(bp) {
		if h.allocated(hdr(bp)) {
			count++
		}
	}

	return count
}

// FreeRegionsCount returns the number of distinct free blocks in the heap. Because
// free neighbors are merged immediately, this is also the number of maximal free
// spans.
func (h *Heap) FreeRegionsCount() int {
	var count int
	for bp := h.nextBlock(h.base); h.blockSize(hdr(bp)) > 0; bp = h.nextBlock(bp) {
		if !h.allocated(hdr(bp)) {
			count++
		}
	}

	return count
}

// SumFreeSize returns the total payload capacity of all free blocks in the heap.
func (h *Heap) SumFreeSize() int {
	var sum int
	for bp := h.nextBlock(h.base); h.blockSize(hdr(bp)) > 0; bp = h.nextBlock(bp) {
		if !h.allocated(hdr(bp)) {
			sum += h.PayloadCap(bp)
		}
	}

	return sum
}

// IsEmpty returns true if the heap holds no live allocations.
func (h *Heap) IsEmpty() bool {
	return h.AllocationCount() == 0
}

// AddStatistics sums this heap's usage numbers into the provided statistics object.
func (h *Heap) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.BlockBytes += h.Size()

	for bp := h.nextBlock(h.base); h.blockSize(hdr(bp)) > 0; bp = h.nextBlock(bp) {
		if h.allocated(hdr(bp)) {
			stats.AllocationCount++
			stats.AllocationBytes += h.PayloadCap(bp)
		}
	}
}

// AddDetailedStatistics sums this heap's usage and fragmentation numbers into the
// provided statistics object.
func (h *Heap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.Statistics.BlockCount++
	stats.Statistics.BlockBytes += h.Size()

	for bp := h.nextBlock(h.base); h.blockSize(hdr(bp)) > 0; bp = h.nextBlock(bp) {
		if h.allocated(hdr(bp)) {
			stats.AddAllocation(h.PayloadCap(bp))
		} else {
			stats.AddUnusedRange(h.PayloadCap(bp))
		}
	}
}

// HeapJsonData populates a json object with the heap's usage numbers and its full
// block sequence.
func (h *Heap) HeapJsonData(json jwriter.ObjectState) {
	json.Name("TotalBytes").Int(h.Size())
	json.Name("UnusedBytes").Int(h.SumFreeSize())
	json.Name("Allocations").Int(h.AllocationCount())
	json.Name("UnusedRanges").Int(h.FreeRegionsCount())

	blocks := json.Name("Blocks").Array()
	_ = h.VisitAllRegions(func(offset, size int, free bool) error {
		block := blocks.Object()
		block.Name("Offset").Int(offset)
		block.Name("Size").Int(size)
		block.Name("Free").Bool(free)
		block.End()
		return nil
	})
	blocks.End()
}

// Validate walks the entire heap and checks every structural invariant: sentinel
// integrity, gap-free tiling, block alignment and granularity, header/footer
// agreement, and the absence of adjacent free blocks. When the heap is functioning
// correctly it cannot return an error, but it is the first thing to reach for when
// diagnosing a suspected corruption.
func (h *Heap) Validate() error {
	if h.base == NullOffset {
		return errors.New("the heap has not been initialized")
	}

	end := h.arena.Len()

	if h.word(hdr(h.base)) != pack(dwordSize, true) || h.word(h.base) != pack(dwordSize, true) {
		return errors.New("the prologue block has been overwritten")
	}

	prevFree := false
	bp := h.nextBlock(h.base)

	for {
		if hdr(bp)+wordSize > end {
			return errors.Errorf("the block sequence reaches offset %d without an epilogue before the arena's %d-byte bound", bp, end)
		}

		size := h.blockSize(hdr(bp))
		if size == 0 {
			if !h.allocated(hdr(bp)) {
				return errors.Errorf("the epilogue header at offset %d is not marked allocated", hdr(bp))
			}
			if hdr(bp)+wordSize != end {
				return errors.Errorf("the epilogue header sits at offset %d, but the arena ends at offset %d", hdr(bp), end)
			}
			return nil
		}

		if !memutils.IsAligned(bp, dwordSize) {
			return errors.Errorf("the block at offset %d has a misaligned payload", bp)
		}

		if size < minBlockSize || !memutils.IsAligned(size, dwordSize) {
			return errors.Errorf("the block at offset %d has invalid size %d", bp, size)
		}

		if bp+size-wordSize > end {
			return errors.Errorf("the %d-byte block at offset %d runs past the arena's %d-byte bound", size, bp, end)
		}

		if h.word(hdr(bp)) != h.word(h.ftr(bp)) {
			return errors.Errorf("the header and footer of the block at offset %d disagree", bp)
		}

		free := !h.allocated(hdr(bp))
		if free && prevFree {
			return errors.Errorf("the block at offset %d and its predecessor are both free; a merge was missed", bp)
		}

		prevFree = free
		bp += size
	}
}
