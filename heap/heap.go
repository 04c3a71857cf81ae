package heap

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"

	"github.com/memkit/memkit/arena"
	"github.com/memkit/memkit/memutils"
)

// Heap is a dynamic allocator over a growable arena. It carves the arena into a
// gap-free sequence of boundary-tagged blocks bounded by a permanently-allocated
// prologue below and a zero-size allocated epilogue header above, so scans and
// neighbor inspection never need separate bounds tracking. Free neighbors are merged
// immediately on every free and every growth, so no two physically adjacent blocks
// are ever both free.
//
// Malloc, Free and Realloc return and accept payload offsets into the arena; the
// payload bytes themselves are reached through Bytes. All returned payloads are
// 8-byte aligned and never overlap while simultaneously live.
//
// A Heap is not synchronized. It assumes a single owning goroutine, exactly like the
// single-threaded clients it is designed for.
type Heap struct {
	arena arena.Arena

	chunkSize int
	policy    FitPolicy

	// base is the payload offset of the prologue block- the anchor every heap scan
	// starts from. NullOffset until Init has run.
	base int
}

var _ memutils.Validatable = &Heap{}

// New creates a Heap over the provided arena. The heap is unusable until Init is
// called.
func New(a arena.Arena, config Config) (*Heap, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = DefaultChunkSize
	}

	if err := memutils.CheckPow2(config.ChunkSize, "config.ChunkSize"); err != nil {
		return nil, err
	}

	if config.ChunkSize < minBlockSize {
		return nil, errors.Errorf("config.ChunkSize is %d bytes, which cannot hold even a single %d-byte block", config.ChunkSize, minBlockSize)
	}

	if _, ok := fitPolicyMapping[config.Policy]; !ok {
		return nil, errors.Errorf("unknown fit policy %d", uint32(config.Policy))
	}

	return &Heap{
		arena:     a,
		chunkSize: config.ChunkSize,
		policy:    config.Policy,
	}, nil
}

// Init establishes an empty heap: a padding word for alignment, the allocated
// prologue block, the epilogue header, and then one growth of the configured chunk
// size to produce the heap's first free block. It may be called again at any time to
// discard every existing allocation and start over; the arena is reset first, so
// state after a re-Init is exactly as if no prior allocation had happened.
//
// Init fails only when the arena cannot supply the initial bytes.
func (h *Heap) Init() error {
	h.arena.Reset()
	h.base = NullOffset

	start, err := h.arena.Grow(4 * wordSize)
	if err != nil {
		return cerrors.Wrap(err, "growing arena for the heap bootstrap")
	}

	h.putWord(start, 0)
	h.putWord(start+1*wordSize, pack(dwordSize, true))
	h.putWord(start+2*wordSize, pack(dwordSize, true))
	h.putWord(start+3*wordSize, pack(0, true))
	h.base = start + 2*wordSize

	if _, err := h.extendHeap(h.chunkSize / wordSize); err != nil {
		return err
	}

	memutils.DebugValidate(h)
	return nil
}

// extendHeap grows the arena by the requested number of words (rounded up to keep
// block granularity), formats the extension as a single free block, writes the new
// epilogue header, and merges the new block with a free block that may already sit
// just below the old epilogue. It returns the payload offset of the resulting free
// block.
func (h *Heap) extendHeap(words int) (int, error) {
	if words%2 != 0 {
		words++
	}
	size := words * wordSize

	bp, err := h.arena.Grow(size)
	if err != nil {
		return NullOffset, cerrors.Wrapf(err, "growing arena by %d bytes", size)
	}

	// The old epilogue header becomes the new block's header, so the extension's first
	// byte is already the new payload.
	h.putWord(hdr(bp), pack(size, false))
	h.putWord(h.ftr(bp), pack(size, false))
	h.putWord(hdr(h.nextBlock(bp)), pack(0, true))

	return h.coalesce(bp), nil
}

// coalesce merges the free block at bp with its physical neighbors wherever they are
// free, and returns the resulting block's payload offset. The result can start below
// bp, so callers must use the returned offset.
func (h *Heap) coalesce(bp int) int {
	prevAllocated := h.allocated(h.ftr(h.prevBlock(bp)))
	nextAllocated := h.allocated(hdr(h.nextBlock(bp)))
	size := h.blockSize(hdr(bp))

	switch {
	case prevAllocated && nextAllocated:

	case prevAllocated && !nextAllocated:
		size += h.blockSize(hdr(h.nextBlock(bp)))
		h.putWord(hdr(bp), pack(size, false))
		h.putWord(h.ftr(bp), pack(size, false))

	case !prevAllocated && nextAllocated:
		size += h.blockSize(hdr(h.prevBlock(bp)))
		h.putWord(h.ftr(bp), pack(size, false))
		h.putWord(hdr(h.prevBlock(bp)), pack(size, false))
		bp = h.prevBlock(bp)

	default:
		size += h.blockSize(hdr(h.prevBlock(bp))) + h.blockSize(h.ftr(h.nextBlock(bp)))
		h.putWord(hdr(h.prevBlock(bp)), pack(size, false))
		h.putWord(h.ftr(h.nextBlock(bp)), pack(size, false))
		bp = h.prevBlock(bp)
	}

	return bp
}

// findFit scans the heap for a free block of at least asize total bytes under the
// configured policy, returning NullOffset when no live free block qualifies.
func (h *Heap) findFit(asize int) int {
	if h.policy == FitPolicyBest {
		return h.findBestFit(asize)
	}
	return h.findFirstFit(asize)
}

func (h *Heap) findFirstFit(asize int) int {
	for bp := h.base; h.blockSize(hdr(bp)) > 0; bp = h.nextBlock(bp) {
		if !h.allocated(hdr(bp)) && asize <= h.blockSize(hdr(bp)) {
			return bp
		}
	}

	return NullOffset
}

func (h *Heap) findBestFit(asize int) int {
	best := NullOffset
	for bp := h.base; h.blockSize(hdr(bp)) > 0; bp = h.nextBlock(bp) {
		size := h.blockSize(hdr(bp))
		if h.allocated(hdr(bp)) || size < asize {
			continue
		}

		if size == asize {
			return bp
		}

		if best == NullOffset || size < h.blockSize(hdr(best)) {
			best = bp
		}
	}

	return best
}

// place commits the free block at bp to a request of asize total bytes. When the
// leftover can hold a whole block it is split off as a new free block; otherwise the
// entire block is committed and the leftover stays embedded as internal
// fragmentation. The remainder never needs further coalescing: its successor is
// either allocated or the epilogue.
func (h *Heap) place(bp int, asize int) {
	size := h.blockSize(hdr(bp))

	if size-asize >= minBlockSize {
		h.putWord(hdr(bp), pack(asize, true))
		h.putWord(h.ftr(bp), pack(asize, true))

		remainder := h.nextBlock(bp)
		h.putWord(hdr(remainder), pack(size-asize, false))
		h.putWord(h.ftr(remainder), pack(size-asize, false))
	} else {
		h.putWord(hdr(bp), pack(size, true))
		h.putWord(h.ftr(bp), pack(size, true))
	}
}

// adjustedBlockSize normalizes a payload request to the smallest aligned block that
// can hold it plus its boundary tags.
func adjustedBlockSize(size int) int {
	if size <= dwordSize {
		return minBlockSize
	}
	return memutils.AlignUp(size+dwordSize, dwordSize)
}

// Malloc allocates a block whose payload can hold at least size bytes and returns
// the payload's offset. A size of 0 is a successful no-op returning NullOffset. When
// no free block fits, the heap grows by at least the configured chunk size; if the
// arena is exhausted, Malloc returns NullOffset and an error wrapping
// memutils.ErrOutOfMemory, with the heap left fully usable.
func (h *Heap) Malloc(size int) (int, error) {
	if size == 0 {
		return NullOffset, nil
	}

	asize := adjustedBlockSize(size)

	if bp := h.findFit(asize); bp != NullOffset {
		h.place(bp, asize)
		memutils.DebugValidate(h)
		return bp, nil
	}

	extendSize := asize
	if extendSize < h.chunkSize {
		extendSize = h.chunkSize
	}

	bp, err := h.extendHeap(extendSize / wordSize)
	if err != nil {
		return NullOffset, err
	}

	h.place(bp, asize)
	memutils.DebugValidate(h)
	return bp, nil
}

// Free releases the block whose payload starts at bp and immediately merges it with
// any free neighbor. Freeing NullOffset is a no-op. Passing an offset that is not a
// currently-allocated payload returned by this heap is undefined behavior- no
// validation is performed here.
func (h *Heap) Free(bp int) {
	if bp == NullOffset {
		return
	}

	size := h.blockSize(hdr(bp))
	h.putWord(hdr(bp), pack(size, false))
	h.putWord(h.ftr(bp), pack(size, false))
	h.coalesce(bp)

	memutils.DebugValidate(h)
}

// Realloc resizes the allocation at bp to hold at least size payload bytes by
// allocating fresh, copying, and freeing the original. With bp NullOffset it behaves
// as Malloc; with size 0 it behaves as Free and returns NullOffset. When the fresh
// allocation fails, the original block is left untouched and still valid.
func (h *Heap) Realloc(bp int, size int) (int, error) {
	if bp == NullOffset {
		return h.Malloc(size)
	}

	if size == 0 {
		h.Free(bp)
		return NullOffset, nil
	}

	newBp, err := h.Malloc(size)
	if err != nil {
		return NullOffset, err
	}

	copySize := h.blockSize(hdr(bp)) - dwordSize
	if size < copySize {
		copySize = size
	}

	buf := h.arena.Bytes()
	copy(buf[newBp:newBp+copySize], buf[bp:bp+copySize])

	h.Free(bp)
	return newBp, nil
}
