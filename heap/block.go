package heap

import "encoding/binary"

// The heap encodes all block metadata directly into the arena's bytes as boundary
// tags: a 4-byte header at the start of every block and an identical 4-byte footer at
// its end, each packing the block's total size with its allocation bit. The footer
// exists so a block's physical predecessor can be inspected in O(1) without any
// backward links. Blocks are addressed by the byte offset of their payload within the
// arena.
const (
	// wordSize is the width of a single header or footer tag
	wordSize = 4
	// dwordSize is the block granularity: every block size is a multiple of this, which
	// also guarantees 8-byte payload alignment
	dwordSize = 8
	// minBlockSize is the smallest representable block: header, footer and the smallest
	// aligned payload. A split is only performed when the remainder can hold at least
	// this much.
	minBlockSize = 2 * dwordSize

	allocBit = 0x1
	sizeMask = ^uint32(dwordSize - 1)
)

// NullOffset is the null-equivalent block offset. Offset 0 falls inside the heap's
// start padding and can never be a payload, so it is safe as a "no block" sentinel.
const NullOffset = 0

func pack(size int, allocated bool) uint32 {
	packed := uint32(size)
	if allocated {
		packed |= allocBit
	}
	return packed
}

func (h *Heap) word(offset int) uint32 {
	return binary.LittleEndian.Uint32(h.arena.Bytes()[offset:])
}

func (h *Heap) putWord(offset int, value uint32) {
	binary.LittleEndian.PutUint32(h.arena.Bytes()[offset:], value)
}

// blockSize reads the total block size out of the tag at offset (a header or footer).
func (h *Heap) blockSize(offset int) int {
	return int(h.word(offset) & sizeMask)
}

// allocated reads the allocation bit out of the tag at offset (a header or footer).
func (h *Heap) allocated(offset int) bool {
	return h.word(offset)&allocBit != 0
}

// hdr locates the header tag of the block whose payload starts at bp.
func hdr(bp int) int {
	return bp - wordSize
}

// ftr locates the footer tag of the block whose payload starts at bp. It reads the
// block's header, so the header must be current.
func (h *Heap) ftr(bp int) int {
	return bp + h.blockSize(hdr(bp)) - dwordSize
}

// nextBlock returns the payload offset of bp's physical successor.
func (h *Heap) nextBlock(bp int) int {
	return bp + h.blockSize(hdr(bp))
}

// prevBlock returns the payload offset of bp's physical predecessor, located through
// the predecessor's footer.
func (h *Heap) prevBlock(bp int) int {
	return bp - h.blockSize(bp-dwordSize)
}
