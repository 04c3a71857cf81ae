package arena

import (
	cerrors "github.com/cockroachdb/errors"

	"github.com/memkit/memkit/memutils"
)

//go:generate mockgen -source arena.go -destination mocks/arena_mocks.go

// Arena is a single contiguous region of memory that can only ever grow. It is the
// backing store for a heap: the heap formats block metadata directly into the arena's
// bytes and addresses blocks by byte offset, so the arena must keep already-granted
// offsets stable across growth.
//
// Arena implementations are not synchronized. The consumer must guarantee they are
// used from only one goroutine at a time.
type Arena interface {
	// Grow extends the region by exactly n bytes, contiguous with the bytes granted so
	// far, and returns the offset at which the new extension begins. It returns
	// memutils.ErrOutOfMemory (possibly wrapped) when the backing store cannot supply
	// the bytes; on failure the region is left exactly as it was.
	Grow(n int) (int, error)

	// Len returns the number of bytes granted so far- the region's high-water mark.
	Len() int

	// Bytes returns the full granted region. The returned slice is only valid until
	// the next call to Grow, Reset or Release.
	Bytes() []byte

	// Reset discards all granted bytes without releasing the backing store, returning
	// the arena to its freshly-created state. Any offset previously returned by Grow
	// becomes immediately invalid.
	Reset()

	// Release returns the backing store to the system. The arena must not be used for
	// further growth after Release.
	Release()
}

// SliceArena is an Arena backed by an ordinary heap-allocated byte slice that grows by
// appending. A non-zero Limit caps the region at that many bytes, which gives tests and
// memory-budgeted consumers a deterministic exhaustion point.
type SliceArena struct {
	buf   []byte
	limit int
}

var _ Arena = &SliceArena{}

// NewSliceArena creates a SliceArena that will refuse to grow beyond limit bytes. A
// limit of 0 means unbounded.
func NewSliceArena(limit int) *SliceArena {
	return &SliceArena{limit: limit}
}

func (a *SliceArena) Grow(n int) (int, error) {
	if a.limit > 0 && len(a.buf)+n > a.limit {
		return 0, cerrors.Wrapf(memutils.ErrOutOfMemory, "arena limit is %d bytes, %d requested beyond %d in use", a.limit, n, len(a.buf))
	}

	offset := len(a.buf)
	a.buf = append(a.buf, make([]byte, n)...)
	return offset, nil
}

func (a *SliceArena) Len() int {
	return len(a.buf)
}

func (a *SliceArena) Bytes() []byte {
	return a.buf
}

func (a *SliceArena) Reset() {
	a.buf = a.buf[:0]
}

func (a *SliceArena) Release() {
	a.buf = nil
}
