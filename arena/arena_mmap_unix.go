//go:build unix

package arena

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"github.com/memkit/memkit/memutils"
)

// MmapArena is an Arena backed by an anonymous private mapping. The full reservation is
// mapped up front so granted offsets stay stable, and Grow only moves the commit
// boundary forward; exhausting the reservation is reported as memutils.ErrOutOfMemory.
type MmapArena struct {
	data      []byte
	committed int
}

var _ Arena = &MmapArena{}

// NewMmapArena maps an anonymous region of reserve bytes and returns an Arena that
// grows within it.
func NewMmapArena(reserve int) (Arena, error) {
	data, err := unix.Mmap(-1, 0, reserve, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, cerrors.Wrapf(err, "mapping %d-byte anonymous region", reserve)
	}

	return &MmapArena{data: data}, nil
}

func (a *MmapArena) Grow(n int) (int, error) {
	if a.committed+n > len(a.data) {
		return 0, cerrors.Wrapf(memutils.ErrOutOfMemory, "mapped reservation is %d bytes, %d requested beyond %d in use", len(a.data), n, a.committed)
	}

	offset := a.committed
	a.committed += n
	return offset, nil
}

func (a *MmapArena) Len() int {
	return a.committed
}

func (a *MmapArena) Bytes() []byte {
	return a.data[:a.committed]
}

func (a *MmapArena) Reset() {
	a.committed = 0
}

func (a *MmapArena) Release() {
	if a.data == nil {
		return
	}

	_ = unix.Munmap(a.data)
	a.data = nil
	a.committed = 0
}
