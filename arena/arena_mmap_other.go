//go:build !unix

package arena

// NewMmapArena is only backed by a real mapping on unix platforms. Elsewhere it
// degrades to a SliceArena capped at the same reservation, preserving the exhaustion
// contract.
func NewMmapArena(reserve int) (Arena, error) {
	return NewSliceArena(reserve), nil
}
