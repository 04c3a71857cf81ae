package arena_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memkit/memkit/arena"
	"github.com/memkit/memkit/memutils"
)

func TestSliceArenaGrow(t *testing.T) {
	a := arena.NewSliceArena(0)

	offset, err := a.Grow(16)
	require.NoError(t, err)
	require.Equal(t, 0, offset)
	require.Equal(t, 16, a.Len())

	offset, err = a.Grow(4096)
	require.NoError(t, err)
	require.Equal(t, 16, offset)
	require.Equal(t, 4112, a.Len())
	require.Len(t, a.Bytes(), 4112)
}

func TestSliceArenaLimit(t *testing.T) {
	a := arena.NewSliceArena(64)

	_, err := a.Grow(48)
	require.NoError(t, err)

	_, err = a.Grow(32)
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)
	require.Equal(t, 48, a.Len())

	_, err = a.Grow(16)
	require.NoError(t, err)
	require.Equal(t, 64, a.Len())
}

func TestSliceArenaResetZeroesRegrownBytes(t *testing.T) {
	a := arena.NewSliceArena(0)

	_, err := a.Grow(32)
	require.NoError(t, err)
	for i := range a.Bytes() {
		a.Bytes()[i] = 0xff
	}

	a.Reset()
	require.Equal(t, 0, a.Len())

	_, err = a.Grow(32)
	require.NoError(t, err)
	for _, b := range a.Bytes() {
		require.Equal(t, byte(0), b)
	}
}

func TestSliceArenaRelease(t *testing.T) {
	a := arena.NewSliceArena(0)

	_, err := a.Grow(16)
	require.NoError(t, err)

	a.Release()
	require.Equal(t, 0, a.Len())
	require.Nil(t, a.Bytes())
}

func TestMmapArena(t *testing.T) {
	a, err := arena.NewMmapArena(1 << 16)
	require.NoError(t, err)
	defer a.Release()

	offset, err := a.Grow(4096)
	require.NoError(t, err)
	require.Equal(t, 0, offset)

	buf := a.Bytes()
	require.Len(t, buf, 4096)
	buf[0] = 0x42
	buf[4095] = 0x24
	require.Equal(t, byte(0x42), a.Bytes()[0])

	offset, err = a.Grow(4096)
	require.NoError(t, err)
	require.Equal(t, 4096, offset)
	require.Equal(t, 8192, a.Len())

	// Offsets granted before a growth stay stable.
	require.Equal(t, byte(0x24), a.Bytes()[4095])

	a.Reset()
	require.Equal(t, 0, a.Len())
}

func TestMmapArenaExhaustsReservation(t *testing.T) {
	a, err := arena.NewMmapArena(8192)
	require.NoError(t, err)
	defer a.Release()

	_, err = a.Grow(8192)
	require.NoError(t, err)

	_, err = a.Grow(1)
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)
	require.Equal(t, 8192, a.Len())
}
