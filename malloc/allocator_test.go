package malloc_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/memkit/memkit/arena"
	"github.com/memkit/memkit/malloc"
	"github.com/memkit/memkit/memutils"
)

func newTestAllocator(t *testing.T) *malloc.Allocator {
	logger := slog.New(slog.NewTextHandler(io.Discard))
	a, err := malloc.New(logger, arena.NewSliceArena(0), malloc.CreateOptions{})
	require.NoError(t, err)
	return a
}

func TestAllocatorRoundTrip(t *testing.T) {
	a := newTestAllocator(t)

	p, err := a.Alloc(100)
	require.NoError(t, err)
	require.NotEqual(t, malloc.NullPtr, p)
	require.Equal(t, 1, a.AllocationCount())

	payload := a.Bytes(p)
	require.Len(t, payload, 100)
	for i := range payload {
		payload[i] = byte(i)
	}

	grown, err := a.Realloc(p, 200)
	require.NoError(t, err)
	require.Equal(t, 1, a.AllocationCount())

	payload = a.Bytes(grown)
	require.Len(t, payload, 200)
	for i := 0; i < 100; i++ {
		require.Equal(t, byte(i), payload[i])
	}

	require.NoError(t, a.Validate())
	require.NoError(t, a.CheckCorruption())

	require.NoError(t, a.Free(grown))
	require.Equal(t, 0, a.AllocationCount())
	require.NoError(t, a.Destroy())
}

func TestAllocatorZeroSize(t *testing.T) {
	a := newTestAllocator(t)

	p, err := a.Alloc(0)
	require.NoError(t, err)
	require.Equal(t, malloc.NullPtr, p)
	require.Equal(t, 0, a.AllocationCount())

	require.NoError(t, a.Free(malloc.NullPtr))
	require.NoError(t, a.Destroy())
}

func TestAllocatorRejectsUnknownPtr(t *testing.T) {
	a := newTestAllocator(t)

	p, err := a.Alloc(8)
	require.NoError(t, err)

	require.Error(t, a.Free(p+8))

	_, err = a.Realloc(p+8, 64)
	require.Error(t, err)

	require.NoError(t, a.Free(p))
	require.Error(t, a.Free(p))

	require.NoError(t, a.Destroy())
}

func TestAllocatorReallocZeroFrees(t *testing.T) {
	a := newTestAllocator(t)

	p, err := a.Alloc(8)
	require.NoError(t, err)

	got, err := a.Realloc(p, 0)
	require.NoError(t, err)
	require.Equal(t, malloc.NullPtr, got)
	require.Equal(t, 0, a.AllocationCount())

	require.NoError(t, a.Destroy())
}

func TestAllocatorAllocFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard))
	a, err := malloc.New(logger, arena.NewSliceArena(8192), malloc.CreateOptions{})
	require.NoError(t, err)

	p, err := a.Alloc(64)
	require.NoError(t, err)

	failed, err := a.Alloc(100000)
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)
	require.Equal(t, malloc.NullPtr, failed)

	// The failure consumed nothing: the original allocation and the registry are
	// unchanged and the allocator keeps working.
	require.Equal(t, 1, a.AllocationCount())
	require.NoError(t, a.Validate())
	require.NoError(t, a.Free(p))
	require.NoError(t, a.Destroy())
}

func TestAllocatorStats(t *testing.T) {
	a := newTestAllocator(t)

	p1, err := a.Alloc(100)
	require.NoError(t, err)
	p2, err := a.Alloc(50)
	require.NoError(t, err)

	var stats memutils.Statistics
	stats.Clear()
	a.Stats(&stats)

	require.Equal(t, 1, stats.BlockCount)
	require.Equal(t, 2, stats.AllocationCount)

	var detailed memutils.DetailedStatistics
	detailed.Clear()
	a.DetailedStats(&detailed)
	require.Equal(t, 2, detailed.AllocationCount)
	require.Equal(t, 1, detailed.UnusedRangeCount)

	summary := a.BuildStatsString(false)
	require.Contains(t, summary, `"AllocationCount":2`)
	require.NotContains(t, summary, `"Blocks"`)

	full := a.BuildStatsString(true)
	require.Contains(t, full, `"Blocks"`)
	require.Contains(t, full, `"TotalBytes"`)

	require.NoError(t, a.Free(p1))
	require.NoError(t, a.Free(p2))
	require.NoError(t, a.Destroy())
}

func TestDestroyLogsUnreleasedAllocations(t *testing.T) {
	var logOutput bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logOutput))

	a, err := malloc.New(logger, arena.NewSliceArena(0), malloc.CreateOptions{})
	require.NoError(t, err)

	p, err := a.Alloc(40)
	require.NoError(t, err)

	require.Error(t, a.Destroy())
	require.True(t, strings.Contains(logOutput.String(), "UNRELEASED MEMORY"))

	// Destroy refused to tear anything down, so cleanup still works.
	require.NoError(t, a.Free(p))
	require.NoError(t, a.Destroy())
}
