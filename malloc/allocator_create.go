package malloc

import (
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"

	"github.com/memkit/memkit/arena"
	"github.com/memkit/memkit/heap"
)

// CreateOptions contains optional settings when creating an Allocator. It is valid to
// leave all the fields blank.
type CreateOptions struct {
	// ChunkSize is the floor in bytes on every arena growth request made by the
	// underlying heap. Left zero, heap.DefaultChunkSize is used.
	ChunkSize int

	// Policy selects the underlying heap's free-space scanning policy. Left zero,
	// first-fit is used.
	Policy heap.FitPolicy
}

// New creates a new Allocator over the provided arena and initializes its heap. The
// logger receives debug-level entries for individual allocator operations and
// error-level entries for allocations still live at Destroy; pass nil to use
// slog.Default.
func New(logger *slog.Logger, a arena.Arena, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	h, err := heap.New(a, heap.Config{
		ChunkSize: options.ChunkSize,
		Policy:    options.Policy,
	})
	if err != nil {
		return nil, err
	}

	if err := h.Init(); err != nil {
		return nil, err
	}

	return &Allocator{
		logger: logger,
		arena:  a,
		heap:   h,
		live:   swiss.NewMap[Ptr, int](42),
	}, nil
}
