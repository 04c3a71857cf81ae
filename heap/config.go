package heap

// FitPolicy selects how the heap scans its free space for a block that can satisfy a
// request.
type FitPolicy uint32

const (
	// FitPolicyFirst takes the lowest-addressed free block large enough for the
	// request. It is the default: deterministic, and the cheapest scan on average.
	FitPolicyFirst FitPolicy = iota
	// FitPolicyBest walks the entire heap and takes the smallest free block large
	// enough for the request, trading scan time for less wasted space per placement.
	FitPolicyBest
)

var fitPolicyMapping = map[FitPolicy]string{
	FitPolicyFirst: "FitPolicyFirst",
	FitPolicyBest:  "FitPolicyBest",
}

func (p FitPolicy) String() string {
	return fitPolicyMapping[p]
}

const (
	// DefaultChunkSize is the growth floor used when Config.ChunkSize is left zero.
	// Every arena growth requests at least this many bytes, so a burst of small
	// allocations does not turn into a burst of arena calls.
	DefaultChunkSize = 1 << 12
)

// Config contains optional settings when creating a Heap. The zero value is valid.
type Config struct {
	// ChunkSize is the floor on every arena growth request, in bytes. It must be a
	// power of two no smaller than minBlockSize. Left zero, DefaultChunkSize is used.
	ChunkSize int

	// Policy selects the free-space scanning policy. Left zero, first-fit is used.
	Policy FitPolicy
}
