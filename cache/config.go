package cache

import (
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Config configures a Cache. Construct one with DefaultConfig and override
// only the fields that matter, the way BTreeOptions is used elsewhere in
// this codebase — Cache never reads package-level globals for tuning
// knobs.
type Config struct {
	// PageSize is the fixed size, in bytes, of every cached page. It must
	// be a multiple of the transport's BlockSize.
	PageSize int

	// InitialBuckets is the number of buckets the directory starts with,
	// before any expansion.
	InitialBuckets int

	// CellSize is the number of page slots per bucket (the set
	// associativity of the cache).
	CellSize int

	// EvictionPolicy names the per-bucket eviction policy: "lru", "lfu",
	// "fifo", "clock", or "gclock".
	EvictionPolicy string

	// Expandable enables linear-hash growth of the directory as it fills.
	// A non-expandable cache is allocated at its final size up front and
	// never grows, trading flexibility for a simpler, alloc-free steady
	// state.
	Expandable bool

	// MaxBytes bounds how much memory the cache's pages may occupy; a
	// shared MemoryManager is created from it unless Memory is set.
	MaxBytes int64

	// Memory lets several Cache instances share one budget. If nil, the
	// Cache creates a private MemoryManager sized from MaxBytes.
	Memory *MemoryManager

	// ShadowEntries enables the shadow admission hint when nonzero, sized
	// to approximately this many tracked offsets.
	ShadowEntries int

	// FlushWorkers is the number of concurrent flush worker goroutines.
	// Production deployments with several underlying volumes typically run
	// one per volume so a slow disk doesn't stall flushing on the others.
	FlushWorkers int

	// DirtyPagesThreshold is the minimum number of dirty, not-already-
	// flushing pages a bucket must hold before the flush engine bothers
	// queuing it.
	DirtyPagesThreshold int

	// FlushQueueCapacity bounds the flush engine's pending-bucket queue.
	FlushQueueCapacity int

	// AccessRetryBackoff is how long access() sleeps between retries when
	// every slot in a bucket is momentarily pinned.
	AccessRetryBackoff time.Duration

	// Logger receives the cache's diagnostic output. Defaults to a logger
	// writing to os.Stderr with a "cache: " prefix.
	Logger *log.Logger
}

// DefaultConfig returns a Config with reasonable defaults for a
// general-purpose deployment: a 4KiB page, LRU eviction, an expandable
// directory, and one flush worker.
func DefaultConfig() Config {
	return Config{
		PageSize:            4096,
		InitialBuckets:      64,
		CellSize:            8,
		EvictionPolicy:      "lru",
		Expandable:          true,
		MaxBytes:            256 << 20,
		FlushWorkers:        1,
		DirtyPagesThreshold: 4,
		FlushQueueCapacity:  1024,
		AccessRetryBackoff:  50 * time.Microsecond,
		Logger:              log.New(os.Stderr, "cache: ", log.LstdFlags),
	}
}

func (c *Config) validate() error {
	if c.PageSize <= 0 {
		return errors.New("cache: PageSize must be positive")
	}
	if c.InitialBuckets <= 0 {
		return errors.New("cache: InitialBuckets must be positive")
	}
	if c.CellSize <= 0 {
		return errors.New("cache: CellSize must be positive")
	}
	switch c.EvictionPolicy {
	case "lru", "lfu", "fifo", "clock", "gclock":
	default:
		return errors.Errorf("cache: unknown EvictionPolicy %q", c.EvictionPolicy)
	}
	if c.MaxBytes <= 0 && c.Memory == nil {
		return errors.New("cache: MaxBytes must be positive when Memory is nil")
	}
	if c.FlushWorkers <= 0 {
		c.FlushWorkers = 1
	}
	if c.DirtyPagesThreshold <= 0 {
		c.DirtyPagesThreshold = 1
	}
	if c.FlushQueueCapacity <= 0 {
		c.FlushQueueCapacity = 1024
	}
	if c.AccessRetryBackoff <= 0 {
		c.AccessRetryBackoff = 50 * time.Microsecond
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "cache: ", log.LstdFlags)
	}
	return nil
}
