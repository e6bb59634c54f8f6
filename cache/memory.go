package cache

import (
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/util6/safscache/utils"
)

// MemoryManager enforces a shared byte budget across one or more Cache
// instances (one per RAID volume group, in the common case of a process
// fronting several volumes with independent directories but a single memory
// ceiling). Reserve/Release track how much of the budget is currently
// committed to resident pages; AverageSize divides the total budget evenly
// across registered caches so no single cache's directory expansion can
// starve the others.
type MemoryManager struct {
	maxBytes int64
	used     atomic.Int64

	mu     sync.Mutex
	caches map[*Cache]struct{}

	logger       *log.Logger
	warnThrottle *utils.Throttle
}

// NewMemoryManager creates a manager with a maxBytes budget shared by every
// cache later registered with it. Rejections are logged at most once a
// second so a cache pinned against the budget doesn't flood the log.
func NewMemoryManager(maxBytes int64) *MemoryManager {
	return &MemoryManager{
		maxBytes:     maxBytes,
		caches:       make(map[*Cache]struct{}),
		logger:       log.New(os.Stderr, "cache/memory: ", log.LstdFlags),
		warnThrottle: utils.NewThrottle(1),
	}
}

// SetLogger overrides the manager's default stderr logger, matching a
// Cache's own Config.Logger when one is registered.
func (m *MemoryManager) SetLogger(l *log.Logger) {
	if l != nil {
		m.logger = l
	}
}

func (m *MemoryManager) register(c *Cache) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches[c] = struct{}{}
}

func (m *MemoryManager) unregister(c *Cache) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.caches, c)
}

// MaxSize returns the total byte budget.
func (m *MemoryManager) MaxSize() int64 {
	return m.maxBytes
}

// AverageSize returns the fair share of the budget for one registered
// cache, used to decide whether a given cache's directory is still below
// its fair share and thus safe to grow further.
func (m *MemoryManager) AverageSize() int64 {
	m.mu.Lock()
	n := len(m.caches)
	m.mu.Unlock()
	if n == 0 {
		return m.maxBytes
	}
	return m.maxBytes / int64(n)
}

// Reserve attempts to commit n bytes against the shared budget, returning
// false if doing so would exceed it. Called before a directory expansion
// allocates a new group of buckets.
func (m *MemoryManager) Reserve(n int64) bool {
	for {
		cur := m.used.Load()
		if cur+n > m.maxBytes {
			if m.warnThrottle.Allow() {
				m.logger.Printf("budget exhausted: used=%d max=%d requested=%d", cur, m.maxBytes, n)
			}
			return false
		}
		if m.used.CompareAndSwap(cur, cur+n) {
			return true
		}
	}
}

// Release gives back n bytes previously reserved.
func (m *MemoryManager) Release(n int64) {
	m.used.Add(-n)
}

func (m *MemoryManager) Used() int64 {
	return m.used.Load()
}
