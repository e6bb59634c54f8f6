package cache

// EvictionPolicy picks a victim page slot within a bucket and tracks
// whatever access-order bookkeeping it needs to do so. Every bucket owns
// exactly one policy instance, so a policy is free to use per-bucket state
// (a position list, a clock hand, ...) without any locking of its own — the
// bucket's own spinLock already serializes every call into the policy.
type EvictionPolicy interface {
	// Evict picks a slot in buf to reuse and returns its index. It must
	// never return the index of a pinned page; if every slot is pinned it
	// returns -1.
	Evict(buf *slotSet) int

	// OnAccess is called after a hit on slot idx, so LRU-style policies can
	// move it to the back of their recency order. It returns true if
	// recording the access saturated that slot's hit counter, telling the
	// bucket it must halve every slot's counter to keep them meaningful
	// relative to one another.
	OnAccess(buf *slotSet, idx int) bool

	// SignalExpand reports whether victim was still "hot" (hits > 0) at the
	// moment it was chosen for eviction, the bucket's cue that the table is
	// under real pressure and should grow rather than keep evicting pages
	// that are still being used.
	SignalExpand(victim *Page) bool

	// Name identifies the policy for Config validation and stats reporting.
	Name() string
}

// signalExpandOnHits is the shared policy.signal_expand behavior every
// policy delegates to: a victim with a nonzero hit count at eviction time
// indicates pressure. CLOCK and GCLOCK only pick a victim whose hits have
// already decayed to zero, so they never see this return true. LFU picks the
// lowest count, which is nonzero when every unpinned slot has been hit.
// LRU and FIFO pick by position and ignore hits entirely.
func signalExpandOnHits(victim *Page) bool {
	return victim.Hits() > 0
}

// slotSet is the fixed-size array of page slots a bucket manages. Policies
// only ever see this narrow view of a bucket, not the bucket's directory
// bookkeeping.
type slotSet struct {
	pages []*Page
}

func (s *slotSet) size() int {
	return len(s.pages)
}

func (s *slotSet) get(i int) *Page {
	return s.pages[i]
}

// NewPolicy constructs a fresh EvictionPolicy by name. It is called once per
// bucket when the bucket is created (for the initial group and for every
// group the directory adds later), so every bucket gets its own independent
// policy state.
func NewPolicy(name string, cellSize int) (EvictionPolicy, error) {
	switch name {
	case "lru":
		return newLRUPolicy(cellSize), nil
	case "lfu":
		return newLFUPolicy(), nil
	case "fifo":
		return newFIFOPolicy(cellSize), nil
	case "clock":
		return newClockPolicy(), nil
	case "gclock":
		return newGClockPolicy(), nil
	default:
		return nil, errUnknownPolicy(name)
	}
}

type unknownPolicyError string

func (e unknownPolicyError) Error() string {
	return "cache: unknown eviction policy " + string(e)
}

func errUnknownPolicy(name string) error {
	return unknownPolicyError(name)
}
