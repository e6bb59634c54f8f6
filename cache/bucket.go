package cache

// Bucket is one set-associative cell of the cache: a fixed number of page
// slots guarded by a single spinlock, plus the eviction policy that decides
// which slot to reuse on a miss. The directory maps every cacheable offset
// to exactly one bucket via linear hashing; expand() moves some of a
// bucket's pages into a newly split sibling bucket as the table grows.
type Bucket struct {
	lock spinLock

	index  int64
	slots  []*Page
	policy EvictionPolicy

	inQueue  bool // flush engine has this bucket queued for a flush pass
	overflow bool // a recent eviction picked a victim that still had hits (policy.SignalExpand), signaling the table should grow
}

func newBucket(index int64, cellSize, pageSize int, policyName string) (*Bucket, error) {
	policy, err := NewPolicy(policyName, cellSize)
	if err != nil {
		return nil, err
	}
	slots := make([]*Page, cellSize)
	for i := range slots {
		slots[i] = newPage(pageSize)
	}
	return &Bucket{index: index, slots: slots, policy: policy}, nil
}

func (b *Bucket) Index() int64 { return b.index }

func (b *Bucket) CellSize() int { return len(b.slots) }

func (b *Bucket) Lock()   { b.lock.Lock() }
func (b *Bucket) Unlock() { b.lock.Unlock() }

// Contentions returns how many times a caller found this bucket's lock
// already held, surfaced cache-wide via Cache.Stats()'s "lock_contentions".
func (b *Bucket) Contentions() int64 { return b.lock.Contentions() }

func (b *Bucket) set() *slotSet { return &slotSet{pages: b.slots} }

// find returns the slot index holding offset, or -1. Callers must hold the
// bucket lock.
func (b *Bucket) find(offset int64) int {
	for i, p := range b.slots {
		if p.Offset() == offset && p.stateOf() != pageEmpty {
			return i
		}
	}
	return -1
}

// Search looks up offset. On a hit it pins the page, records the access with
// the eviction policy, and returns it. Callers must hold the bucket lock and
// release it before doing anything with the returned page that might block.
func (b *Bucket) Search(offset int64) (*Page, bool) {
	idx := b.find(offset)
	if idx < 0 {
		return nil, false
	}
	pg := b.slots[idx]
	pg.Pin()
	saturated := pg.IncHits()
	if b.policy.OnAccess(b.set(), idx) {
		saturated = true
	}
	if saturated {
		b.scaleDownHits()
	}
	return pg, true
}

// scaleDownHits halves every slot's hit counter, keeping their relative
// order meaningful once one of them has saturated instead of letting every
// busy slot pin at maxHits forever. Callers must hold the bucket lock.
func (b *Bucket) scaleDownHits() {
	for _, p := range b.slots {
		p.ScaleDownHits()
	}
}

// admitResult describes what FindOrAdmit did to make room for a new offset.
type admitResult struct {
	page *Page
	// oldDirtyOffset/oldDirtyData are set when the victim slot held dirty
	// data for a different offset that must still be written back. The
	// caller (the coordinator) is responsible for issuing that write-back;
	// the evicted page itself is marked OldDirty until it completes.
	hadOldDirty    bool
	oldDirtyOffset int64
	oldDirtyData   []byte

	// hadVictim/evictedOffset record whichever offset previously occupied
	// the slot, clean or dirty, for the shadow cache's benefit.
	hadVictim     bool
	evictedOffset int64

	// overflowSignaled reports whether the eviction policy judged the
	// victim still hot (policy.SignalExpand) and the bucket's overflow
	// flag was set as a result.
	overflowSignaled bool
}

// FindOrAdmit finds offset if resident, or evicts a victim slot and claims
// it for offset (state becomes Loading, refcount 1) if not. It returns
// ErrAllPagesPinned if every slot is currently pinned; the caller should
// yield and retry rather than treat this as a hard failure. Callers must
// hold the bucket lock.
func (b *Bucket) FindOrAdmit(offset int64) (admitResult, bool, error) {
	if idx := b.find(offset); idx >= 0 {
		pg := b.slots[idx]
		pg.Pin()
		saturated := pg.IncHits()
		if b.policy.OnAccess(b.set(), idx) {
			saturated = true
		}
		if saturated {
			b.scaleDownHits()
		}
		return admitResult{page: pg}, true, nil
	}

	victimIdx := b.policy.Evict(b.set())
	if victimIdx < 0 {
		return admitResult{}, false, ErrAllPagesPinned
	}
	victim := b.slots[victimIdx]

	res := admitResult{page: victim}
	if victim.stateOf() != pageEmpty {
		res.hadVictim = true
		res.evictedOffset = victim.Offset()
	}
	if b.policy.SignalExpand(victim) {
		b.overflow = true
		res.overflowSignaled = true
	}
	if victim.IsDirty() {
		res.hadOldDirty = true
		res.oldDirtyOffset = victim.Offset()
		res.oldDirtyData = victim.data
		victim.SetOldDirty(true)
		victim.ResetHits()
	} else {
		victim.reset()
	}

	victim.setOffset(offset)
	victim.setState(pageLoading)
	victim.Pin()
	if b.policy.OnAccess(b.set(), victimIdx) {
		b.scaleDownHits()
	}
	return res, false, nil
}

// GetDirtyPages returns every dirty, non-io-pending page in the bucket that
// isn't already claimed by another flush pass, pinned on the caller's
// behalf so they cannot be evicted before the flush engine gets to write
// them back. PrepareWriteback excludes pages another worker has already
// chosen for its own batch — without it, mergeForward/mergeBackward could
// pull the same page into two concurrent write requests.
func (b *Bucket) GetDirtyPages() map[int64]*Page {
	b.lock.Lock()
	defer b.lock.Unlock()

	pages := make(map[int64]*Page)
	for _, p := range b.slots {
		if p.IsDirty() && !p.IsIOPending() && !p.PrepareWriteback() {
			p.Pin()
			pages[p.Offset()] = p
		}
	}
	return pages
}

// NumPages counts slots for which pred returns true. Used by the flush
// engine's admission check (dirty-and-not-already-flushing count) before it
// bothers queuing the bucket.
func (b *Bucket) NumPages(pred func(*Page) bool) int {
	b.lock.Lock()
	defer b.lock.Unlock()

	n := 0
	for _, p := range b.slots {
		if pred(p) {
			n++
		}
	}
	return n
}

// SetInQueue atomically flips the in-queue flag and returns its previous
// value, so a caller can tell whether it was the one that actually queued
// the bucket.
func (b *Bucket) SetInQueue(v bool) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	old := b.inQueue
	b.inQueue = v
	return old
}

func (b *Bucket) IsInQueue() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.inQueue
}

// IsOverflow reports whether the eviction policy has signaled pressure
// (see FindOrAdmit/EvictionPolicy.SignalExpand) since the last time this
// bucket was split.
func (b *Bucket) IsOverflow() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.overflow
}

// eachSlot calls fn for every slot without acquiring the bucket lock;
// callers (rehash) must already hold it.
func (b *Bucket) eachSlot(fn func(idx int, p *Page)) {
	for i, p := range b.slots {
		fn(i, p)
	}
}
