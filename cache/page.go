package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// pageState is the page's position in its life cycle. A page moves forward
// through this sequence on every fill/write/flush cycle; OldDirty is a
// branch taken only when a dirty page is evicted before its write-back
// completes.
type pageState int32

const (
	pageEmpty pageState = iota
	pageLoading
	pageReady
	pageDirty
	pageWritingBack
)

func (s pageState) String() string {
	switch s {
	case pageEmpty:
		return "empty"
	case pageLoading:
		return "loading"
	case pageReady:
		return "ready"
	case pageDirty:
		return "dirty"
	case pageWritingBack:
		return "writing_back"
	default:
		return "unknown"
	}
}

// maxHits caps the saturating hit counter. Once it saturates, the next
// access halves every hit counter in the owning bucket instead of letting
// counters keep climbing without bound; see bucket.scaleDownHits.
const maxHits = 255

// Page holds one PageSize-aligned slice of a volume's contents plus the
// bookkeeping the coordinator and flush engine need to decide what to do
// with it. A Page is always owned by exactly one bucket slot at a time.
// Pages are created with newPage, which starts them Empty at offset -1; the
// zero value is not ready for use (its offset is 0 and it has no cond).
type Page struct {
	data []byte

	offset atomic.Int64 // byte offset into the volume; -1 when Empty
	state  atomic.Int32 // pageState

	oldDirty         atomic.Bool
	ioPending        atomic.Bool
	prepareWriteback atomic.Bool

	hits atomic.Uint32
	ref  atomic.Int32

	mu   sync.Mutex
	cond *sync.Cond
}

// newPage allocates a Page with a PageSize data buffer in the Empty state.
func newPage(pageSize int) *Page {
	p := &Page{data: make([]byte, pageSize)}
	p.cond = sync.NewCond(&p.mu)
	p.offset.Store(-1)
	p.state.Store(int32(pageEmpty))
	return p
}

// Offset returns the page's current byte offset, or -1 if the page is Empty.
func (p *Page) Offset() int64 {
	return p.offset.Load()
}

func (p *Page) setOffset(off int64) {
	p.offset.Store(off)
}

func (p *Page) Data() []byte {
	return p.data
}

func (p *Page) stateOf() pageState {
	return pageState(p.state.Load())
}

func (p *Page) setState(s pageState) {
	p.mu.Lock()
	p.state.Store(int32(s))
	p.cond.Broadcast()
	p.mu.Unlock()
}

// waitUntilLoaded blocks until the page leaves the Loading state and is not
// IOPending, for a caller that found the page already resident but
// discovered another goroutine's fill or write-back was still in flight.
// Returns promptly if neither condition holds. Blocking on IOPending here is
// this implementation's stand-in for spec.md's pending_reqs chain: rather
// than queuing a continuation to replay later, the caller's own goroutine
// parks until the page is safe to touch, then proceeds inline.
func (p *Page) waitUntilLoaded(ctx context.Context) error {
	if p.stateOf() != pageLoading && !p.IsIOPending() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for p.state.Load() == int32(pageLoading) || p.ioPending.Load() {
			p.cond.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DataReady reports whether the page's buffer holds valid data for its
// current offset, i.e. it is past Loading.
func (p *Page) DataReady() bool {
	s := p.stateOf()
	return s == pageReady || s == pageDirty || s == pageWritingBack
}

func (p *Page) IsDirty() bool {
	return p.stateOf() == pageDirty
}

func (p *Page) SetDirty() {
	p.setState(pageDirty)
}

// ClearDirty transitions a page back to Ready after its write-back
// completes. It is a no-op if the page was not Dirty or WritingBack.
func (p *Page) ClearDirty() {
	p.mu.Lock()
	if s := p.stateOf(); s == pageDirty || s == pageWritingBack {
		p.state.Store(int32(pageReady))
		p.cond.Broadcast()
	}
	p.mu.Unlock()
}

func (p *Page) IsLoading() bool {
	return p.stateOf() == pageLoading
}

func (p *Page) SetLoading() {
	p.setState(pageLoading)
}

// SetReady transitions the page to Ready once a fill or write-back has
// finished.
func (p *Page) SetReady() {
	p.setState(pageReady)
}

func (p *Page) IsOldDirty() bool {
	return p.oldDirty.Load()
}

func (p *Page) SetOldDirty(v bool) {
	p.oldDirty.Store(v)
}

func (p *Page) IsIOPending() bool {
	return p.ioPending.Load()
}

// SetIOPending flips the IOPending flag and wakes anyone parked in
// waitUntilLoaded, since clearing it is what lets a blocked writer proceed.
func (p *Page) SetIOPending(v bool) {
	p.mu.Lock()
	p.ioPending.Store(v)
	p.cond.Broadcast()
	p.mu.Unlock()
}

// PrepareWriteback marks a page as claimed by exactly one flush attempt so a
// second concurrent flush pass over the same bucket does not also pick it
// up. It is cleared once the write request built from the page has been
// handed to the transport (successfully or not).
func (p *Page) PrepareWriteback() bool {
	return p.prepareWriteback.Load()
}

func (p *Page) SetPrepareWriteback(v bool) {
	p.prepareWriteback.Store(v)
}

// beginWriteback claims the page for one flush write: PrepareWriteback,
// state, and IOPending all flip together under page.lock, and returns the
// page's data buffer for the caller to hand to the transport. Pairing this
// with endWriteback keeps every flag transition around a flush write inside
// a single critical section instead of three independent atomic stores.
func (p *Page) beginWriteback() []byte {
	p.mu.Lock()
	p.prepareWriteback.Store(true)
	p.state.Store(int32(pageWritingBack))
	p.ioPending.Store(true)
	p.cond.Broadcast()
	data := p.data
	p.mu.Unlock()
	return data
}

// endWriteback releases a page claimed by beginWriteback, transitioning it
// to Ready on a successful write or back to Dirty (still needing a retry) on
// failure, again as one locked critical section.
func (p *Page) endWriteback(success bool) {
	p.mu.Lock()
	p.ioPending.Store(false)
	p.prepareWriteback.Store(false)
	if success {
		p.state.Store(int32(pageReady))
	} else {
		p.state.Store(int32(pageDirty))
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

// copyOut copies length bytes starting at inPage out of the page's buffer
// into dst, holding page.lock for the duration so it can't observe a torn
// write from a concurrent copyInAndMarkDirty or a flush write handoff.
func (p *Page) copyOut(dst []byte, inPage, length int) {
	p.mu.Lock()
	copy(dst, p.data[inPage:inPage+length])
	p.mu.Unlock()
}

// copyInAndMarkDirty copies src into the page's buffer at inPage and
// transitions the page to Dirty, both under one page.lock critical section,
// per spec.md's "copy caller buffer into page under page.lock" write path
// and its page.flags-under-page.lock rule.
func (p *Page) copyInAndMarkDirty(src []byte, inPage, length int) {
	p.mu.Lock()
	copy(p.data[inPage:inPage+length], src)
	p.state.Store(int32(pageDirty))
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Pin increments the page's reference count. A pinned page (ref > 0) cannot
// be chosen as an eviction victim.
func (p *Page) Pin() int32 {
	return p.ref.Add(1)
}

// Unpin decrements the reference count. It panics if the count would go
// negative, since that can only mean a caller unpinned twice — refcounts
// never go negative per the coordination invariant the coordinator relies
// on.
func (p *Page) Unpin() int32 {
	n := p.ref.Add(-1)
	if n < 0 {
		panic("cache: page refcount went negative")
	}
	return n
}

func (p *Page) Ref() int32 {
	return p.ref.Load()
}

func (p *Page) Pinned() bool {
	return p.ref.Load() > 0
}

// Hits returns the page's current saturating hit counter, used by the LFU,
// CLOCK and GCLOCK policies as a frequency estimate.
func (p *Page) Hits() uint32 {
	return p.hits.Load()
}

// IncHits bumps the hit counter by one, saturating at maxHits rather than
// wrapping. It returns true exactly when this call is the one that reached
// maxHits, the caller's cue to halve every hit counter in the owning bucket
// via Bucket.scaleDownHits so the counters stay meaningful relative to one
// another instead of pinning at the ceiling forever.
func (p *Page) IncHits() bool {
	for {
		cur := p.hits.Load()
		if cur >= maxHits {
			return false
		}
		if p.hits.CompareAndSwap(cur, cur+1) {
			return cur+1 == maxHits
		}
	}
}

func (p *Page) ResetHits() {
	p.hits.Store(0)
}

// SeedHits sets the hit counter to at least n, used to give a page that the
// shadow cache remembers being evicted and re-requested a head start against
// the eviction policies instead of re-entering cold.
func (p *Page) SeedHits(n uint32) {
	if n > maxHits {
		n = maxHits
	}
	for {
		cur := p.hits.Load()
		if cur >= n {
			return
		}
		if p.hits.CompareAndSwap(cur, n) {
			return
		}
	}
}

// decHits decrements the hit counter by one, floored at zero. Used by the
// GCLOCK policy to decay a slot's estimated frequency by a fixed amount per
// sweep instead of clearing it outright.
func (p *Page) decHits() {
	for {
		cur := p.hits.Load()
		if cur == 0 {
			return
		}
		if p.hits.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// ScaleDownHits halves the hit counter. Called on every page in a bucket
// when one of them saturates, so relative frequency is preserved without
// letting the counters grow unbounded.
func (p *Page) ScaleDownHits() {
	for {
		cur := p.hits.Load()
		if p.hits.CompareAndSwap(cur, cur/2) {
			return
		}
	}
}

// String returns a short human-readable summary of the page's current
// state, in the same Sprintf-a-struct-of-fields style used across this
// codebase's other debug helpers.
func (p *Page) String() string {
	return fmt.Sprintf("Page{Offset:%d, State:%s, Hits:%d, Ref:%d, OldDirty:%v, IOPending:%v}",
		p.Offset(), p.stateOf(), p.Hits(), p.Ref(), p.IsOldDirty(), p.IsIOPending())
}

// GoString gives %#v a Go-syntax-flavored rendering, useful in test failure
// output and debugger sessions where String()'s prose form is harder to
// scan quickly.
func (p *Page) GoString() string {
	return fmt.Sprintf("&cache.Page{offset:%d, state:%s, hits:%d, ref:%d}",
		p.Offset(), p.stateOf(), p.Hits(), p.Ref())
}

// reset returns the page to the Empty state ready for reuse by a different
// offset. hits is cleared here rather than left to whichever eviction
// policy picked this slot as victim, so a policy that doesn't touch hits
// during Evict (LRU, FIFO) can't leak a stale hit count onto the next
// tenant. Callers must hold the owning bucket's lock.
func (p *Page) reset() {
	p.setOffset(-1)
	p.setState(pageEmpty)
	p.oldDirty.Store(false)
	p.ioPending.Store(false)
	p.prepareWriteback.Store(false)
	p.hits.Store(0)
}
