package cache

import (
	"context"
	"sort"

	"github.com/util6/safscache/transport"
	"github.com/util6/safscache/utils"
)

// flushEngine drains dirty pages back to the transport in the background.
// Buckets that cross the dirty-page threshold are queued once; a worker
// pulls a bucket off the queue, collects its dirty pages, and merges them
// with dirty pages in neighboring buckets that happen to be adjacent on
// disk before issuing the write, so a run of dirty pages produced by a
// sequential write becomes one large I/O instead of many small ones.
type flushEngine struct {
	cache     *Cache
	queue     chan *Bucket
	closer    *utils.Closer
	threshold int
}

func newFlushEngine(c *Cache) *flushEngine {
	return &flushEngine{
		cache:     c,
		queue:     make(chan *Bucket, c.cfg.FlushQueueCapacity),
		closer:    utils.NewCloser(),
		threshold: c.cfg.DirtyPagesThreshold,
	}
}

func (f *flushEngine) start() {
	f.closer.Add(f.cache.cfg.FlushWorkers)
	for i := 0; i < f.cache.cfg.FlushWorkers; i++ {
		go f.worker()
	}
}

func (f *flushEngine) stop() {
	f.closer.Close()
}

// noteDirty is called by the coordinator right after it dirties a page. If
// the page's bucket now holds enough dirty pages to be worth a dedicated
// write and isn't already queued, it's queued for a worker to pick up.
func (f *flushEngine) noteDirty(offset int64) {
	bucket, err := f.cache.dir.cellForOffset(offset)
	if err != nil {
		return
	}
	dirtyNotPending := bucket.NumPages(func(p *Page) bool {
		return p.IsDirty() && !p.IsIOPending()
	})
	if dirtyNotPending < f.threshold {
		return
	}
	if bucket.SetInQueue(true) {
		return // already queued
	}
	select {
	case f.queue <- bucket:
	default:
		// Queue is full; back off and let a future dirty page retry. The
		// bucket stays marked in-queue-false so noteDirty tries again.
		bucket.SetInQueue(false)
	}
}

func (f *flushEngine) worker() {
	defer f.closer.Done()
	for {
		select {
		case bucket := <-f.queue:
			f.flushBucket(bucket)
		case <-f.closer.CloseSignal:
			return
		}
	}
}

// flushBucket writes out every dirty page in bucket, first trying to extend
// each write forward and backward into neighboring buckets' dirty pages
// that sit immediately adjacent on disk.
func (f *flushEngine) flushBucket(bucket *Bucket) {
	defer bucket.SetInQueue(false)

	dirty := bucket.GetDirtyPages()
	if len(dirty) == 0 {
		return
	}

	runs := f.mergeForward(bucket, dirty)
	runs = f.mergeBackward(bucket, runs)

	ctx := context.Background()
	for _, run := range runs {
		f.writeRun(ctx, run)
	}
}

// dirtyRun is a contiguous, offset-ordered sequence of dirty pages destined
// for one write request.
type dirtyRun struct {
	pages []*Page
}

func (r *dirtyRun) offset() int64 { return r.pages[0].Offset() }

func sortedByOffset(pages map[int64]*Page) []*Page {
	out := make([]*Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset() < out[j].Offset() })
	return out
}

func (f *flushEngine) mergeForward(bucket *Bucket, dirty map[int64]*Page) []*dirtyRun {
	pageSize := int64(f.cache.cfg.PageSize)
	runs := []*dirtyRun{{pages: sortedByOffset(dirty)}}

	curr := bucket
	upperBound := f.cache.dir.numBuckets()
	for {
		next, err := f.cache.dir.nextBucket(curr, upperBound)
		if err != nil || next == nil {
			break
		}
		nextDirty := next.GetDirtyPages()
		if len(nextDirty) == 0 {
			f.unpinAll(nextDirty)
			break
		}
		merged := false
		for _, run := range runs {
			last := run.pages[len(run.pages)-1]
			if pg, ok := nextDirty[last.Offset()+pageSize]; ok && !pg.IsIOPending() {
				run.pages = append(run.pages, pg)
				delete(nextDirty, pg.Offset())
				merged = true
			}
		}
		f.unpinAll(nextDirty)
		if !merged {
			break
		}
		curr = next
	}
	return runs
}

func (f *flushEngine) mergeBackward(bucket *Bucket, runs []*dirtyRun) []*dirtyRun {
	pageSize := int64(f.cache.cfg.PageSize)

	curr := bucket
	for {
		prev, err := f.cache.dir.prevBucket(curr)
		if err != nil || prev == nil {
			break
		}
		prevDirty := prev.GetDirtyPages()
		if len(prevDirty) == 0 {
			break
		}
		merged := false
		for _, run := range runs {
			first := run.pages[0]
			if pg, ok := prevDirty[first.Offset()-pageSize]; ok && !pg.IsIOPending() {
				run.pages = append([]*Page{pg}, run.pages...)
				delete(prevDirty, pg.Offset())
				merged = true
			}
		}
		f.unpinAll(prevDirty)
		if !merged {
			break
		}
		curr = prev
	}
	return runs
}

func (f *flushEngine) unpinAll(pages map[int64]*Page) {
	for _, p := range pages {
		p.Unpin()
	}
}

// writeRun hands run to the transport as one write request. Each page is
// claimed via beginWriteback the moment it's chosen for this batch — between
// selection and submission — so a concurrent flush pass over a neighboring
// bucket can't also pull it into a run (see Bucket.GetDirtyPages) and a
// concurrent access() write to the same offset blocks in waitUntilLoaded
// instead of racing the transport's read of the page's buffer. endWriteback
// releases the claim once the request has been handed off, successfully or
// not, per spec.md's page-flag narrative for PREPARE_WRITEBACK.
func (f *flushEngine) writeRun(ctx context.Context, run *dirtyRun) {
	bufs := make([][]byte, len(run.pages))
	for i, p := range run.pages {
		bufs[i] = p.beginWriteback()
	}

	req := &transport.Request{Op: transport.Write, Off: run.offset(), Bufs: bufs}
	err := submitSync(ctx, f.cache.transport, req)

	for _, p := range run.pages {
		p.endWriteback(err == nil)
		p.Unpin()
	}
	if err != nil {
		f.cache.cfg.Logger.Printf("flush: write at offset %d failed: %v", run.offset(), err)
	}
}
