package cache

import (
	"context"

	"github.com/util6/safscache/transport"
)

// Coordinator is the upstream-facing facade spec.md §6 describes: an
// upstream caller (a filesystem, a database page manager, a RAID volume
// group) talks to a Coordinator rather than reaching into Cache's
// internals directly, the same relationship JadeDB's own PageManager has
// to its BufferPool and file layer.
type Coordinator struct {
	cache *Cache
	tr    transport.Transport
}

// NewCoordinator wraps c and tr. tr is normally the same transport c itself
// was built with; it is kept alongside so SubmitFlush can issue writes that
// bypass the flush engine (an upstream caller flushing a page it dirtied
// through MarkDirtyPages directly) while still routing completion through
// FlushCallback.
func NewCoordinator(c *Cache, tr transport.Transport) *Coordinator {
	return &Coordinator{cache: c, tr: tr}
}

// Access is the coordinator's request entry point, corresponding to
// spec.md's access(requests[], statuses[]).
func (co *Coordinator) Access(ctx context.Context, req *AccessRequest) error {
	return co.cache.Access(ctx, req)
}

// Preload is spec.md's prefetch helper: it walks every page-aligned offset
// covering [start, start+size), makes sure each is resident (filling it if
// necessary), and immediately drops the reference it took to do so. It
// copies no bytes to or from a caller buffer — its only lasting effect is
// warming the cache.
func (co *Coordinator) Preload(ctx context.Context, start, size int64) error {
	if size <= 0 {
		return nil
	}
	pageSize := int64(co.cache.cfg.PageSize)
	first := (start / pageSize) * pageSize
	last := ((start + size - 1) / pageSize) * pageSize

	for off := first; off <= last; off += pageSize {
		if co.cache.Lookup(off) {
			continue
		}
		page, miss, err := co.cache.acquirePage(ctx, off, false)
		if err != nil {
			return err
		}
		if miss {
			span := pageSpan{pageOffset: off}
			if err := co.cache.fillMisses(ctx, []acquiredSpan{{span: &span, page: page, miss: true}}); err != nil {
				page.Unpin()
				return err
			}
		}
		page.Unpin()
	}
	return nil
}

// MarkDirtyPages is the write path's callback into the flush engine: for
// each offset it runs the same threshold check Access runs after a write,
// queuing the offset's bucket for a flush once it holds enough dirty pages.
// It does not change any page's state; only pages already in the Dirty
// state count toward the threshold.
func (co *Coordinator) MarkDirtyPages(offsets []int64) {
	for _, off := range offsets {
		co.cache.flush.noteDirty(off)
	}
}

// FlushCallback is meant to be passed as the done callback to a
// transport.Transport.Submit call for a write issued by something other
// than the flush engine's own workers (see SubmitFlush), so the affected
// pages' dirty flags still clear the same way they would through
// flushEngine.writeRun.
func (co *Coordinator) FlushCallback(status transport.Status) {
	if status.Req == nil || status.Req.Op != transport.Write {
		return
	}
	if status.Err != nil {
		co.cache.cfg.Logger.Printf("flush callback: write at offset %d failed: %v", status.Req.Off, status.Err)
		return
	}
	off := status.Req.Off
	for _, buf := range status.Req.Bufs {
		bucket, err := co.cache.dir.cellForOffset(off)
		if err == nil {
			bucket.Lock()
			if idx := bucket.find(off); idx >= 0 {
				bucket.slots[idx].ClearDirty()
			}
			bucket.Unlock()
		}
		off += int64(len(buf))
	}
}

// SubmitFlush issues req against the coordinator's transport with
// FlushCallback wired as its completion handler.
func (co *Coordinator) SubmitFlush(ctx context.Context, req *transport.Request) error {
	return co.tr.Submit(ctx, req, co.FlushCallback)
}
