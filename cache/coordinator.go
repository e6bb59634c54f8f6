package cache

import (
	"context"
	"time"

	"github.com/util6/safscache/transport"
)

// acquiredSpan pairs a pageSpan with the Page it resolved to and whether
// that page was a cache miss needing a fill before its contents can be
// trusted.
type acquiredSpan struct {
	span *pageSpan
	page *Page
	miss bool
}

// access is the coordinator's core state machine: resolve every page an
// AccessRequest touches, fill whichever of them were misses (coalescing
// adjacent misses into a single transport read), then copy the caller's
// bytes in or out and mark written pages dirty.
func (c *Cache) access(ctx context.Context, req *AccessRequest) error {
	if req.Offset < 0 || len(req.Buf) == 0 {
		return ErrMalformedRequest
	}

	spanList := spans(req, c.cfg.PageSize)
	acquired := make([]acquiredSpan, 0, len(spanList))

	for i := range spanList {
		sp := &spanList[i]
		fullPageWrite := req.Op == transport.Write && sp.inPage == 0 && sp.length == c.cfg.PageSize
		page, miss, err := c.acquirePage(ctx, sp.pageOffset, fullPageWrite)
		if err != nil {
			c.releaseAll(acquired)
			return err
		}
		acquired = append(acquired, acquiredSpan{span: sp, page: page, miss: miss})
	}
	defer c.releaseAll(acquired)

	if err := c.fillMisses(ctx, acquired); err != nil {
		return err
	}

	orig := newOriginal(int64(len(req.Buf)), req.IsSync, req.Callback)
	for _, as := range acquired {
		s := as.span
		switch req.Op {
		case transport.Read:
			as.page.copyOut(req.Buf[s.bufOffset:s.bufOffset+s.length], s.inPage, s.length)
		case transport.Write:
			as.page.copyInAndMarkDirty(req.Buf[s.bufOffset:s.bufOffset+s.length], s.inPage, s.length)
			c.flush.noteDirty(as.page.Offset())
		}
		orig.completeSize(int64(s.length), nil)
	}

	return orig.wait()
}

// acquirePage resolves the page covering pageOffset, retrying with a short
// backoff if every slot in its bucket is momentarily pinned. If the page is
// newly admitted and its former occupant was dirty, the old data is written
// back synchronously before the slot is reused for pageOffset, since both
// share the same underlying buffer.
func (c *Cache) acquirePage(ctx context.Context, pageOffset int64, fullPageWrite bool) (*Page, bool, error) {
	for {
		bucket, err := c.dir.cellForOffset(pageOffset)
		if err != nil {
			return nil, false, err
		}

		bucket.Lock()
		res, hit, err := bucket.FindOrAdmit(pageOffset)
		if err == ErrAllPagesPinned {
			bucket.Unlock()
			c.pinWaitRetries.Add(1)
			select {
			case <-time.After(c.cfg.AccessRetryBackoff):
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
			continue
		}
		if err != nil {
			bucket.Unlock()
			return nil, false, err
		}

		overflowSignaled := res.overflowSignaled
		bucket.Unlock()

		if overflowSignaled {
			c.signalOverflow()
		}

		if hit {
			if err := res.page.waitUntilLoaded(ctx); err != nil {
				res.page.Unpin()
				return nil, false, err
			}
			return res.page, false, nil
		}

		if res.hadOldDirty {
			if err := c.writeBackOldDirty(ctx, res); err != nil {
				// Abandon the admission rather than leave the slot stuck in
				// Loading with OldDirty still set, which would wedge every
				// future request for this offset behind a wait that nothing
				// will ever satisfy.
				bucket.Lock()
				res.page.reset()
				bucket.Unlock()
				res.page.Unpin()
				return nil, false, err
			}
		}
		if res.hadVictim {
			c.shadow.Add(res.evictedOffset)
		}
		if est := c.shadow.Estimate(pageOffset); est > 0 {
			res.page.SeedHits(est)
		}

		if fullPageWrite {
			res.page.SetReady()
			return res.page, false, nil
		}
		return res.page, true, nil
	}
}

// writeBackOldDirty synchronously flushes a victim page's previous contents
// before its buffer is reused for a new offset. It must complete before any
// fill or write touches the page's buffer again.
//
// If the write fails it returns ErrUnderlyingIOFailure with OldDirty still
// set. acquirePage then resets the slot to Empty and returns the error, so
// the victim's unwritten bytes are dropped rather than retried.
func (c *Cache) writeBackOldDirty(ctx context.Context, res admitResult) error {
	err := submitSync(ctx, c.transport, &transport.Request{
		Op:   transport.Write,
		Off:  res.oldDirtyOffset,
		Bufs: [][]byte{res.oldDirtyData},
	})
	if err != nil {
		return ErrUnderlyingIOFailure
	}
	res.page.SetOldDirty(false)
	return nil
}

// fillMisses reads every miss page's contents from the transport, merging
// runs of contiguously offset misses into a single Request so an access
// spanning several never-seen pages costs one I/O instead of one per page.
func (c *Cache) fillMisses(ctx context.Context, acquired []acquiredSpan) error {
	i := 0
	for i < len(acquired) {
		if !acquired[i].miss {
			i++
			continue
		}
		j := i + 1
		for j < len(acquired) && acquired[j].miss &&
			acquired[j].page.Offset() == acquired[j-1].page.Offset()+int64(c.cfg.PageSize) {
			j++
		}

		bufs := make([][]byte, 0, j-i)
		for k := i; k < j; k++ {
			bufs = append(bufs, acquired[k].page.Data())
		}
		req := &transport.Request{Op: transport.Read, Off: acquired[i].page.Offset(), Bufs: bufs}
		if err := submitSync(ctx, c.transport, req); err != nil {
			return ErrUnderlyingIOFailure
		}
		for k := i; k < j; k++ {
			acquired[k].page.SetReady()
		}
		i = j
	}
	return nil
}

func (c *Cache) releaseAll(acquired []acquiredSpan) {
	for _, as := range acquired {
		as.page.Unpin()
	}
}

// signalOverflow kicks off a directory expansion in the background if the
// cache is configured to be expandable. The triggering bucket's overflow
// flag is already set by FindOrAdmit under its own lock by the time this is
// called; expansion itself never blocks the access that triggered it.
func (c *Cache) signalOverflow() {
	if !c.cfg.Expandable {
		return
	}
	select {
	case c.expandSignal <- struct{}{}:
	default:
	}
}
