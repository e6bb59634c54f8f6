package cache

import "github.com/util6/safscache/transport"

// AccessRequest is a caller's read or write against the cache's logical
// address space. Offset need not be page-aligned and Buf need not be a
// whole page; the coordinator decomposes the request into the pages it
// touches and, for a write narrower than a page, reads the page in first so
// the untouched bytes survive.
//
// IsSync selects which half of Cache.Access services the request. A sync
// request blocks its caller's goroutine until every page it touches has
// been acquired, filled, and copied, returning the final error directly.
// An async request (IsSync false) is handed to a background goroutine and
// Access returns ErrPending immediately; Callback is invoked exactly once,
// with the request's final error (nil on success), once every page it
// touches has completed — the same per-page completion-counter bookkeeping
// spec.md describes for a multi-page original request, just applied to
// both paths uniformly.
type AccessRequest struct {
	Op     transport.Op
	Offset int64
	Buf    []byte
	IsSync bool
	// Callback is invoked once, from the goroutine that completed the last
	// outstanding page, when IsSync is false. Ignored for sync requests.
	Callback func(error)
}

func (r *AccessRequest) end() int64 {
	return r.Offset + int64(len(r.Buf))
}

// pageSpan is one page's worth of overlap between an AccessRequest and the
// page grid.
type pageSpan struct {
	pageOffset int64 // page-aligned offset of the page covering this span
	inPage     int   // offset within the page where the overlap starts
	length     int   // length of the overlap
	bufOffset  int   // offset within AccessRequest.Buf this span corresponds to
}

// spans decomposes req into the ordered list of page-aligned spans it
// touches.
func spans(req *AccessRequest, pageSize int) []pageSpan {
	var out []pageSpan
	pos := req.Offset
	end := req.end()
	bufPos := 0
	for pos < end {
		pageOffset := (pos / int64(pageSize)) * int64(pageSize)
		inPage := int(pos - pageOffset)
		remaining := int(pageSize - inPage)
		want := int(end - pos)
		if want > remaining {
			want = remaining
		}
		out = append(out, pageSpan{
			pageOffset: pageOffset,
			inPage:     inPage,
			length:     want,
			bufOffset:  bufPos,
		})
		pos += int64(want)
		bufPos += want
	}
	return out
}
