package cache

import "github.com/pkg/errors"

// Sentinel errors returned by Cache methods. Callers should compare against
// these with errors.Is.
var (
	// ErrOutOfMemory is returned when the cache cannot grow its directory
	// or admit a new page because the configured memory budget is exhausted
	// and the global memory manager has no reserve left to lend.
	ErrOutOfMemory = errors.New("cache: out of memory")

	// ErrAllPagesPinned is returned when every page slot in a bucket is
	// pinned (nonzero refcount) and none of them can be evicted to make
	// room for a newly requested offset.
	ErrAllPagesPinned = errors.New("cache: all pages in bucket are pinned")

	// ErrExpansionInProgress is returned by an explicit Cache.Expand call
	// when a directory split is already under way. It is not an error
	// condition for the background expansion loop, which treats a losing
	// CAS as "someone else is already handling this" and simply drops the
	// signal; it matters to a caller that deliberately wants to know
	// whether its own trigger actually did anything.
	ErrExpansionInProgress = errors.New("cache: directory expansion already in progress")

	// ErrPending is returned by Cache.Access for an asynchronous request
	// (AccessRequest.IsSync == false) once it has been handed to a
	// background goroutine. The request's Callback is invoked with the
	// final result; ErrPending itself carries no information about
	// success or failure.
	ErrPending = errors.New("cache: request accepted, completion pending")

	// ErrUnderlyingIOFailure is returned in place of the transport's own
	// error when a fill or an old-dirty write-back fails. A failed flush
	// write is logged and the page stays dirty; it is not returned.
	ErrUnderlyingIOFailure = errors.New("cache: underlying I/O failure")

	// ErrMalformedRequest is returned when a caller's access request has a
	// negative offset or an empty buffer, and by New when PageSize is not a
	// multiple of the transport's block size. Offsets need not be
	// page-aligned.
	ErrMalformedRequest = errors.New("cache: malformed request")

	// ErrClosed is returned by Access, ReadAt, WriteAt and Expand once Close
	// has been called.
	ErrClosed = errors.New("cache: closed")
)
