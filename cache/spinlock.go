package cache

import (
	"runtime"
	"sync/atomic"
)

// spinLock is a small CAS-based mutual exclusion lock. Buckets use one
// instead of sync.Mutex because a bucket critical section is a handful of
// pointer and flag reads with no possibility of blocking on I/O, so the cost
// of a futex round trip on contention dwarfs the cost of just spinning.
//
// A spinLock must not be copied after first use.
type spinLock struct {
	held        atomic.Bool
	contentions atomic.Int64
}

// Lock spins until the lock is acquired. It yields the processor between
// attempts so a spinner never starves the goroutine holding the lock on a
// GOMAXPROCS-limited machine. A losing first attempt counts as one
// contention, matching the original's STATISTICS-gated lock_contentions
// counter — every subsequent spin of the same call is the same contention
// event, not a new one.
func (l *spinLock) Lock() {
	if l.held.CompareAndSwap(false, true) {
		return
	}
	l.contentions.Add(1)
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// Contentions returns the number of Lock calls that found the lock already
// held.
func (l *spinLock) Contentions() int64 {
	return l.contentions.Load()
}

// TryLock attempts to acquire the lock without blocking.
func (l *spinLock) TryLock() bool {
	return l.held.CompareAndSwap(false, true)
}

// Unlock releases the lock. Unlock on a lock not held by the caller is a bug
// in the caller and will corrupt the lock state.
func (l *spinLock) Unlock() {
	l.held.Store(false)
}
