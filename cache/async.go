package cache

import "sync"

// original tracks completion bookkeeping for one caller-issued
// AccessRequest that has been split across several page spans, mirroring
// the C original's io_request::complete_size/inc_complete_count pair: each
// span "completes" independently as its copy or fill finishes, and only
// once the accumulated completed bytes reach the request's total size does
// the caller get notified — a condition variable for a synchronous caller
// (wait blocks until done), a callback invocation for an async one.
type original struct {
	mu        sync.Mutex
	cond      *sync.Cond
	total     int64
	completed int64
	err       error
	done      bool

	isSync   bool
	callback func(error)
}

func newOriginal(total int64, isSync bool, callback func(error)) *original {
	o := &original{total: total, isSync: isSync, callback: callback}
	o.cond = sync.NewCond(&o.mu)
	if total == 0 {
		o.done = true
	}
	return o
}

// completeSize records n more completed bytes and, if err is the first
// failure seen, latches it as the request's final error. The caller is
// notified at most once, the moment the accumulated size reaches total.
func (o *original) completeSize(n int64, err error) {
	o.mu.Lock()
	o.completed += n
	if err != nil && o.err == nil {
		o.err = err
	}
	finished := o.completed >= o.total && !o.done
	if finished {
		o.done = true
	}
	final := o.err
	o.mu.Unlock()

	if !finished {
		return
	}
	if o.isSync {
		o.mu.Lock()
		o.cond.Broadcast()
		o.mu.Unlock()
		return
	}
	if o.callback != nil {
		o.callback(final)
	}
}

// wait blocks until every span has completed. For a purely synchronous
// caller this returns immediately, since completeSize runs on the same
// goroutine before wait is ever called; it exists so the same bookkeeping
// type serves both paths without the sync path needing to special-case
// itself.
func (o *original) wait() error {
	o.mu.Lock()
	for !o.done {
		o.cond.Wait()
	}
	err := o.err
	o.mu.Unlock()
	return err
}
