package utils

import "sync"

// Closer coordinates graceful shutdown of one or more background goroutines.
// A goroutine registers itself with Add, watches CloseSignal, and calls Done
// when it has finished draining whatever it was doing. Close blocks until
// every registered goroutine has called Done. The flush engine's workers,
// the cache's expansion loop and PreadTransport's workers use one each.
type Closer struct {
	waiting     sync.WaitGroup
	CloseSignal chan struct{}
}

// NewCloser returns a Closer with no goroutines registered yet.
func NewCloser() *Closer {
	return &Closer{CloseSignal: make(chan struct{})}
}

// Add registers n additional goroutines that must call Done before Close
// returns.
func (c *Closer) Add(n int) {
	c.waiting.Add(n)
}

// Done marks one registered goroutine as finished.
func (c *Closer) Done() {
	c.waiting.Done()
}

// Close signals CloseSignal and blocks until every registered goroutine has
// called Done. Close must be called at most once.
func (c *Closer) Close() {
	close(c.CloseSignal)
	c.waiting.Wait()
}
