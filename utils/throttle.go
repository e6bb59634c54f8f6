package utils

import "time"

// Throttle limits how often a caller may proceed, at rate operations per
// second. The memory manager uses one to cap how often it logs "cache full"
// warnings under sustained admission pressure, rather than once per rejected
// request.
type Throttle struct {
	ticker *time.Ticker
	ch     chan struct{}
	done   chan struct{}
}

// NewThrottle creates a throttle admitting rate operations per second. A
// non-positive rate admits every call immediately (no throttling).
func NewThrottle(rate int) *Throttle {
	if rate <= 0 {
		return &Throttle{}
	}

	t := &Throttle{
		ticker: time.NewTicker(time.Second / time.Duration(rate)),
		ch:     make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	t.ch <- struct{}{}

	go func() {
		for {
			select {
			case <-t.ticker.C:
				select {
				case t.ch <- struct{}{}:
				default:
				}
			case <-t.done:
				return
			}
		}
	}()

	return t
}

// Allow reports whether the caller may proceed right now, without blocking.
func (t *Throttle) Allow() bool {
	if t.ticker == nil {
		return true
	}
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Close stops the throttle's background ticker.
func (t *Throttle) Close() {
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.done)
	}
}

// Copy returns a fresh copy of src that does not share src's backing array.
// A nil src returns nil.
func Copy(src []byte) []byte {
	if src == nil {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}
