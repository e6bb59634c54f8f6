package cache

import (
	"context"
	"sync"

	"github.com/util6/safscache/transport"
)

// memTransport is an in-memory transport.Transport backed by a byte slice,
// used across this package's tests so they don't need a real file. It can
// optionally fail every Submit for a configured offset, to exercise the
// coordinator's and flush engine's error paths.
type memTransport struct {
	mu        sync.Mutex
	data      []byte
	blockSize int

	failOffset int64
	failing    bool

	submits int
}

func newMemTransport(size int, blockSize int) *memTransport {
	return &memTransport{data: make([]byte, size), blockSize: blockSize, failOffset: -1}
}

func (t *memTransport) failAt(off int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failOffset = off
	t.failing = true
}

func (t *memTransport) Submit(ctx context.Context, req *transport.Request, done func(transport.Status)) error {
	t.mu.Lock()
	t.submits++
	if t.failing && req.Off == t.failOffset {
		t.mu.Unlock()
		done(transport.Status{Req: req, Err: errFakeIO})
		return nil
	}
	off := int(req.Off)
	switch req.Op {
	case transport.Read:
		for _, buf := range req.Bufs {
			copy(buf, t.data[off:off+len(buf)])
			off += len(buf)
		}
	case transport.Write:
		for _, buf := range req.Bufs {
			copy(t.data[off:off+len(buf)], buf)
			off += len(buf)
		}
	}
	t.mu.Unlock()
	done(transport.Status{Req: req})
	return nil
}

func (t *memTransport) BlockSize() int { return t.blockSize }

func (t *memTransport) Close() error { return nil }

func (t *memTransport) snapshot() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.data))
	copy(out, t.data)
	return out
}

func (t *memTransport) submitCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.submits
}

type fakeIOError struct{}

func (fakeIOError) Error() string { return "fake I/O failure" }

var errFakeIO = fakeIOError{}
