package diskio

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/util6/safscache/transport"
	"github.com/util6/safscache/utils"
)

const osCreateRDWR = os.O_CREATE | os.O_RDWR

// PreadTransport backs a Transport with plain pread/pwrite syscalls against
// an open file descriptor, dispatched to a small worker pool so a slow disk
// stalls only its own request rather than the submitting goroutine. It is
// the transport to reach for when the volume is too large to map, or when
// avoiding the address-space and page-fault overhead of mmap matters more
// than MmapTransport's syscall-free reads.
type PreadTransport struct {
	fd        *os.File
	blockSize int

	jobs   chan preadJob
	closer *utils.Closer
}

type preadJob struct {
	ctx  context.Context
	req  *transport.Request
	done func(transport.Status)
}

// NewPreadTransport opens (creating if necessary) path and starts workers
// background goroutines to service Submit calls.
func NewPreadTransport(path string, size int64, blockSize, workers int) (*PreadTransport, error) {
	fd, err := os.OpenFile(path, osCreateRDWR, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "open volume %s", path)
	}
	if fi, statErr := fd.Stat(); statErr == nil && fi.Size() < size {
		if err := fd.Truncate(size); err != nil {
			fd.Close()
			return nil, errors.Wrapf(err, "truncate volume %s to %d", path, size)
		}
	}

	if workers <= 0 {
		workers = 1
	}
	t := &PreadTransport{
		fd:        fd,
		blockSize: blockSize,
		jobs:      make(chan preadJob, workers*4),
		closer:    utils.NewCloser(),
	}
	t.closer.Add(workers)
	for i := 0; i < workers; i++ {
		go t.worker()
	}
	return t, nil
}

func (t *PreadTransport) worker() {
	defer t.closer.Done()
	for {
		select {
		case job := <-t.jobs:
			t.run(job)
		case <-t.closer.CloseSignal:
			return
		}
	}
}

func (t *PreadTransport) run(job preadJob) {
	off := job.req.Off
	var err error
	switch job.req.Op {
	case transport.Read:
		for _, buf := range job.req.Bufs {
			if _, err = unix.Pread(int(t.fd.Fd()), buf, off); err != nil {
				break
			}
			off += int64(len(buf))
		}
	case transport.Write:
		for _, buf := range job.req.Bufs {
			if _, err = unix.Pwrite(int(t.fd.Fd()), buf, off); err != nil {
				break
			}
			off += int64(len(buf))
		}
	default:
		err = errors.Errorf("diskio: unknown op %v", job.req.Op)
	}
	job.done(transport.Status{Req: job.req, Err: err})
}

func (t *PreadTransport) Submit(ctx context.Context, req *transport.Request, done func(transport.Status)) error {
	if req.Off < 0 || req.Off%int64(t.blockSize) != 0 {
		return errors.Errorf("diskio: offset %d not aligned to block size %d", req.Off, t.blockSize)
	}
	select {
	case t.jobs <- preadJob{ctx: ctx, req: req, done: done}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *PreadTransport) BlockSize() int { return t.blockSize }

func (t *PreadTransport) Close() error {
	t.closer.Close()
	return t.fd.Close()
}
