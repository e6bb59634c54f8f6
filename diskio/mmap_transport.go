/*
Package diskio provides transport.Transport implementations backing the
cache with real files: a memory-mapped volume (MmapTransport) and a
pread/pwrite-based volume (PreadTransport) for platforms or deployments
where mapping the whole volume into the address space isn't desirable.
*/
package diskio

import (
	"context"

	"github.com/pkg/errors"
	"github.com/util6/safscache/file"
	"github.com/util6/safscache/transport"
)

// MmapTransport backs a Transport with a single memory-mapped flat file.
// Submit runs synchronously — a memcpy into or out of the mapping never
// blocks on the kernel the way a pread/pwrite syscall can — so done is
// always invoked before Submit returns.
type MmapTransport struct {
	vol       *file.MmapFile
	blockSize int
}

// NewMmapTransport opens (creating if necessary) path as a volume of at
// least size bytes, mapped for read/write access.
func NewMmapTransport(path string, size int64, blockSize int) (*MmapTransport, error) {
	mf, err := file.OpenMmapFile(path, osCreateRDWR, int(size))
	if err != nil {
		return nil, errors.Wrapf(err, "open volume %s", path)
	}
	return &MmapTransport{vol: mf, blockSize: blockSize}, nil
}

func (t *MmapTransport) Submit(ctx context.Context, req *transport.Request, done func(transport.Status)) error {
	if req.Off < 0 || req.Off%int64(t.blockSize) != 0 {
		return errors.Errorf("diskio: offset %d not aligned to block size %d", req.Off, t.blockSize)
	}

	off := int(req.Off)
	var err error
	switch req.Op {
	case transport.Read:
		for _, buf := range req.Bufs {
			var data []byte
			data, err = t.vol.ReadAt(off, len(buf))
			if err != nil {
				break
			}
			copy(buf, data)
			off += len(buf)
		}
	case transport.Write:
		for _, buf := range req.Bufs {
			if err = t.vol.WriteAt(off, buf); err != nil {
				break
			}
			off += len(buf)
		}
	default:
		err = errors.Errorf("diskio: unknown op %v", req.Op)
	}

	done(transport.Status{Req: req, Err: err})
	return nil
}

func (t *MmapTransport) BlockSize() int { return t.blockSize }

func (t *MmapTransport) Close() error { return t.vol.Close() }

// Sync flushes the mapping to disk. Not part of the Transport interface —
// callers that need durability across process restarts (outside this
// cache's own scope) call it directly.
func (t *MmapTransport) Sync() error { return t.vol.Sync() }
