/*
Package file provides the memory-mapped volume backing store used by
diskio.MmapTransport. It is adapted from JadeDB's file.MmapFile: same
open/create/truncate/sync shape, trimmed to the fixed-size, page-granular
access pattern a block cache actually needs (no SSTable footer parsing, no
variable-length slice allocator — the cache never asks a volume for
anything but "read me PageSize bytes at this offset").
*/
package file

import (
	"os"

	"github.com/pkg/errors"
	"github.com/util6/safscache/utils/mmap"
)

// MmapFile is a memory-mapped, growable flat file. One RAID volume in
// diskio.MmapTransport is one MmapFile.
type MmapFile struct {
	Data []byte
	Fd   *os.File
}

// CreateMmapFile grows fd to at least sz bytes (if sz > 0) and maps it.
func CreateMmapFile(fd *os.File, sz int, writable bool) (*MmapFile, error) {
	fi, err := fd.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", fd.Name())
	}
	size := fi.Size()
	if sz > 0 && size < int64(sz) {
		if err := fd.Truncate(int64(sz)); err != nil {
			return nil, errors.Wrapf(err, "truncate %s to %d", fd.Name(), sz)
		}
		size = int64(sz)
	}
	if size == 0 {
		return nil, errors.Errorf("cannot map empty file %s", fd.Name())
	}
	buf, err := mmap.Mmap(fd, writable, size)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %s (%d bytes)", fd.Name(), size)
	}
	if err := mmap.Madvise(buf, false); err != nil {
		return nil, errors.Wrapf(err, "madvise %s", fd.Name())
	}
	return &MmapFile{Data: buf, Fd: fd}, nil
}

// OpenMmapFile opens (creating if necessary) filename and maps it to at
// least maxSz bytes.
func OpenMmapFile(filename string, flag int, maxSz int) (*MmapFile, error) {
	fd, err := os.OpenFile(filename, flag, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filename)
	}
	writable := flag != os.O_RDONLY
	mf, err := CreateMmapFile(fd, maxSz, writable)
	if err != nil {
		fd.Close()
		return nil, err
	}
	return mf, nil
}

// ReadAt copies sz bytes starting at off into a freshly allocated slice.
func (m *MmapFile) ReadAt(off, sz int) ([]byte, error) {
	if off < 0 || sz < 0 || off+sz > len(m.Data) {
		return nil, errors.Errorf("mmap read out of range: file %s off %d sz %d len %d",
			m.Fd.Name(), off, sz, len(m.Data))
	}
	out := make([]byte, sz)
	copy(out, m.Data[off:off+sz])
	return out, nil
}

// WriteAt copies buf into the mapping at off.
func (m *MmapFile) WriteAt(off int, buf []byte) error {
	if off < 0 || off+len(buf) > len(m.Data) {
		return errors.Errorf("mmap write out of range: file %s off %d len %d cap %d",
			m.Fd.Name(), off, len(buf), len(m.Data))
	}
	copy(m.Data[off:off+len(buf)], buf)
	return nil
}

// Grow extends the mapping to newSz bytes, remapping the file.
func (m *MmapFile) Grow(newSz int64) error {
	if err := mmap.Msync(m.Data); err != nil {
		return errors.Wrapf(err, "sync %s before grow", m.Fd.Name())
	}
	if err := m.Fd.Truncate(newSz); err != nil {
		return errors.Wrapf(err, "truncate %s to %d", m.Fd.Name(), newSz)
	}
	if err := mmap.Munmap(m.Data); err != nil {
		return errors.Wrapf(err, "unmap %s before remap", m.Fd.Name())
	}
	buf, err := mmap.Mmap(m.Fd, true, newSz)
	if err != nil {
		return errors.Wrapf(err, "remap %s at %d", m.Fd.Name(), newSz)
	}
	if err := mmap.Madvise(buf, false); err != nil {
		return errors.Wrapf(err, "madvise %s after grow", m.Fd.Name())
	}
	m.Data = buf
	return nil
}

// Sync flushes the mapping and the file's metadata to disk.
func (m *MmapFile) Sync() error {
	if err := mmap.Msync(m.Data); err != nil {
		return err
	}
	return m.Fd.Sync()
}

// Close unmaps the file and closes its descriptor.
func (m *MmapFile) Close() error {
	if err := mmap.Munmap(m.Data); err != nil {
		return errors.Wrapf(err, "unmap %s", m.Fd.Name())
	}
	return m.Fd.Close()
}

// Delete closes and removes the backing file.
func (m *MmapFile) Delete() error {
	path := m.Fd.Name()
	if err := m.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
