// Package mmap wraps the platform mmap/munmap/madvise/msync syscalls behind
// a small OS-agnostic surface, the way badger/JadeDB's utils/mmap package
// does. safscache uses it to back file.MmapFile, one of the two diskio
// transports the page cache can be pointed at.
package mmap

import "os"

// Mmap maps fd into memory. If writable is false the mapping is read-only.
func Mmap(fd *os.File, writable bool, size int64) ([]byte, error) {
	return mmap(fd, writable, size)
}

// Munmap releases a mapping previously returned by Mmap.
func Munmap(b []byte) error {
	return munmap(b)
}

// Madvise hints the kernel about the expected access pattern of a mapping.
// readahead=false is appropriate for the cache's page-granular random
// access pattern; the transport calls this once after mapping a volume.
func Madvise(b []byte, readahead bool) error {
	return madvise(b, readahead)
}

// Msync flushes a mapping's dirty pages back to the file it backs.
func Msync(b []byte) error {
	return msync(b)
}
