//go:build windows
// +build windows

package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

func mmap(fd *os.File, writable bool, size int64) ([]byte, error) {
	prot := uint32(windows.PAGE_READONLY)
	access := uint32(windows.FILE_MAP_READ)
	if writable {
		prot = windows.PAGE_READWRITE
		access = windows.FILE_MAP_WRITE
	}

	hFile := windows.Handle(fd.Fd())
	hMap, err := windows.CreateFileMapping(hFile, nil, prot, 0, 0, nil)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(hMap)

	ptr, err := windows.MapViewOfFile(hMap, access, 0, 0, uintptr(size))
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(size)), nil
}

func munmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&b[0])))
}

// madvise has no Windows equivalent; PrefetchVirtualMemory would be the
// closest analogue but isn't worth the extra syscall surface for a cache
// that already tracks its own hot set.
func madvise(b []byte, readahead bool) error {
	return nil
}

func msync(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)))
}
