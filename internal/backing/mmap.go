// Package backing implements the memory-mapped backing file (spec.md §4.1,
// §6): one contiguous region holding the system header, station table,
// histogram, event table, and data region, plus the offset-based pointer
// translation every attached process applies on read/write.
//
// The mapping primitive is grounded on the teacher's ipexist package, which
// reaches for the raw mmap/munmap/mremap/madvise syscalls directly; here
// the same operations go through golang.org/x/sys/unix's typed wrappers.
package backing

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

const (
	pageSize      int64 = 0x1000
	maxMapSize    int64 = 0x100000000000 // 16TB sanity ceiling, same bound ipexist enforces
	minPumpSize         = 4 * 1024 * 1024
)

var (
	ErrInvalidFileHandle = errors.New("backing: invalid file handle")
	ErrMapClosed         = errors.New("backing: file mapping closed")
	ErrOutsideOfBounds   = errors.New("backing: size is outside of file bounds")
	ErrFileTooLarge      = errors.New("backing: mapped file is too large")
)

// FileMap is a page-aligned, growable mmap of a backing file. Buff is the
// live view; every struct that lives inside the map (header, tables,
// events) is addressed as a byte offset into Buff, never as a native Go
// pointer, so the same file can be mapped at different base addresses by
// different processes (spec.md §4.1).
type FileMap struct {
	fio  *os.File
	Buff []byte
	open bool
}

// alignedSize rounds sz up to the next page boundary, mirroring
// ipexist.alignedSize: the kernel only maps whole pages, so the backing
// file is always grown to a page-aligned size before mapping.
func alignedSize(sz int64) int64 {
	if rem := sz % pageSize; rem != 0 {
		return sz + (pageSize - rem)
	}
	return sz
}

func prepFileMap(f *os.File) (int64, error) {
	if f == nil {
		return 0, ErrInvalidFileHandle
	}
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	sz := fi.Size()
	if sz == 0 {
		sz = pageSize
	}
	nsz := alignedSize(sz)
	if nsz != fi.Size() {
		if err := f.Truncate(nsz); err != nil {
			return 0, err
		}
	}
	return nsz, nil
}

// MapFile page-aligns f (truncating it up if necessary) and maps it shared
// read/write.
func MapFile(f *os.File) (*FileMap, error) {
	sz, err := prepFileMap(f)
	if err != nil {
		return nil, err
	}
	buff, err := unix.Mmap(int(f.Fd()), 0, int(sz), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	// MADV_DONTFORK: a forked child (e.g. a crash-handler fork) must not
	// inherit this mapping, mirroring ipexist's startup advise flags.
	_ = unix.Madvise(buff, unix.MADV_DONTFORK)
	return &FileMap{fio: f, Buff: buff, open: true}, nil
}

// Close unmaps the region. It does not close the underlying file.
func (m *FileMap) Close() error {
	if !m.open {
		return ErrMapClosed
	}
	if err := unix.Munmap(m.Buff); err != nil {
		return err
	}
	m.Buff = nil
	m.open = false
	return nil
}

// Sync flushes the dirty pages of the mapping back to the backing file.
func (m *FileMap) Sync() error {
	if !m.open {
		return ErrMapClosed
	}
	return unix.Msync(m.Buff, unix.MS_SYNC)
}

// Expand re-maps the region to cover the file's current size, for a backing
// file that has grown since MapFile. Nothing in the module calls it: the
// pool is never resized, and TEMP event files are sized once, before they
// are mapped.
func (m *FileMap) Expand() error {
	fi, err := m.fio.Stat()
	if err != nil {
		return err
	}
	sz := fi.Size()
	if sz > maxMapSize {
		return ErrFileTooLarge
	}
	if int64(len(m.Buff)) == sz {
		return nil
	}
	nb, err := unix.Mmap(int(m.fio.Fd()), 0, int(alignedSize(sz)), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	if m.open {
		_ = unix.Munmap(m.Buff)
	}
	m.Buff = nb[:sz]
	m.open = true
	return nil
}

// Preload hints the kernel to bring the given range into residency ahead of
// use, matching ipexist's Preload/madvise(MADV_WILLNEED) behavior. Nothing
// in the module calls it; Open does not preload the data region.
func (m *FileMap) Preload(offset, sz int64) error {
	if sz < minPumpSize {
		sz = minPumpSize
	}
	mod := offset % pageSize
	offset -= mod
	if offset < 0 {
		offset = 0
	}
	sz += mod
	if offset+sz > int64(len(m.Buff)) {
		sz = int64(len(m.Buff)) - offset
	}
	if sz <= 0 {
		return nil
	}
	return unix.Madvise(m.Buff[offset:offset+sz], unix.MADV_WILLNEED)
}
