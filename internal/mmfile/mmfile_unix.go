//go:build unix

// Package mmfile owns the file descriptor and shared read-write mapping that
// back a shelf file. It publishes the mapped bytes and the syscalls the store
// needs: create-and-extend, open-existing, ranged or whole-file sync, and
// unmap-and-close.
package mmfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is an open, mapped file.
type File struct {
	f    *os.File
	data []byte
	size int64
}

// Create creates the file at path, extends it to size bytes, and maps it
// shared read-write. The new bytes are zero (the extension is sparse).
// The path must not already exist.
func Create(path string, size int64) (*File, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmfile: create size must be positive (%d)", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("mmfile: extend to %d: %w", size, err)
	}
	return mapFile(f, size)
}

// Open maps the existing file at path read-write at its current size.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("mmfile: empty file: %s", path)
	}
	return mapFile(f, st.Size())
}

func mapFile(f *os.File, size int64) (*File, error) {
	if size > int64(^uint(0)>>1) {
		_ = f.Close()
		return nil, fmt.Errorf("mmfile: file too large to map (%d bytes)", size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmfile: mmap failed: %w", err)
	}
	return &File{f: f, data: data, size: size}, nil
}

// Bytes returns the mapped region. The slice is invalidated by Close.
func (m *File) Bytes() []byte { return m.data }

// Size returns the mapped length in bytes.
func (m *File) Size() int64 { return m.size }

// Path returns the file's name as opened.
func (m *File) Path() string { return m.f.Name() }

// Sync flushes the whole mapping. Async schedules the writeback without
// waiting for it.
func (m *File) Sync(async bool) error {
	flags := unix.MS_SYNC
	if async {
		flags = unix.MS_ASYNC
	}
	if err := unix.Msync(m.data, flags); err != nil {
		return fmt.Errorf("mmfile: msync: %w", err)
	}
	return nil
}

// SyncRange flushes the pages covering [off, off+n). The start is rounded
// down to a page boundary, as msync requires; the end is clamped to the file.
func (m *File) SyncRange(off, n int64, async bool) error {
	if n <= 0 {
		return nil
	}
	page := int64(os.Getpagesize())
	start := off &^ (page - 1)
	end := off + n
	if end > m.size {
		end = m.size
	}
	flags := unix.MS_SYNC
	if async {
		flags = unix.MS_ASYNC
	}
	if err := unix.Msync(m.data[start:end], flags); err != nil {
		return fmt.Errorf("mmfile: msync range [%d,%d): %w", start, end, err)
	}
	return nil
}

// Close unmaps and closes the file. A second Close reports an error rather
// than touching freed state.
func (m *File) Close() error {
	if m.data == nil && m.f == nil {
		return fmt.Errorf("mmfile: already closed")
	}
	var first error
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			first = fmt.Errorf("mmfile: munmap: %w", err)
		}
		m.data = nil
	}
	if m.f != nil {
		if err := m.f.Close(); err != nil && first == nil {
			first = err
		}
		m.f = nil
	}
	return first
}
