//go:build !unix

package mmfile

import (
	"fmt"
	"os"
)

// File is the fallback implementation for platforms without a usable mmap:
// the whole file is held in memory and written back on sync and close.
type File struct {
	f    *os.File
	data []byte
	size int64
}

// Create creates the file at path, extends it to size bytes, and loads it.
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
	return &File{f: f, data: make([]byte, size), size: size}, nil
}

// Open loads the existing file at path at its current size.
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
	data := make([]byte, st.Size())
	if _, err := f.ReadAt(data, 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmfile: read: %w", err)
	}
	return &File{f: f, data: data, size: st.Size()}, nil
}

// Bytes returns the buffered contents. The slice is invalidated by Close.
func (m *File) Bytes() []byte { return m.data }

// Size returns the buffered length in bytes.
func (m *File) Size() int64 { return m.size }

// Path returns the file's name as opened.
func (m *File) Path() string { return m.f.Name() }

// Sync writes the buffer back and syncs the descriptor.
func (m *File) Sync(async bool) error {
	if _, err := m.f.WriteAt(m.data, 0); err != nil {
		return fmt.Errorf("mmfile: write back: %w", err)
	}
	if async {
		return nil
	}
	return m.f.Sync()
}

// SyncRange writes back the covering range.
func (m *File) SyncRange(off, n int64, async bool) error {
	if n <= 0 {
		return nil
	}
	end := off + n
	if end > m.size {
		end = m.size
	}
	if _, err := m.f.WriteAt(m.data[off:end], off); err != nil {
		return fmt.Errorf("mmfile: write back range [%d,%d): %w", off, end, err)
	}
	if async {
		return nil
	}
	return m.f.Sync()
}

// Close writes back and closes the file. A second Close reports an error.
func (m *File) Close() error {
	if m.data == nil && m.f == nil {
		return fmt.Errorf("mmfile: already closed")
	}
	var first error
	if m.data != nil && m.f != nil {
		if _, err := m.f.WriteAt(m.data, 0); err != nil {
			first = fmt.Errorf("mmfile: write back: %w", err)
		}
	}
	m.data = nil
	if m.f != nil {
		if err := m.f.Close(); err != nil && first == nil {
			first = err
		}
		m.f = nil
	}
	return first
}
