package store

import "errors"

var (
	// ErrIO indicates an underlying syscall failed (open, mmap, msync,
	// truncate). Fatal to the operation; the storage remains in its last
	// consistent state.
	ErrIO = errors.New("store: i/o failure")

	// ErrFull indicates the primary file (or the redo log) is out of space.
	// No partial write leaks.
	ErrFull = errors.New("store: file full")

	// ErrClosed indicates an operation was attempted after Close.
	ErrClosed = errors.New("store: storage closed")

	// ErrProxies indicates Close was attempted while non-root proxies were
	// still live. The storage remains open.
	ErrProxies = errors.New("store: live proxies outstanding")

	// ErrType indicates a value of the wrong type was assigned to a field,
	// inserted into a skip list without an ordering, or passed as an edge
	// endpoint of the wrong node class.
	ErrType = errors.New("store: type mismatch")

	// ErrKeyNotFound indicates a lookup of an absent key.
	ErrKeyNotFound = errors.New("store: key not found")

	// ErrValue indicates bad parameters: a malformed type definition, an
	// unknown type or field name, an out-of-range argument, or a
	// non-C-contiguous buffer.
	ErrValue = errors.New("store: invalid value")

	// ErrCorrupt indicates an unusable file on open: bad magic, no clean
	// header, or a descriptor that fails to decode.
	ErrCorrupt = errors.New("store: corrupt file")
)
