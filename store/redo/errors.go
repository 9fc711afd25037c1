package redo

import "errors"

var (
	// ErrRedoFull indicates the log cannot hold the next record. The store
	// surfaces this as its generic out-of-space error.
	ErrRedoFull = errors.New("redo: log full")

	// ErrBadMagic indicates the file at the log path is not a redo log this
	// version understands.
	ErrBadMagic = errors.New("redo: bad magic")
)
