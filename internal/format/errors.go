package format

import "errors"

var (
	// ErrMagicMismatch indicates a header slot had an unexpected magic.
	ErrMagicMismatch = errors.New("format: magic mismatch")
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrBadStatus indicates a header status byte that is neither clean nor dirty.
	ErrBadStatus = errors.New("format: bad header status byte")
	// ErrBadDescriptor indicates a serialized type descriptor failed to decode.
	ErrBadDescriptor = errors.New("format: bad type descriptor")
)
