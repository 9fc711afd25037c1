package format

import (
	"bytes"
	"fmt"

	"github.com/shelfdb/shelf/internal/buf"
)

// Header is the decoded form of one header slot.
//
//	Offset  Size  Description
//	------  ----  ----------------------------------------------------
//	 0x00    31   magic, NUL-padded, version-tagged
//	 0x1F     1   status: 'C' (clean) or 'D' (dirty)
//	 0x20     8   revision, monotonic per commit
//	 0x28     8   last applied redo file number (reserved)
//	 0x30     8   offset of last applied transaction (reserved)
//	 0x38     8   free offset (bump-allocator high-water mark)
//	 0x40     8   offset of the string registry
//	 0x48     8   offset of the persisted type list
//	 0x50     8   offset of the root value
type Header struct {
	Status         byte
	Revision       uint64
	RedoFileNumber uint64
	LastTrx        uint64
	FreeOffset     uint64
	StringRegistry uint64
	TypeList       uint64
	Root           uint64
}

// Clean reports whether the slot was committed.
func (h Header) Clean() bool { return h.Status == StatusClean }

// ParseHeader validates and decodes one header slot.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("header: %w", ErrTruncated)
	}
	if !bytes.Equal(b[OffMagic:OffMagic+MagicSize], Magic) {
		return Header{}, fmt.Errorf("header: %w", ErrMagicMismatch)
	}
	h := Header{
		Status:         b[OffStatus],
		Revision:       buf.U64(b, OffRevision),
		RedoFileNumber: buf.U64(b, OffRedoFileNumber),
		LastTrx:        buf.U64(b, OffLastTrx),
		FreeOffset:     buf.U64(b, OffFreeOffset),
		StringRegistry: buf.U64(b, OffStringRegistry),
		TypeList:       buf.U64(b, OffTypeList),
		Root:           buf.U64(b, OffRoot),
	}
	if h.Status != StatusClean && h.Status != StatusDirty {
		return Header{}, fmt.Errorf("header: %w (0x%02X)", ErrBadStatus, h.Status)
	}
	return h, nil
}

// PutHeader encodes h into one header slot. The caller provides the full slot;
// bytes past HeaderLen are left untouched.
func PutHeader(b []byte, h Header) {
	copy(b[OffMagic:OffMagic+MagicSize], Magic)
	b[OffStatus] = h.Status
	buf.PutU64(b, OffRevision, h.Revision)
	buf.PutU64(b, OffRedoFileNumber, h.RedoFileNumber)
	buf.PutU64(b, OffLastTrx, h.LastTrx)
	buf.PutU64(b, OffFreeOffset, h.FreeOffset)
	buf.PutU64(b, OffStringRegistry, h.StringRegistry)
	buf.PutU64(b, OffTypeList, h.TypeList)
	buf.PutU64(b, OffRoot, h.Root)
}
