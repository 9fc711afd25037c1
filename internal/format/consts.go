// Package format houses the on-disk layouts of the shelf file family: the
// primary file header pair, the redo-log header and transaction records, and
// the serialized type descriptors. The goal is to keep the byte-level layout
// in one place, independent from the public API, so higher-level packages can
// orchestrate the data in a more ergonomic form.
package format

var (
	// Magic is the 31-byte NUL-padded signature at the start of each header
	// slot of a primary file. The version tag is embedded so an incompatible
	// layout is rejected at open instead of misparsed.
	Magic = padMagic("shelf object store v1")

	// RedoMagic is the 31-byte NUL-padded signature of a redo-log file. It is
	// distinct from Magic so the two file kinds cannot be confused, and it
	// carries its own version tag.
	RedoMagic = padMagic("shelf redo log v1")
)

const (
	// MagicSize is the fixed width of the NUL-padded magic string.
	MagicSize = 31

	// HeaderSlotSize is the size of one header slot. Two slots sit at the
	// start of every primary file; the allocation region begins after both.
	// The slot size is fixed at 4 KiB regardless of the runtime page size so
	// a file remains parseable on hosts with larger pages.
	HeaderSlotSize = 4096

	// HeaderRegionSize covers both header slots.
	HeaderRegionSize = 2 * HeaderSlotSize

	// Alignment is the required alignment of every allocated region.
	Alignment = 8

	alignmentMask = Alignment - 1

	// StatusClean marks a header slot whose revision is fully on disk.
	StatusClean = byte('C')

	// StatusDirty marks a header slot that is being superseded.
	StatusDirty = byte('D')
)

// Header slot field offsets. All integers are little-endian.
const (
	OffMagic          = 0x00 // 31 bytes, NUL-padded
	OffStatus         = 0x1F // 1 byte: 'C' or 'D'
	OffRevision       = 0x20 // u64, monotonic
	OffRedoFileNumber = 0x28 // u64, reserved
	OffLastTrx        = 0x30 // u64 offset, reserved
	OffFreeOffset     = 0x38 // u64 offset, bump-allocator high-water mark
	OffStringRegistry = 0x40 // u64 offset of the string registry value
	OffTypeList       = 0x48 // u64 offset of the persisted type list value
	OffRoot           = 0x50 // u64 offset of the root value

	// HeaderLen is the number of meaningful bytes in a slot; the remainder of
	// the slot is zero.
	HeaderLen = 0x58
)

// Redo-log header field offsets (one HeaderSlotSize page at file start).
const (
	RedoOffMagic    = 0x00 // 31 bytes, NUL-padded
	RedoOffFirstTrx = 0x20 // u64 offset of the first transaction
	RedoOffTail     = 0x28 // u64 cached tail offset

	// RedoHeaderSize is the size of the redo-log header page.
	RedoHeaderSize = HeaderSlotSize

	// TrxHeaderSize covers a transaction's payload length and MD5 checksum.
	TrxHeaderSize = 8 + ChecksumSize

	// ChecksumSize is the width of the MD5 digest stored per transaction.
	ChecksumSize = 16

	// RecordHeaderSize covers a redo record's target offset and length.
	RecordHeaderSize = 16
)

// Align rounds n up to the next allocation boundary.
func Align(n uint64) uint64 {
	return (n + alignmentMask) &^ uint64(alignmentMask)
}

func padMagic(s string) []byte {
	if len(s) > MagicSize {
		panic("format: magic too long")
	}
	b := make([]byte, MagicSize)
	copy(b, s)
	return b
}
