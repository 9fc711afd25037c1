package store

import (
	"errors"
	"fmt"
	"math"

	"github.com/shelfdb/shelf/internal/buf"
	"github.com/shelfdb/shelf/internal/format"
	"github.com/shelfdb/shelf/store/redo"
)

// allocate advances the bump pointer by n bytes (rounded up to the alignment
// boundary) and returns the pre-increment offset. Fails with ErrFull when the
// region would cross the end of the mapping. The returned bytes are zeroed:
// a freshly extended sparse file guarantees this already, but after a crash
// the area above the committed high-water mark may hold remnants of an
// uncommitted session.
func (st *Storage) allocate(n uint64) (uint64, error) {
	if err := st.assertLive(); err != nil {
		return 0, err
	}
	need := format.Align(n)
	if need == 0 {
		// Zero-size values still get distinct offsets.
		need = format.Alignment
	}
	size := uint64(st.m.Size())
	if need > size || st.freeOffset > size-need {
		return 0, fmt.Errorf("%w: need %d bytes at %d, file size %d", ErrFull, need, st.freeOffset, size)
	}
	off := st.freeOffset
	st.freeOffset += need
	if err := st.zero(off, need); err != nil {
		return 0, err
	}
	return off, nil
}

// beginUpdate opens the journal transaction bracketing a public mutating
// operation. Brackets nest; only the outermost commits.
func (st *Storage) beginUpdate() {
	st.updateDepth++
	if st.updateDepth == 1 && st.journal != nil {
		st.trx = st.journal.Begin()
	}
}

// endUpdate closes the outermost bracket, committing the transaction lazily.
// A failed operation abandons the transaction: its header is never published,
// so a recovery scan treats it as absent.
func (st *Storage) endUpdate(errp *error) {
	st.updateDepth--
	if st.updateDepth > 0 || st.trx == nil {
		return
	}
	t := st.trx
	st.trx = nil
	if *errp != nil {
		return
	}
	if err := t.Commit(true); err != nil {
		*errp = fmt.Errorf("%w: journal commit: %w", ErrIO, err)
	}
}

// writeAt is the single mutation path for the data region: when a journal
// transaction is open the new bytes are logged before they are applied.
// Only the header-commit path and journal recovery on open write mapped bytes
// without going through here.
func (st *Storage) writeAt(off uint64, data []byte) error {
	if err := st.assertLive(); err != nil {
		return err
	}
	if !buf.Has(st.data(), int(off), len(data)) {
		return fmt.Errorf("%w: write of %d bytes at %d out of bounds", ErrFull, len(data), off)
	}
	if st.trx != nil {
		if err := st.trx.Save(off, data); err != nil {
			if errors.Is(err, redo.ErrRedoFull) {
				return fmt.Errorf("%w: redo log full", ErrFull)
			}
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
	}
	copy(st.data()[off:], data)
	return nil
}

var zeroChunk [4096]byte

// zero clears [off, off+n). Routed through writeAt so a journal replay
// reproduces the cleared state.
func (st *Storage) zero(off, n uint64) error {
	for n > 0 {
		step := n
		if step > uint64(len(zeroChunk)) {
			step = uint64(len(zeroChunk))
		}
		if err := st.writeAt(off, zeroChunk[:step]); err != nil {
			return err
		}
		off += step
		n -= step
	}
	return nil
}

func (st *Storage) putU32(off uint64, v uint32) error {
	var b [4]byte
	buf.PutU32(b[:], 0, v)
	return st.writeAt(off, b[:])
}

func (st *Storage) putU64(off uint64, v uint64) error {
	var b [8]byte
	buf.PutU64(b[:], 0, v)
	return st.writeAt(off, b[:])
}

func (st *Storage) putI64(off uint64, v int64) error {
	var b [8]byte
	buf.PutI64(b[:], 0, v)
	return st.writeAt(off, b[:])
}

func (st *Storage) putF64(off uint64, v float64) error {
	return st.putU64(off, math.Float64bits(v))
}

func (st *Storage) data() []byte { return st.m.Bytes() }

func (st *Storage) u32(off uint64) uint32 { return buf.U32(st.data(), int(off)) }
func (st *Storage) u64(off uint64) uint64 { return buf.U64(st.data(), int(off)) }
func (st *Storage) i64(off uint64) int64  { return buf.I64(st.data(), int(off)) }
func (st *Storage) f64(off uint64) float64 {
	return math.Float64frombits(st.u64(off))
}

// bytesAt returns the mapped bytes of the region [off, off+n). The slice
// aliases the mapping and must not escape a single operation.
func (st *Storage) bytesAt(off, n uint64) []byte {
	b, ok := buf.Slice(st.data(), int(off), int(n))
	if !ok {
		return nil
	}
	return b
}
