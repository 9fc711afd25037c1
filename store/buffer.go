package store

import (
	"bytes"
	"fmt"

	"github.com/shelfdb/shelf/internal/format"
)

// Buffer value layout: total byte length, item size, dimension count, a
// NUL-padded format tag, then the shape and stride arrays and the bytes
// themselves, copied C-contiguously from the producer.
const (
	bufOffLen      = 0
	bufOffItemSize = 8
	bufOffNDim     = 16
	bufOffFormat   = 24
	bufOffShape    = 40
	bufFormatSize  = 16
)

// BufferSpec describes a foreign buffer to be persisted. Strides may be
// omitted; when given they must describe the C-contiguous layout of Shape,
// or the copy is refused.
type BufferSpec struct {
	Format   string
	ItemSize int
	Shape    []int
	Strides  []int
	Data     []byte
}

// BufferType persists a snapshot of a foreign numeric buffer and serves a
// read-write view of it back to consumers. It carries no conversion logic.
type BufferType struct {
	name string
}

func (t *BufferType) Name() string       { return t.name }
func (t *BufferType) ByValue() bool      { return false }
func (t *BufferType) assignSize() uint64 { return 8 }

func (t *BufferType) assign(st *Storage, off uint64, src any) error {
	switch v := src.(type) {
	case nil:
		return st.putU64(off, 0)
	case *Buffer:
		return storeRef(st, t, off, v)
	default:
		return fmt.Errorf("%w: cannot assign %T to %s", ErrType, src, t.name)
	}
}

func (t *BufferType) load(st *Storage, off uint64) (Value, error) {
	return loadRefSlot(st, t, off)
}

func (t *BufferType) descriptor() (format.Descriptor, bool) {
	return format.Descriptor{Tag: format.TagBuffer, Name: t.name}, !hiddenName(t.name)
}

// New copies spec's bytes into a stand-alone buffer value.
func (t *BufferType) New(st *Storage, spec BufferSpec) (v *Buffer, err error) {
	if err := st.assertLive(); err != nil {
		return nil, err
	}
	strides, err := spec.contiguousStrides()
	if err != nil {
		return nil, err
	}
	if len(spec.Format) >= bufFormatSize {
		return nil, fmt.Errorf("%w: buffer format %q too long", ErrValue, spec.Format)
	}
	st.beginUpdate()
	defer st.endUpdate(&err)

	ndim := uint64(len(spec.Shape))
	off, err := st.allocate(bufOffShape + 2*ndim*8 + uint64(len(spec.Data)))
	if err != nil {
		return nil, err
	}
	if err := st.putU64(off+bufOffLen, uint64(len(spec.Data))); err != nil {
		return nil, err
	}
	if err := st.putU64(off+bufOffItemSize, uint64(spec.ItemSize)); err != nil {
		return nil, err
	}
	if err := st.putU64(off+bufOffNDim, ndim); err != nil {
		return nil, err
	}
	var fmtBytes [bufFormatSize]byte
	copy(fmtBytes[:], spec.Format)
	if err := st.writeAt(off+bufOffFormat, fmtBytes[:]); err != nil {
		return nil, err
	}
	for i := range spec.Shape {
		if err := st.putU64(off+bufOffShape+uint64(i)*8, uint64(spec.Shape[i])); err != nil {
			return nil, err
		}
	}
	stridesOff := off + bufOffShape + ndim*8
	for i := range strides {
		if err := st.putU64(stridesOff+uint64(i)*8, uint64(strides[i])); err != nil {
			return nil, err
		}
	}
	if err := st.writeAt(off+bufOffShape+2*ndim*8, spec.Data); err != nil {
		return nil, err
	}
	v = &Buffer{&Proxy{st: st, typ: t, off: off}}
	st.adopt(v)
	return v, nil
}

// contiguousStrides validates spec and returns its C-contiguous strides.
func (s BufferSpec) contiguousStrides() ([]int, error) {
	if s.ItemSize <= 0 {
		return nil, fmt.Errorf("%w: buffer item size %d", ErrValue, s.ItemSize)
	}
	expected := make([]int, len(s.Shape))
	n := s.ItemSize
	for i := len(s.Shape) - 1; i >= 0; i-- {
		if s.Shape[i] < 0 {
			return nil, fmt.Errorf("%w: negative buffer dimension", ErrValue)
		}
		expected[i] = n
		n *= s.Shape[i]
	}
	if len(s.Strides) > 0 {
		if len(s.Strides) != len(s.Shape) {
			return nil, fmt.Errorf("%w: %d strides for %d dimensions", ErrValue, len(s.Strides), len(s.Shape))
		}
		for i := range s.Strides {
			if s.Strides[i] != expected[i] {
				return nil, fmt.Errorf("%w: buffer is not C-contiguous", ErrValue)
			}
		}
	}
	if len(s.Data) != n {
		return nil, fmt.Errorf("%w: buffer holds %d bytes, shape wants %d", ErrValue, len(s.Data), n)
	}
	return expected, nil
}

// Buffer is the handle to a persisted buffer snapshot.
type Buffer struct{ *Proxy }

// Len returns the total byte length.
func (b *Buffer) Len() (int, error) {
	if err := b.st.assertLive(); err != nil {
		return 0, err
	}
	return int(b.st.u64(b.off + bufOffLen)), nil
}

// ItemSize returns the per-item byte width.
func (b *Buffer) ItemSize() (int, error) {
	if err := b.st.assertLive(); err != nil {
		return 0, err
	}
	return int(b.st.u64(b.off + bufOffItemSize)), nil
}

// Format returns the producer's format tag.
func (b *Buffer) Format() (string, error) {
	if err := b.st.assertLive(); err != nil {
		return "", err
	}
	raw := b.st.bytesAt(b.off+bufOffFormat, bufFormatSize)
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw), nil
}

// Shape returns the dimension extents.
func (b *Buffer) Shape() ([]int, error) {
	return b.dims(0)
}

// Strides returns the per-dimension byte strides.
func (b *Buffer) Strides() ([]int, error) {
	ndim := b.st.u64(b.off + bufOffNDim)
	return b.dims(ndim * 8)
}

func (b *Buffer) dims(skip uint64) ([]int, error) {
	if err := b.st.assertLive(); err != nil {
		return nil, err
	}
	ndim := b.st.u64(b.off + bufOffNDim)
	out := make([]int, ndim)
	for i := range out {
		out[i] = int(b.st.u64(b.off + bufOffShape + skip + uint64(i)*8))
	}
	return out, nil
}

// View returns the mapped bytes read-write. Mutations through the view land
// in the file directly, bypassing the redo log; they become durable at the
// next header commit.
func (b *Buffer) View() ([]byte, error) {
	if err := b.st.assertLive(); err != nil {
		return nil, err
	}
	n := b.st.u64(b.off + bufOffLen)
	ndim := b.st.u64(b.off + bufOffNDim)
	return b.st.bytesAt(b.off+bufOffShape+2*ndim*8, n), nil
}
