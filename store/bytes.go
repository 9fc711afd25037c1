package store

import (
	"bytes"
	"fmt"

	"github.com/shelfdb/shelf/internal/format"
)

// BytesType is the built-in byte string: a by-reference value laid out as a
// 32-bit length followed by the raw bytes.
type BytesType struct {
	name string
}

func (t *BytesType) Name() string       { return t.name }
func (t *BytesType) ByValue() bool      { return false }
func (t *BytesType) assignSize() uint64 { return 8 }

func (t *BytesType) assign(st *Storage, off uint64, src any) error {
	switch v := src.(type) {
	case nil:
		return st.putU64(off, 0)
	case *Bytes:
		return storeRef(st, t, off, v)
	case []byte:
		nv, err := t.construct(st, v)
		if err != nil {
			return err
		}
		return st.putU64(off, nv.off)
	case string:
		nv, err := t.construct(st, []byte(v))
		if err != nil {
			return err
		}
		return st.putU64(off, nv.off)
	default:
		return fmt.Errorf("%w: cannot assign %T to %s", ErrType, src, t.name)
	}
}

func (t *BytesType) load(st *Storage, off uint64) (Value, error) {
	return loadRefSlot(st, t, off)
}

func (t *BytesType) descriptor() (format.Descriptor, bool) {
	return format.Descriptor{Tag: format.TagBytes, Name: t.name}, !hiddenName(t.name)
}

// New allocates a stand-alone byte string holding b.
func (t *BytesType) New(st *Storage, b []byte) (v *Bytes, err error) {
	if err := st.assertLive(); err != nil {
		return nil, err
	}
	st.beginUpdate()
	defer st.endUpdate(&err)
	v, err = t.construct(st, b)
	if err != nil {
		return nil, err
	}
	st.adopt(v)
	return v, nil
}

func (t *BytesType) construct(st *Storage, b []byte) (*Bytes, error) {
	if uint64(len(b)) > 0xFFFFFFFF {
		return nil, fmt.Errorf("%w: byte string too long (%d)", ErrValue, len(b))
	}
	off, err := st.allocate(4 + uint64(len(b)))
	if err != nil {
		return nil, err
	}
	if err := st.putU32(off, uint32(len(b))); err != nil {
		return nil, err
	}
	if err := st.writeAt(off+4, b); err != nil {
		return nil, err
	}
	return &Bytes{&Proxy{st: st, typ: t, off: off}}, nil
}

// bytesContent returns the mapped contents of the byte string at off. The
// slice aliases the mapping.
func bytesContent(st *Storage, off uint64) []byte {
	n := uint64(st.u32(off))
	return st.bytesAt(off+4, n)
}

// Bytes is the handle to a persistent byte string.
type Bytes struct{ *Proxy }

// Get returns a copy of the contents.
func (x *Bytes) Get() ([]byte, error) {
	if err := x.st.assertLive(); err != nil {
		return nil, err
	}
	return bytes.Clone(bytesContent(x.st, x.off)), nil
}

// Len returns the content length in bytes.
func (x *Bytes) Len() (int, error) {
	if err := x.st.assertLive(); err != nil {
		return 0, err
	}
	return int(x.st.u32(x.off)), nil
}

// Equal reports content equality against a persistent byte string or a plain
// byte sequence. Values of other types compare unequal.
func (x *Bytes) Equal(other any) (bool, error) {
	if err := x.st.assertLive(); err != nil {
		return false, err
	}
	if o, ok := other.(*Bytes); ok && o.st == x.st && o.off == x.off {
		return true, nil
	}
	k, err := normalizeKey(other)
	if err != nil {
		return false, nil
	}
	kb, ok := k.([]byte)
	if !ok {
		return false, nil
	}
	return bytes.Equal(bytesContent(x.st, x.off), kb), nil
}

// Cmp orders the contents lexicographically, with length as tiebreak,
// against a persistent byte string or a plain byte sequence.
func (x *Bytes) Cmp(other any) (int, error) {
	if err := x.st.assertLive(); err != nil {
		return 0, err
	}
	k, err := normalizeKey(other)
	if err != nil {
		return 0, err
	}
	kb, ok := k.([]byte)
	if !ok {
		return 0, fmt.Errorf("%w: cannot order byte string against %T", ErrType, other)
	}
	return bytes.Compare(bytesContent(x.st, x.off), kb), nil
}
