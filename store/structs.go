package store

import (
	"fmt"

	"github.com/shelfdb/shelf/internal/format"
)

// Field is a named slot within a structure. Offsets are fixed at
// type-definition time: field names are sorted lexicographically and their
// assignment sizes summed, so the layout is canonical regardless of
// declaration order and stable across reopens.
type Field struct {
	Name string
	Type Type
	Off  uint64
}

// StructType is a composite by-reference type: a sequence of named fields at
// fixed offsets. A derived structure's layout is the concatenation of its
// bases' fields and its own, re-canonicalized by the same sort rule.
type StructType struct {
	name   string
	bases  []*StructType
	fields []Field
	byName map[string]int
	size   uint64

	// own holds the declared (non-inherited) fields for the descriptor.
	own []format.FieldDesc
}

func (t *StructType) Name() string       { return t.name }
func (t *StructType) ByValue() bool      { return false }
func (t *StructType) assignSize() uint64 { return 8 }

// Size returns the structure's allocation size in bytes.
func (t *StructType) Size() uint64 { return t.size }

// Fields returns the canonical field layout.
func (t *StructType) Fields() []Field { return t.fields }

func (t *StructType) hasBase(b *StructType) bool {
	for _, base := range t.bases {
		if base == b || base.hasBase(b) {
			return true
		}
	}
	return false
}

func (t *StructType) field(name string) (*Field, error) {
	i, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no field %q", ErrValue, t.name, name)
	}
	return &t.fields[i], nil
}

func (t *StructType) assign(st *Storage, off uint64, src any) error {
	switch v := src.(type) {
	case nil:
		return st.putU64(off, 0)
	case *Struct:
		return storeRef(st, t, off, v)
	default:
		return fmt.Errorf("%w: cannot assign %T to %s", ErrType, src, t.name)
	}
}

func (t *StructType) load(st *Storage, off uint64) (Value, error) {
	return loadRefSlot(st, t, off)
}

func (t *StructType) descriptor() (format.Descriptor, bool) {
	d := format.Descriptor{Tag: format.TagStruct, Name: t.name, Fields: t.own}
	for _, b := range t.bases {
		d.Bases = append(d.Bases, b.name)
	}
	return d, !hiddenName(t.name)
}

// New allocates a stand-alone value with all fields zero: numeric fields
// read as zero, by-reference fields as null.
func (t *StructType) New(st *Storage) (v *Struct, err error) {
	if err := st.assertLive(); err != nil {
		return nil, err
	}
	st.beginUpdate()
	defer st.endUpdate(&err)
	v, err = t.construct(st)
	if err != nil {
		return nil, err
	}
	st.adopt(v)
	return v, nil
}

func (t *StructType) construct(st *Storage) (*Struct, error) {
	off, err := st.allocate(t.size)
	if err != nil {
		return nil, err
	}
	return &Struct{&Proxy{st: st, typ: t, off: off}}, nil
}

func (t *StructType) newDefault(st *Storage) (Value, error) {
	return t.construct(st)
}

// Struct is the handle to a persistent structure.
type Struct struct{ *Proxy }

func (s *Struct) structType() *StructType { return s.typ.(*StructType) }

// Get reads the field. By-value fields yield a handle over the inline slot;
// by-reference fields resolve the stored offset, yielding nil when null.
func (s *Struct) Get(name string) (Value, error) {
	if err := s.st.assertLive(); err != nil {
		return nil, err
	}
	f, err := s.structType().field(name)
	if err != nil {
		return nil, err
	}
	v, err := f.Type.load(s.st, s.off+f.Off)
	if err != nil {
		return nil, err
	}
	s.st.adopt(v)
	return v, nil
}

// Set writes the field. A persistent source must be of a subtype of the
// field's type and belong to the same storage; a foreign source of the
// type's contents form follows the type's assignment rule; nil clears a
// by-reference field.
func (s *Struct) Set(name string, v any) (err error) {
	if err := s.st.assertLive(); err != nil {
		return err
	}
	f, err := s.structType().field(name)
	if err != nil {
		return err
	}
	s.st.beginUpdate()
	defer s.st.endUpdate(&err)
	return f.Type.assign(s.st, s.off+f.Off, v)
}

// Int reads an integer field.
func (s *Struct) Int(name string) (*Int, error) {
	return fieldAs[*Int](s, name)
}

// Float reads a float field.
func (s *Struct) Float(name string) (*Float, error) {
	return fieldAs[*Float](s, name)
}

// Bytes reads a byte-string field; nil when null.
func (s *Struct) Bytes(name string) (*Bytes, error) {
	return fieldAs[*Bytes](s, name)
}

// Struct reads a structure field; nil when null.
func (s *Struct) Struct(name string) (*Struct, error) {
	return fieldAs[*Struct](s, name)
}

// List reads a list field; nil when null.
func (s *Struct) List(name string) (*List, error) {
	return fieldAs[*List](s, name)
}

// Hash reads a hash-table field; nil when null.
func (s *Struct) Hash(name string) (*Hash, error) {
	return fieldAs[*Hash](s, name)
}

// SkipList reads a skip-list field; nil when null.
func (s *Struct) SkipList(name string) (*SkipList, error) {
	return fieldAs[*SkipList](s, name)
}

// Node reads a graph-node field; nil when null.
func (s *Struct) Node(name string) (*GraphNode, error) {
	return fieldAs[*GraphNode](s, name)
}

// Buffer reads a buffer field; nil when null.
func (s *Struct) Buffer(name string) (*Buffer, error) {
	return fieldAs[*Buffer](s, name)
}

func fieldAs[T Value](s *Struct, name string) (T, error) {
	var zero T
	v, err := s.Get(name)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	tv, ok := v.(T)
	if !ok {
		v.Release()
		return zero, fmt.Errorf("%w: field %q holds a %s", ErrType, name, v.Type().Name())
	}
	return tv, nil
}
