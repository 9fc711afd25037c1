package store

import (
	"fmt"
	"sort"

	"github.com/shelfdb/shelf/internal/format"
)

// Schema is the named set of persistent types belonging to one storage.
// Built-in types (Int, Float, ByteString) are pre-registered; the hidden
// types backing the string registry and the persisted type list carry the
// reserved "__" prefix and are neither exposed nor independently persisted.
type Schema struct {
	byName map[string]Type
	order  []Type // user-defined types in insertion order, as persisted

	intT       *IntType
	floatT     *FloatType
	bytesT     *BytesType
	stringSetT *HashType
	typeListT  *ListType
}

// Type returns the named user-visible type.
func (s *Schema) Type(name string) (Type, error) {
	if hiddenName(name) {
		return nil, fmt.Errorf("%w: %q is reserved", ErrValue, name)
	}
	t, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: no type named %q", ErrValue, name)
	}
	return t, nil
}

// Types returns the user-defined types in definition order.
func (s *Schema) Types() []Type {
	out := make([]Type, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Schema) lookup(name string) Type { return s.byName[name] }

func (s *Schema) stringSet() *HashType { return s.stringSetT }
func (s *Schema) typeList() *ListType  { return s.typeListT }

// FieldDef declares one structure field by name and type name.
type FieldDef struct {
	Name string
	Type string
}

// SchemaBuilder registers types into a storage's schema. On creation it is
// handed to the Populate callback; on reopen the persisted descriptors run
// through the same definition methods, so a reopened file reconstructs
// exactly the schema that was populated.
type SchemaBuilder struct {
	st     *Storage
	schema *Schema
}

func newSchemaBuilder(st *Storage) *SchemaBuilder {
	s := &Schema{byName: make(map[string]Type)}
	s.intT = &IntType{name: "Int"}
	s.floatT = &FloatType{name: "Float"}
	s.bytesT = &BytesType{name: "ByteString"}
	s.stringSetT = &HashType{name: "__StringSet", key: s.bytesT}
	s.typeListT = &ListType{name: "__TypeList", elem: s.bytesT}
	for _, t := range []Type{s.intT, s.floatT, s.bytesT, s.stringSetT, s.typeListT} {
		s.byName[t.Name()] = t
	}
	return &SchemaBuilder{st: st, schema: s}
}

// Type resolves a previously defined or built-in type by name.
func (b *SchemaBuilder) Type(name string) (Type, error) {
	return b.schema.Type(name)
}

func (b *SchemaBuilder) resolve(name string) (Type, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty type name", ErrValue)
	}
	t, ok := b.schema.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: no type named %q", ErrValue, name)
	}
	return t, nil
}

func (b *SchemaBuilder) add(t Type) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("%w: empty type name", ErrValue)
	}
	if hiddenName(name) {
		return fmt.Errorf("%w: %q uses the reserved prefix", ErrValue, name)
	}
	if _, exists := b.schema.byName[name]; exists {
		return fmt.Errorf("%w: type %q already defined", ErrValue, name)
	}
	b.schema.byName[name] = t
	b.schema.order = append(b.schema.order, t)
	// During population the type list does not exist yet; create() persists
	// the collected order in one pass afterwards.
	if b.st.typeList != nil {
		return b.st.persistType(t)
	}
	return nil
}

// DefineStruct defines a structure from its own fields and optional bases.
// The layout concatenates the bases' fields and the own fields, then sorts
// all names lexicographically to fix the canonical offsets. An inherited
// field may be redefined with the same type or a supertype (ignored) or a
// subtype (which takes effect); any other redefinition fails.
func (b *SchemaBuilder) DefineStruct(name string, fields []FieldDef, bases ...string) (*StructType, error) {
	t := &StructType{name: name, byName: make(map[string]int)}

	merged := make(map[string]Type)
	var names []string
	place := func(fname string, ft Type) error {
		old, ok := merged[fname]
		if !ok {
			merged[fname] = ft
			names = append(names, fname)
			return nil
		}
		switch {
		case old == ft, isSubtype(old, ft): // same type or widening: keep
			return nil
		case isSubtype(ft, old):
			merged[fname] = ft
			return nil
		default:
			return fmt.Errorf("%w: field %q redefined from %s to %s",
				ErrType, fname, old.Name(), ft.Name())
		}
	}

	for _, baseName := range bases {
		base, err := b.resolve(baseName)
		if err != nil {
			return nil, err
		}
		bs, ok := base.(*StructType)
		if !ok {
			return nil, fmt.Errorf("%w: base %q is not a structure", ErrValue, baseName)
		}
		t.bases = append(t.bases, bs)
		for _, f := range bs.fields {
			if err := place(f.Name, f.Type); err != nil {
				return nil, err
			}
		}
	}
	seen := make(map[string]bool)
	for _, fd := range fields {
		if fd.Name == "" {
			return nil, fmt.Errorf("%w: empty field name in %q", ErrValue, name)
		}
		if seen[fd.Name] {
			return nil, fmt.Errorf("%w: field %q declared twice in %q", ErrValue, fd.Name, name)
		}
		seen[fd.Name] = true
		ft, err := b.resolve(fd.Type)
		if err != nil {
			return nil, err
		}
		if err := place(fd.Name, ft); err != nil {
			return nil, err
		}
		t.own = append(t.own, format.FieldDesc{Name: fd.Name, Type: fd.Type})
	}

	sort.Strings(names)
	var off uint64
	for _, fname := range names {
		ft := merged[fname]
		t.byName[fname] = len(t.fields)
		t.fields = append(t.fields, Field{Name: fname, Type: ft, Off: off})
		off += ft.assignSize()
	}
	t.size = off

	if err := b.add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// DefineList defines a singly-linked list of elem values.
func (b *SchemaBuilder) DefineList(name, elem string) (*ListType, error) {
	et, err := b.resolve(elem)
	if err != nil {
		return nil, err
	}
	t := &ListType{name: name, elem: et}
	if err := b.add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// DefineHash defines a hash table mapping key values to value values.
func (b *SchemaBuilder) DefineHash(name, key, value string) (*HashType, error) {
	return b.defineHash(name, key, value, false, false)
}

// DefineSet defines a hash table with set semantics: keys only.
func (b *SchemaBuilder) DefineSet(name, key string) (*HashType, error) {
	return b.defineHash(name, key, "", true, false)
}

// DefineDict defines a hash table with default-dictionary semantics:
// indexing an absent key constructs a fresh value of the value type.
func (b *SchemaBuilder) DefineDict(name, key, value string) (*HashType, error) {
	return b.defineHash(name, key, value, false, true)
}

func (b *SchemaBuilder) defineHash(name, key, value string, set, def bool) (*HashType, error) {
	kt, err := b.resolve(key)
	if err != nil {
		return nil, fmt.Errorf("%w: key type of %q: %w", ErrValue, name, err)
	}
	t := &HashType{name: name, key: kt, def: def}
	if !set {
		if value == "" {
			return nil, fmt.Errorf("%w: %q needs a value type (use DefineSet for keys only)", ErrValue, name)
		}
		if t.val, err = b.resolve(value); err != nil {
			return nil, err
		}
		if def {
			if _, ok := t.val.(interface {
				newDefault(*Storage) (Value, error)
			}); !ok {
				return nil, fmt.Errorf("%w: %s cannot construct default values", ErrValue, value)
			}
		}
	}
	if err := b.add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// DefineSkipList defines an ordered list of elem values. An empty comparator
// selects the element type's natural ordering, which integers, floats, and
// byte strings have; any other element type needs a key function registered
// under comparator in Options.Comparators, on creation and on every reopen.
func (b *SchemaBuilder) DefineSkipList(name, elem, comparator string) (*SkipListType, error) {
	et, err := b.resolve(elem)
	if err != nil {
		return nil, err
	}
	t := &SkipListType{name: name, elem: et, comparator: comparator}
	if comparator != "" {
		fn, ok := b.st.comparators[comparator]
		if !ok {
			return nil, fmt.Errorf("%w: comparator %q not registered", ErrValue, comparator)
		}
		t.keyFn = fn
	}
	if err := b.add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// DefineNode defines a graph-node type carrying value values.
func (b *SchemaBuilder) DefineNode(name, value string) (*NodeType, error) {
	vt, err := b.resolve(value)
	if err != nil {
		return nil, err
	}
	t := &NodeType{name: name, val: vt}
	if err := b.add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// DefineEdge defines a directed edge kind carrying value values between
// from-nodes and to-nodes.
func (b *SchemaBuilder) DefineEdge(name, value, from, to string) (*EdgeType, error) {
	vt, err := b.resolve(value)
	if err != nil {
		return nil, err
	}
	ft, err := b.resolve(from)
	if err != nil {
		return nil, err
	}
	fn, ok := ft.(*NodeType)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a node type", ErrValue, from)
	}
	tt, err := b.resolve(to)
	if err != nil {
		return nil, err
	}
	tn, ok := tt.(*NodeType)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a node type", ErrValue, to)
	}
	t := &EdgeType{name: name, val: vt, from: fn, to: tn}
	if err := b.add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// DefineBuffer defines a reconstructable-buffer type.
func (b *SchemaBuilder) DefineBuffer(name string) (*BufferType, error) {
	t := &BufferType{name: name}
	if err := b.add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// restore replays the persisted type list through the definition methods.
func (b *SchemaBuilder) restore(typeList *List) error {
	st := b.st
	for entry := st.u64(typeList.off + listOffHead); entry != 0; entry = st.u64(entry) {
		target := st.u64(entry + 8)
		if target == 0 {
			return fmt.Errorf("%w: null descriptor in type list", ErrCorrupt)
		}
		d, err := format.DecodeDescriptor(bytesContent(st, target))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if err := b.defineFromDescriptor(d); err != nil {
			return fmt.Errorf("%w: type %q: %w", ErrCorrupt, d.Name, err)
		}
	}
	return nil
}

func (b *SchemaBuilder) defineFromDescriptor(d format.Descriptor) error {
	var err error
	switch d.Tag {
	case format.TagInt:
		err = b.add(&IntType{name: d.Name})
	case format.TagFloat:
		err = b.add(&FloatType{name: d.Name})
	case format.TagBytes:
		err = b.add(&BytesType{name: d.Name})
	case format.TagList:
		_, err = b.DefineList(d.Name, d.Params[0])
	case format.TagHash, format.TagDict:
		switch {
		case d.Params[1] == "":
			_, err = b.DefineSet(d.Name, d.Params[0])
		case d.Tag == format.TagDict:
			_, err = b.DefineDict(d.Name, d.Params[0], d.Params[1])
		default:
			_, err = b.DefineHash(d.Name, d.Params[0], d.Params[1])
		}
	case format.TagSkipList:
		_, err = b.DefineSkipList(d.Name, d.Params[0], d.Comparator)
	case format.TagStruct:
		fields := make([]FieldDef, len(d.Fields))
		for i, f := range d.Fields {
			fields[i] = FieldDef{Name: f.Name, Type: f.Type}
		}
		_, err = b.DefineStruct(d.Name, fields, d.Bases...)
	case format.TagNode:
		_, err = b.DefineNode(d.Name, d.Params[0])
	case format.TagEdge:
		_, err = b.DefineEdge(d.Name, d.Params[0], d.Params[1], d.Params[2])
	case format.TagBuffer:
		_, err = b.DefineBuffer(d.Name)
	default:
		err = fmt.Errorf("%w: unknown descriptor tag 0x%02X", ErrValue, d.Tag)
	}
	return err
}

// Define registers additional types on an open storage. Their descriptors
// are persisted immediately.
func (st *Storage) Define(fn func(*SchemaBuilder) error) (err error) {
	if err := st.assertLive(); err != nil {
		return err
	}
	st.beginUpdate()
	defer st.endUpdate(&err)
	return fn(&SchemaBuilder{st: st, schema: st.schema})
}
