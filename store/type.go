package store

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/shelfdb/shelf/internal/format"
)

// Type describes a persistent type bound to a storage: its name, its
// assignment kind, and how values of it are read from and written into
// containing slots.
//
// By-value types store their bytes directly in the containing slot; their
// allocation size equals their assignment size and they refuse stand-alone
// creation. By-reference types live in separately allocated regions; the
// containing slot stores an 8-byte offset and the type's constructor
// bump-allocates the region.
type Type interface {
	// Name returns the type's unique name within its storage.
	Name() string

	// ByValue reports the assignment kind.
	ByValue() bool

	// assignSize is the number of bytes a containing slot reserves for a
	// value of this type: the full value for by-value types, an offset for
	// by-reference types.
	assignSize() uint64

	// assign stores src into the slot at off, honoring the by-value /
	// by-reference contract. src may be a persistent value of a compatible
	// type and storage, a foreign value of the type's contents form, or nil
	// to clear a by-reference slot.
	assign(st *Storage, off uint64, src any) error

	// load returns a handle for the value held by the slot at off. For
	// by-reference types a zero offset loads as nil, nil.
	load(st *Storage, off uint64) (Value, error)

	// descriptor returns the reflective record persisted for the type.
	// ok is false for hidden types, which are reconstructed as a side effect
	// of their user-visible container instead of being persisted.
	descriptor() (format.Descriptor, bool)
}

// Compile-time interface checks for every type kind.
var (
	_ Type = (*IntType)(nil)
	_ Type = (*FloatType)(nil)
	_ Type = (*BytesType)(nil)
	_ Type = (*StructType)(nil)
	_ Type = (*ListType)(nil)
	_ Type = (*HashType)(nil)
	_ Type = (*SkipListType)(nil)
	_ Type = (*NodeType)(nil)
	_ Type = (*EdgeType)(nil)
	_ Type = (*BufferType)(nil)
)

// hiddenName reports whether a type name carries the reserved prefix that
// keeps it out of the public schema and the persisted type list.
func hiddenName(name string) bool { return strings.HasPrefix(name, "__") }

// isSubtype reports whether a value of type a may be stored where type b is
// expected. Types are identical or, for structures, related by inheritance.
func isSubtype(a, b Type) bool {
	if a == b {
		return true
	}
	as, okA := a.(*StructType)
	bs, okB := b.(*StructType)
	return okA && okB && as.hasBase(bs)
}

// loadRefSlot resolves a by-reference slot: zero loads as nil.
func loadRefSlot(st *Storage, t Type, slotOff uint64) (Value, error) {
	target := st.u64(slotOff)
	if target == 0 {
		return nil, nil
	}
	return wrap(st, t, target), nil
}

// storeRef writes the offset of an existing persistent value into a slot
// after checking type compatibility and storage identity.
func storeRef(st *Storage, t Type, slotOff uint64, v Value) error {
	if !isSubtype(v.Type(), t) {
		return fmt.Errorf("%w: cannot store %s where %s expected", ErrType, v.Type().Name(), t.Name())
	}
	if v.proxy().st != st {
		return fmt.Errorf("%w: value belongs to a different storage", ErrType)
	}
	return st.putU64(slotOff, v.Offset())
}

// normalizeKey reduces a candidate key to one of the orderable forms: int64,
// float64, or []byte. Persistent scalar values are read out of the mapping.
func normalizeKey(key any) (any, error) {
	switch k := key.(type) {
	case int:
		return int64(k), nil
	case int64:
		return k, nil
	case float64:
		return k, nil
	case string:
		return []byte(k), nil
	case []byte:
		return k, nil
	case *Int:
		return k.Get()
	case *Float:
		return k.Get()
	case *Bytes:
		return k.Get()
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %T is not an orderable key", ErrType, key)
	}
}

// compareKeys orders two normalized keys. Mixed integer and float keys use
// numeric order; byte keys compare lexicographically with length tiebreak.
func compareKeys(a, b any) (int, error) {
	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			return cmpOrdered(av, bv), nil
		case float64:
			return cmpOrdered(float64(av), bv), nil
		}
	case float64:
		switch bv := b.(type) {
		case int64:
			return cmpOrdered(av, float64(bv)), nil
		case float64:
			return cmpOrdered(av, bv), nil
		}
	case []byte:
		if bv, ok := b.([]byte); ok {
			return bytes.Compare(av, bv), nil
		}
	}
	return 0, fmt.Errorf("%w: cannot order %T against %T", ErrType, a, b)
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
