package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/shelfdb/shelf/internal/format"
)

// Hash value layout:
//
//	0x00  u64  capacity (power of two)
//	0x08  u64  used
//	0x10  u64  mask (capacity - 1)
//	0x18  u64  offset of the entry array
//
// Each entry is a flags word (bit 0 = in-use) followed by an inline key slot
// and, unless the table has set semantics, an inline value slot. Unused
// entries hold undefined key and value bytes.
const (
	hashOffCapacity = 0
	hashOffUsed     = 8
	hashOffMask     = 16
	hashOffEntries  = 24
	hashValueSize   = 32

	hashEntryFlagUsed = 1

	defaultHashCapacity = 8
)

// HashType is a keyed table with open addressing. A nil value type gives set
// semantics; def additionally gives default-dictionary semantics, where
// indexing an absent key constructs a fresh value.
type HashType struct {
	name string
	key  Type
	val  Type
	def  bool
}

func (t *HashType) Name() string       { return t.name }
func (t *HashType) ByValue() bool      { return false }
func (t *HashType) assignSize() uint64 { return 8 }

// KeyType returns the key type.
func (t *HashType) KeyType() Type { return t.key }

// ValueType returns the value type; nil for set semantics.
func (t *HashType) ValueType() Type { return t.val }

func (t *HashType) entrySize() uint64 {
	n := uint64(8) + t.key.assignSize()
	if t.val != nil {
		n += t.val.assignSize()
	}
	return n
}

func (t *HashType) assign(st *Storage, off uint64, src any) error {
	switch v := src.(type) {
	case nil:
		return st.putU64(off, 0)
	case *Hash:
		return storeRef(st, t, off, v)
	default:
		return fmt.Errorf("%w: cannot assign %T to %s", ErrType, src, t.name)
	}
}

func (t *HashType) load(st *Storage, off uint64) (Value, error) {
	return loadRefSlot(st, t, off)
}

func (t *HashType) descriptor() (format.Descriptor, bool) {
	tag := format.TagHash
	if t.def {
		tag = format.TagDict
	}
	valName := ""
	if t.val != nil {
		valName = t.val.Name()
	}
	return format.Descriptor{Tag: tag, Name: t.name, Params: []string{t.key.Name(), valName}},
		!hiddenName(t.name)
}

// New allocates a stand-alone table sized for the requested number of keys.
// The entry array holds the smallest power of two strictly larger than
// three halves of the request, so the load cap is reachable only by intent.
func (t *HashType) New(st *Storage, requested uint64) (v *Hash, err error) {
	if err := st.assertLive(); err != nil {
		return nil, err
	}
	st.beginUpdate()
	defer st.endUpdate(&err)
	v, err = t.construct(st, requested)
	if err != nil {
		return nil, err
	}
	st.adopt(v)
	return v, nil
}

func (t *HashType) construct(st *Storage, requested uint64) (*Hash, error) {
	threeHalves := requested + requested/2
	capacity := uint64(1)
	for capacity <= threeHalves {
		capacity <<= 1
	}
	entries, err := st.allocate(capacity * t.entrySize())
	if err != nil {
		return nil, err
	}
	off, err := st.allocate(hashValueSize)
	if err != nil {
		return nil, err
	}
	if err := st.putU64(off+hashOffCapacity, capacity); err != nil {
		return nil, err
	}
	if err := st.putU64(off+hashOffMask, capacity-1); err != nil {
		return nil, err
	}
	if err := st.putU64(off+hashOffEntries, entries); err != nil {
		return nil, err
	}
	return &Hash{&Proxy{st: st, typ: t, off: off}}, nil
}

func (t *HashType) newDefault(st *Storage) (Value, error) {
	return t.construct(st, defaultHashCapacity)
}

// Hash is the handle to a persistent hash table.
type Hash struct{ *Proxy }

func (h *Hash) hashType() *HashType { return h.typ.(*HashType) }

// Len returns the number of keys in the table.
func (h *Hash) Len() (uint64, error) {
	if err := h.st.assertLive(); err != nil {
		return 0, err
	}
	return h.st.u64(h.off + hashOffUsed), nil
}

// Capacity returns the size of the entry array.
func (h *Hash) Capacity() (uint64, error) {
	if err := h.st.assertLive(); err != nil {
		return 0, err
	}
	return h.st.u64(h.off + hashOffCapacity), nil
}

// probe walks the perturbed probe sequence and returns the offset of the
// entry holding key, or of the first unused entry.
func (h *Hash) probe(key any) (entryOff uint64, used bool, err error) {
	t := h.hashType()
	hv, err := keyHash(h.st, t.key, key)
	if err != nil {
		return 0, false, err
	}
	mask := h.st.u64(h.off + hashOffMask)
	entries := h.st.u64(h.off + hashOffEntries)
	es := t.entrySize()
	i := hv & mask
	perturb := hv
	for {
		eOff := entries + i*es
		if h.st.u64(eOff)&hashEntryFlagUsed == 0 {
			return eOff, false, nil
		}
		eq, err := keyEquals(h.st, t.key, eOff+8, key)
		if err != nil {
			return 0, false, err
		}
		if eq {
			return eOff, true, nil
		}
		i = (i<<2 + i + perturb + 1) & mask
		perturb >>= 5
	}
}

// reserve checks the load cap before a new key is added.
func (h *Hash) reserve() error {
	capacity := h.st.u64(h.off + hashOffCapacity)
	used := h.st.u64(h.off + hashOffUsed)
	if (used+1)*10 > capacity*9 {
		return fmt.Errorf("%w: hash table at load cap (%d of %d)", ErrFull, used, capacity)
	}
	return nil
}

// occupy fills an unused entry with key and value and publishes it. The
// in-use flag goes last, after both slots are written, so a type error on
// either assignment leaves the entry unused.
func (h *Hash) occupy(entryOff uint64, key, value any) error {
	if err := h.reserve(); err != nil {
		return err
	}
	t := h.hashType()
	if err := t.key.assign(h.st, entryOff+8, key); err != nil {
		return err
	}
	if t.val != nil && value != nil {
		if err := t.val.assign(h.st, entryOff+8+t.key.assignSize(), value); err != nil {
			return err
		}
	}
	if err := h.st.putU64(entryOff, hashEntryFlagUsed); err != nil {
		return err
	}
	return h.st.putU64(h.off+hashOffUsed, h.st.u64(h.off+hashOffUsed)+1)
}

// GetOrIntern returns the persisted key equal to key, creating it (and, when
// a value type is defined and value is non-nil, setting the value) if no
// such key exists. An existing entry's value is left untouched.
func (h *Hash) GetOrIntern(key, value any) (v Value, err error) {
	if err := h.st.assertLive(); err != nil {
		return nil, err
	}
	h.st.beginUpdate()
	defer h.st.endUpdate(&err)
	v, err = h.getOrIntern(key, value)
	if err != nil {
		return nil, err
	}
	h.st.adopt(v)
	return v, nil
}

func (h *Hash) getOrIntern(key, value any) (Value, error) {
	t := h.hashType()
	eOff, used, err := h.probe(key)
	if err != nil {
		return nil, err
	}
	if !used {
		if err := h.occupy(eOff, key, value); err != nil {
			return nil, err
		}
	}
	return t.key.load(h.st, eOff+8)
}

// Index returns the value stored under key: the value slot for a table with
// a value type, the persisted key itself for a set. An absent key fails with
// ErrKeyNotFound, except in a default dictionary, where a fresh value of the
// value type is constructed, stored, and returned.
func (h *Hash) Index(key any) (v Value, err error) {
	if err := h.st.assertLive(); err != nil {
		return nil, err
	}
	h.st.beginUpdate()
	defer h.st.endUpdate(&err)

	t := h.hashType()
	eOff, used, err := h.probe(key)
	if err != nil {
		return nil, err
	}
	switch {
	case used:
	case t.def:
		c, ok := t.val.(interface {
			newDefault(*Storage) (Value, error)
		})
		if !ok {
			return nil, fmt.Errorf("%w: %s cannot construct default values", ErrType, t.val.Name())
		}
		fresh, err := c.newDefault(h.st)
		if err != nil {
			return nil, err
		}
		if err := h.occupy(eOff, key, fresh); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: no such key in %s", ErrKeyNotFound, t.name)
	}

	if t.val == nil {
		v, err = t.key.load(h.st, eOff+8)
	} else {
		v, err = t.val.load(h.st, eOff+8+t.key.assignSize())
	}
	if err != nil {
		return nil, err
	}
	h.st.adopt(v)
	return v, nil
}

// Set stores value under key, creating the entry if needed. In a table with
// set semantics the value is silently ignored.
func (h *Hash) Set(key, value any) (err error) {
	if err := h.st.assertLive(); err != nil {
		return err
	}
	h.st.beginUpdate()
	defer h.st.endUpdate(&err)

	t := h.hashType()
	eOff, used, err := h.probe(key)
	if err != nil {
		return err
	}
	if !used {
		return h.occupy(eOff, key, value)
	}
	if t.val == nil {
		return nil
	}
	return t.val.assign(h.st, eOff+8+t.key.assignSize(), value)
}

// Has reports whether key is present.
func (h *Hash) Has(key any) (bool, error) {
	if err := h.st.assertLive(); err != nil {
		return false, err
	}
	_, used, err := h.probe(key)
	return used, err
}

const (
	hashIterKeys = iota
	hashIterValues
	hashIterItems
)

// Keys iterates the persisted keys in slot order.
func (h *Hash) Keys() *HashIter {
	return &HashIter{h: h, mode: hashIterKeys}
}

// Values iterates the stored values in slot order. Fails for set semantics.
func (h *Hash) Values() (*HashIter, error) {
	if h.hashType().val == nil {
		return nil, fmt.Errorf("%w: %s has no value type", ErrType, h.typ.Name())
	}
	return &HashIter{h: h, mode: hashIterValues}, nil
}

// Items iterates key/value pairs in slot order. Fails for set semantics.
func (h *Hash) Items() (*HashIter, error) {
	if h.hashType().val == nil {
		return nil, fmt.Errorf("%w: %s has no value type", ErrType, h.typ.Name())
	}
	return &HashIter{h: h, mode: hashIterItems}, nil
}

// HashIter scans in-use entries linearly.
type HashIter struct {
	h    *Hash
	mode int
	i    uint64
	key  Value
	val  Value
	err  error
}

// Next advances to the next in-use entry, loading its key and/or value as
// tracked proxies. Returns false at the end or on error.
func (it *HashIter) Next() bool {
	if it.err != nil {
		return false
	}
	if it.err = it.h.st.assertLive(); it.err != nil {
		return false
	}
	t := it.h.hashType()
	st := it.h.st
	capacity := st.u64(it.h.off + hashOffCapacity)
	entries := st.u64(it.h.off + hashOffEntries)
	es := t.entrySize()
	for ; it.i < capacity; it.i++ {
		eOff := entries + it.i*es
		if st.u64(eOff)&hashEntryFlagUsed == 0 {
			continue
		}
		it.i++
		it.key, it.val = nil, nil
		if it.mode != hashIterValues {
			if it.key, it.err = t.key.load(st, eOff+8); it.err != nil {
				return false
			}
			st.adopt(it.key)
		}
		if it.mode != hashIterKeys {
			if it.val, it.err = t.val.load(st, eOff+8+t.key.assignSize()); it.err != nil {
				return false
			}
			st.adopt(it.val)
		}
		return true
	}
	return false
}

// Key returns the current key (nil in value-only iteration).
func (it *HashIter) Key() Value { return it.key }

// Value returns the current value (nil in key-only iteration).
func (it *HashIter) Value() Value { return it.val }

// Err returns the first error hit while iterating.
func (it *HashIter) Err() error { return it.err }

// keyHash reduces a candidate key to the probe seed. By-value scalars hash
// their slot bytes, byte strings hash their contents, and every other
// by-reference type hashes its offset, so a foreign candidate of the
// contents form hashes identically to its persisted counterpart.
func keyHash(st *Storage, t Type, key any) (uint64, error) {
	var b [8]byte
	switch t.(type) {
	case *IntType:
		k, err := intKey(st, key)
		if err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint64(b[:], uint64(k))
		return fnvSum(b[:]), nil
	case *FloatType:
		k, err := floatKey(st, key)
		if err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(k))
		return fnvSum(b[:]), nil
	case *BytesType:
		k, err := bytesKey(st, key)
		if err != nil {
			return 0, err
		}
		return fnvSum(k), nil
	default:
		v, ok := key.(Value)
		if !ok || !isSubtype(v.Type(), t) || v.proxy().st != st {
			return 0, fmt.Errorf("%w: %T is not a valid %s key", ErrType, key, t.Name())
		}
		binary.LittleEndian.PutUint64(b[:], v.Offset())
		return fnvSum(b[:]), nil
	}
}

// keyEquals compares the key stored in the slot at slotOff against a
// candidate, without materializing a proxy.
func keyEquals(st *Storage, t Type, slotOff uint64, key any) (bool, error) {
	switch t.(type) {
	case *IntType:
		k, err := intKey(st, key)
		if err != nil {
			return false, err
		}
		return st.i64(slotOff) == k, nil
	case *FloatType:
		k, err := floatKey(st, key)
		if err != nil {
			return false, err
		}
		return st.f64(slotOff) == k, nil
	case *BytesType:
		k, err := bytesKey(st, key)
		if err != nil {
			return false, err
		}
		target := st.u64(slotOff)
		if b, ok := key.(*Bytes); ok && b.st == st && b.off == target {
			return true, nil
		}
		return bytes.Equal(bytesContent(st, target), k), nil
	default:
		v, ok := key.(Value)
		if !ok {
			return false, fmt.Errorf("%w: %T is not a valid %s key", ErrType, key, t.Name())
		}
		return st.u64(slotOff) == v.Offset(), nil
	}
}

func intKey(st *Storage, key any) (int64, error) {
	switch k := key.(type) {
	case int:
		return int64(k), nil
	case int64:
		return k, nil
	case *Int:
		return st.i64(k.off), nil
	default:
		return 0, fmt.Errorf("%w: %T is not an integer key", ErrType, key)
	}
}

func floatKey(st *Storage, key any) (float64, error) {
	switch k := key.(type) {
	case float64:
		return k, nil
	case int:
		return float64(k), nil
	case int64:
		return float64(k), nil
	case *Float:
		return st.f64(k.off), nil
	default:
		return 0, fmt.Errorf("%w: %T is not a float key", ErrType, key)
	}
}

func bytesKey(st *Storage, key any) ([]byte, error) {
	switch k := key.(type) {
	case []byte:
		return k, nil
	case string:
		return []byte(k), nil
	case *Bytes:
		return bytesContent(k.st, k.off), nil
	default:
		return nil, fmt.Errorf("%w: %T is not a byte-string key", ErrType, key)
	}
}

func fnvSum(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
