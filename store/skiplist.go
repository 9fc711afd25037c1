package store

import (
	"fmt"
	"math/rand"

	"github.com/shelfdb/shelf/internal/format"
)

// Skip-list value layout: the offset of a sentinel head node and an element
// count. A node is a level count, the offset of its next-pointer array (one
// offset per level), and an inline value slot. The sentinel's level is the
// maximum level ever inserted; an insert that draws a higher level extends
// the sentinel by allocating a wider pointer array before publishing it.
const (
	skipOffHead    = 0
	skipOffCount   = 8
	skipValueSize  = 16
	skipNodeLevel  = 0
	skipNodeNexts  = 8
	skipNodeValue  = 16
	skipMaxLevel   = 32
	skipLevelDenom = 3 // P[level >= k+1 | level >= k] = 1/3
)

// SkipListType is an ordered list of elem values. Ordering comes from the
// element type's natural order (integers, floats, byte strings) or from a
// key function registered under comparator in Options.Comparators; the
// comparator name is persisted with the type, never the function itself.
type SkipListType struct {
	name       string
	elem       Type
	comparator string
	keyFn      KeyFunc
}

func (t *SkipListType) Name() string       { return t.name }
func (t *SkipListType) ByValue() bool      { return false }
func (t *SkipListType) assignSize() uint64 { return 8 }

// ElemType returns the element type.
func (t *SkipListType) ElemType() Type { return t.elem }

func (t *SkipListType) assign(st *Storage, off uint64, src any) error {
	switch v := src.(type) {
	case nil:
		return st.putU64(off, 0)
	case *SkipList:
		return storeRef(st, t, off, v)
	default:
		return fmt.Errorf("%w: cannot assign %T to %s", ErrType, src, t.name)
	}
}

func (t *SkipListType) load(st *Storage, off uint64) (Value, error) {
	return loadRefSlot(st, t, off)
}

func (t *SkipListType) descriptor() (format.Descriptor, bool) {
	return format.Descriptor{
		Tag:        format.TagSkipList,
		Name:       t.name,
		Params:     []string{t.elem.Name()},
		Comparator: t.comparator,
	}, !hiddenName(t.name)
}

// orderable reports whether elements can be compared at all.
func (t *SkipListType) orderable() bool {
	if t.keyFn != nil {
		return true
	}
	switch t.elem.(type) {
	case *IntType, *FloatType, *BytesType:
		return true
	default:
		return false
	}
}

// New allocates a stand-alone empty skip list.
func (t *SkipListType) New(st *Storage) (v *SkipList, err error) {
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

func (t *SkipListType) construct(st *Storage) (*SkipList, error) {
	nexts, err := st.allocate(8)
	if err != nil {
		return nil, err
	}
	head, err := st.allocate(skipNodeValue + t.elem.assignSize())
	if err != nil {
		return nil, err
	}
	if err := st.putU64(head+skipNodeLevel, 1); err != nil {
		return nil, err
	}
	if err := st.putU64(head+skipNodeNexts, nexts); err != nil {
		return nil, err
	}
	off, err := st.allocate(skipValueSize)
	if err != nil {
		return nil, err
	}
	if err := st.putU64(off+skipOffHead, head); err != nil {
		return nil, err
	}
	return &SkipList{&Proxy{st: st, typ: t, off: off}}, nil
}

func (t *SkipListType) newDefault(st *Storage) (Value, error) {
	return t.construct(st)
}

// SkipList is the handle to a persistent skip list.
type SkipList struct{ *Proxy }

func (s *SkipList) skipType() *SkipListType { return s.typ.(*SkipListType) }

// Len returns the element count.
func (s *SkipList) Len() (uint64, error) {
	if err := s.st.assertLive(); err != nil {
		return 0, err
	}
	return s.st.u64(s.off + skipOffCount), nil
}

func (s *SkipList) nextOf(node uint64, level uint64) uint64 {
	return s.st.u64(s.st.u64(node+skipNodeNexts) + level*8)
}

func (s *SkipList) setNext(node uint64, level uint64, target uint64) error {
	return s.st.putU64(s.st.u64(node+skipNodeNexts)+level*8, target)
}

// keyOf extracts the orderable key of the node's stored element.
func (s *SkipList) keyOf(node uint64) (any, error) {
	t := s.skipType()
	v, err := t.elem.load(s.st, node+skipNodeValue)
	if err != nil {
		return nil, err
	}
	if t.keyFn != nil {
		k, err := t.keyFn(v)
		if err != nil {
			return nil, err
		}
		return normalizeKey(k)
	}
	return normalizeKey(v)
}

func randLevel() uint64 {
	lvl := uint64(1)
	for lvl < skipMaxLevel && rand.Intn(skipLevelDenom) == 0 {
		lvl++
	}
	return lvl
}

// Insert places v in ascending key order. The node and its pointer array are
// fully written before any predecessor is relinked, so a reader never
// observes a partially built node.
func (s *SkipList) Insert(v any) (err error) {
	if err := s.st.assertLive(); err != nil {
		return err
	}
	t := s.skipType()
	if !t.orderable() {
		return fmt.Errorf("%w: %s has no ordering", ErrType, t.elem.Name())
	}
	s.st.beginUpdate()
	defer s.st.endUpdate(&err)

	lvl := randLevel()
	nexts, err := s.st.allocate(lvl * 8)
	if err != nil {
		return err
	}
	node, err := s.st.allocate(skipNodeValue + t.elem.assignSize())
	if err != nil {
		return err
	}
	if err := s.st.putU64(node+skipNodeLevel, lvl); err != nil {
		return err
	}
	if err := s.st.putU64(node+skipNodeNexts, nexts); err != nil {
		return err
	}
	if err := t.elem.assign(s.st, node+skipNodeValue, v); err != nil {
		return err
	}
	key, err := s.keyOf(node)
	if err != nil {
		return err
	}

	head := s.st.u64(s.off + skipOffHead)
	headLvl := s.st.u64(head + skipNodeLevel)
	if lvl > headLvl {
		if err := s.growHead(head, headLvl, lvl); err != nil {
			return err
		}
		headLvl = lvl
	}

	// Cut list: the predecessor of the new key at every level.
	preds := make([]uint64, headLvl)
	x := head
	for i := int(headLvl) - 1; i >= 0; i-- {
		for {
			nxt := s.nextOf(x, uint64(i))
			if nxt == 0 {
				break
			}
			nk, err := s.keyOf(nxt)
			if err != nil {
				return err
			}
			c, err := compareKeys(nk, key)
			if err != nil {
				return err
			}
			if c >= 0 {
				break
			}
			x = nxt
		}
		preds[i] = x
	}

	for i := uint64(0); i < lvl; i++ {
		if err := s.setNext(node, i, s.nextOf(preds[i], i)); err != nil {
			return err
		}
	}
	for i := uint64(0); i < lvl; i++ {
		if err := s.setNext(preds[i], i, node); err != nil {
			return err
		}
	}
	return s.st.putU64(s.off+skipOffCount, s.st.u64(s.off+skipOffCount)+1)
}

// growHead widens the sentinel's pointer array to lvl levels, extending with
// null pointers. The wider array is fully populated before it is published.
func (s *SkipList) growHead(head, oldLvl, lvl uint64) error {
	nexts, err := s.st.allocate(lvl * 8)
	if err != nil {
		return err
	}
	old := s.st.u64(head + skipNodeNexts)
	for i := uint64(0); i < oldLvl; i++ {
		if err := s.st.putU64(nexts+i*8, s.st.u64(old+i*8)); err != nil {
			return err
		}
	}
	if err := s.st.putU64(head+skipNodeNexts, nexts); err != nil {
		return err
	}
	return s.st.putU64(head+skipNodeLevel, lvl)
}

// seek returns the first node whose key is >= key, or 0.
func (s *SkipList) seek(key any) (uint64, error) {
	head := s.st.u64(s.off + skipOffHead)
	headLvl := s.st.u64(head + skipNodeLevel)
	x := head
	for i := int(headLvl) - 1; i >= 0; i-- {
		for {
			nxt := s.nextOf(x, uint64(i))
			if nxt == 0 {
				break
			}
			nk, err := s.keyOf(nxt)
			if err != nil {
				return 0, err
			}
			c, err := compareKeys(nk, key)
			if err != nil {
				return 0, err
			}
			if c >= 0 {
				break
			}
			x = nxt
		}
	}
	return s.nextOf(x, 0), nil
}

// Find returns the first element whose key equals key, or ErrKeyNotFound.
func (s *SkipList) Find(key any) (Value, error) {
	if err := s.st.assertLive(); err != nil {
		return nil, err
	}
	k, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	node, err := s.seek(k)
	if err != nil {
		return nil, err
	}
	if node != 0 {
		nk, err := s.keyOf(node)
		if err != nil {
			return nil, err
		}
		c, err := compareKeys(nk, k)
		if err != nil {
			return nil, err
		}
		if c == 0 {
			v, err := s.skipType().elem.load(s.st, node+skipNodeValue)
			if err != nil {
				return nil, err
			}
			s.st.adopt(v)
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: no such key in %s", ErrKeyNotFound, s.typ.Name())
}

// Range yields elements from the first key >= from (or the start when from
// is nil) up to, exclusively, the first key >= to (or the end when to is
// nil).
func (s *SkipList) Range(from, to any) (*SkipIter, error) {
	if err := s.st.assertLive(); err != nil {
		return nil, err
	}
	it := &SkipIter{s: s}
	var err error
	if it.to, err = normalizeKey(to); err != nil {
		return nil, err
	}
	if from == nil {
		head := s.st.u64(s.off + skipOffHead)
		it.node = s.nextOf(head, 0)
		return it, nil
	}
	f, err := normalizeKey(from)
	if err != nil {
		return nil, err
	}
	if it.node, err = s.seek(f); err != nil {
		return nil, err
	}
	return it, nil
}

// Iter walks the whole list in ascending key order.
func (s *SkipList) Iter() (*SkipIter, error) {
	return s.Range(nil, nil)
}

// SkipIter yields element handles at level 0.
type SkipIter struct {
	s    *SkipList
	node uint64
	to   any
	v    Value
	err  error
}

// Next advances to the next element, loading it as a tracked proxy.
func (it *SkipIter) Next() bool {
	if it.err != nil || it.node == 0 {
		return false
	}
	if it.err = it.s.st.assertLive(); it.err != nil {
		return false
	}
	if it.to != nil {
		var k any
		if k, it.err = it.s.keyOf(it.node); it.err != nil {
			return false
		}
		c, err := compareKeys(k, it.to)
		if err != nil {
			it.err = err
			return false
		}
		if c >= 0 {
			it.node = 0
			return false
		}
	}
	node := it.node
	it.node = it.s.nextOf(node, 0)
	if it.v, it.err = it.s.skipType().elem.load(it.s.st, node+skipNodeValue); it.err != nil {
		return false
	}
	it.s.st.adopt(it.v)
	return true
}

// Value returns the current element.
func (it *SkipIter) Value() Value { return it.v }

// Err returns the first error hit while iterating.
func (it *SkipIter) Err() error { return it.err }
