package store

import (
	"fmt"

	"github.com/shelfdb/shelf/internal/format"
)

// List value layout: a head and a tail offset. Each entry is a next offset
// followed by an inline value slot sized per the element type. Insert
// prepends and Append extends through the tail offset, both O(1).
const (
	listOffHead   = 0
	listOffTail   = 8
	listValueSize = 16
)

// ListType is a singly-linked list of elem values.
type ListType struct {
	name string
	elem Type
}

func (t *ListType) Name() string       { return t.name }
func (t *ListType) ByValue() bool      { return false }
func (t *ListType) assignSize() uint64 { return 8 }

// ElemType returns the element type.
func (t *ListType) ElemType() Type { return t.elem }

func (t *ListType) entrySize() uint64 { return 8 + t.elem.assignSize() }

func (t *ListType) assign(st *Storage, off uint64, src any) error {
	switch v := src.(type) {
	case nil:
		return st.putU64(off, 0)
	case *List:
		return storeRef(st, t, off, v)
	default:
		return fmt.Errorf("%w: cannot assign %T to %s", ErrType, src, t.name)
	}
}

func (t *ListType) load(st *Storage, off uint64) (Value, error) {
	return loadRefSlot(st, t, off)
}

func (t *ListType) descriptor() (format.Descriptor, bool) {
	return format.Descriptor{Tag: format.TagList, Name: t.name, Params: []string{t.elem.Name()}},
		!hiddenName(t.name)
}

// New allocates a stand-alone empty list.
func (t *ListType) New(st *Storage) (v *List, err error) {
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

func (t *ListType) construct(st *Storage) (*List, error) {
	off, err := st.allocate(listValueSize)
	if err != nil {
		return nil, err
	}
	return &List{&Proxy{st: st, typ: t, off: off}}, nil
}

func (t *ListType) newDefault(st *Storage) (Value, error) {
	return t.construct(st)
}

// List is the handle to a persistent singly-linked list.
type List struct{ *Proxy }

func (l *List) listType() *ListType { return l.typ.(*ListType) }

// Insert prepends v.
func (l *List) Insert(v any) (err error) {
	if err := l.st.assertLive(); err != nil {
		return err
	}
	l.st.beginUpdate()
	defer l.st.endUpdate(&err)

	entry, err := l.newEntry(v)
	if err != nil {
		return err
	}
	head := l.st.u64(l.off + listOffHead)
	if err := l.st.putU64(entry, head); err != nil {
		return err
	}
	if err := l.st.putU64(l.off+listOffHead, entry); err != nil {
		return err
	}
	if head == 0 {
		return l.st.putU64(l.off+listOffTail, entry)
	}
	return nil
}

// Append extends the list at the tail.
func (l *List) Append(v any) (err error) {
	if err := l.st.assertLive(); err != nil {
		return err
	}
	l.st.beginUpdate()
	defer l.st.endUpdate(&err)
	return l.append(v)
}

func (l *List) append(v any) error {
	entry, err := l.newEntry(v)
	if err != nil {
		return err
	}
	tail := l.st.u64(l.off + listOffTail)
	if tail == 0 {
		if err := l.st.putU64(l.off+listOffHead, entry); err != nil {
			return err
		}
	} else if err := l.st.putU64(tail, entry); err != nil {
		return err
	}
	return l.st.putU64(l.off+listOffTail, entry)
}

func (l *List) newEntry(v any) (uint64, error) {
	t := l.listType()
	entry, err := l.st.allocate(t.entrySize())
	if err != nil {
		return 0, err
	}
	if err := t.elem.assign(l.st, entry+8, v); err != nil {
		return 0, err
	}
	return entry, nil
}

// Iter walks the list first to last.
func (l *List) Iter() *ListIter {
	return &ListIter{l: l, next: l.st.u64(l.off + listOffHead)}
}

// ListIter yields element handles in insertion order (for Append) or
// reverse insertion order (for Insert).
type ListIter struct {
	l    *List
	next uint64
	v    Value
	err  error
}

// Next advances to the next entry, loading its value as a tracked proxy.
func (it *ListIter) Next() bool {
	if it.err != nil || it.next == 0 {
		return false
	}
	if it.err = it.l.st.assertLive(); it.err != nil {
		return false
	}
	t := it.l.listType()
	entry := it.next
	it.next = it.l.st.u64(entry)
	if it.v, it.err = t.elem.load(it.l.st, entry+8); it.err != nil {
		return false
	}
	it.l.st.adopt(it.v)
	return true
}

// Value returns the current element.
func (it *ListIter) Value() Value { return it.v }

// Err returns the first error hit while iterating.
func (it *ListIter) Err() error { return it.err }
