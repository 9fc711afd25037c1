package store

import (
	"bytes"
	"fmt"

	"github.com/shelfdb/shelf/internal/format"
)

// Graph layout. A node holds the heads of its in-edge-kinds and
// out-edge-kinds lists plus an inline value slot. An edge holds its endpoint
// offsets, the next-edge links for each endpoint's per-kind incidence list,
// and an inline value slot. A kind-list element names an edge kind (as an
// interned string) and heads that kind's edge chain for one node and
// direction.
const (
	nodeOffInKinds  = 0
	nodeOffOutKinds = 8
	nodeOffValue    = 16

	edgeOffFrom     = 0
	edgeOffTo       = 8
	edgeOffNextFrom = 16
	edgeOffNextTo   = 24
	edgeOffValue    = 32

	kindOffName  = 0
	kindOffFirst = 8
	kindOffNext  = 16
	kindElemSize = 24
)

// NodeType is a graph node carrying values of val.
type NodeType struct {
	name string
	val  Type
}

func (t *NodeType) Name() string       { return t.name }
func (t *NodeType) ByValue() bool      { return false }
func (t *NodeType) assignSize() uint64 { return 8 }

// ValueType returns the node's value type.
func (t *NodeType) ValueType() Type { return t.val }

func (t *NodeType) assign(st *Storage, off uint64, src any) error {
	switch v := src.(type) {
	case nil:
		return st.putU64(off, 0)
	case *GraphNode:
		return storeRef(st, t, off, v)
	default:
		return fmt.Errorf("%w: cannot assign %T to %s", ErrType, src, t.name)
	}
}

func (t *NodeType) load(st *Storage, off uint64) (Value, error) {
	return loadRefSlot(st, t, off)
}

func (t *NodeType) descriptor() (format.Descriptor, bool) {
	return format.Descriptor{Tag: format.TagNode, Name: t.name, Params: []string{t.val.Name()}},
		!hiddenName(t.name)
}

// New allocates a stand-alone node with no edges, holding value.
func (t *NodeType) New(st *Storage, value any) (v *GraphNode, err error) {
	if err := st.assertLive(); err != nil {
		return nil, err
	}
	st.beginUpdate()
	defer st.endUpdate(&err)
	v, err = t.construct(st, value)
	if err != nil {
		return nil, err
	}
	st.adopt(v)
	return v, nil
}

func (t *NodeType) construct(st *Storage, value any) (*GraphNode, error) {
	off, err := st.allocate(nodeOffValue + t.val.assignSize())
	if err != nil {
		return nil, err
	}
	if value != nil {
		if err := t.val.assign(st, off+nodeOffValue, value); err != nil {
			return nil, err
		}
	}
	return &GraphNode{&Proxy{st: st, typ: t, off: off}}, nil
}

// EdgeType is a directed edge kind between from-nodes and to-nodes, carrying
// values of val. The type's name is the edge kind; it is interned into the
// string registry when the first edge of the kind is created.
type EdgeType struct {
	name string
	val  Type
	from *NodeType
	to   *NodeType
}

func (t *EdgeType) Name() string       { return t.name }
func (t *EdgeType) ByValue() bool      { return false }
func (t *EdgeType) assignSize() uint64 { return 8 }

// FromType and ToType return the endpoint node types.
func (t *EdgeType) FromType() *NodeType { return t.from }
func (t *EdgeType) ToType() *NodeType   { return t.to }

func (t *EdgeType) assign(st *Storage, off uint64, src any) error {
	switch v := src.(type) {
	case nil:
		return st.putU64(off, 0)
	case *GraphEdge:
		return storeRef(st, t, off, v)
	default:
		return fmt.Errorf("%w: cannot assign %T to %s", ErrType, src, t.name)
	}
}

func (t *EdgeType) load(st *Storage, off uint64) (Value, error) {
	return loadRefSlot(st, t, off)
}

func (t *EdgeType) descriptor() (format.Descriptor, bool) {
	return format.Descriptor{
		Tag:    format.TagEdge,
		Name:   t.name,
		Params: []string{t.val.Name(), t.from.Name(), t.to.Name()},
	}, !hiddenName(t.name)
}

// New ties from and to together with a new edge holding value. The edge is
// prepended to the from-node's out-edges of this kind and the to-node's
// in-edges of this kind; both lists are created on demand. Mismatched
// endpoint types fail with ErrType.
func (t *EdgeType) New(st *Storage, from, to *GraphNode, value any) (v *GraphEdge, err error) {
	if err := st.assertLive(); err != nil {
		return nil, err
	}
	if from == nil || to == nil {
		return nil, fmt.Errorf("%w: edge endpoints must be non-null", ErrValue)
	}
	if !isSubtype(from.typ, t.from) {
		return nil, fmt.Errorf("%w: %s edge cannot start at a %s node", ErrType, t.name, from.typ.Name())
	}
	if !isSubtype(to.typ, t.to) {
		return nil, fmt.Errorf("%w: %s edge cannot end at a %s node", ErrType, t.name, to.typ.Name())
	}
	if from.st != st || to.st != st {
		return nil, fmt.Errorf("%w: edge endpoints belong to a different storage", ErrType)
	}
	st.beginUpdate()
	defer st.endUpdate(&err)

	off, err := st.allocate(edgeOffValue + t.val.assignSize())
	if err != nil {
		return nil, err
	}
	if err := st.putU64(off+edgeOffFrom, from.off); err != nil {
		return nil, err
	}
	if err := st.putU64(off+edgeOffTo, to.off); err != nil {
		return nil, err
	}
	if value != nil {
		if err := t.val.assign(st, off+edgeOffValue, value); err != nil {
			return nil, err
		}
	}

	kind, err := st.intern([]byte(t.name))
	if err != nil {
		return nil, err
	}
	if err := spliceEdge(st, from.off+nodeOffOutKinds, kind.off, off, edgeOffNextFrom); err != nil {
		return nil, err
	}
	if err := spliceEdge(st, to.off+nodeOffInKinds, kind.off, off, edgeOffNextTo); err != nil {
		return nil, err
	}

	v = &GraphEdge{&Proxy{st: st, typ: t, off: off}}
	st.adopt(v)
	return v, nil
}

// spliceEdge prepends the edge at edgeOff to the kind's chain under the
// kind-list headed at headSlot, creating the kind element on demand. The
// edge's own next link is written before the chain head moves to it.
func spliceEdge(st *Storage, headSlot, kindName, edgeOff uint64, nextField uint64) error {
	el := findKind(st, headSlot, kindName)
	if el == 0 {
		var err error
		if el, err = st.allocate(kindElemSize); err != nil {
			return err
		}
		if err := st.putU64(el+kindOffName, kindName); err != nil {
			return err
		}
		if err := st.putU64(el+kindOffNext, st.u64(headSlot)); err != nil {
			return err
		}
		if err := st.putU64(headSlot, el); err != nil {
			return err
		}
	}
	if err := st.putU64(edgeOff+nextField, st.u64(el+kindOffFirst)); err != nil {
		return err
	}
	return st.putU64(el+kindOffFirst, edgeOff)
}

// findKind walks a kind list for the element naming kindName. Interned
// strings are unique per byte sequence, so offset equality decides.
func findKind(st *Storage, headSlot, kindName uint64) uint64 {
	for el := st.u64(headSlot); el != 0; el = st.u64(el + kindOffNext) {
		if st.u64(el+kindOffName) == kindName {
			return el
		}
	}
	return 0
}

// findKindByName matches on the kind's bytes, for traversal before the kind
// was ever interned.
func findKindByName(st *Storage, headSlot uint64, kind string) uint64 {
	want := []byte(kind)
	for el := st.u64(headSlot); el != 0; el = st.u64(el + kindOffNext) {
		if bytes.Equal(bytesContent(st, st.u64(el+kindOffName)), want) {
			return el
		}
	}
	return 0
}

// GraphNode is the handle to a persistent graph node.
type GraphNode struct{ *Proxy }

func (n *GraphNode) nodeType() *NodeType { return n.typ.(*NodeType) }

// Value loads the node's value.
func (n *GraphNode) Value() (Value, error) {
	if err := n.st.assertLive(); err != nil {
		return nil, err
	}
	v, err := n.nodeType().val.load(n.st, n.off+nodeOffValue)
	if err != nil {
		return nil, err
	}
	n.st.adopt(v)
	return v, nil
}

// SetValue stores v as the node's value.
func (n *GraphNode) SetValue(v any) (err error) {
	if err := n.st.assertLive(); err != nil {
		return err
	}
	n.st.beginUpdate()
	defer n.st.endUpdate(&err)
	return n.nodeType().val.assign(n.st, n.off+nodeOffValue, v)
}

// OutEdges iterates the node's outgoing edges of the named kind, most
// recently inserted first.
func (n *GraphNode) OutEdges(kind string) (*EdgeIter, error) {
	return n.edges(kind, n.off+nodeOffOutKinds, edgeOffNextFrom)
}

// InEdges iterates the node's incoming edges of the named kind, most
// recently inserted first.
func (n *GraphNode) InEdges(kind string) (*EdgeIter, error) {
	return n.edges(kind, n.off+nodeOffInKinds, edgeOffNextTo)
}

func (n *GraphNode) edges(kind string, headSlot, nextField uint64) (*EdgeIter, error) {
	if err := n.st.assertLive(); err != nil {
		return nil, err
	}
	et, ok := n.st.schema.lookup(kind).(*EdgeType)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an edge kind", ErrValue, kind)
	}
	it := &EdgeIter{st: n.st, typ: et, nextField: nextField}
	if el := findKindByName(n.st, headSlot, kind); el != 0 {
		it.next = n.st.u64(el + kindOffFirst)
	}
	return it, nil
}

// GraphEdge is the handle to a persistent directed edge.
type GraphEdge struct{ *Proxy }

func (e *GraphEdge) edgeType() *EdgeType { return e.typ.(*EdgeType) }

// Kind returns the edge's kind name.
func (e *GraphEdge) Kind() string { return e.typ.Name() }

// From loads the edge's source node.
func (e *GraphEdge) From() (*GraphNode, error) {
	if err := e.st.assertLive(); err != nil {
		return nil, err
	}
	n := &GraphNode{&Proxy{st: e.st, typ: e.edgeType().from, off: e.st.u64(e.off + edgeOffFrom)}}
	e.st.adopt(n)
	return n, nil
}

// To loads the edge's target node.
func (e *GraphEdge) To() (*GraphNode, error) {
	if err := e.st.assertLive(); err != nil {
		return nil, err
	}
	n := &GraphNode{&Proxy{st: e.st, typ: e.edgeType().to, off: e.st.u64(e.off + edgeOffTo)}}
	e.st.adopt(n)
	return n, nil
}

// Value loads the edge's value.
func (e *GraphEdge) Value() (Value, error) {
	if err := e.st.assertLive(); err != nil {
		return nil, err
	}
	v, err := e.edgeType().val.load(e.st, e.off+edgeOffValue)
	if err != nil {
		return nil, err
	}
	e.st.adopt(v)
	return v, nil
}

// EdgeIter yields edge handles along one per-kind incidence chain.
type EdgeIter struct {
	st        *Storage
	typ       *EdgeType
	nextField uint64
	next      uint64
	e         *GraphEdge
	err       error
}

// Next advances to the next edge, loading it as a tracked proxy.
func (it *EdgeIter) Next() bool {
	if it.err != nil || it.next == 0 {
		return false
	}
	if it.err = it.st.assertLive(); it.err != nil {
		return false
	}
	off := it.next
	it.next = it.st.u64(off + it.nextField)
	it.e = &GraphEdge{&Proxy{st: it.st, typ: it.typ, off: off}}
	it.st.adopt(it.e)
	return true
}

// Edge returns the current edge.
func (it *EdgeIter) Edge() *GraphEdge { return it.e }

// Err returns the first error hit while iterating.
func (it *EdgeIter) Err() error { return it.err }
