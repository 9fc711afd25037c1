package store

// Proxy is the transient runtime handle to a persistent value: a (storage,
// type, offset) triple that resolves every read and write against the
// storage's current mapping. Proxies never hold raw pointers into the mapped
// region, so closing the storage renders them inert instead of dangling;
// every operation on a proxy first asserts the storage is still open.
//
// Proxy identity is (storage, offset). A proxy handed out by a public
// accessor is tracked as live until Release is called; Close refuses to run
// while tracked proxies exist (the root, string registry, and persisted type
// list are exempt).
type Proxy struct {
	st  *Storage
	typ Type
	off uint64
}

// Value is any persistent value handle.
type Value interface {
	// Type returns the value's persistent type.
	Type() Type
	// Offset returns the value's byte position within the primary file.
	Offset() uint64
	// IsSameAs reports proxy identity: same storage and same offset.
	IsSameAs(o Value) bool
	// Release drops the live-proxy registration. After Release the handle
	// must not be used; releasing twice is a no-op.
	Release()

	proxy() *Proxy
}

// Type returns the value's persistent type.
func (p *Proxy) Type() Type { return p.typ }

// Offset returns the value's byte position within the primary file.
func (p *Proxy) Offset() uint64 { return p.off }

// Storage returns the storage the proxy belongs to.
func (p *Proxy) Storage() *Storage { return p.st }

// IsSameAs reports proxy identity: same storage and same offset.
func (p *Proxy) IsSameAs(o Value) bool {
	if o == nil {
		return false
	}
	q := o.proxy()
	return p.st == q.st && p.off == q.off
}

// Release drops the live-proxy registration.
func (p *Proxy) Release() {
	delete(p.st.proxies, p)
}

func (p *Proxy) proxy() *Proxy { return p }

// wrap constructs the concrete handle for a value of type t at off. The
// handle is not yet tracked; public accessors adopt it before returning.
func wrap(st *Storage, t Type, off uint64) Value {
	p := &Proxy{st: st, typ: t, off: off}
	switch t.(type) {
	case *IntType:
		return &Int{p}
	case *FloatType:
		return &Float{p}
	case *BytesType:
		return &Bytes{p}
	case *StructType:
		return &Struct{p}
	case *ListType:
		return &List{p}
	case *HashType:
		return &Hash{p}
	case *SkipListType:
		return &SkipList{p}
	case *NodeType:
		return &GraphNode{p}
	case *EdgeType:
		return &GraphEdge{p}
	case *BufferType:
		return &Buffer{p}
	default:
		panic("store: unknown type kind")
	}
}
