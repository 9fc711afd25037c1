package store

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/shelfdb/shelf/internal/format"
	"github.com/shelfdb/shelf/internal/mmfile"
	"github.com/shelfdb/shelf/store/redo"
)

// Storage binds a mapped file to a schema, a string registry, a persisted
// type list, a root value, and the optional redo log.
//
// A storage is single-owner: no two goroutines may issue operations on the
// same storage or its proxies concurrently.
type Storage struct {
	path    string
	m       *mmfile.File
	log     *zap.Logger
	journal *redo.Log

	schema      *Schema
	comparators map[string]KeyFunc

	currentSlot int
	revision    uint64
	freeOffset  uint64

	registryOff uint64
	typeListOff uint64
	rootOff     uint64

	registry *Hash
	typeList *List
	root     *Struct

	proxies     map[*Proxy]struct{}
	trx         *redo.Trx
	updateDepth int
	closed      bool
}

// Open opens the storage at path. A non-existent path is created with
// opts.FileSize bytes (rounded up to the page size, plus the two header
// slots) and populated through opts.Populate; an existing path is mapped at
// its current size and its schema reconstructed from the persisted type list.
func Open(path string, opts Options) (*Storage, error) {
	opts.applyDefaults()
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
		}
		return create(path, opts)
	}
	return reopen(path, opts)
}

func create(path string, opts Options) (st *Storage, err error) {
	if opts.FileSize <= 0 {
		return nil, fmt.Errorf("%w: a positive file size is required to create %s", ErrValue, path)
	}
	page := int64(os.Getpagesize())
	size := (opts.FileSize+page-1)/page*page + format.HeaderRegionSize

	m, err := mmfile.Create(path, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	st = &Storage{
		path:        path,
		m:           m,
		log:         opts.Logger,
		comparators: opts.Comparators,
		freeOffset:  format.HeaderRegionSize,
		proxies:     make(map[*Proxy]struct{}),
	}
	defer func() {
		if err != nil {
			jp := ""
			if st.journal != nil {
				jp = st.journal.Path()
			}
			st.discard()
			_ = os.Remove(path)
			if jp != "" {
				_ = os.Remove(jp)
			}
		}
	}()

	if opts.Journal {
		jp := journalPath(path, opts)
		_ = os.Remove(jp) // a leftover log cannot describe this fresh file
		st.journal, err = redo.Create(jp, opts.JournalSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIO, err)
		}
	}

	builder := newSchemaBuilder(st)
	st.schema = builder.schema
	if opts.Populate != nil {
		if err = opts.Populate(builder); err != nil {
			return nil, err
		}
	}
	rootT, ok := st.schema.lookup("Root").(*StructType)
	if !ok {
		return nil, fmt.Errorf("%w: schema must define a structure named Root", ErrValue)
	}

	// Lay out the registry and type list, persist the reflective schema, then
	// construct the root. None of this is
	// journaled: until the first clean header lands, the file is not a valid
	// store at all.
	if st.registry, err = st.schema.stringSet().construct(st, opts.RegistryCapacity); err != nil {
		return nil, err
	}
	if st.typeList, err = st.schema.typeList().construct(st); err != nil {
		return nil, err
	}
	st.registryOff = st.registry.off
	st.typeListOff = st.typeList.off
	for _, t := range st.schema.order {
		if err = st.persistType(t); err != nil {
			return nil, err
		}
	}
	if st.root, err = rootT.construct(st); err != nil {
		return nil, err
	}
	st.rootOff = st.root.off

	if err = st.commitHeader(false); err != nil {
		return nil, err
	}
	st.log.Info("created storage",
		zap.String("path", path),
		zap.Int64("size", size),
		zap.Bool("journal", st.journal != nil))
	return st, nil
}

func reopen(path string, opts Options) (st *Storage, err error) {
	m, err := mmfile.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	st = &Storage{
		path:        path,
		m:           m,
		log:         opts.Logger,
		comparators: opts.Comparators,
		proxies:     make(map[*Proxy]struct{}),
	}
	defer func() {
		if err != nil {
			st.discard()
		}
	}()

	if opts.FileSize > 0 && opts.FileSize+format.HeaderRegionSize > m.Size() {
		return nil, fmt.Errorf("%w: growing an existing file is not supported (%s)", ErrValue, path)
	}

	h, slot, err := pickHeader(m.Bytes())
	if err != nil {
		return nil, err
	}
	st.currentSlot = slot
	st.revision = h.Revision
	st.freeOffset = h.FreeOffset
	st.registryOff = h.StringRegistry
	st.typeListOff = h.TypeList
	st.rootOff = h.Root
	if st.freeOffset < format.HeaderRegionSize || st.freeOffset > uint64(m.Size()) {
		return nil, fmt.Errorf("%w: free offset %d out of range", ErrCorrupt, st.freeOffset)
	}
	if h.TypeList == 0 || h.StringRegistry == 0 || h.Root == 0 {
		return nil, fmt.Errorf("%w: header misses a root offset", ErrCorrupt)
	}

	if opts.Journal {
		if err = st.attachJournal(opts); err != nil {
			return nil, err
		}
	}

	builder := newSchemaBuilder(st)
	st.schema = builder.schema
	st.typeList = &List{&Proxy{st: st, typ: st.schema.typeList(), off: st.typeListOff}}
	st.registry = &Hash{&Proxy{st: st, typ: st.schema.stringSet(), off: st.registryOff}}
	if err = builder.restore(st.typeList); err != nil {
		return nil, err
	}
	rootT, ok := st.schema.lookup("Root").(*StructType)
	if !ok {
		return nil, fmt.Errorf("%w: persisted schema has no Root structure", ErrCorrupt)
	}
	st.root = &Struct{&Proxy{st: st, typ: rootT, off: h.Root}}

	st.log.Info("opened storage",
		zap.String("path", path),
		zap.Uint64("revision", st.revision),
		zap.Int("types", len(st.schema.order)))
	return st, nil
}

// attachJournal opens or creates the redo log and replays its committed tail
// into the primary mapping. Replayed regions may lie above the committed
// high-water mark; the mark is advanced past them so they are never handed
// out again. A successful replay is made durable immediately with a fresh
// header commit, after which the log is reset.
func (st *Storage) attachJournal(opts Options) error {
	jp := journalPath(st.path, opts)
	if _, err := os.Stat(jp); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("%w: stat %s: %w", ErrIO, jp, err)
		}
		j, err := redo.Create(jp, opts.JournalSize)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
		st.journal = j
		return nil
	}

	j, err := redo.Open(jp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	st.journal = j

	size := uint64(st.m.Size())
	var maxEnd uint64
	applied, torn, err := j.Recover(func(target uint64, data []byte) error {
		end := target + uint64(len(data))
		if target < format.HeaderRegionSize || end > size {
			return fmt.Errorf("%w: redo record [%d,%d) outside data region", ErrCorrupt, target, end)
		}
		copy(st.data()[target:], data)
		if end > maxEnd {
			maxEnd = end
		}
		return nil
	})
	if err != nil {
		return err
	}
	if aligned := format.Align(maxEnd); aligned > st.freeOffset {
		st.freeOffset = aligned
	}
	if torn {
		st.log.Warn("discarded torn redo tail", zap.String("journal", jp))
	}
	if applied > 0 {
		st.log.Info("recovered redo transactions",
			zap.String("journal", jp),
			zap.Int("applied", applied))
		return st.commitHeader(false)
	}
	return nil
}

// pickHeader decodes both header slots and selects the clean one with the
// highest revision.
func pickHeader(data []byte) (format.Header, int, error) {
	best := -1
	var bestH format.Header
	for slot := 0; slot < 2; slot++ {
		off := slot * format.HeaderSlotSize
		if off+format.HeaderLen > len(data) {
			break
		}
		h, err := format.ParseHeader(data[off : off+format.HeaderLen])
		if err != nil || !h.Clean() {
			continue
		}
		if best < 0 || h.Revision > bestH.Revision {
			best, bestH = slot, h
		}
	}
	if best < 0 {
		return format.Header{}, 0, fmt.Errorf("%w: no clean header", ErrCorrupt)
	}
	return bestH, best, nil
}

// commitHeader publishes the in-memory state as a new clean header in the
// shadow slot. This is the only externally visible durable state transition:
// data pages are flushed first, then the shadow header is written clean at
// revision+1 and flushed, then the superseded slot is marked dirty. The redo
// log, now superseded by the header, is reset.
func (st *Storage) commitHeader(dataAsync bool) error {
	if err := st.m.Sync(dataAsync); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	shadow := 1 - st.currentSlot
	h := format.Header{
		Status:         format.StatusClean,
		Revision:       st.revision + 1,
		FreeOffset:     st.freeOffset,
		StringRegistry: st.registryOff,
		TypeList:       st.typeListOff,
		Root:           st.rootOff,
	}
	shadowOff := shadow * format.HeaderSlotSize
	format.PutHeader(st.data()[shadowOff:shadowOff+format.HeaderLen], h)
	if err := st.m.SyncRange(int64(shadowOff), format.HeaderSlotSize, false); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	oldOff := st.currentSlot * format.HeaderSlotSize
	if st.revision > 0 {
		st.data()[oldOff+format.OffStatus] = format.StatusDirty
	} else {
		// First commit ever: the never-written slot gets a parseable dirty
		// header so both slots decode from here on.
		format.PutHeader(st.data()[oldOff:oldOff+format.HeaderLen], format.Header{
			Status: format.StatusDirty,
		})
	}
	st.currentSlot = shadow
	st.revision = h.Revision
	if st.journal != nil {
		if err := st.journal.Reset(); err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
	}
	return nil
}

// Flush commits the current state: data pages are synced (per mode), and a
// new clean header lands in the shadow slot with a strictly higher revision.
// With FlushAsync the data sync is only scheduled, so the commit is not
// crash-safe until the writeback completes.
func (st *Storage) Flush(mode FlushMode) error {
	if err := st.assertLive(); err != nil {
		return err
	}
	return st.commitHeader(mode == FlushAsync)
}

// Close verifies no proxies other than the root, string registry, and
// persisted type list are live, commits a final clean header, and unmaps.
// With proxies outstanding it fails with ErrProxies and the storage remains
// open. After a successful Close every operation fails with ErrClosed.
func (st *Storage) Close() error {
	if err := st.assertLive(); err != nil {
		return err
	}
	if n := len(st.proxies); n > 0 {
		return fmt.Errorf("%w: %d proxies still live", ErrProxies, n)
	}
	if err := st.commitHeader(false); err != nil {
		return err
	}
	st.log.Info("closed storage", zap.String("path", st.path), zap.Uint64("revision", st.revision))
	st.discard()
	return nil
}

// discard tears the mappings down without any durability work.
func (st *Storage) discard() {
	if st.journal != nil {
		_ = st.journal.Close()
		st.journal = nil
	}
	if st.m != nil {
		_ = st.m.Close()
	}
	st.closed = true
}

// Remove closes the storage and deletes its files.
func (st *Storage) Remove() error {
	jp := ""
	if st.journal != nil {
		jp = st.journal.Path()
	}
	if err := st.Close(); err != nil {
		return err
	}
	if err := os.Remove(st.path); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if jp != "" {
		if err := os.Remove(jp); err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
	}
	return nil
}

// Root returns the root value. The handle is exempt from proxy tracking.
func (st *Storage) Root() *Struct { return st.root }

// Registry returns the string registry. The handle is exempt from proxy
// tracking.
func (st *Storage) Registry() *Hash { return st.registry }

// Schema returns the storage's schema.
func (st *Storage) Schema() *Schema { return st.schema }

// Path returns the primary file path.
func (st *Storage) Path() string { return st.path }

// Revision returns the revision of the current clean header.
func (st *Storage) Revision() uint64 { return st.revision }

// Intern stores b in the string registry if no equal byte sequence is
// persisted yet and returns the persisted copy.
func (st *Storage) Intern(b []byte) (v *Bytes, err error) {
	if err := st.assertLive(); err != nil {
		return nil, err
	}
	st.beginUpdate()
	defer st.endUpdate(&err)
	v, err = st.intern(b)
	if err != nil {
		return nil, err
	}
	st.adopt(v)
	return v, nil
}

// intern is the untracked interning path shared with the schema persister.
func (st *Storage) intern(b []byte) (*Bytes, error) {
	v, err := st.registry.getOrIntern(b, nil)
	if err != nil {
		return nil, err
	}
	return v.(*Bytes), nil
}

func (st *Storage) assertLive() error {
	if st.closed {
		return ErrClosed
	}
	return nil
}

// adopt registers a handle as a live proxy.
func (st *Storage) adopt(v Value) {
	if v == nil {
		return
	}
	st.proxies[v.proxy()] = struct{}{}
}

// persistType encodes t's reflective descriptor, interns it, and appends the
// interned bytes to the persisted type list. Hidden types are skipped: they
// are rebuilt as a side effect of opening, not from descriptors.
func (st *Storage) persistType(t Type) error {
	d, ok := t.descriptor()
	if !ok {
		return nil
	}
	iv, err := st.intern(format.EncodeDescriptor(d))
	if err != nil {
		return err
	}
	return st.typeList.append(iv)
}

func journalPath(path string, opts Options) string {
	if opts.JournalPath != "" {
		return opts.JournalPath
	}
	return path + ".redo"
}
