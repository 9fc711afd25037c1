package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfdb/shelf/internal/format"
)

func TestOpen_CreateRequiresFileSize(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.shelf"), Options{Populate: bondSchema})
	require.ErrorIs(t, err, ErrValue)
}

func TestOpen_CreateRequiresRootType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noroot.shelf")
	_, err := Open(path, Options{FileSize: 1 << 16, Populate: func(b *SchemaBuilder) error {
		_, err := b.DefineList("Things", "Int")
		return err
	}})
	require.ErrorIs(t, err, ErrValue)

	// A failed creation must not leave a half-written file behind.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestOpen_RoundsFileSizeUpToPage(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1}, bondSchema)
	defer func() { require.NoError(t, st.Close()) }()

	page := int64(os.Getpagesize())
	assert.Equal(t, page+format.HeaderRegionSize, st.m.Size())
}

func TestOpen_ReopenRejectsGrow(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	path := st.path
	require.NoError(t, st.Close())

	_, err := Open(path, Options{FileSize: 1 << 24})
	require.ErrorIs(t, err, ErrValue)
}

func TestOpen_NoCleanHeader(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	path := st.path
	require.NoError(t, st.Close())

	// Break the status byte of both header slots.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[format.OffStatus] = format.StatusDirty
	raw[format.HeaderSlotSize+format.OffStatus] = format.StatusDirty
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = Open(path, Options{})
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestOpen_BadMagic(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	path := st.path
	require.NoError(t, st.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	copy(raw, "not a shelf file")
	copy(raw[format.HeaderSlotSize:], "not a shelf file")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = Open(path, Options{})
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestHeader_AlternationOnFlush(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	defer func() { require.NoError(t, st.Close()) }()

	slot, rev := st.currentSlot, st.revision
	for i := 0; i < 3; i++ {
		require.NoError(t, st.Flush(FlushSync))
		assert.Equal(t, 1-slot, st.currentSlot, "current slot must flip")
		assert.Greater(t, st.revision, rev, "revision must strictly increase")

		// Exactly one slot is clean after each commit.
		clean := 0
		for s := 0; s < 2; s++ {
			off := s * format.HeaderSlotSize
			h, err := format.ParseHeader(st.data()[off : off+format.HeaderLen])
			require.NoError(t, err)
			if h.Clean() {
				clean++
				assert.Equal(t, st.revision, h.Revision)
			}
		}
		assert.Equal(t, 1, clean)
		slot, rev = st.currentSlot, st.revision
	}
}

func TestAllocator_MonotonicAndDisjoint(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	defer func() { require.NoError(t, st.Close()) }()

	prevFree := st.freeOffset
	var prevEnd uint64
	for _, n := range []uint64{1, 7, 8, 9, 64, 1000} {
		off, err := st.allocate(n)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, off, prevEnd, "ranges must be disjoint")
		assert.Zero(t, off%format.Alignment, "offsets must be aligned")
		assert.GreaterOrEqual(t, st.freeOffset, prevFree, "free offset never decreases")
		prevEnd = off + n
		prevFree = st.freeOffset
	}
}

func TestAllocator_Full(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1}, bondSchema)
	defer func() { require.NoError(t, st.Close()) }()

	_, err := st.allocate(uint64(st.m.Size()))
	require.ErrorIs(t, err, ErrFull)

	// The failed allocation must not move the high-water mark.
	free := st.freeOffset
	_, err = st.allocate(uint64(st.m.Size()))
	require.ErrorIs(t, err, ErrFull)
	assert.Equal(t, free, st.freeOffset)
}

func TestClose_FailsWithLiveProxies(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)

	age, err := st.Root().Int("age")
	require.NoError(t, err)

	err = st.Close()
	require.ErrorIs(t, err, ErrProxies)

	// The storage must remain usable after the refused close.
	require.NoError(t, age.Set(41))

	age.Release()
	require.NoError(t, st.Close())
}

func TestClose_RootProxiesAreExempt(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	_ = st.Root()
	_ = st.Registry()
	require.NoError(t, st.Close())
}

func TestClose_OperationsFailAfterwards(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	age, err := st.Root().Int("age")
	require.NoError(t, err)
	age.Release()
	require.NoError(t, st.Close())

	_, err = age.Get()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, age.Set(1), ErrClosed)
	assert.ErrorIs(t, st.Flush(FlushSync), ErrClosed)
	assert.ErrorIs(t, st.Close(), ErrClosed)
	_, err = st.Intern([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReopen_Roundtrip(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	require.NoError(t, st.Root().Set("age", 27))
	require.NoError(t, st.Root().Set("name", []byte("James Bond")))

	st = reopenStore(t, st, Options{})
	defer func() { require.NoError(t, st.Close()) }()

	age, err := st.Root().Int("age")
	require.NoError(t, err)
	got, err := age.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(27), got)

	name, err := st.Root().Bytes("name")
	require.NoError(t, err)
	raw, err := name.Get()
	require.NoError(t, err)
	assert.Equal(t, []byte("James Bond"), raw)
	dropProxies(st)
}

func TestRemove_DeletesFiles(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16, Journal: true}, bondSchema)
	path := st.path
	jp := st.journal.Path()
	require.NoError(t, st.Remove())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(jp)
	assert.True(t, os.IsNotExist(err))
}

func TestJournal_ReplaysAfterCrash(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16, Journal: true}, bondSchema)
	path := st.path
	require.NoError(t, st.Root().Set("age", 7))
	require.NoError(t, st.Flush(FlushSync))

	// Mutations after the last header commit live only in the journal.
	require.NoError(t, st.Root().Set("age", 99))
	nv, err := st.Intern([]byte("interned late"))
	require.NoError(t, err)
	require.NoError(t, st.Root().Set("name", nv))
	free := st.freeOffset

	// Tear the session down without committing a header.
	st.discard()

	st2, err := Open(path, Options{Journal: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, st2.Close()) }()

	age, err := st2.Root().Int("age")
	require.NoError(t, err)
	got, err := age.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(99), got)

	name, err := st2.Root().Bytes("name")
	require.NoError(t, err)
	raw, err := name.Get()
	require.NoError(t, err)
	assert.Equal(t, []byte("interned late"), raw)

	// Replayed regions must not be handed out again.
	assert.GreaterOrEqual(t, st2.freeOffset, free)
	dropProxies(st2)
}

func TestDefine_PersistsAcrossReopen(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	require.NoError(t, st.Define(func(b *SchemaBuilder) error {
		_, err := b.DefineList("Names", "ByteString")
		return err
	}))

	st = reopenStore(t, st, Options{})
	defer func() { require.NoError(t, st.Close()) }()

	typ, err := st.Schema().Type("Names")
	require.NoError(t, err)
	lt, ok := typ.(*ListType)
	require.True(t, ok)
	assert.Equal(t, "ByteString", lt.ElemType().Name())
}
