package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashSchema(b *SchemaBuilder) error {
	if _, err := b.DefineStruct("Agent", []FieldDef{
		{Name: "name", Type: "ByteString"},
		{Name: "age", Type: "Int"},
	}); err != nil {
		return err
	}
	if _, err := b.DefineHash("AgentsByName", "ByteString", "Agent"); err != nil {
		return err
	}
	if _, err := b.DefineHash("ScoreByID", "Int", "Float"); err != nil {
		return err
	}
	if _, err := b.DefineSet("NameSet", "ByteString"); err != nil {
		return err
	}
	if _, err := b.DefineDict("TagLists", "ByteString", "Agent"); err != nil {
		return err
	}
	_, err := b.DefineStruct("Root", []FieldDef{{Name: "agents", Type: "AgentsByName"}})
	return err
}

func hashType(t *testing.T, st *Storage, name string) *HashType {
	t.Helper()
	typ, err := st.Schema().Type(name)
	require.NoError(t, err)
	ht, ok := typ.(*HashType)
	require.True(t, ok)
	return ht
}

func TestHash_SetAndIndex(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 18}, hashSchema)
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	h, err := hashType(t, st, "ScoreByID").New(st, 16)
	require.NoError(t, err)

	require.NoError(t, h.Set(int64(7), 1.5))
	require.NoError(t, h.Set(int64(9), 2.5))
	require.NoError(t, h.Set(int64(7), 3.5)) // overwrite

	n, err := h.Len()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	v, err := h.Index(int64(7))
	require.NoError(t, err)
	got, err := v.(*Float).Get()
	require.NoError(t, err)
	assert.Equal(t, 3.5, got)

	_, err = h.Index(int64(8))
	require.ErrorIs(t, err, ErrKeyNotFound)

	ok, err := h.Has(int64(9))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHash_LoadCap(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 18}, hashSchema)
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	// Requested 4 keys: the entry array is the smallest power of two
	// strictly above 6, so 8 slots; the 0.9 cap refuses the 8th key.
	h, err := hashType(t, st, "ScoreByID").New(st, 4)
	require.NoError(t, err)
	capacity, err := h.Capacity()
	require.NoError(t, err)
	require.Equal(t, uint64(8), capacity)

	for i := 0; i < 7; i++ {
		require.NoError(t, h.Set(int64(i), float64(i)))
	}
	err = h.Set(int64(100), 1.0)
	require.ErrorIs(t, err, ErrFull)

	// Overwriting an existing key is still allowed at the cap.
	require.NoError(t, h.Set(int64(3), 9.0))
}

func TestHash_SetSemantics(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 18}, hashSchema)
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	s, err := hashType(t, st, "NameSet").New(st, 8)
	require.NoError(t, err)

	// The setter silently ignores the value; the getter returns the key.
	require.NoError(t, s.Set([]byte("m"), "anything"))
	v, err := s.Index([]byte("m"))
	require.NoError(t, err)
	raw, err := v.(*Bytes).Get()
	require.NoError(t, err)
	assert.Equal(t, []byte("m"), raw)

	// Value and item iteration are type errors on a set.
	_, err = s.Values()
	require.ErrorIs(t, err, ErrType)
	_, err = s.Items()
	require.ErrorIs(t, err, ErrType)
}

func TestHash_GetOrIntern(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 18}, hashSchema)
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	s, err := hashType(t, st, "NameSet").New(st, 8)
	require.NoError(t, err)

	a, err := s.GetOrIntern([]byte("moneypenny"), nil)
	require.NoError(t, err)
	b, err := s.GetOrIntern([]byte("moneypenny"), nil)
	require.NoError(t, err)
	assert.True(t, a.IsSameAs(b))

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestHash_Iterators(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 18}, hashSchema)
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	h, err := hashType(t, st, "ScoreByID").New(st, 16)
	require.NoError(t, err)
	want := map[int64]float64{}
	for i := 0; i < 10; i++ {
		k, v := int64(i), float64(i)*0.5
		want[k] = v
		require.NoError(t, h.Set(k, v))
	}

	got := map[int64]float64{}
	items, err := h.Items()
	require.NoError(t, err)
	for items.Next() {
		k, err := items.Key().(*Int).Get()
		require.NoError(t, err)
		v, err := items.Value().(*Float).Get()
		require.NoError(t, err)
		got[k] = v
	}
	require.NoError(t, items.Err())
	assert.Equal(t, want, got)

	keys := 0
	it := h.Keys()
	for it.Next() {
		assert.NotNil(t, it.Key())
		assert.Nil(t, it.Value())
		keys++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, len(want), keys)
}

func TestHash_DefaultDict(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 18}, hashSchema)
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	d, err := hashType(t, st, "TagLists").New(st, 8)
	require.NoError(t, err)

	// Indexing an absent key constructs a fresh value and bumps the count.
	v, err := d.Index([]byte("00"))
	require.NoError(t, err)
	agent := v.(*Struct)
	require.NoError(t, agent.Set("age", 31))

	n, err := d.Len()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	// The second index returns the same value, not a fresh one.
	v2, err := d.Index([]byte("00"))
	require.NoError(t, err)
	assert.True(t, v.IsSameAs(v2))
	age, err := v2.(*Struct).Int("age")
	require.NoError(t, err)
	got, err := age.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(31), got)
}

func TestHash_StructValuesByName(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 18}, hashSchema)
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	agentT, err := st.Schema().Type("Agent")
	require.NoError(t, err)
	h, err := hashType(t, st, "AgentsByName").New(st, 16)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("agent-%03d", i)
		a, err := agentT.(*StructType).New(st)
		require.NoError(t, err)
		require.NoError(t, a.Set("name", []byte(name)))
		require.NoError(t, a.Set("age", 20+i))
		require.NoError(t, h.Set([]byte(name), a))
	}

	v, err := h.Index([]byte("agent-003"))
	require.NoError(t, err)
	age, err := v.(*Struct).Int("age")
	require.NoError(t, err)
	got, err := age.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(23), got)
}

func TestHash_RoundtripAcrossReopen(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 18}, hashSchema)

	agentT, err := st.Schema().Type("Agent")
	require.NoError(t, err)
	h, err := hashType(t, st, "AgentsByName").New(st, 8)
	require.NoError(t, err)
	require.NoError(t, st.Root().Set("agents", h))

	a, err := agentT.(*StructType).New(st)
	require.NoError(t, err)
	require.NoError(t, a.Set("name", []byte("bill")))
	require.NoError(t, a.Set("age", 57))
	require.NoError(t, h.Set([]byte("bill"), a))

	st = reopenStore(t, st, Options{})
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	h2, err := st.Root().Hash("agents")
	require.NoError(t, err)
	v, err := h2.Index([]byte("bill"))
	require.NoError(t, err)
	age, err := v.(*Struct).Int("age")
	require.NoError(t, err)
	got, err := age.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(57), got)
}
