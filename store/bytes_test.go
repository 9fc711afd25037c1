package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytes_AssignForeignAndPersistent(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	root := st.Root()

	// Foreign contents allocate a fresh value.
	require.NoError(t, root.Set("name", []byte("Vesper")))
	a, err := root.Bytes("name")
	require.NoError(t, err)

	// A persistent source stores its offset.
	interned, err := st.Intern([]byte("Felix"))
	require.NoError(t, err)
	require.NoError(t, root.Set("name", interned))
	b, err := root.Bytes("name")
	require.NoError(t, err)
	assert.True(t, b.IsSameAs(interned))
	assert.False(t, b.IsSameAs(a))

	// nil clears the slot back to null.
	require.NoError(t, root.Set("name", nil))
	c, err := root.Bytes("name")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestBytes_EqualityAndOrder(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	bt, err := st.Schema().Type("ByteString")
	require.NoError(t, err)
	v, err := bt.(*BytesType).New(st, []byte("abc"))
	require.NoError(t, err)

	eq, err := v.Equal([]byte("abc"))
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = v.Equal("abd")
	require.NoError(t, err)
	assert.False(t, eq)

	// Lexicographic order with length tiebreak.
	c, err := v.Cmp([]byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, -1, c)
	c, err = v.Cmp([]byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	// Equality against other types is defined and false.
	eq, err = v.Equal(27)
	require.NoError(t, err)
	assert.False(t, eq)
}

func TestIntern_Idempotent(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	a, err := st.Intern([]byte("James Bond"))
	require.NoError(t, err)
	b, err := st.Intern([]byte("James Bond"))
	require.NoError(t, err)

	assert.True(t, a.IsSameAs(b))
	assert.Equal(t, a.Offset(), b.Offset())

	// The registry holds the byte sequence exactly once, next to the Root
	// type descriptor interned when the store was created.
	n, err := st.Registry().Len()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	free := st.freeOffset
	_, err = st.Intern([]byte("James Bond"))
	require.NoError(t, err)
	assert.Equal(t, free, st.freeOffset, "re-interning must not allocate")
}

func TestIntern_SurvivesReopen(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)

	v, err := st.Intern([]byte("James Bond"))
	require.NoError(t, err)
	require.NoError(t, st.Root().Set("name", v))
	off := v.Offset()

	st = reopenStore(t, st, Options{})
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	again, err := st.Intern([]byte("James Bond"))
	require.NoError(t, err)
	assert.Equal(t, off, again.Offset(), "reopen must find the persisted copy")

	name, err := st.Root().Bytes("name")
	require.NoError(t, err)
	raw, err := name.Get()
	require.NoError(t, err)
	assert.Equal(t, []byte("James Bond"), raw)
}
