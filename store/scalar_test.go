package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt_InPlaceOps(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	age, err := st.Root().Int("age")
	require.NoError(t, err)

	require.NoError(t, age.Set(27))
	v, err := age.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(27), v)

	require.NoError(t, age.Increment())
	v, _ = age.Get()
	assert.Equal(t, int64(28), v)

	v, err = age.Add(-3)
	require.NoError(t, err)
	assert.Equal(t, int64(25), v)
}

func TestInt_BitOps(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	flags, err := st.Root().Int("age")
	require.NoError(t, err)
	require.NoError(t, flags.Set(0))

	require.NoError(t, flags.SetBit(0))
	require.NoError(t, flags.SetBit(5))
	on, err := flags.TestBit(5)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, flags.ClearBit(5))
	on, _ = flags.TestBit(5)
	assert.False(t, on)

	v, _ := flags.Get()
	assert.Equal(t, int64(1), v)

	require.ErrorIs(t, flags.SetBit(64), ErrValue)
}

func TestScalar_Comparisons(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	age, err := st.Root().Int("age")
	require.NoError(t, err)
	weight, err := st.Root().Float("weight")
	require.NoError(t, err)
	require.NoError(t, age.Set(27))
	require.NoError(t, weight.Set(27.0))

	// Persistent against persistent, and against plain numerics.
	c, err := age.Cmp(weight)
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	c, err = age.Cmp(30)
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = weight.Cmp(int64(20))
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	// Equality against a value of another type is defined and false.
	eq, err := age.Equal([]byte("27"))
	require.NoError(t, err)
	assert.False(t, eq)

	// Ordering against a value of another type is not defined.
	_, err = age.Cmp([]byte("27"))
	require.ErrorIs(t, err, ErrType)
}

func TestFloat_Add(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bondSchema)
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	weight, err := st.Root().Float("weight")
	require.NoError(t, err)
	require.NoError(t, weight.Set(73.1415926))

	v, err := weight.Add(31.45)
	require.NoError(t, err)
	assert.Equal(t, 73.1415926+31.45, v)

	v, err = weight.Get()
	require.NoError(t, err)
	assert.Equal(t, 73.1415926+31.45, v)
}
