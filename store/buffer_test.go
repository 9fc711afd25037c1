package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferSchema(b *SchemaBuilder) error {
	if _, err := b.DefineBuffer("Matrix"); err != nil {
		return err
	}
	_, err := b.DefineStruct("Root", []FieldDef{{Name: "m", Type: "Matrix"}})
	return err
}

func TestBuffer_Roundtrip(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bufferSchema)

	mt, err := st.Schema().Type("Matrix")
	require.NoError(t, err)
	data := []byte{
		1, 0, 2, 0, 3, 0,
		4, 0, 5, 0, 6, 0,
	}
	buf, err := mt.(*BufferType).New(st, BufferSpec{
		Format:   "H",
		ItemSize: 2,
		Shape:    []int{2, 3},
		Data:     data,
	})
	require.NoError(t, err)
	require.NoError(t, st.Root().Set("m", buf))

	st = reopenStore(t, st, Options{})
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	m, err := st.Root().Buffer("m")
	require.NoError(t, err)

	n, err := m.Len()
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	is, err := m.ItemSize()
	require.NoError(t, err)
	assert.Equal(t, 2, is)
	f, err := m.Format()
	require.NoError(t, err)
	assert.Equal(t, "H", f)
	shape, err := m.Shape()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, shape)
	strides, err := m.Strides()
	require.NoError(t, err)
	assert.Equal(t, []int{6, 2}, strides)

	view, err := m.View()
	require.NoError(t, err)
	assert.Equal(t, data, view)
}

func TestBuffer_ViewIsWritable(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bufferSchema)

	mt, err := st.Schema().Type("Matrix")
	require.NoError(t, err)
	buf, err := mt.(*BufferType).New(st, BufferSpec{
		Format:   "B",
		ItemSize: 1,
		Shape:    []int{4},
		Data:     []byte{1, 2, 3, 4},
	})
	require.NoError(t, err)
	require.NoError(t, st.Root().Set("m", buf))

	view, err := buf.View()
	require.NoError(t, err)
	view[2] = 9

	st = reopenStore(t, st, Options{})
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	m, err := st.Root().Buffer("m")
	require.NoError(t, err)
	view, err = m.View()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 9, 4}, view)
}

func TestBuffer_RejectsBadSpecs(t *testing.T) {
	st := newTestStore(t, Options{FileSize: 1 << 16}, bufferSchema)
	defer func() {
		dropProxies(st)
		require.NoError(t, st.Close())
	}()

	mt, err := st.Schema().Type("Matrix")
	require.NoError(t, err)
	bt := mt.(*BufferType)

	// Fortran-order strides are not C-contiguous.
	_, err = bt.New(st, BufferSpec{
		Format:   "H",
		ItemSize: 2,
		Shape:    []int{2, 3},
		Strides:  []int{2, 4},
		Data:     make([]byte, 12),
	})
	require.ErrorIs(t, err, ErrValue)

	// Data length must match the shape.
	_, err = bt.New(st, BufferSpec{
		Format:   "H",
		ItemSize: 2,
		Shape:    []int{2, 3},
		Data:     make([]byte, 10),
	})
	require.ErrorIs(t, err, ErrValue)

	_, err = bt.New(st, BufferSpec{Format: "B", ItemSize: 0, Shape: []int{1}, Data: []byte{0}})
	require.ErrorIs(t, err, ErrValue)
}
