package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// bondSchema is the minimal schema most tests use: a Root with one field of
// each scalar kind.
func bondSchema(b *SchemaBuilder) error {
	_, err := b.DefineStruct("Root", []FieldDef{
		{Name: "name", Type: "ByteString"},
		{Name: "age", Type: "Int"},
		{Name: "weight", Type: "Float"},
	})
	return err
}

// newTestStore creates a fresh storage under t.TempDir.
func newTestStore(t *testing.T, opts Options, populate func(*SchemaBuilder) error) *Storage {
	t.Helper()
	if opts.FileSize == 0 {
		opts.FileSize = 1 << 20
	}
	opts.Populate = populate
	st, err := Open(filepath.Join(t.TempDir(), "test.shelf"), opts)
	require.NoError(t, err)
	return st
}

// dropProxies force-releases every tracked proxy so a test can close.
func dropProxies(st *Storage) {
	clear(st.proxies)
}

// reopenStore closes st (dropping any leftover proxies) and opens the same
// path again.
func reopenStore(t *testing.T, st *Storage, opts Options) *Storage {
	t.Helper()
	path := st.path
	dropProxies(st)
	require.NoError(t, st.Close())
	st2, err := Open(path, opts)
	require.NoError(t, err)
	return st2
}
