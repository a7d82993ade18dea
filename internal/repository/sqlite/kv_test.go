package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Rrens/chatnil/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *KV {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestKV_SetGetOverwrite(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte("one")))
	require.NoError(t, s.Set(ctx, "k", []byte("two")))

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "two", string(v))

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestKV_KeysTreatsUnderscoreLiterally(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.Set(ctx, kv.HistoryKey("a_b"), []byte("1")))
	require.NoError(t, s.Set(ctx, kv.HistoryKey("axb"), []byte("2")))

	keys, err := s.Keys(ctx, kv.UserPrefix("a_b"))
	require.NoError(t, err)
	assert.Equal(t, []string{kv.HistoryKey("a_b")}, keys)

	n, err := kv.DeletePrefix(ctx, s, kv.Root)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestKV_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mirror.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}
