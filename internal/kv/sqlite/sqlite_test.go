package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/siglog/internal/kv"
	"github.com/roach88/siglog/internal/kv/kvtest"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store { return createTestStore(t) })
}

func TestConformance_Memory(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		s, err := Open(":memory:")
		require.NoError(t, err)
		return s
	})
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()

	require.NoError(t, s.verifyPragma("journal_mode", "wal"))
	require.NoError(t, s.verifyPragma("synchronous", "1"))
	require.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	require.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, []byte("k"), []byte("v")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	layout, err := s.Meta(ctx, "layout_version")
	require.NoError(t, err)
	assert.Equal(t, LayoutVersion, layout)

	_, err = s.Meta(ctx, "missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestScan_BytewiseOrder(t *testing.T) {
	s := createTestStore(t)
	defer s.Close()
	ctx := context.Background()

	for _, k := range [][]byte{{0xff}, {0x00}, []byte("a"), []byte("B")} {
		require.NoError(t, s.Put(ctx, k, []byte("x")))
	}
	it, err := s.Scan(ctx, kv.Range{})
	require.NoError(t, err)
	pairs, err := kv.Collect(it)
	require.NoError(t, err)

	var keys [][]byte
	for _, p := range pairs {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, [][]byte{{0x00}, []byte("B"), []byte("a"), {0xff}}, keys)
}
