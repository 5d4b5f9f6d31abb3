// Package kvtest is the conformance suite for kv.Store implementations.
package kvtest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/siglog/internal/kv"
)

// Opener returns a fresh, empty store. The suite closes it.
type Opener func(t *testing.T) kv.Store

// Run exercises every kv.Store guarantee against stores from open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s kv.Store)
	}{
		{"GetMissing", testGetMissing},
		{"PutGetOverwrite", testPutGetOverwrite},
		{"GetReturnsCopy", testGetReturnsCopy},
		{"Delete", testDelete},
		{"Batch", testBatch},
		{"ScanPrefix", testScanPrefix},
		{"ScanBounds", testScanBounds},
		{"ScanReverse", testScanReverse},
		{"ScanLimit", testScanLimit},
		{"ScanManyPages", testScanManyPages},
		{"ScanEarlyClose", testScanEarlyClose},
		{"WriteDuringScan", testWriteDuringScan},
		{"EmptyValue", testEmptyValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func put(t *testing.T, s kv.Store, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, s.Put(context.Background(), []byte(k), []byte("v:"+k)))
	}
}

func scanKeys(t *testing.T, s kv.Store, r kv.Range) []string {
	t.Helper()
	it, err := s.Scan(context.Background(), r)
	require.NoError(t, err)
	pairs, err := kv.Collect(it)
	require.NoError(t, err)
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		assert.Equal(t, "v:"+string(p.Key), string(p.Value))
		keys = append(keys, string(p.Key))
	}
	return keys
}

func testGetMissing(t *testing.T, s kv.Store) {
	_, err := s.Get(context.Background(), []byte("nope"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, kv.ErrNotFound))
}

func testPutGetOverwrite(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, []byte("a"), []byte("1")))
	got, err := s.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	require.NoError(t, s.Put(ctx, []byte("a"), []byte("2")))
	got, err = s.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)
}

func testGetReturnsCopy(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, []byte("a"), []byte("abc")))
	got, err := s.Get(ctx, []byte("a"))
	require.NoError(t, err)
	got[0] = 'z'

	again, err := s.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func testDelete(t *testing.T, s kv.Store) {
	ctx := context.Background()
	put(t, s, "a")
	require.NoError(t, s.Delete(ctx, []byte("a")))
	_, err := s.Get(ctx, []byte("a"))
	assert.True(t, errors.Is(err, kv.ErrNotFound))

	require.NoError(t, s.Delete(ctx, []byte("never-existed")))
}

func testBatch(t *testing.T, s kv.Store) {
	ctx := context.Background()
	put(t, s, "gone")
	require.NoError(t, s.Batch(ctx, []kv.Op{
		kv.Put([]byte("x"), []byte("v:x")),
		kv.Put([]byte("y"), []byte("v:y")),
		kv.Delete([]byte("gone")),
	}))

	assert.Equal(t, []string{"x", "y"}, scanKeys(t, s, kv.Range{}))
	require.NoError(t, s.Batch(ctx, nil))
}

func testScanPrefix(t *testing.T, s kv.Store) {
	put(t, s, "logs/a/0", "logs/a/1", "logs/ab/0", "logs/b/0", "logs/a", "logt")

	assert.Equal(t, []string{"logs/a/0", "logs/a/1"}, scanKeys(t, s, kv.Prefix("logs", "a")))
	assert.Equal(t,
		[]string{"logs/a", "logs/a/0", "logs/a/1", "logs/ab/0", "logs/b/0"},
		scanKeys(t, s, kv.Prefix("logs")))
	assert.Empty(t, scanKeys(t, s, kv.Prefix("nothing")))
}

func testScanBounds(t *testing.T, s kv.Store) {
	put(t, s, "a", "b", "c", "d")

	tests := []struct {
		name string
		r    kv.Range
		want []string
	}{
		{"unbounded", kv.Range{}, []string{"a", "b", "c", "d"}},
		{"exclusive", kv.Range{Lower: []byte("a"), Upper: []byte("d")}, []string{"b", "c"}},
		{"inclusive", kv.Range{Lower: []byte("a"), Upper: []byte("d"), LowerInclusive: true, UpperInclusive: true}, []string{"a", "b", "c", "d"}},
		{"lower only", kv.Range{Lower: []byte("b"), LowerInclusive: true}, []string{"b", "c", "d"}},
		{"upper only", kv.Range{Upper: []byte("c")}, []string{"a", "b"}},
		{"between keys", kv.Range{Lower: []byte("aa"), Upper: []byte("cc")}, []string{"b", "c"}},
		{"empty", kv.Range{Lower: []byte("b"), Upper: []byte("c")}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scanKeys(t, s, tt.r)
			assert.Equal(t, tt.want, got)

			rev := tt.r
			rev.Reverse = true
			want := make([]string, len(tt.want))
			for i, k := range tt.want {
				want[len(tt.want)-1-i] = k
			}
			assert.Equal(t, want, scanKeys(t, s, rev))
		})
	}
}

func testScanReverse(t *testing.T, s kv.Store) {
	put(t, s, "t/c/1", "t/c/2", "t/c/3", "t/d/1")

	r := kv.Prefix("t", "c")
	r.Reverse = true
	assert.Equal(t, []string{"t/c/3", "t/c/2", "t/c/1"}, scanKeys(t, s, r))
}

func testScanLimit(t *testing.T, s kv.Store) {
	put(t, s, "a", "b", "c", "d")

	assert.Equal(t, []string{"a", "b"}, scanKeys(t, s, kv.Range{Limit: 2}))
	assert.Equal(t, []string{"d", "c", "b"}, scanKeys(t, s, kv.Range{Limit: 3, Reverse: true}))
	assert.Equal(t, []string{"a", "b", "c", "d"}, scanKeys(t, s, kv.Range{Limit: 10}))
}

func testScanManyPages(t *testing.T, s kv.Store) {
	const n = 3*kv.DefaultPageSize + 7
	ops := make([]kv.Op, 0, n)
	for i := 0; i < n; i++ {
		k := "p/" + kv.EncodeIndex(int64(i))
		ops = append(ops, kv.Put([]byte(k), []byte("v:"+k)))
	}
	require.NoError(t, s.Batch(context.Background(), ops))

	keys := scanKeys(t, s, kv.Prefix("p"))
	require.Len(t, keys, n)
	for i, k := range keys {
		assert.Equal(t, "p/"+kv.EncodeIndex(int64(i)), k)
	}

	r := kv.Prefix("p")
	r.Reverse = true
	r.Limit = kv.DefaultPageSize + 1
	keys = scanKeys(t, s, r)
	require.Len(t, keys, kv.DefaultPageSize+1)
	assert.Equal(t, "p/"+kv.EncodeIndex(n-1), keys[0])
	assert.Equal(t, "p/"+kv.EncodeIndex(n-1-kv.DefaultPageSize), keys[len(keys)-1])
}

func testScanEarlyClose(t *testing.T, s kv.Store) {
	for i := 0; i < 10; i++ {
		put(t, s, fmt.Sprintf("k%d", i))
	}

	it, err := s.Scan(context.Background(), kv.Range{})
	require.NoError(t, err)
	require.True(t, it.Next())
	assert.Equal(t, "k0", string(it.Key()))
	require.NoError(t, it.Close())
	assert.False(t, it.Next())

	// The store remains usable after an abandoned scan.
	put(t, s, "after")
	_, err = s.Get(context.Background(), []byte("after"))
	require.NoError(t, err)
}

func testWriteDuringScan(t *testing.T, s kv.Store) {
	ctx := context.Background()
	put(t, s, "w/1", "w/2", "w/3")

	it, err := s.Scan(ctx, kv.Prefix("w"))
	require.NoError(t, err)
	count := 0
	for it.Next() {
		count++
		require.NoError(t, s.Put(ctx, append([]byte("x/"), it.Key()...), []byte("copy")))
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())

	assert.Equal(t, 3, count)
	assert.Len(t, scanKeysRaw(t, s, kv.Prefix("x", "w")), 3)
}

func scanKeysRaw(t *testing.T, s kv.Store, r kv.Range) []kv.Pair {
	t.Helper()
	it, err := s.Scan(context.Background(), r)
	require.NoError(t, err)
	pairs, err := kv.Collect(it)
	require.NoError(t, err)
	return pairs
}

func testEmptyValue(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, []byte("e"), []byte{}))
	got, err := s.Get(ctx, []byte("e"))
	require.NoError(t, err)
	assert.Empty(t, got)
}
