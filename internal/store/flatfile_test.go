package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/kv/leveldb"
	"github.com/roach88/siglog/internal/reduction"
	"github.com/roach88/siglog/internal/testutil"
)

func newTestFlatFile(t *testing.T, opts ...FlatFileOption) (*FlatFile, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := leveldb.OpenMemory()
	require.NoError(t, err)
	f, err := NewFlatFile(dir, db, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f, dir
}

func TestFlatFile_Layout(t *testing.T) {
	f, dir := newTestFlatFile(t, WithSync(true))
	kp := testutil.Identity("anna")
	entries := commitLog(t, f, kp, 3)

	info, err := os.Stat(filepath.Join(dir, publishersDir, kp.PublicKey.String(), logFile))
	require.NoError(t, err)
	assert.Equal(t, int64(3*envelope.DigestSize), info.Size())

	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, envelopesDir, e.Digest.String()))
		require.NoError(t, err)
		assert.Equal(t, e.Digest, envelope.HashEncoded(data))
	}

	_, err = os.Stat(filepath.Join(dir, publishersDir, kp.PublicKey.String(), reductionFile))
	require.NoError(t, err)
}

func TestFlatFile_DuplicateEnvelopeIsNotCollision(t *testing.T) {
	f, _ := newTestFlatFile(t)
	env := testutil.Sign(t, testutil.Identity("anna"), 0, testutil.Day(2019, 1, 1), testutil.Post("x"))
	c := testCommit(t, env)

	require.NoError(t, f.writeEnvelope(c.Digest, c.Encoded))
	require.NoError(t, f.writeEnvelope(c.Digest, c.Encoded))
}

func TestFlatFile_HashCollision(t *testing.T) {
	f, _ := newTestFlatFile(t)
	env := testutil.Sign(t, testutil.Identity("anna"), 0, testutil.Day(2019, 1, 1), testutil.Post("x"))
	c := testCommit(t, env)
	require.NoError(t, f.writeEnvelope(c.Digest, c.Encoded))

	err := f.writeEnvelope(c.Digest, []byte(`{"different":true}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHashCollision)

	// The original content is untouched.
	got, err := f.Envelope(context.Background(), c.Digest)
	require.NoError(t, err)
	assert.Equal(t, env.Signature, got.Signature)
}

func TestFlatFile_RejectsOutOfSequenceRecord(t *testing.T) {
	f, _ := newTestFlatFile(t)
	kp := testutil.Identity("anna")
	commitLog(t, f, kp, 1)

	env := testutil.Sign(t, kp, 5, testutil.Day(2019, 2, 1), testutil.Post("late"))
	c := testCommit(t, env)
	c.Reduction = reduction.State{}
	require.Error(t, f.Commit(context.Background(), c))

	head, err := f.Head(context.Background(), kp.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, int64(0), head)
}

func TestFlatFile_TornRecordIsOverwritten(t *testing.T) {
	f, dir := newTestFlatFile(t)
	ctx := context.Background()
	kp := testutil.Identity("anna")
	commitLog(t, f, kp, 1)

	logPath := filepath.Join(dir, publishersDir, kp.PublicKey.String(), logFile)
	file, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = file.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, file.Close())

	head, err := f.Head(ctx, kp.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, int64(0), head)

	env := testutil.Sign(t, kp, 1, testutil.Day(2019, 1, 2), testutil.Post("next"))
	c := testCommit(t, env)
	require.NoError(t, f.Commit(ctx, c))

	d, err := f.EntryDigest(ctx, kp.PublicKey, 1)
	require.NoError(t, err)
	assert.Equal(t, c.Digest, d)
}

func TestFlatFile_RejectsInvalidPublicKey(t *testing.T) {
	f, _ := newTestFlatFile(t)
	env := testutil.Sign(t, testutil.Identity("anna"), 0, testutil.Day(2019, 2, 1), testutil.Post("a0"))
	c := testCommit(t, env)
	c.Envelope.PublicKey = "../../etc"
	require.Error(t, f.Commit(context.Background(), c))

	require.Error(t, f.PutReduction(context.Background(), "ABC", reduction.State{}))
}

func TestFlatFile_PublicKeysSkipStrayEntries(t *testing.T) {
	f, dir := newTestFlatFile(t)
	kp := testutil.Identity("anna")
	commitLog(t, f, kp, 1)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, publishersDir, "not-a-key"), 0o755))
	// An identity directory without a log is not registered.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, publishersDir, testutil.Identity("bob").PublicKey.String()), 0o755))

	keys, err := Collect(f.PublicKeyStream(context.Background()), 0)
	require.NoError(t, err)
	assert.Equal(t, []envelope.PublicKey{kp.PublicKey}, keys)
}

func TestFlatFile_ReductionReplaceLeavesNoTempFiles(t *testing.T) {
	f, dir := newTestFlatFile(t)
	ctx := context.Background()
	pk := testutil.Identity("anna").PublicKey
	idx := int64(4)

	require.NoError(t, f.PutReduction(ctx, pk, reduction.State{LatestIndex: &idx}))
	require.NoError(t, f.PutReduction(ctx, pk, reduction.State{Avatar: "a"}))

	got, err := f.Reduction(ctx, pk)
	require.NoError(t, err)
	assert.Equal(t, reduction.State{Avatar: "a"}, got)

	names, err := os.ReadDir(filepath.Join(dir, publishersDir, pk.String()))
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, reductionFile, names[0].Name())
}
