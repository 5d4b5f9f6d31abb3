package store

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/siglog/internal/canonical"
	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/kv/leveldb"
	"github.com/roach88/siglog/internal/kv/pebble"
	"github.com/roach88/siglog/internal/reduction"
	"github.com/roach88/siglog/internal/testutil"
)

type backendOpener func(t *testing.T) Backend

func openOrderedLevelDB(t *testing.T) Backend {
	t.Helper()
	db, err := leveldb.OpenMemory()
	require.NoError(t, err)
	b := NewOrdered(db)
	t.Cleanup(func() { b.Close() })
	return b
}

func openOrderedPebble(t *testing.T) Backend {
	t.Helper()
	db, err := pebble.Open(pebble.Options{InMemory: true})
	require.NoError(t, err)
	b := NewOrdered(db)
	t.Cleanup(func() { b.Close() })
	return b
}

func openFlatFile(t *testing.T) Backend {
	t.Helper()
	db, err := leveldb.OpenMemory()
	require.NoError(t, err)
	b, err := NewFlatFile(t.TempDir(), db)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBackends(t *testing.T) {
	backends := map[string]backendOpener{
		"ordered/leveldb": openOrderedLevelDB,
		"ordered/pebble":  openOrderedPebble,
		"flatfile":        openFlatFile,
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("EmptyLog", func(t *testing.T) { testEmptyLog(t, open(t)) })
			t.Run("MalformedKey", func(t *testing.T) { testMalformedKey(t, open(t)) })
			t.Run("CommitAndRead", func(t *testing.T) { testCommitAndRead(t, open(t)) })
			t.Run("LogStream", func(t *testing.T) { testLogStream(t, open(t)) })
			t.Run("Conflicts", func(t *testing.T) { testConflicts(t, open(t)) })
			t.Run("Reduction", func(t *testing.T) { testReduction(t, open(t)) })
			t.Run("PublicKeys", func(t *testing.T) { testPublicKeys(t, open(t)) })
			t.Run("Followers", func(t *testing.T) { testFollowers(t, open(t)) })
			t.Run("Timeline", func(t *testing.T) { testTimeline(t, open(t)) })
			t.Run("Replies", func(t *testing.T) { testReplies(t, open(t)) })
			t.Run("ClearRecipient", func(t *testing.T) { testClearRecipient(t, open(t)) })
		})
	}
}

// commitLog signs and commits n posts for kp dated one day apart.
func commitLog(t *testing.T, b Backend, kp envelope.KeyPair, n int) []Entry {
	t.Helper()
	ctx := context.Background()
	var entries []Entry
	state := reduction.State{}
	for i := 0; i < n; i++ {
		env := testutil.Sign(t, kp, int64(i), testutil.Day(2019, 1, 1+i), testutil.Post("post"))
		c := testCommit(t, env)
		var err error
		state, err = reduction.Reduce(state, env)
		require.NoError(t, err)
		c.Reduction = state
		require.NoError(t, b.Commit(ctx, c))
		entries = append(entries, Entry{Index: int64(i), Digest: c.Digest, Envelope: env})
	}
	return entries
}

func testCommit(t *testing.T, env envelope.Envelope) Commit {
	t.Helper()
	encoded, err := envelope.Encode(env)
	require.NoError(t, err)
	return Commit{Envelope: env, Digest: envelope.HashEncoded(encoded), Encoded: encoded}
}

func testEmptyLog(t *testing.T, b Backend) {
	ctx := context.Background()
	pk := testutil.Identity("anna").PublicKey

	head, err := b.Head(ctx, pk)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), head)

	_, err = b.Read(ctx, pk, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	state, err := b.Reduction(ctx, pk)
	require.NoError(t, err)
	assert.True(t, state.IsEmpty())

	entries, err := Collect(b.LogStream(ctx, pk, LogOptions{}), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// testMalformedKey reads identities that mentions can name but no log can
// hold.
func testMalformedKey(t *testing.T, b Backend) {
	ctx := context.Background()
	for _, pk := range []envelope.PublicKey{"@bob", "../../etc", ""} {
		head, err := b.Head(ctx, pk)
		require.NoError(t, err, pk)
		assert.Equal(t, int64(-1), head, pk)

		_, err = b.Read(ctx, pk, 0)
		assert.ErrorIs(t, err, ErrNotFound, pk)

		state, err := b.Reduction(ctx, pk)
		require.NoError(t, err, pk)
		assert.True(t, state.IsEmpty(), pk)

		entries, err := Collect(b.LogStream(ctx, pk, LogOptions{}), 0)
		require.NoError(t, err, pk)
		assert.Empty(t, entries, pk)

		conflicts, err := Collect(b.ConflictStream(ctx, pk), 0)
		require.NoError(t, err, pk)
		assert.Empty(t, conflicts, pk)
	}
}

func testCommitAndRead(t *testing.T, b Backend) {
	ctx := context.Background()
	kp := testutil.Identity("anna")
	entries := commitLog(t, b, kp, 3)

	head, err := b.Head(ctx, kp.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), head)

	for _, e := range entries {
		d, err := b.EntryDigest(ctx, kp.PublicKey, e.Index)
		require.NoError(t, err)
		assert.Equal(t, e.Digest, d)

		env, err := b.Read(ctx, kp.PublicKey, e.Index)
		require.NoError(t, err)
		assert.Equal(t, e.Envelope.Signature, env.Signature)
		assert.True(t, envelope.Verify(env))

		byDigest, err := b.Envelope(ctx, e.Digest)
		require.NoError(t, err)
		assert.Equal(t, e.Envelope.Signature, byDigest.Signature)
	}

	_, err = b.Read(ctx, kp.PublicKey, 3)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = b.Envelope(ctx, envelope.Digest{1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func testLogStream(t *testing.T, b Backend) {
	ctx := context.Background()
	kp := testutil.Identity("anna")
	commitLog(t, b, kp, 5)

	indices := func(opts LogOptions) []int64 {
		entries, err := Collect(b.LogStream(ctx, kp.PublicKey, opts), 0)
		require.NoError(t, err)
		var out []int64
		for _, e := range entries {
			assert.Equal(t, e.Index, e.Envelope.Message.Index)
			out = append(out, e.Index)
		}
		return out
	}
	from := func(i int64) *int64 { return &i }

	assert.Equal(t, []int64{0, 1, 2, 3, 4}, indices(LogOptions{}))
	assert.Equal(t, []int64{4, 3, 2, 1, 0}, indices(LogOptions{Reverse: true}))
	assert.Equal(t, []int64{2, 3, 4}, indices(LogOptions{From: from(2)}))
	assert.Equal(t, []int64{2, 1, 0}, indices(LogOptions{Reverse: true, From: from(2)}))
	assert.Equal(t, []int64{0, 1}, indices(LogOptions{Limit: 2}))
	assert.Equal(t, []int64{4}, indices(LogOptions{Reverse: true, Limit: 1}))

	// Early close releases the stream.
	s := b.LogStream(ctx, kp.PublicKey, LogOptions{})
	require.True(t, s.Next())
	require.NoError(t, s.Close())
	assert.False(t, s.Next())
	require.NoError(t, s.Close())
}

func testConflicts(t *testing.T, b Backend) {
	ctx := context.Background()
	pk := testutil.Identity("anna").PublicKey
	seen := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	a, z := envelope.Digest{0xaa}, envelope.Digest{0x01}
	c := NewConflict(pk, 0, a, z, seen)
	assert.Equal(t, z, c.First)
	assert.Equal(t, a, c.Second)

	added, err := b.RecordConflict(ctx, c)
	require.NoError(t, err)
	assert.True(t, added)

	// Same pair in either order is recorded once.
	added, err = b.RecordConflict(ctx, NewConflict(pk, 0, z, a, seen.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, added)

	added, err = b.RecordConflict(ctx, NewConflict(pk, 3, envelope.Digest{5}, envelope.Digest{6}, seen))
	require.NoError(t, err)
	assert.True(t, added)

	conflicts, err := Collect(b.ConflictStream(ctx, pk), 0)
	require.NoError(t, err)
	require.Len(t, conflicts, 2)
	assert.Equal(t, c, conflicts[0])
	assert.Equal(t, int64(3), conflicts[1].Index)

	other, err := Collect(b.ConflictStream(ctx, testutil.Identity("bob").PublicKey), 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testReduction(t *testing.T, b Backend) {
	ctx := context.Background()
	anna := testutil.Identity("anna")
	bob := testutil.Identity("bob")

	envs := []envelope.Envelope{
		testutil.Sign(t, anna, 0, testutil.Day(2019, 1, 1), testutil.Follow(bob.PublicKey, "bob")),
		testutil.Sign(t, anna, 1, testutil.Day(2019, 1, 2), testutil.Unfollow(bob.PublicKey, 4)),
		testutil.Sign(t, anna, 2, testutil.Day(2019, 1, 3), testutil.Announce("https://anna.example")),
		testutil.Sign(t, anna, 3, testutil.Day(2019, 1, 4), testutil.Avatar("https://anna.example/a.png")),
	}
	want, err := reduction.Replay(envs)
	require.NoError(t, err)

	require.NoError(t, b.PutReduction(ctx, anna.PublicKey, want))
	got, err := b.Reduction(ctx, anna.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, time.UTC, got.LatestDate.Location())
}

func testPublicKeys(t *testing.T, b Backend) {
	ctx := context.Background()
	var want []envelope.PublicKey
	for _, name := range []string{"anna", "bob", "charlie"} {
		kp := testutil.Identity(name)
		commitLog(t, b, kp, 2)
		want = append(want, kp.PublicKey)
	}

	got, err := Collect(b.PublicKeyStream(ctx), 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, got)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}
}

func testFollowers(t *testing.T, b Backend) {
	ctx := context.Background()
	anna := testutil.Identity("anna").PublicKey
	bob := testutil.Identity("bob").PublicKey
	charlie := testutil.Identity("charlie").PublicKey
	stop := int64(2)

	batch := NewIndexBatch()
	batch.PutFollower(anna, bob, reduction.FollowRecord{Name: "anna"})
	batch.PutFollower(anna, charlie, reduction.FollowRecord{Name: "a", Stop: &stop})
	require.NoError(t, b.WriteIndexes(ctx, batch))

	followers, err := Collect(b.FollowerStream(ctx, anna), 0)
	require.NoError(t, err)
	require.Len(t, followers, 2)
	byKey := map[envelope.PublicKey]Follower{}
	for _, f := range followers {
		byKey[f.PublicKey] = f
	}
	assert.Equal(t, "anna", byKey[bob].Name)
	assert.Nil(t, byKey[bob].Stop)
	require.NotNil(t, byKey[charlie].Stop)
	assert.Equal(t, int64(2), *byKey[charlie].Stop)
	assert.True(t, byKey[charlie].Covers(2))
	assert.False(t, byKey[charlie].Covers(3))

	batch = NewIndexBatch()
	batch.DeleteFollower(anna, bob)
	require.NoError(t, b.WriteIndexes(ctx, batch))
	followers, err = Collect(b.FollowerStream(ctx, anna), 0)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, charlie, followers[0].PublicKey)

	none, err := Collect(b.FollowerStream(ctx, bob), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testTimeline(t *testing.T, b Backend) {
	ctx := context.Background()
	anna := testutil.Identity("anna")
	bob := testutil.Identity("bob")
	reader := testutil.Identity("charlie").PublicKey

	a0 := testutil.Sign(t, anna, 0, testutil.Day(2019, 1, 1), testutil.Post("a0"))
	b0 := testutil.Sign(t, bob, 0, testutil.Day(2019, 1, 2), testutil.Post("b0"))
	a1 := testutil.Sign(t, anna, 1, testutil.Day(2019, 1, 3), testutil.Post("a1", reader))

	batch := NewIndexBatch()
	batch.PutTimeline(reader, a1)
	batch.PutTimeline(reader, a0)
	batch.PutTimeline(reader, b0)
	batch.PutMention(reader, a1)
	require.NoError(t, b.WriteIndexes(ctx, batch))
	assert.Equal(t, 4, batch.Len())

	texts := func(s Stream[envelope.Envelope]) []string {
		envs, err := Collect(s, 0)
		require.NoError(t, err)
		var out []string
		for _, e := range envs {
			out = append(out, e.PublicKey.String()[:4]+"/"+strconv.FormatInt(e.Message.Index, 10))
		}
		return out
	}
	an, bo := anna.PublicKey.String()[:4], bob.PublicKey.String()[:4]

	assert.Equal(t, []string{an + "/0", bo + "/0", an + "/1"}, texts(b.TimelineStream(ctx, reader, ScanOptions{})))
	assert.Equal(t, []string{an + "/1", bo + "/0"}, texts(b.TimelineStream(ctx, reader, ScanOptions{Reverse: true, Limit: 2})))
	assert.Equal(t, []string{an + "/1"}, texts(b.MentionStream(ctx, reader, ScanOptions{})))

	// Deleting a timeline entry removes the mirrored mention.
	batch = NewIndexBatch()
	batch.DeleteTimeline(reader, a1)
	require.NoError(t, b.WriteIndexes(ctx, batch))
	assert.Equal(t, []string{an + "/0", bo + "/0"}, texts(b.TimelineStream(ctx, reader, ScanOptions{})))
	assert.Empty(t, texts(b.MentionStream(ctx, reader, ScanOptions{})))
}

func testReplies(t *testing.T, b Backend) {
	ctx := context.Background()
	anna := testutil.Identity("anna").PublicKey
	bob := testutil.Identity("bob").PublicKey
	parent := envelope.Ref{PublicKey: anna, Index: 1}

	batch := NewIndexBatch()
	batch.PutReply(parent, envelope.Ref{PublicKey: bob, Index: 10})
	batch.PutReply(parent, envelope.Ref{PublicKey: bob, Index: 2})
	batch.PutReply(envelope.Ref{PublicKey: anna, Index: 0}, envelope.Ref{PublicKey: bob, Index: 3})
	require.NoError(t, b.WriteIndexes(ctx, batch))

	replies, err := Collect(b.ReplyStream(ctx, parent), 0)
	require.NoError(t, err)
	assert.Equal(t, []envelope.Ref{{PublicKey: bob, Index: 2}, {PublicKey: bob, Index: 10}}, replies)
}

func testClearRecipient(t *testing.T, b Backend) {
	ctx := context.Background()
	anna := testutil.Identity("anna")
	reader := testutil.Identity("bob").PublicKey
	other := testutil.Identity("charlie").PublicKey
	env := testutil.Sign(t, anna, 0, testutil.Day(2019, 1, 1), testutil.Post("hi", reader))

	batch := NewIndexBatch()
	batch.PutTimeline(reader, env)
	batch.PutMention(reader, env)
	batch.PutTimeline(other, env)
	require.NoError(t, b.WriteIndexes(ctx, batch))

	require.NoError(t, b.ClearRecipient(ctx, reader))

	timeline, err := Collect(b.TimelineStream(ctx, reader, ScanOptions{}), 0)
	require.NoError(t, err)
	assert.Empty(t, timeline)
	mentions, err := Collect(b.MentionStream(ctx, reader, ScanOptions{}), 0)
	require.NoError(t, err)
	assert.Empty(t, mentions)

	kept, err := Collect(b.TimelineStream(ctx, other, ScanOptions{}), 0)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestIndexBatchEncodingError(t *testing.T) {
	b := openOrderedLevelDB(t)
	batch := NewIndexBatch()
	// A body holding a null cannot be encoded canonically.
	env := envelope.Envelope{Message: envelope.Message{Body: envelope.Body{"type": canonical.Null{}}}}
	batch.PutTimeline("x", env)
	require.Error(t, batch.Err())
	require.Error(t, b.WriteIndexes(context.Background(), batch))
}

func TestCollectLimit(t *testing.T) {
	s := sliceStream([]int{1, 2, 3, 4})
	got, err := Collect(s, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)
	assert.False(t, s.Next())
}
