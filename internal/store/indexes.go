package store

import (
	"context"
	"fmt"

	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/kv"
	"github.com/roach88/siglog/internal/reduction"
)

// IndexBatch collects index writes so that one fan-out phase lands as one
// atomic write. The first encoding error sticks and fails WriteIndexes.
type IndexBatch struct {
	ops []kv.Op
	err error
}

// NewIndexBatch returns an empty batch.
func NewIndexBatch() *IndexBatch {
	return &IndexBatch{}
}

// Len reports the number of queued writes.
func (b *IndexBatch) Len() int { return len(b.ops) }

// Err returns the first encoding error.
func (b *IndexBatch) Err() error { return b.err }

func (b *IndexBatch) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// PutTimeline copies env into recipient's timeline.
func (b *IndexBatch) PutTimeline(recipient envelope.PublicKey, env envelope.Envelope) {
	data, err := envelope.Encode(env)
	if err != nil {
		b.fail(err)
		return
	}
	b.ops = append(b.ops, kv.Put(timelineKey(recipient, env), data))
}

// PutMention copies env into recipient's mentions.
func (b *IndexBatch) PutMention(recipient envelope.PublicKey, env envelope.Envelope) {
	data, err := envelope.Encode(env)
	if err != nil {
		b.fail(err)
		return
	}
	b.ops = append(b.ops, kv.Put(mentionKey(recipient, env), data))
}

// DeleteTimeline removes env from recipient's timeline and mentions.
func (b *IndexBatch) DeleteTimeline(recipient envelope.PublicKey, env envelope.Envelope) {
	b.ops = append(b.ops,
		kv.Delete(timelineKey(recipient, env)),
		kv.Delete(mentionKey(recipient, env)),
	)
}

// PutFollower records that follower follows followed.
func (b *IndexBatch) PutFollower(followed, follower envelope.PublicKey, rec reduction.FollowRecord) {
	data, err := marshalFollowRecord(rec)
	if err != nil {
		b.fail(err)
		return
	}
	b.ops = append(b.ops, kv.Put(followerKey(followed, follower), data))
}

// DeleteFollower removes the edge from followed to follower.
func (b *IndexBatch) DeleteFollower(followed, follower envelope.PublicKey) {
	b.ops = append(b.ops, kv.Delete(followerKey(followed, follower)))
}

// PutReply links child under parent.
func (b *IndexBatch) PutReply(parent, child envelope.Ref) {
	b.ops = append(b.ops, kv.Put(replyKey(parent, child), []byte{}))
}

// kvIndexes implements Indexes over an ordered store. Both backends use it.
type kvIndexes struct {
	db kv.Store
}

func (x kvIndexes) WriteIndexes(ctx context.Context, b *IndexBatch) error {
	if b.err != nil {
		return fmt.Errorf("write indexes: %w", b.err)
	}
	if len(b.ops) == 0 {
		return nil
	}
	if err := x.db.Batch(ctx, b.ops); err != nil {
		return fmt.Errorf("write indexes: %w", err)
	}
	return nil
}

func (x kvIndexes) FollowerStream(ctx context.Context, pk envelope.PublicKey) Stream[Follower] {
	it, err := x.db.Scan(ctx, kv.Prefix(nsFollowers, string(pk)))
	if err != nil {
		return errStream[Follower](err)
	}
	return newKVStream(it, func(key, value []byte) (Follower, bool, error) {
		rec, err := unmarshalFollowRecord(value)
		if err != nil {
			return Follower{}, false, err
		}
		return Follower{PublicKey: envelope.PublicKey(lastSegment(key)), Name: rec.Name, Stop: rec.Stop}, true, nil
	})
}

func (x kvIndexes) TimelineStream(ctx context.Context, pk envelope.PublicKey, opts ScanOptions) Stream[envelope.Envelope] {
	return x.postings(ctx, nsTimelines, pk, opts)
}

func (x kvIndexes) MentionStream(ctx context.Context, pk envelope.PublicKey, opts ScanOptions) Stream[envelope.Envelope] {
	return x.postings(ctx, nsMentions, pk, opts)
}

func (x kvIndexes) postings(ctx context.Context, ns string, pk envelope.PublicKey, opts ScanOptions) Stream[envelope.Envelope] {
	r := kv.Prefix(ns, string(pk))
	r.Reverse = opts.Reverse
	r.Limit = opts.Limit
	it, err := x.db.Scan(ctx, r)
	if err != nil {
		return errStream[envelope.Envelope](err)
	}
	return newKVStream(it, func(_, value []byte) (envelope.Envelope, bool, error) {
		env, err := envelope.Decode(value)
		if err != nil {
			return envelope.Envelope{}, false, err
		}
		return env, true, nil
	})
}

func (x kvIndexes) ReplyStream(ctx context.Context, parent envelope.Ref) Stream[envelope.Ref] {
	it, err := x.db.Scan(ctx, kv.Prefix(nsReplies, string(parent.PublicKey), kv.EncodeIndex(parent.Index)))
	if err != nil {
		return errStream[envelope.Ref](err)
	}
	return newKVStream(it, func(key, _ []byte) (envelope.Ref, bool, error) {
		ref, err := parseReplyKey(key)
		return ref, err == nil, err
	})
}

func (x kvIndexes) ClearRecipient(ctx context.Context, pk envelope.PublicKey) error {
	for _, ns := range []string{nsTimelines, nsMentions} {
		pairs, err := kv.Collect(mustScan(x.db.Scan(ctx, kv.Prefix(ns, string(pk)))))
		if err != nil {
			return fmt.Errorf("clear %s of %s: %w", ns, pk, err)
		}
		if len(pairs) == 0 {
			continue
		}
		ops := make([]kv.Op, 0, len(pairs))
		for _, p := range pairs {
			ops = append(ops, kv.Delete(p.Key))
		}
		if err := x.db.Batch(ctx, ops); err != nil {
			return fmt.Errorf("clear %s of %s: %w", ns, pk, err)
		}
	}
	return nil
}

// mustScan folds a failed Scan into an iterator that reports the error.
func mustScan(it kv.Iterator, err error) kv.Iterator {
	if err != nil {
		return failedIterator{err: err}
	}
	return it
}

type failedIterator struct{ err error }

func (failedIterator) Next() bool    { return false }
func (failedIterator) Key() []byte   { return nil }
func (failedIterator) Value() []byte { return nil }
func (f failedIterator) Err() error  { return f.err }
func (failedIterator) Close() error  { return nil }
