package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/kv"
	"github.com/roach88/siglog/internal/reduction"
)

// Ordered is a Backend that keeps every entity in one ordered kv store.
type Ordered struct {
	kvIndexes
}

var _ Backend = (*Ordered)(nil)

// NewOrdered wraps db. The Backend owns db and closes it.
func NewOrdered(db kv.Store) *Ordered {
	return &Ordered{kvIndexes: kvIndexes{db: db}}
}

// Close closes the underlying store.
func (o *Ordered) Close() error {
	return o.db.Close()
}

func (o *Ordered) Head(ctx context.Context, pk envelope.PublicKey) (int64, error) {
	r := kv.Prefix(nsLogs, string(pk))
	r.Reverse = true
	r.Limit = 1
	it, err := o.db.Scan(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("head %s: %w", pk, err)
	}
	pairs, err := kv.Collect(it)
	if err != nil {
		return 0, fmt.Errorf("head %s: %w", pk, err)
	}
	if len(pairs) == 0 {
		return -1, nil
	}
	index, err := kv.DecodeIndex(lastSegment(pairs[0].Key))
	if err != nil {
		return 0, fmt.Errorf("head %s: %w", pk, err)
	}
	return index, nil
}

func (o *Ordered) EntryDigest(ctx context.Context, pk envelope.PublicKey, index int64) (envelope.Digest, error) {
	b, err := o.db.Get(ctx, logKey(pk, index))
	if errors.Is(err, kv.ErrNotFound) {
		return envelope.Digest{}, ErrNotFound
	}
	if err != nil {
		return envelope.Digest{}, fmt.Errorf("read %s[%d]: %w", pk, index, err)
	}
	return envelope.DigestFromBytes(b)
}

func (o *Ordered) Read(ctx context.Context, pk envelope.PublicKey, index int64) (envelope.Envelope, error) {
	d, err := o.EntryDigest(ctx, pk, index)
	if err != nil {
		return envelope.Envelope{}, err
	}
	return o.Envelope(ctx, d)
}

func (o *Ordered) Envelope(ctx context.Context, d envelope.Digest) (envelope.Envelope, error) {
	b, err := o.db.Get(ctx, envelopeKey(d))
	if errors.Is(err, kv.ErrNotFound) {
		return envelope.Envelope{}, ErrNotFound
	}
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("read envelope %s: %w", d, err)
	}
	env, err := envelope.Decode(b)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("read envelope %s: %w", d, err)
	}
	return env, nil
}

func (o *Ordered) Commit(ctx context.Context, c Commit) error {
	encoded, err := commitBytes(c)
	if err != nil {
		return err
	}
	state, err := marshalReduction(c.Reduction)
	if err != nil {
		return err
	}

	pk := c.Envelope.PublicKey
	ops := []kv.Op{
		kv.Put(envelopeKey(c.Digest), encoded),
		kv.Put(logKey(pk, c.Envelope.Message.Index), c.Digest[:]),
		kv.Put(reductionKey(pk), state),
	}
	if c.Envelope.Message.Index == 0 {
		ops = append(ops, kv.Put(publicKeyKey(pk), []byte{}))
	}
	if err := o.db.Batch(ctx, ops); err != nil {
		return fmt.Errorf("commit %s[%d]: %w", pk, c.Envelope.Message.Index, err)
	}
	return nil
}

// commitBytes returns the canonical bytes of the committed envelope.
func commitBytes(c Commit) ([]byte, error) {
	if c.Encoded != nil {
		return c.Encoded, nil
	}
	return envelope.Encode(c.Envelope)
}

func (o *Ordered) RecordConflict(ctx context.Context, c Conflict) (bool, error) {
	key := conflictKey(c)
	_, err := o.db.Get(ctx, key)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return false, fmt.Errorf("record conflict: %w", err)
	}
	value, err := marshalConflict(c)
	if err != nil {
		return false, err
	}
	if err := o.db.Put(ctx, key, value); err != nil {
		return false, fmt.Errorf("record conflict: %w", err)
	}
	return true, nil
}

func (o *Ordered) Reduction(ctx context.Context, pk envelope.PublicKey) (reduction.State, error) {
	b, err := o.db.Get(ctx, reductionKey(pk))
	if errors.Is(err, kv.ErrNotFound) {
		return reduction.State{}, nil
	}
	if err != nil {
		return reduction.State{}, fmt.Errorf("read reduction %s: %w", pk, err)
	}
	return unmarshalReduction(b)
}

func (o *Ordered) PutReduction(ctx context.Context, pk envelope.PublicKey, state reduction.State) error {
	b, err := marshalReduction(state)
	if err != nil {
		return err
	}
	if err := o.db.Put(ctx, reductionKey(pk), b); err != nil {
		return fmt.Errorf("write reduction %s: %w", pk, err)
	}
	return nil
}

func (o *Ordered) LogStream(ctx context.Context, pk envelope.PublicKey, opts LogOptions) Stream[Entry] {
	r := kv.Prefix(nsLogs, string(pk))
	r.Reverse = opts.Reverse
	r.Limit = opts.Limit
	if opts.From != nil {
		if opts.Reverse {
			r.Upper, r.UpperInclusive = logKey(pk, *opts.From), true
		} else {
			r.Lower, r.LowerInclusive = logKey(pk, *opts.From), true
		}
	}
	it, err := o.db.Scan(ctx, r)
	if err != nil {
		return errStream[Entry](err)
	}
	return newKVStream(it, func(key, value []byte) (Entry, bool, error) {
		index, err := kv.DecodeIndex(lastSegment(key))
		if err != nil {
			return Entry{}, false, err
		}
		d, err := envelope.DigestFromBytes(value)
		if err != nil {
			return Entry{}, false, err
		}
		env, err := o.Envelope(ctx, d)
		if err != nil {
			return Entry{}, false, err
		}
		return Entry{Index: index, Digest: d, Envelope: env}, true, nil
	})
}

func (o *Ordered) ConflictStream(ctx context.Context, pk envelope.PublicKey) Stream[Conflict] {
	it, err := o.db.Scan(ctx, kv.Prefix(nsConflicts, string(pk)))
	if err != nil {
		return errStream[Conflict](err)
	}
	return newKVStream(it, func(key, value []byte) (Conflict, bool, error) {
		index, first, second, err := parseConflictKey(key)
		if err != nil {
			return Conflict{}, false, err
		}
		rec, err := unmarshalConflict(value)
		if err != nil {
			return Conflict{}, false, err
		}
		return Conflict{PublicKey: pk, Index: index, First: first, Second: second, Seen: rec.Seen}, true, nil
	})
}

func (o *Ordered) PublicKeyStream(ctx context.Context) Stream[envelope.PublicKey] {
	it, err := o.db.Scan(ctx, kv.Prefix(nsPublicKeys))
	if err != nil {
		return errStream[envelope.PublicKey](err)
	}
	return newKVStream(it, func(key, _ []byte) (envelope.PublicKey, bool, error) {
		return envelope.PublicKey(lastSegment(key)), true, nil
	})
}
