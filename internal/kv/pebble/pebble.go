// Package pebble implements kv.Store on cockroachdb/pebble.
package pebble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/roach88/siglog/internal/kv"
)

// FsyncMode defines durability behavior for writes.
type FsyncMode int

const (
	// FsyncModeInterval lets pebble coalesce WAL syncs inside a short window.
	FsyncModeInterval FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every committed write.
	FsyncModeAlways
	// FsyncModeNever leaves syncing to pebble's own policy.
	FsyncModeNever
)

// ParseFsyncMode maps a config string to a FsyncMode.
func ParseFsyncMode(s string) (FsyncMode, error) {
	switch s {
	case "", "interval":
		return FsyncModeInterval, nil
	case "always":
		return FsyncModeAlways, nil
	case "never":
		return FsyncModeNever, nil
	default:
		return 0, fmt.Errorf("unknown fsync mode %q: must be always, interval or never", s)
	}
}

// Options configures Open.
type Options struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps the database on an in-memory filesystem.
	InMemory bool
	// Fsync determines when the WAL is synced.
	Fsync FsyncMode
	// FsyncInterval is the group-commit window for FsyncModeInterval.
	FsyncInterval time.Duration
}

// Store is a kv.Store over a pebble database.
type Store struct {
	db        *pebble.DB
	writeSync bool
}

// Open creates or opens a pebble database.
func Open(opts Options) (*Store, error) {
	po := &pebble.Options{}
	dir := opts.Dir
	if opts.InMemory {
		po.FS = vfs.NewMem()
		dir = ""
	} else if dir == "" {
		return nil, errors.New("pebble: Options.Dir is required")
	}

	switch opts.Fsync {
	case FsyncModeAlways:
	case FsyncModeNever:
	default:
		interval := opts.FsyncInterval
		if interval <= 0 {
			interval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	}

	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &Store{db: db, writeSync: opts.Fsync != FsyncModeNever}, nil
}

func (s *Store) writeOptions() *pebble.WriteOptions {
	if s.writeSync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Get implements kv.Store. The value is copied out before the closer runs.
func (s *Store) Get(_ context.Context, key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte{}, val...), nil
}

// Put implements kv.Store.
func (s *Store) Put(_ context.Context, key, value []byte) error {
	return s.db.Set(key, value, s.writeOptions())
}

// Delete implements kv.Store.
func (s *Store) Delete(_ context.Context, key []byte) error {
	return s.db.Delete(key, s.writeOptions())
}

// Batch implements kv.Store with a single pebble batch.
func (s *Store) Batch(_ context.Context, ops []kv.Op) error {
	if len(ops) == 0 {
		return nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, op := range ops {
		var err error
		switch op.Kind {
		case kv.OpPut:
			err = b.Set(op.Key, op.Value, nil)
		case kv.OpDelete:
			err = b.Delete(op.Key, nil)
		default:
			err = fmt.Errorf("unknown op kind %d", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("pebble batch: %w", err)
		}
	}
	return b.Commit(s.writeOptions())
}

// Scan implements kv.Store.
func (s *Store) Scan(ctx context.Context, r kv.Range) (kv.Iterator, error) {
	start, limit := r.Bounds()
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: limit})
	if err != nil {
		return nil, fmt.Errorf("pebble iterator: %w", err)
	}
	return kv.Limit(&rangeIterator{ctx: ctx, it: it, reverse: r.Reverse}, r.Limit), nil
}

// Compact requests compaction of the whole key space.
func (s *Store) Compact() error {
	return s.db.Compact([]byte{0x00}, []byte{0xff}, true)
}

// Close implements kv.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

type rangeIterator struct {
	ctx     context.Context
	it      *pebble.Iterator
	reverse bool
	started bool
	closed  bool
	err     error
}

func (r *rangeIterator) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	if err := r.ctx.Err(); err != nil {
		r.err = err
		return false
	}
	if !r.started {
		r.started = true
		if r.reverse {
			return r.it.Last()
		}
		return r.it.First()
	}
	if r.reverse {
		return r.it.Prev()
	}
	return r.it.Next()
}

func (r *rangeIterator) Key() []byte   { return r.it.Key() }
func (r *rangeIterator) Value() []byte { return r.it.Value() }

func (r *rangeIterator) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.it.Error()
}

func (r *rangeIterator) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.it.Close()
}
