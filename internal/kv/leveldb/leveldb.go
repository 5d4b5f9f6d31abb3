// Package leveldb implements kv.Store on goleveldb.
package leveldb

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/roach88/siglog/internal/kv"
)

// Store is a kv.Store over a goleveldb database.
type Store struct {
	db   *leveldb.DB
	sync bool
}

// Option configures Open.
type Option func(*config)

type config struct {
	sync    bool
	options *opt.Options
}

// WithSync makes every write fsync before returning.
func WithSync(sync bool) Option {
	return func(c *config) { c.sync = sync }
}

// WithOptions passes tuning options through to goleveldb.
func WithOptions(o *opt.Options) Option {
	return func(c *config) { c.options = o }
}

// Open opens or creates a database directory at path.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	db, err := leveldb.OpenFile(path, cfg.options)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &Store{db: db, sync: cfg.sync}, nil
}

// OpenMemory opens a database held entirely in memory.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb memory: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) writeOptions() *opt.WriteOptions {
	return &opt.WriteOptions{Sync: s.sync}
}

// Get implements kv.Store. goleveldb already returns a copy.
func (s *Store) Get(_ context.Context, key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, kv.ErrNotFound
	}
	if errors.Is(err, leveldb.ErrClosed) {
		return nil, kv.ErrClosed
	}
	return v, err
}

// Put implements kv.Store.
func (s *Store) Put(_ context.Context, key, value []byte) error {
	return s.db.Put(key, value, s.writeOptions())
}

// Delete implements kv.Store.
func (s *Store) Delete(_ context.Context, key []byte) error {
	return s.db.Delete(key, s.writeOptions())
}

// Batch implements kv.Store with a single leveldb.Batch.
func (s *Store) Batch(_ context.Context, ops []kv.Op) error {
	if len(ops) == 0 {
		return nil
	}
	b := new(leveldb.Batch)
	for _, op := range ops {
		switch op.Kind {
		case kv.OpPut:
			b.Put(op.Key, op.Value)
		case kv.OpDelete:
			b.Delete(op.Key)
		default:
			return fmt.Errorf("leveldb batch: unknown op kind %d", op.Kind)
		}
	}
	return s.db.Write(b, s.writeOptions())
}

// Scan implements kv.Store. The iterator reads from an implicit snapshot.
func (s *Store) Scan(ctx context.Context, r kv.Range) (kv.Iterator, error) {
	start, limit := r.Bounds()
	it := s.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	return kv.Limit(&rangeIterator{ctx: ctx, it: it, reverse: r.Reverse}, r.Limit), nil
}

// Close implements kv.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

type rangeIterator struct {
	ctx     context.Context
	it      iterator.Iterator
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
	if !r.closed {
		r.closed = true
		r.it.Release()
	}
	return nil
}
