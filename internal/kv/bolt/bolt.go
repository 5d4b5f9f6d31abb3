// Package bolt implements kv.Store on bbolt.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/roach88/siglog/internal/kv"
)

var bucketKV = []byte("kv")

// Store is a kv.Store over a single bbolt bucket.
//
// Scans are paged: each page is read in its own short read transaction, so
// callers may write while iterating without deadlocking against the
// single-writer mmap.
type Store struct {
	db       *bbolt.DB
	logger   *slog.Logger
	noSync   bool
	pageSize int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithNoSync disables fsync per transaction.
// WARNING: risks data loss on crash. Tests only.
func WithNoSync(noSync bool) Option {
	return func(s *Store) { s.noSync = noSync }
}

// WithPageSize sets how many pairs each scan page reads.
func WithPageSize(n int) Option {
	return func(s *Store) { s.pageSize = n }
}

// Open opens or creates the database file at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{logger: slog.Default(), pageSize: kv.DefaultPageSize}
	for _, opt := range opts {
		opt(s)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  s.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket %s: %w", bucketKV, err)
	}

	s.db = db
	s.logger.Debug("opened bolt store", "path", path, "noSync", s.noSync)
	return s, nil
}

// Get implements kv.Store. A cursor seek is used so that empty values are
// told apart from missing keys.
func (s *Store) Get(_ context.Context, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		k, v := tx.Bucket(bucketKV).Cursor().Seek(key)
		if k == nil || !bytes.Equal(k, key) {
			return kv.ErrNotFound
		}
		out = append([]byte{}, v...)
		return nil
	})
	return out, err
}

// Put implements kv.Store.
func (s *Store) Put(ctx context.Context, key, value []byte) error {
	return s.Batch(ctx, []kv.Op{kv.Put(key, value)})
}

// Delete implements kv.Store.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	return s.Batch(ctx, []kv.Op{kv.Delete(key)})
}

// Batch implements kv.Store in one read-write transaction.
func (s *Store) Batch(_ context.Context, ops []kv.Op) error {
	if len(ops) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKV)
		for _, op := range ops {
			switch op.Kind {
			case kv.OpPut:
				value := op.Value
				if value == nil {
					value = []byte{}
				}
				if err := b.Put(op.Key, value); err != nil {
					return fmt.Errorf("put %q: %w", op.Key, err)
				}
			case kv.OpDelete:
				if err := b.Delete(op.Key); err != nil {
					return fmt.Errorf("delete %q: %w", op.Key, err)
				}
			default:
				return fmt.Errorf("unknown op kind %d", op.Kind)
			}
		}
		return nil
	})
}

// Scan implements kv.Store.
func (s *Store) Scan(ctx context.Context, r kv.Range) (kv.Iterator, error) {
	return kv.NewPagedIterator(ctx, r, s.pageSize, s.page), nil
}

func (s *Store) page(_ context.Context, r kv.Range) ([]kv.Pair, error) {
	start, limit := r.Bounds()
	out := make([]kv.Pair, 0, r.Limit)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketKV).Cursor()
		collect := func(k, v []byte) bool {
			out = append(out, kv.Pair{Key: append([]byte{}, k...), Value: append([]byte{}, v...)})
			return len(out) < r.Limit
		}

		if !r.Reverse {
			var k, v []byte
			if start == nil {
				k, v = c.First()
			} else {
				k, v = c.Seek(start)
			}
			for ; k != nil; k, v = c.Next() {
				if limit != nil && bytes.Compare(k, limit) >= 0 {
					break
				}
				if !collect(k, v) {
					break
				}
			}
			return nil
		}

		var k, v []byte
		if limit == nil {
			k, v = c.Last()
		} else if k, v = c.Seek(limit); k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		for ; k != nil; k, v = c.Prev() {
			if start != nil && bytes.Compare(k, start) < 0 {
				break
			}
			if !collect(k, v) {
				break
			}
		}
		return nil
	})
	return out, err
}

// Close implements kv.Store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Debug("closing bolt store")
	return s.db.Close()
}
