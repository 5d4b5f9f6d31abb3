package store

import (
	"github.com/roach88/siglog/internal/kv"
)

// Stream is a pull iterator. Item is valid after Next returns true. Close
// releases the underlying resources and is safe to call more than once.
type Stream[T any] interface {
	Next() bool
	Item() T
	Err() error
	Close() error
}

// Collect drains s, stopping after limit items when limit > 0, and closes it.
func Collect[T any](s Stream[T], limit int) ([]T, error) {
	defer s.Close()
	var out []T
	for s.Next() {
		out = append(out, s.Item())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := s.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// decodeFunc turns one kv pair into an item. Returning false skips the pair.
type decodeFunc[T any] func(key, value []byte) (T, bool, error)

// kvStream adapts a kv.Iterator.
type kvStream[T any] struct {
	it     kv.Iterator
	decode decodeFunc[T]
	item   T
	err    error
	closed bool
}

func newKVStream[T any](it kv.Iterator, decode decodeFunc[T]) *kvStream[T] {
	return &kvStream[T]{it: it, decode: decode}
}

func (s *kvStream[T]) Next() bool {
	if s.closed || s.err != nil {
		return false
	}
	for s.it.Next() {
		item, ok, err := s.decode(s.it.Key(), s.it.Value())
		if err != nil {
			s.err = err
			return false
		}
		if ok {
			s.item = item
			return true
		}
	}
	s.err = s.it.Err()
	return false
}

func (s *kvStream[T]) Item() T    { return s.item }
func (s *kvStream[T]) Err() error { return s.err }

func (s *kvStream[T]) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.it.Close()
}

// funcStream pulls items from next until it reports done.
type funcStream[T any] struct {
	next    func() (T, bool, error)
	release func() error
	item    T
	err     error
	done    bool
}

func newFuncStream[T any](next func() (T, bool, error), release func() error) *funcStream[T] {
	return &funcStream[T]{next: next, release: release}
}

func (s *funcStream[T]) Next() bool {
	if s.done {
		return false
	}
	item, ok, err := s.next()
	if err != nil {
		s.err = err
		s.done = true
		return false
	}
	if !ok {
		s.done = true
		return false
	}
	s.item = item
	return true
}

func (s *funcStream[T]) Item() T    { return s.item }
func (s *funcStream[T]) Err() error { return s.err }

func (s *funcStream[T]) Close() error {
	s.done = true
	if s.release == nil {
		return nil
	}
	release := s.release
	s.release = nil
	return release()
}

// errStream yields nothing and reports err.
func errStream[T any](err error) Stream[T] {
	return &funcStream[T]{err: err, done: true}
}
