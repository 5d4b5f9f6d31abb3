package kv

//go:generate mockgen -destination kvmock/store.go -package kvmock github.com/roach88/siglog/internal/kv Store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv: store closed")

// Store is an ordered byte key-value store. Keys sort bytewise.
//
// Implementations must be safe for concurrent use. Batch applies every op
// or none of them.
type Store interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	Batch(ctx context.Context, ops []Op) error
	Scan(ctx context.Context, r Range) (Iterator, error)
	Close() error
}

// OpKind distinguishes batch operations.
type OpKind uint8

const (
	OpPut OpKind = iota + 1
	OpDelete
)

// Op is one batch operation.
type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte
}

// Put returns a put operation.
func Put(key, value []byte) Op { return Op{Kind: OpPut, Key: key, Value: value} }

// Delete returns a delete operation.
func Delete(key []byte) Op { return Op{Kind: OpDelete, Key: key} }

// Iterator walks a range. Key and Value are valid until the next call to
// Next and must be copied to be retained. Close must always be called.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// Pair is a copied key-value pair.
type Pair struct {
	Key   []byte
	Value []byte
}
