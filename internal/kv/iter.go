package kv

import "context"

// DefaultPageSize is the page length used by paged iterators.
const DefaultPageSize = 256

// PageFunc reads at most r.Limit pairs of r in scan order. Returned pairs
// must be copies.
type PageFunc func(ctx context.Context, r Range) ([]Pair, error)

// NewPagedIterator walks r one page at a time, resuming each page after the
// last key of the previous one. Backends that must not hold a read
// transaction open across caller code use it. Pages are individually
// consistent; the walk as a whole is not a snapshot.
func NewPagedIterator(ctx context.Context, r Range, pageSize int, fetch PageFunc) Iterator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &pagedIterator{ctx: ctx, next: r, remaining: r.Limit, pageSize: pageSize, fetch: fetch}
}

type pagedIterator struct {
	ctx       context.Context
	next      Range
	remaining int
	pageSize  int
	fetch     PageFunc

	page   []Pair
	pos    int
	done   bool
	err    error
	closed bool
}

func (it *pagedIterator) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if it.pos+1 < len(it.page) {
		it.pos++
		return it.take()
	}
	if it.done {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}

	n := it.pageSize
	if it.next.Limit > 0 && it.remaining < n {
		n = it.remaining
	}
	r := it.next
	r.Limit = n
	page, err := it.fetch(it.ctx, r)
	if err != nil {
		it.err = err
		return false
	}
	if len(page) < n {
		it.done = true
	}
	if len(page) == 0 {
		return false
	}
	it.page = page
	it.pos = 0
	it.next = it.next.After(page[len(page)-1].Key)
	return it.take()
}

func (it *pagedIterator) take() bool {
	if it.next.Limit > 0 {
		if it.remaining <= 0 {
			it.done = true
			it.page = nil
			return false
		}
		it.remaining--
		if it.remaining == 0 {
			it.done = true
		}
	}
	return true
}

func (it *pagedIterator) Key() []byte   { return it.page[it.pos].Key }
func (it *pagedIterator) Value() []byte { return it.page[it.pos].Value }
func (it *pagedIterator) Err() error    { return it.err }

func (it *pagedIterator) Close() error {
	it.closed = true
	it.page = nil
	return nil
}

// Limit wraps it so that at most n entries are returned. n <= 0 returns it
// unchanged.
func Limit(it Iterator, n int) Iterator {
	if n <= 0 {
		return it
	}
	return &limitIterator{Iterator: it, remaining: n}
}

type limitIterator struct {
	Iterator
	remaining int
}

func (it *limitIterator) Next() bool {
	if it.remaining <= 0 {
		return false
	}
	if !it.Iterator.Next() {
		return false
	}
	it.remaining--
	return true
}

// Collect drains it into copied pairs and closes it.
func Collect(it Iterator) ([]Pair, error) {
	defer it.Close()
	var out []Pair
	for it.Next() {
		out = append(out, Pair{Key: clone(it.Key()), Value: clone(it.Value())})
	}
	return out, it.Err()
}
