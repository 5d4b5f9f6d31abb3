package engine

import (
	"context"
	"sync"

	"github.com/roach88/siglog/internal/envelope"
)

// lockRegistry hands out one mutual-exclusion scope per identity. Entries are
// reference counted and dropped when the last holder or waiter leaves, so
// the map only holds identities with work in flight.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[envelope.PublicKey]*identityLock
}

type identityLock struct {
	sem  chan struct{}
	refs int
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[envelope.PublicKey]*identityLock)}
}

// lock blocks until pk's scope is free or ctx is done. The returned func
// releases the scope.
func (r *lockRegistry) lock(ctx context.Context, pk envelope.PublicKey) (func(), error) {
	r.mu.Lock()
	l, ok := r.locks[pk]
	if !ok {
		l = &identityLock{sem: make(chan struct{}, 1)}
		r.locks[pk] = l
	}
	l.refs++
	r.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		r.release(pk, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			r.release(pk, l)
		})
	}, nil
}

func (r *lockRegistry) release(pk envelope.PublicKey, l *identityLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, pk)
	}
}

// size reports the number of identities with a holder or waiter.
func (r *lockRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
