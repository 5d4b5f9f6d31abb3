package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/reduction"
	"github.com/roach88/siglog/internal/store"
)

// Rereduce recomputes pk's reduction from its log, persists it and returns
// it. The result equals the state incremental appends produced.
func (e *Engine) Rereduce(ctx context.Context, pk envelope.PublicKey) (reduction.State, error) {
	unlock, err := e.locks.lock(ctx, pk)
	if err != nil {
		return reduction.State{}, err
	}
	defer unlock()
	return e.rereduce(ctx, pk)
}

func (e *Engine) rereduce(ctx context.Context, pk envelope.PublicKey) (reduction.State, error) {
	state, err := e.replay(ctx, pk)
	if err != nil {
		return reduction.State{}, err
	}
	if err := e.backend.PutReduction(ctx, pk, state); err != nil {
		e.forget(pk)
		return reduction.State{}, fmt.Errorf("store reduction of %s: %w", pk, err)
	}
	e.remember(pk, state)
	return state, nil
}

// replay folds pk's log from index 0.
func (e *Engine) replay(ctx context.Context, pk envelope.PublicKey) (reduction.State, error) {
	s := e.backend.LogStream(ctx, pk, store.LogOptions{})
	defer s.Close()

	var state reduction.State
	for s.Next() {
		next, err := reduction.Reduce(state, s.Item().Envelope)
		if err != nil {
			return reduction.State{}, fmt.Errorf("replay %s[%d]: %w", pk, s.Item().Index, err)
		}
		state = next
	}
	if err := s.Err(); err != nil {
		return reduction.State{}, fmt.Errorf("replay %s: %w", pk, err)
	}
	state.Normalize()
	return state, nil
}

// Rebuild re-derives everything pk's log determines: its reduction, its
// outgoing follower edges, its timeline and mentions, and the reply edges
// of its posts. Entries other identities fanned into pk's timeline are
// recovered through pk's subscriptions.
func (e *Engine) Rebuild(ctx context.Context, pk envelope.PublicKey) error {
	unlock, err := e.locks.lock(ctx, pk)
	if err != nil {
		return err
	}
	defer unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("rebuild id: %w", err)
	}
	logger := e.logger.With("rebuild_id", id.String(), "public_key", pk.String())
	start := time.Now()

	state, err := e.rereduce(ctx, pk)
	if err != nil {
		logger.Error("rebuild failed", "step", "reduction", "error", err)
		return err
	}
	if err := e.fanout.Rebuild(ctx, pk, state); err != nil {
		logger.Error("rebuild failed", "step", "indexes", "error", err)
		return fmt.Errorf("rebuild indexes of %s: %w", pk, err)
	}

	e.metrics.rebuilds.Inc()
	logger.Info("rebuilt", "following", len(state.Following), "elapsed", time.Since(start))
	return nil
}

// RebuildAll rebuilds every known identity and returns how many it rebuilt.
// It stops at the first failure.
func (e *Engine) RebuildAll(ctx context.Context) (int, error) {
	keys, err := store.Collect(e.backend.PublicKeyStream(ctx), 0)
	if err != nil {
		return 0, fmt.Errorf("list identities: %w", err)
	}
	for i, pk := range keys {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := e.Rebuild(ctx, pk); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}
