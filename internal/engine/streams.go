package engine

import (
	"context"

	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/store"
)

// LogStream walks pk's log from index 0 upward.
func (e *Engine) LogStream(ctx context.Context, pk envelope.PublicKey) store.Stream[store.Entry] {
	return e.backend.LogStream(ctx, pk, store.LogOptions{})
}

// ReverseLogStream walks pk's log from the head down.
func (e *Engine) ReverseLogStream(ctx context.Context, pk envelope.PublicKey) store.Stream[store.Entry] {
	return e.backend.LogStream(ctx, pk, store.LogOptions{Reverse: true})
}

// ConflictStream lists the conflicts recorded against pk.
func (e *Engine) ConflictStream(ctx context.Context, pk envelope.PublicKey) store.Stream[store.Conflict] {
	return e.backend.ConflictStream(ctx, pk)
}

// TimelineStream walks pk's timeline in date order.
func (e *Engine) TimelineStream(ctx context.Context, pk envelope.PublicKey, opts store.ScanOptions) store.Stream[envelope.Envelope] {
	return e.backend.TimelineStream(ctx, pk, opts)
}

// MentionStream walks pk's mentions in date order.
func (e *Engine) MentionStream(ctx context.Context, pk envelope.PublicKey, opts store.ScanOptions) store.Stream[envelope.Envelope] {
	return e.backend.MentionStream(ctx, pk, opts)
}

// FollowerStream lists the identities following pk.
func (e *Engine) FollowerStream(ctx context.Context, pk envelope.PublicKey) store.Stream[store.Follower] {
	return e.backend.FollowerStream(ctx, pk)
}

// ReplyStream lists the posts replying to parent.
func (e *Engine) ReplyStream(ctx context.Context, parent envelope.Ref) store.Stream[envelope.Ref] {
	return e.backend.ReplyStream(ctx, parent)
}

// PublicKeyStream lists every identity with a non-empty log.
func (e *Engine) PublicKeyStream(ctx context.Context) store.Stream[envelope.PublicKey] {
	return e.backend.PublicKeyStream(ctx)
}
