// Package fanout keeps the derived indexes in step with the logs.
//
// Apply runs once per committed append, in this order:
//
//  1. follower edges are rewritten when the entry follows or unfollows
//  2. the entry is copied into follower timelines and mention lists, and a
//     reply edge is added for posts with a parent
//  3. a new follow backfills the target's log into the subscriber's timeline
//  4. an unfollow retracts the target's entries past the stop index
//
// Each step is one atomic index write. Steps are not atomic with each other
// or with the log commit; Rebuild regenerates an identity's derived state
// from the logs after a failure.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/mentions"
	"github.com/roach88/siglog/internal/reduction"
	"github.com/roach88/siglog/internal/store"
)

// Phases reported to the observer.
const (
	PhaseEdges    = "edges"
	PhasePostings = "postings"
	PhaseBackfill = "backfill"
	PhaseRetract  = "retract"
	PhaseRebuild  = "rebuild"
)

// backfillBatchSize bounds the entries buffered before a backfill write.
const backfillBatchSize = 512

// Reductions loads the current reduction of an identity.
type Reductions interface {
	Reduction(ctx context.Context, pk envelope.PublicKey) (reduction.State, error)
}

// Event is one committed append. Prior is the publisher's reduction before
// the entry, Next after it.
type Event struct {
	Envelope envelope.Envelope
	Digest   envelope.Digest
	Prior    reduction.State
	Next     reduction.State
}

// Maintainer applies fan-out for committed appends.
type Maintainer struct {
	backend    store.Backend
	reductions Reductions
	logger     *slog.Logger
	observe    func(phase string, elapsed time.Duration)
}

// Option configures a Maintainer.
type Option func(*Maintainer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Maintainer) { m.logger = logger }
}

// WithReductions reads mention recipients' reductions from r instead of the
// backend.
func WithReductions(r Reductions) Option {
	return func(m *Maintainer) { m.reductions = r }
}

// WithObserver reports the duration of every phase.
func WithObserver(fn func(phase string, elapsed time.Duration)) Option {
	return func(m *Maintainer) { m.observe = fn }
}

// New returns a Maintainer writing to backend.
func New(backend store.Backend, opts ...Option) *Maintainer {
	m := &Maintainer{
		backend:    backend,
		reductions: backend,
		logger:     slog.Default(),
		observe:    func(string, time.Duration) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Maintainer) timed(phase string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.observe(phase, time.Since(start))
	return err
}

// Apply runs every fan-out step for ev and returns the first failure.
func (m *Maintainer) Apply(ctx context.Context, ev Event) error {
	env := ev.Envelope
	sender := env.PublicKey
	index := env.Message.Index
	ms := mentions.In(env)

	if mentions.HasFollowChange(ms) {
		if err := m.timed(PhaseEdges, func() error {
			return m.rewriteEdges(ctx, sender, ev.Prior, ev.Next)
		}); err != nil {
			return fmt.Errorf("follower edges: %w", err)
		}
	}

	if err := m.timed(PhasePostings, func() error {
		return m.postings(ctx, env, ms)
	}); err != nil {
		return fmt.Errorf("timeline fan-out: %w", err)
	}

	body := env.Message.Body
	switch body.Type() {
	case mentions.TypeFollow:
		target, ok := body.PublicKey("publicKey")
		if !ok || !ev.Next.FollowsOpenEnded(target) || ev.Prior.FollowsOpenEnded(target) {
			break
		}
		if err := m.timed(PhaseBackfill, func() error {
			return m.Backfill(ctx, sender, target, nil)
		}); err != nil {
			return fmt.Errorf("backfill %s: %w", target, err)
		}

	case mentions.TypeUnfollow:
		target, ok := body.PublicKey("publicKey")
		if !ok {
			break
		}
		stop, retract := retraction(ev.Prior, ev.Next, target)
		if !retract {
			break
		}
		if err := m.timed(PhaseRetract, func() error {
			return m.Retract(ctx, sender, target, stop)
		}); err != nil {
			return fmt.Errorf("retract %s: %w", target, err)
		}
	}

	m.logger.Debug("fan-out applied",
		"public_key", sender,
		"index", index,
		"mentions", len(ms),
	)
	return nil
}

// retraction reports whether an unfollow of target narrowed what the
// subscriber receives, and the new stop.
func retraction(prior, next reduction.State, target envelope.PublicKey) (int64, bool) {
	before, ok := prior.Record(target)
	if !ok {
		return 0, false
	}
	after, ok := next.Record(target)
	if !ok || after.Stop == nil {
		return 0, false
	}
	if before.Stop != nil && *before.Stop <= *after.Stop {
		return 0, false
	}
	return *after.Stop, true
}

// rewriteEdges mirrors the sender's following map onto follower edges.
func (m *Maintainer) rewriteEdges(ctx context.Context, sender envelope.PublicKey, prior, next reduction.State) error {
	b := store.NewIndexBatch()
	for _, target := range next.FollowedKeys() {
		rec, _ := next.Record(target)
		b.PutFollower(target, sender, rec)
	}
	for _, target := range prior.FollowedKeys() {
		if _, ok := next.Record(target); !ok {
			b.DeleteFollower(target, sender)
		}
	}
	return m.backend.WriteIndexes(ctx, b)
}

// postings copies env into the timelines of its sender's followers and the
// mention lists of mentioned identities that follow the sender, and records
// a reply edge for posts with a parent.
func (m *Maintainer) postings(ctx context.Context, env envelope.Envelope, ms []mentions.Mention) error {
	sender := env.PublicKey
	index := env.Message.Index
	b := store.NewIndexBatch()

	followers, err := store.Collect(m.backend.FollowerStream(ctx, sender), 0)
	if err != nil {
		return err
	}
	delivered := make(map[envelope.PublicKey]struct{}, len(followers))
	for _, f := range followers {
		if f.Covers(index) {
			b.PutTimeline(f.PublicKey, env)
			delivered[f.PublicKey] = struct{}{}
		}
	}

	notified := make(map[envelope.PublicKey]struct{}, len(ms))
	for _, mention := range ms {
		recipient := mention.PublicKey
		if _, done := notified[recipient]; done || recipient == sender {
			continue
		}
		notified[recipient] = struct{}{}
		state, err := m.reductions.Reduction(ctx, recipient)
		if err != nil {
			return fmt.Errorf("load reduction of %s: %w", recipient, err)
		}
		if state.Follows(sender, index) {
			b.PutMention(recipient, env)
			delivered[recipient] = struct{}{}
		}
	}

	body := env.Message.Body
	if body.Type() == "post" {
		if parent, ok := body.Ref("parent"); ok {
			b.PutReply(parent, envelope.Ref{PublicKey: sender, Index: index})
		}
	}
	if err := m.backend.WriteIndexes(ctx, b); err != nil {
		return err
	}
	return m.withdraw(ctx, env, delivered)
}

// withdraw removes env from delivered recipients whose follower edge no
// longer covers it. An unfollow committed after the edges were read may have
// run its retraction before env landed in the recipient's timeline.
func (m *Maintainer) withdraw(ctx context.Context, env envelope.Envelope, delivered map[envelope.PublicKey]struct{}) error {
	if len(delivered) == 0 {
		return nil
	}
	followers, err := store.Collect(m.backend.FollowerStream(ctx, env.PublicKey), 0)
	if err != nil {
		return err
	}
	b := store.NewIndexBatch()
	withdrawn := 0
	for _, f := range followers {
		if _, ok := delivered[f.PublicKey]; ok && !f.Covers(env.Message.Index) {
			b.DeleteTimeline(f.PublicKey, env)
			withdrawn++
		}
	}
	if withdrawn == 0 {
		return nil
	}
	m.logger.Debug("withdrew entry after concurrent unfollow",
		"public_key", env.PublicKey,
		"index", env.Message.Index,
		"recipients", withdrawn,
	)
	return m.backend.WriteIndexes(ctx, b)
}

// Backfill copies target's log into subscriber's timeline, and into its
// mentions where subscriber is mentioned. A non-nil stop limits the copy to
// indices up to and including *stop.
func (m *Maintainer) Backfill(ctx context.Context, subscriber, target envelope.PublicKey, stop *int64) error {
	s := m.backend.LogStream(ctx, target, store.LogOptions{})
	defer s.Close()

	b := store.NewIndexBatch()
	copied := 0
	for s.Next() {
		e := s.Item()
		if stop != nil && e.Index > *stop {
			break
		}
		b.PutTimeline(subscriber, e.Envelope)
		if mentions.Mentioned(subscriber, e.Envelope) {
			b.PutMention(subscriber, e.Envelope)
		}
		copied++
		if b.Len() >= backfillBatchSize {
			if err := m.backend.WriteIndexes(ctx, b); err != nil {
				return err
			}
			b = store.NewIndexBatch()
		}
	}
	if err := s.Err(); err != nil {
		return err
	}
	if err := m.backend.WriteIndexes(ctx, b); err != nil {
		return err
	}

	m.logger.Debug("backfilled timeline",
		"public_key", subscriber,
		"target", target,
		"entries", copied,
	)
	return nil
}

// Retract removes target's entries after stop from subscriber's timeline and
// mentions. The timeline is walked newest first and the walk ends at the
// first entry of target at or before stop, since one sender's dates increase
// with its index.
func (m *Maintainer) Retract(ctx context.Context, subscriber, target envelope.PublicKey, stop int64) error {
	s := m.backend.TimelineStream(ctx, subscriber, store.ScanOptions{Reverse: true})
	b := store.NewIndexBatch()
	removed := 0
	for s.Next() {
		env := s.Item()
		if env.PublicKey != target {
			continue
		}
		if env.Message.Index <= stop {
			break
		}
		b.DeleteTimeline(subscriber, env)
		removed++
	}
	err := s.Err()
	s.Close()
	if err != nil {
		return err
	}
	if err := m.backend.WriteIndexes(ctx, b); err != nil {
		return err
	}

	m.logger.Debug("retracted timeline entries",
		"public_key", subscriber,
		"target", target,
		"stop", stop,
		"entries", removed,
	)
	return nil
}

// Rebuild regenerates everything derived from pk's log and subscriptions:
// pk's outgoing follower edges, its timeline and mentions, and the reply
// edges of its posts. state must be pk's current reduction.
func (m *Maintainer) Rebuild(ctx context.Context, pk envelope.PublicKey, state reduction.State) error {
	return m.timed(PhaseRebuild, func() error {
		if err := m.rewriteEdges(ctx, pk, reduction.State{}, state); err != nil {
			return fmt.Errorf("follower edges: %w", err)
		}
		if err := m.backend.ClearRecipient(ctx, pk); err != nil {
			return err
		}
		for _, target := range state.FollowedKeys() {
			rec, _ := state.Record(target)
			if err := m.Backfill(ctx, pk, target, rec.Stop); err != nil {
				return fmt.Errorf("backfill %s: %w", target, err)
			}
		}
		return m.replies(ctx, pk)
	})
}

// replies re-adds the reply edges of pk's posts.
func (m *Maintainer) replies(ctx context.Context, pk envelope.PublicKey) error {
	s := m.backend.LogStream(ctx, pk, store.LogOptions{})
	defer s.Close()

	b := store.NewIndexBatch()
	for s.Next() {
		e := s.Item()
		body := e.Envelope.Message.Body
		if body.Type() != "post" {
			continue
		}
		if parent, ok := body.Ref("parent"); ok {
			b.PutReply(parent, envelope.Ref{PublicKey: pk, Index: e.Index})
		}
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("replies of %s: %w", pk, err)
	}
	return m.backend.WriteIndexes(ctx, b)
}
