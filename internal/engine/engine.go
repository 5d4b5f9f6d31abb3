package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/fanout"
	"github.com/roach88/siglog/internal/reduction"
	"github.com/roach88/siglog/internal/store"
)

// DefaultMaxClockSkew is how far ahead of the clock an entry may be dated.
const DefaultMaxClockSkew = 60 * time.Second

// Outcome is the result of a successful Append.
type Outcome int

const (
	// OutcomeAppended means the envelope became the new head.
	OutcomeAppended Outcome = iota + 1
	// OutcomeExists means the identical envelope was already stored.
	OutcomeExists
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAppended:
		return "appended"
	case OutcomeExists:
		return "exists"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Engine sequences envelopes into per-identity logs on top of a Backend.
type Engine struct {
	backend      store.Backend
	fanout       *fanout.Maintainer
	locks        *lockRegistry
	clock        Clock
	maxClockSkew time.Duration
	logger       *slog.Logger
	metrics      *metrics

	// cache holds reductions keyed by public key. nil when disabled.
	cache *cache.Cache

	closeMu sync.RWMutex
	closed  bool
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	clock        Clock
	maxClockSkew time.Duration
	logger       *slog.Logger
	registerer   prometheus.Registerer
	cacheTTL     time.Duration
}

// WithClock sets the clock used by the future-date check.
func WithClock(c Clock) Option {
	return func(cfg *engineConfig) { cfg.clock = c }
}

// WithMaxClockSkew sets how far ahead of the clock an entry may be dated.
func WithMaxClockSkew(d time.Duration) Option {
	return func(cfg *engineConfig) { cfg.maxClockSkew = d }
}

// WithLogger sets the logger for the engine and its fan-out.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engineConfig) { cfg.logger = logger }
}

// WithMetrics registers the engine collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(cfg *engineConfig) { cfg.registerer = reg }
}

// WithReductionCache keeps reductions in memory for ttl after their last
// write. Zero disables the cache.
func WithReductionCache(ttl time.Duration) Option {
	return func(cfg *engineConfig) { cfg.cacheTTL = ttl }
}

// New returns an Engine over backend. The engine does not own backend;
// Close leaves it open.
func New(backend store.Backend, opts ...Option) *Engine {
	cfg := engineConfig{
		clock:        SystemClock{},
		maxClockSkew: DefaultMaxClockSkew,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{
		backend:      backend,
		locks:        newLockRegistry(),
		clock:        cfg.clock,
		maxClockSkew: cfg.maxClockSkew,
		logger:       cfg.logger,
		metrics:      newMetrics(cfg.registerer),
	}
	if cfg.cacheTTL > 0 {
		e.cache = cache.New(cfg.cacheTTL, 2*cfg.cacheTTL)
	}
	e.fanout = fanout.New(backend,
		fanout.WithLogger(cfg.logger),
		fanout.WithReductions(e),
		fanout.WithObserver(func(phase string, elapsed time.Duration) {
			e.metrics.fanoutDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
		}),
	)
	return e
}

// Close stops accepting appends. Calls already running finish.
func (e *Engine) Close() error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	e.closed = true
	if e.cache != nil {
		e.cache.Flush()
	}
	return nil
}

// Append validates env and adds it to its identity's log.
//
// A nil error comes with OutcomeAppended or OutcomeExists. Rejections are
// *envelope.ValidationError, *ConflictError, *GapError, *DateOrderError or
// *FutureError and leave the log unchanged (a conflict is recorded as
// evidence). A *FanoutError means the entry was committed.
func (e *Engine) Append(ctx context.Context, env envelope.Envelope) (Outcome, error) {
	start := time.Now()
	outcome, err := e.appendLocked(ctx, env)
	e.metrics.appendDuration.Observe(time.Since(start).Seconds())
	e.metrics.appends.WithLabelValues(outcomeLabel(outcome, err)).Inc()
	return outcome, err
}

func (e *Engine) appendLocked(ctx context.Context, env envelope.Envelope) (Outcome, error) {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return 0, ErrClosed
	}

	if err := envelope.Validate(env); err != nil {
		return 0, err
	}
	encoded, err := envelope.Encode(env)
	if err != nil {
		return 0, fmt.Errorf("encode envelope: %w", err)
	}
	digest := envelope.HashEncoded(encoded)

	pk := env.PublicKey
	index := env.Message.Index
	logger := e.logger.With("public_key", pk.String(), "index", index, "digest", digest.String())

	unlock, err := e.locks.lock(ctx, pk)
	if err != nil {
		return 0, err
	}
	defer unlock()

	head, err := e.backend.Head(ctx, pk)
	if err != nil {
		return 0, err
	}

	switch {
	case index <= head:
		return e.occupied(ctx, logger, pk, index, digest)
	case index > head+1:
		logger.Warn("append rejected", "reason", "gap", "head", head)
		return 0, &GapError{PublicKey: pk, Head: head, Index: index}
	}

	date := env.Message.Date.UTC()
	now := e.clock.Now()
	if date.Sub(now) > e.maxClockSkew {
		logger.Warn("append rejected", "reason", "future", "date", envelope.FormatDate(date))
		return 0, &FutureError{PublicKey: pk, Date: date, Now: now, MaxClockSkew: e.maxClockSkew}
	}

	if index > 0 {
		prior, err := e.backend.Read(ctx, pk, index-1)
		if err != nil {
			return 0, fmt.Errorf("read %s[%d]: %w", pk, index-1, err)
		}
		priorDate := prior.Message.Date.UTC()
		if !date.After(priorDate) {
			priorDigest, err := e.backend.EntryDigest(ctx, pk, index-1)
			if err != nil {
				return 0, fmt.Errorf("digest of %s[%d]: %w", pk, index-1, err)
			}
			logger.Warn("append rejected", "reason", "date_order", "date", envelope.FormatDate(date))
			return 0, &DateOrderError{
				PublicKey:   pk,
				PriorIndex:  index - 1,
				PriorDigest: priorDigest,
				PriorDate:   priorDate,
				NextIndex:   index,
				NextDigest:  digest,
				NextDate:    date,
			}
		}
	}

	priorState, err := e.Reduction(ctx, pk)
	if err != nil {
		return 0, err
	}
	nextState, err := reduction.Reduce(priorState, env)
	if err != nil {
		return 0, fmt.Errorf("reduce %s[%d]: %w", pk, index, err)
	}

	if err := e.backend.Commit(ctx, store.Commit{
		Envelope:  env,
		Digest:    digest,
		Encoded:   encoded,
		Reduction: nextState,
	}); err != nil {
		e.forget(pk)
		logger.Error("commit failed", "error", err)
		return 0, err
	}
	e.remember(pk, nextState)
	logger.Info("appended", "type", env.Message.Body.Type())

	if err := e.fanout.Apply(ctx, fanout.Event{
		Envelope: env,
		Digest:   digest,
		Prior:    priorState,
		Next:     nextState,
	}); err != nil {
		logger.Error("fan-out failed after commit", "error", err)
		return OutcomeAppended, &FanoutError{PublicKey: pk, Index: index, Err: err}
	}
	return OutcomeAppended, nil
}

// occupied handles an index at or below head: a duplicate or a conflict.
func (e *Engine) occupied(ctx context.Context, logger *slog.Logger, pk envelope.PublicKey, index int64, digest envelope.Digest) (Outcome, error) {
	stored, err := e.backend.EntryDigest(ctx, pk, index)
	if err != nil {
		return 0, fmt.Errorf("digest of %s[%d]: %w", pk, index, err)
	}
	if stored == digest {
		logger.Debug("append is a duplicate")
		return OutcomeExists, nil
	}

	c := store.NewConflict(pk, index, stored, digest, e.clock.Now())
	fresh, err := e.backend.RecordConflict(ctx, c)
	if err != nil {
		return 0, fmt.Errorf("record conflict %s[%d]: %w", pk, index, err)
	}
	if fresh {
		e.metrics.conflicts.Inc()
	}
	logger.Warn("append rejected", "reason", "conflict", "stored", stored.String(), "new_conflict", fresh)
	return 0, &ConflictError{PublicKey: pk, Index: index, First: c.First, Second: c.Second}
}

// Read returns the envelope at (pk, index) or store.ErrNotFound.
func (e *Engine) Read(ctx context.Context, pk envelope.PublicKey, index int64) (envelope.Envelope, error) {
	return e.backend.Read(ctx, pk, index)
}

// Head returns the highest index of pk's log, or -1 for an unknown identity.
func (e *Engine) Head(ctx context.Context, pk envelope.PublicKey) (int64, error) {
	return e.backend.Head(ctx, pk)
}

// Reduction returns pk's current reduction. The returned state is a copy.
//
// A cache miss reads the backend without filling the cache. Only writers
// holding pk's lock store states, so a concurrent reader cannot replace a
// newer cached state with the one it read.
func (e *Engine) Reduction(ctx context.Context, pk envelope.PublicKey) (reduction.State, error) {
	if e.cache != nil {
		if v, ok := e.cache.Get(pk.String()); ok {
			return v.(reduction.State).Clone(), nil
		}
	}
	state, err := e.backend.Reduction(ctx, pk)
	if err != nil {
		return reduction.State{}, fmt.Errorf("reduction of %s: %w", pk, err)
	}
	return state, nil
}

// remember caches pk's state. The caller must hold pk's lock.
func (e *Engine) remember(pk envelope.PublicKey, state reduction.State) {
	if e.cache != nil {
		e.cache.SetDefault(pk.String(), state.Clone())
	}
}

func (e *Engine) forget(pk envelope.PublicKey) {
	if e.cache != nil {
		e.cache.Delete(pk.String())
	}
}

func outcomeLabel(o Outcome, err error) string {
	var verr *envelope.ValidationError
	switch {
	case err == nil && o == OutcomeExists:
		return outcomeExists
	case err == nil:
		return outcomeAppended
	case IsConflict(err):
		return outcomeConflict
	case IsGap(err):
		return outcomeGap
	case IsDateOrder(err):
		return outcomeDate
	case IsFuture(err):
		return outcomeFuture
	case IsCommitted(err):
		return outcomeFanout
	case errors.As(err, &verr):
		return outcomeInvalid
	default:
		return outcomeError
	}
}
