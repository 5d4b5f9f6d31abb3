package store

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/reduction"
)

// ErrNotFound is returned when a log entry or envelope does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrHashCollision is returned when two different envelopes share a digest.
// It is an integrity failure, not a conflict.
var ErrHashCollision = errors.New("store: hash collision")

// Backend is the storage the append engine runs on. Implementations must be
// safe for concurrent callers.
type Backend interface {
	Logs
	Indexes
	Close() error
}

// Logs holds the authoritative per-identity logs.
type Logs interface {
	// Head returns the highest committed index of pk, or -1.
	Head(ctx context.Context, pk envelope.PublicKey) (int64, error)

	// EntryDigest returns the digest stored at (pk, index) or ErrNotFound.
	EntryDigest(ctx context.Context, pk envelope.PublicKey, index int64) (envelope.Digest, error)

	// Read returns the envelope stored at (pk, index) or ErrNotFound.
	Read(ctx context.Context, pk envelope.PublicKey, index int64) (envelope.Envelope, error)

	// Envelope returns the envelope with the given digest or ErrNotFound.
	Envelope(ctx context.Context, digest envelope.Digest) (envelope.Envelope, error)

	// Commit stores one new log entry together with the reduction covering
	// it. Ordered backends apply it atomically.
	Commit(ctx context.Context, c Commit) error

	// RecordConflict stores c unless the same pair is already recorded.
	// It reports whether c was new.
	RecordConflict(ctx context.Context, c Conflict) (bool, error)

	// Reduction returns the persisted reduction of pk. An identity with no
	// log has the empty state.
	Reduction(ctx context.Context, pk envelope.PublicKey) (reduction.State, error)

	// PutReduction overwrites the persisted reduction of pk.
	PutReduction(ctx context.Context, pk envelope.PublicKey, state reduction.State) error

	LogStream(ctx context.Context, pk envelope.PublicKey, opts LogOptions) Stream[Entry]
	ConflictStream(ctx context.Context, pk envelope.PublicKey) Stream[Conflict]
	PublicKeyStream(ctx context.Context) Stream[envelope.PublicKey]
}

// Indexes holds the state derived from logs by fan-out.
type Indexes interface {
	FollowerStream(ctx context.Context, pk envelope.PublicKey) Stream[Follower]
	TimelineStream(ctx context.Context, pk envelope.PublicKey, opts ScanOptions) Stream[envelope.Envelope]
	MentionStream(ctx context.Context, pk envelope.PublicKey, opts ScanOptions) Stream[envelope.Envelope]
	ReplyStream(ctx context.Context, parent envelope.Ref) Stream[envelope.Ref]

	// WriteIndexes applies b in one atomic write.
	WriteIndexes(ctx context.Context, b *IndexBatch) error

	// ClearRecipient drops every timeline and mention entry of pk.
	ClearRecipient(ctx context.Context, pk envelope.PublicKey) error
}

// Commit is one accepted log entry.
type Commit struct {
	Envelope  envelope.Envelope
	Digest    envelope.Digest
	Encoded   []byte
	Reduction reduction.State
}

// Entry is one log position.
type Entry struct {
	Index    int64
	Digest   envelope.Digest
	Envelope envelope.Envelope
}

// Conflict is evidence of two envelopes claiming one log position. First
// sorts before Second.
type Conflict struct {
	PublicKey envelope.PublicKey
	Index     int64
	First     envelope.Digest
	Second    envelope.Digest
	Seen      time.Time
}

// NewConflict orders a and b into a Conflict.
func NewConflict(pk envelope.PublicKey, index int64, a, b envelope.Digest, seen time.Time) Conflict {
	if a.Compare(b) > 0 {
		a, b = b, a
	}
	return Conflict{PublicKey: pk, Index: index, First: a, Second: b, Seen: seen.UTC()}
}

// Follower is an edge seen from the followed identity.
type Follower struct {
	PublicKey envelope.PublicKey
	Name      string
	Stop      *int64
}

// Covers reports whether the follower receives the entry at index.
func (f Follower) Covers(index int64) bool {
	return f.Stop == nil || index <= *f.Stop
}

// LogOptions selects a log walk.
type LogOptions struct {
	Reverse bool
	// From is the first index visited. In reverse walks it is the highest.
	From *int64
	Limit int
}

// ScanOptions selects a timeline or mention walk. Entries are ordered by
// date, then sender, then index.
type ScanOptions struct {
	Reverse bool
	Limit   int
}
