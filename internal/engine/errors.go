package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/siglog/internal/envelope"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("engine: closed")

// ConflictError reports a second, different envelope for an occupied index.
// The pair is recorded once as conflict evidence. First sorts before Second.
type ConflictError struct {
	PublicKey envelope.PublicKey
	Index     int64
	First     envelope.Digest
	Second    envelope.Digest
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict at %s[%d]: %s vs %s", e.PublicKey, e.Index, e.First, e.Second)
}

// GapError reports an index beyond head+1. Appending the missing indices
// first makes the same envelope acceptable.
type GapError struct {
	PublicKey envelope.PublicKey
	Head      int64
	Index     int64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("gap in %s: head is %d, got index %d", e.PublicKey, e.Head, e.Index)
}

// DateOrderError reports an entry not dated strictly after its predecessor.
type DateOrderError struct {
	PublicKey   envelope.PublicKey
	PriorIndex  int64
	PriorDigest envelope.Digest
	PriorDate   time.Time
	NextIndex   int64
	NextDigest  envelope.Digest
	NextDate    time.Time
}

func (e *DateOrderError) Error() string {
	return fmt.Sprintf("date order in %s: index %d dated %s is not after index %d dated %s",
		e.PublicKey, e.NextIndex, envelope.FormatDate(e.NextDate), e.PriorIndex, envelope.FormatDate(e.PriorDate))
}

// FutureError reports an entry dated further ahead of the clock than the
// configured skew allows.
type FutureError struct {
	PublicKey    envelope.PublicKey
	Date         time.Time
	Now          time.Time
	MaxClockSkew time.Duration
}

func (e *FutureError) Error() string {
	return fmt.Sprintf("entry of %s dated %s is %s ahead of now (max skew %s)",
		e.PublicKey, envelope.FormatDate(e.Date), e.Date.Sub(e.Now), e.MaxClockSkew)
}

// FanoutError reports a failure after the log entry was committed. The entry
// is durable; the derived indexes need a Rebuild.
type FanoutError struct {
	PublicKey envelope.PublicKey
	Index     int64
	Err       error
}

func (e *FanoutError) Error() string {
	return fmt.Sprintf("fan-out of %s[%d] failed after commit: %v", e.PublicKey, e.Index, e.Err)
}

func (e *FanoutError) Unwrap() error { return e.Err }

// IsConflict reports whether err wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsGap reports whether err wraps a GapError.
func IsGap(err error) bool {
	var ge *GapError
	return errors.As(err, &ge)
}

// IsDateOrder reports whether err wraps a DateOrderError.
func IsDateOrder(err error) bool {
	var de *DateOrderError
	return errors.As(err, &de)
}

// IsFuture reports whether err wraps a FutureError.
func IsFuture(err error) bool {
	var fe *FutureError
	return errors.As(err, &fe)
}

// IsCommitted reports whether the entry behind err was durably stored
// despite the error.
func IsCommitted(err error) bool {
	var fe *FanoutError
	return errors.As(err, &fe)
}

// IsRetryable reports whether resubmitting the same envelope can succeed
// without other changes first. Only gaps qualify, and only once the
// missing entries are appended.
func IsRetryable(err error) bool {
	return IsGap(err)
}
