package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/testutil"
)

func TestErrorPredicates(t *testing.T) {
	pk := testutil.Identity("anna").PublicKey
	cause := errors.New("disk full")

	tests := []struct {
		name      string
		err       error
		conflict  bool
		gap       bool
		date      bool
		future    bool
		committed bool
	}{
		{name: "conflict", err: &ConflictError{PublicKey: pk}, conflict: true},
		{name: "gap", err: &GapError{PublicKey: pk, Head: 1, Index: 3}, gap: true},
		{name: "date", err: &DateOrderError{PublicKey: pk}, date: true},
		{name: "future", err: &FutureError{PublicKey: pk}, future: true},
		{name: "fanout", err: &FanoutError{PublicKey: pk, Err: cause}, committed: true},
		{name: "wrapped gap", err: fmt.Errorf("append: %w", &GapError{PublicKey: pk}), gap: true},
		{name: "plain", err: cause},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.conflict, IsConflict(tt.err))
			assert.Equal(t, tt.gap, IsGap(tt.err))
			assert.Equal(t, tt.gap, IsRetryable(tt.err))
			assert.Equal(t, tt.date, IsDateOrder(tt.err))
			assert.Equal(t, tt.future, IsFuture(tt.err))
			assert.Equal(t, tt.committed, IsCommitted(tt.err))
		})
	}
}

func TestFanoutErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := &FanoutError{PublicKey: testutil.Identity("anna").PublicKey, Index: 4, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "[4]")
	assert.Contains(t, err.Error(), "disk full")
}

func TestErrorMessages(t *testing.T) {
	pk := testutil.Identity("anna").PublicKey
	var d envelope.Digest

	assert.Contains(t, (&GapError{PublicKey: pk, Head: 1, Index: 3}).Error(), "head is 1, got index 3")
	assert.Contains(t, (&ConflictError{PublicKey: pk, Index: 2, First: d, Second: d}).Error(), "[2]")
	assert.Contains(t, (&DateOrderError{
		PublicKey: pk, PriorIndex: 0, PriorDate: day(2), NextIndex: 1, NextDate: day(1),
	}).Error(), "2019-02-01T00:00:00.000Z")
	assert.Contains(t, (&FutureError{
		PublicKey: pk, Date: now.Add(time.Hour), Now: now, MaxClockSkew: time.Minute,
	}).Error(), "1h0m0s ahead")
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "appended", OutcomeAppended.String())
	assert.Equal(t, "exists", OutcomeExists.String())
	assert.Equal(t, "Outcome(0)", Outcome(0).String())
}
