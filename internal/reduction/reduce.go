package reduction

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/siglog/internal/envelope"
)

// DateOrderError reports an entry that does not advance the log's clock.
type DateOrderError struct {
	LatestIndex int64
	LatestDate  time.Time
	Index       int64
	Date        time.Time
}

func (e *DateOrderError) Error() string {
	return fmt.Sprintf("message %d dated %s is not later than message %d dated %s",
		e.Index, envelope.FormatDate(e.Date), e.LatestIndex, envelope.FormatDate(e.LatestDate))
}

// IsDateOrderError reports whether err wraps a DateOrderError.
func IsDateOrderError(err error) bool {
	var de *DateOrderError
	return errors.As(err, &de)
}

// Reduce folds env into state and returns the new state. state is not
// modified.
func Reduce(state State, env envelope.Envelope) (State, error) {
	next := state.Clone()
	msg := env.Message

	if next.LatestIndex == nil || msg.Index > *next.LatestIndex {
		date := msg.Date.UTC()
		if next.LatestDate != nil && !date.After(*next.LatestDate) {
			var latest int64
			if next.LatestIndex != nil {
				latest = *next.LatestIndex
			}
			return state, &DateOrderError{
				LatestIndex: latest,
				LatestDate:  *next.LatestDate,
				Index:       msg.Index,
				Date:        date,
			}
		}
		idx := msg.Index
		next.LatestIndex = &idx
		next.LatestDate = &date
	}

	body := msg.Body
	switch body.Type() {
	case "follow":
		target, ok := body.PublicKey("publicKey")
		if !ok || target == env.PublicKey {
			break
		}
		name, _ := body.String("name")
		if next.Following == nil {
			next.Following = make(map[envelope.PublicKey]FollowRecord)
		}
		next.Following[target] = FollowRecord{Name: name}

	case "unfollow":
		target, ok := body.PublicKey("publicKey")
		if !ok || target == env.PublicKey {
			break
		}
		rec, following := next.Following[target]
		if !following {
			break
		}
		stop, ok := body.Int("index")
		if !ok {
			break
		}
		rec.Stop = &stop
		next.Following[target] = rec

	case "announce":
		uri, ok := body.String("uri")
		if ok && !slices.Contains(next.URIs, uri) {
			next.URIs = append(next.URIs, uri)
		}

	case "avatar":
		if uri, ok := body.String("uri"); ok {
			next.Avatar = uri
		}
	}

	return next, nil
}

// Replay folds envs in order starting from the empty state.
func Replay(envs []envelope.Envelope) (State, error) {
	var state State
	for _, env := range envs {
		next, err := Reduce(state, env)
		if err != nil {
			return state, err
		}
		state = next
	}
	return state, nil
}
