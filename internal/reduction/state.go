package reduction

import (
	"maps"
	"slices"
	"time"

	"github.com/roach88/siglog/internal/envelope"
)

// State is the materialized profile of one log: a pure function of the log.
type State struct {
	LatestIndex *int64                              `json:"latestIndex,omitempty" msgpack:"latestIndex,omitempty"`
	LatestDate  *time.Time                          `json:"latestDate,omitempty" msgpack:"latestDate,omitempty"`
	Following   map[envelope.PublicKey]FollowRecord `json:"following,omitempty" msgpack:"following,omitempty"`
	URIs        []string                            `json:"uris,omitempty" msgpack:"uris,omitempty"`
	Avatar      string                              `json:"avatar,omitempty" msgpack:"avatar,omitempty"`
}

// FollowRecord is one entry of State.Following. A nil Stop means the follow
// is open ended; otherwise entries after index Stop are not followed.
type FollowRecord struct {
	Name string `json:"name" msgpack:"name"`
	Stop *int64 `json:"stop,omitempty" msgpack:"stop,omitempty"`
}

// Covers reports whether the record includes the entry at index.
func (r FollowRecord) Covers(index int64) bool {
	return r.Stop == nil || index <= *r.Stop
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{Avatar: s.Avatar}
	if s.LatestIndex != nil {
		v := *s.LatestIndex
		out.LatestIndex = &v
	}
	if s.LatestDate != nil {
		v := *s.LatestDate
		out.LatestDate = &v
	}
	if s.Following != nil {
		out.Following = make(map[envelope.PublicKey]FollowRecord, len(s.Following))
		for pk, rec := range s.Following {
			out.Following[pk] = rec.clone()
		}
	}
	if s.URIs != nil {
		out.URIs = slices.Clone(s.URIs)
	}
	return out
}

func (r FollowRecord) clone() FollowRecord {
	out := FollowRecord{Name: r.Name}
	if r.Stop != nil {
		v := *r.Stop
		out.Stop = &v
	}
	return out
}

// IsEmpty reports whether s is the state of an empty log.
func (s State) IsEmpty() bool {
	return s.LatestIndex == nil && s.LatestDate == nil && len(s.Following) == 0 &&
		len(s.URIs) == 0 && s.Avatar == ""
}

// Follows reports whether s currently follows pk at the given index of pk's log.
func (s State) Follows(pk envelope.PublicKey, index int64) bool {
	rec, ok := s.Following[pk]
	return ok && rec.Covers(index)
}

// FollowsOpenEnded reports whether s follows pk with no stop.
func (s State) FollowsOpenEnded(pk envelope.PublicKey) bool {
	rec, ok := s.Following[pk]
	return ok && rec.Stop == nil
}

// Record returns the following entry for pk.
func (s State) Record(pk envelope.PublicKey) (FollowRecord, bool) {
	rec, ok := s.Following[pk]
	return rec, ok
}

// FollowedKeys returns the followed identities in sorted order.
func (s State) FollowedKeys() []envelope.PublicKey {
	return slices.Sorted(maps.Keys(s.Following))
}

// Normalize puts decoded times back in UTC so states compare equal after a
// storage round trip.
func (s *State) Normalize() {
	if s.LatestDate != nil {
		v := s.LatestDate.UTC()
		s.LatestDate = &v
	}
	if len(s.Following) == 0 {
		s.Following = nil
	}
	if len(s.URIs) == 0 {
		s.URIs = nil
	}
}
