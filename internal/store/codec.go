package store

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/siglog/internal/reduction"
)

// conflictRecord is the stored value of a conflict key.
type conflictRecord struct {
	Seen time.Time `msgpack:"seen"`
}

func marshalReduction(state reduction.State) ([]byte, error) {
	b, err := msgpack.Marshal(&state)
	if err != nil {
		return nil, fmt.Errorf("marshal reduction: %w", err)
	}
	return b, nil
}

func unmarshalReduction(data []byte) (reduction.State, error) {
	var state reduction.State
	if err := msgpack.Unmarshal(data, &state); err != nil {
		return reduction.State{}, fmt.Errorf("unmarshal reduction: %w", err)
	}
	state.Normalize()
	return state, nil
}

func marshalFollowRecord(rec reduction.FollowRecord) ([]byte, error) {
	b, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("marshal follower: %w", err)
	}
	return b, nil
}

func unmarshalFollowRecord(data []byte) (reduction.FollowRecord, error) {
	var rec reduction.FollowRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("unmarshal follower: %w", err)
	}
	return rec, nil
}

func marshalConflict(c Conflict) ([]byte, error) {
	b, err := msgpack.Marshal(&conflictRecord{Seen: c.Seen})
	if err != nil {
		return nil, fmt.Errorf("marshal conflict: %w", err)
	}
	return b, nil
}

func unmarshalConflict(data []byte) (conflictRecord, error) {
	var rec conflictRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("unmarshal conflict: %w", err)
	}
	rec.Seen = rec.Seen.UTC()
	return rec, nil
}
