package kv

import "bytes"

// Range selects keys between Lower and Upper. A nil bound is unbounded.
// Reverse walks from the upper end. Limit caps the number of entries; zero
// means no cap.
type Range struct {
	Lower          []byte
	Upper          []byte
	LowerInclusive bool
	UpperInclusive bool
	Reverse        bool
	Limit          int
}

// Bounds converts r to a half-open [start, limit) interval. The successor of
// a key is the key followed by 0x00, so exclusive lower and inclusive upper
// bounds map exactly.
func (r Range) Bounds() (start, limit []byte) {
	if r.Lower != nil {
		start = clone(r.Lower)
		if !r.LowerInclusive {
			start = append(start, 0x00)
		}
	}
	if r.Upper != nil {
		limit = clone(r.Upper)
		if r.UpperInclusive {
			limit = append(limit, 0x00)
		}
	}
	return start, limit
}

// Contains reports whether key falls inside r.
func (r Range) Contains(key []byte) bool {
	start, limit := r.Bounds()
	if start != nil && bytes.Compare(key, start) < 0 {
		return false
	}
	if limit != nil && bytes.Compare(key, limit) >= 0 {
		return false
	}
	return true
}

// After narrows r to keys strictly past key in scan direction. Used to
// resume a scan from the last key seen.
func (r Range) After(key []byte) Range {
	next := r
	if r.Reverse {
		next.Upper = clone(key)
		next.UpperInclusive = false
	} else {
		next.Lower = clone(key)
		next.LowerInclusive = false
	}
	return next
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)+1), b...)
}
