package kv

import (
	"fmt"
	"strconv"
	"strings"
)

// Separator joins key segments.
const Separator = "/"

// Sentinel sorts after every character used inside key segments. It is the
// exclusive upper bound of a prefix scan.
const Sentinel = "~"

// Key joins segments into a composite key.
func Key(segments ...string) []byte {
	return []byte(strings.Join(segments, Separator))
}

// Prefix returns the range of keys strictly under the given segments:
// greater than "a/b/" and less than "a/b/~".
func Prefix(segments ...string) Range {
	p := strings.Join(segments, Separator) + Separator
	return Range{
		Lower: []byte(p),
		Upper: []byte(p + Sentinel),
	}
}

// Split breaks a composite key into segments.
func Split(key []byte) []string {
	return strings.Split(string(key), Separator)
}

// EncodeIndex renders a log index so that lexicographic order equals
// numeric order.
func EncodeIndex(index int64) string {
	return fmt.Sprintf("%016x", uint64(index))
}

// DecodeIndex parses an index rendered by EncodeIndex.
func DecodeIndex(s string) (int64, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("index segment %q: want 16 hex digits", s)
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("index segment %q: %w", s, err)
	}
	return int64(n), nil
}
