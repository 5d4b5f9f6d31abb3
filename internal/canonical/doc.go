// Package canonical defines the value model and the pinned byte encoding used
// before any envelope is hashed or signed.
//
// The encoding is an RFC 8785 profile restricted to strings, int64 integers,
// booleans, arrays and objects. It is versioned (see Version); changing a
// single output byte breaks every digest and signature already published, so
// the golden vectors in testdata/golden must never be regenerated casually.
package canonical
