// Package engine sequences signed envelopes into per-identity logs.
//
// Append is the only write path. For one envelope it:
//
//  1. digests the canonical encoding
//  2. takes the identity's lock (other identities proceed in parallel)
//  3. compares the index with the current head:
//     - head+1 is the next entry and is validated and committed
//     - an occupied index is a duplicate (OutcomeExists) when the digests
//     match and a conflict otherwise; the stored entry is never replaced
//     - anything further is a GapError
//  4. checks the date against the previous entry and against the clock
//  5. commits log entry, content, registry and reduction as one unit
//  6. fans the entry out to followers, mentions and reply edges
//
// Fan-out runs after the commit. A fan-out failure is returned as a
// FanoutError: the entry is durable and must not be resubmitted; Rebuild
// repairs the derived indexes.
//
// The engine never verifies signatures. Callers verify before Append.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Calls touching the same identity
// (Append, Rereduce, Rebuild) are serialized; readers take no locks.
package engine
