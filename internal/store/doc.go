// Package store maps logs and their derived indexes onto durable storage.
//
// A Backend is two halves:
//   - Logs: per-identity append-only logs, envelope content by digest,
//     persisted reductions, conflict evidence and the identity registry.
//   - Indexes: follower edges, timelines, mentions and reply edges.
//
// Two Backends exist. Ordered keeps everything in one kv.Store. FlatFile keeps
// logs as files (digest-named envelope files, a fixed-width digest record file
// per identity, side files for conflicts and reductions) and delegates the
// indexes to a kv.Store.
//
// # Key layout (ordered store)
//
//	logs/{pk}/{index}                          -> digest (32 raw bytes)
//	envelopes/{digest}                         -> canonical envelope bytes
//	reductions/{pk}                            -> msgpack reduction.State
//	conflicts/{pk}/{index}/{first}:{second}    -> msgpack {seen}
//	publicKeys/{pk}                            -> empty
//	followers/{followed}/{follower}            -> msgpack {name, stop}
//	timelines/{recipient}/{date}@{sender}@{index} -> canonical envelope bytes
//	mentions/{recipient}/{date}@{sender}@{index}  -> canonical envelope bytes
//	replies/{pk}/{index}/{childPK}/{childIndex}   -> empty
//
// Indices are rendered with kv.EncodeIndex so that key order is numeric order.
// Dates use envelope.DateLayout, which is fixed width.
//
// Every read returns a Stream. Streams are lazy and must be closed;
// calling the constructor again restarts from the beginning.
package store
