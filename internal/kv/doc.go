// Package kv defines the ordered key-value contract every storage backend
// builds on, along with the composite key conventions shared by all of them.
//
// Keys are "/"-separated segments. Prefix scans run from "prefix/"
// (exclusive) to "prefix/~" (exclusive). Log indexes are rendered as 16 hex
// digits so that byte order matches numeric order.
//
// Implementations live in subpackages: leveldb, pebble, bolt and sqlite. The
// kvtest package holds the conformance suite they all pass.
package kv
