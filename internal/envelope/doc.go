// Package envelope defines signed log entries and their integrity primitives.
//
// An Envelope is {publicKey, message: {index, date, body}, signature}. Two
// byte strings are derived from it through the canonical encoding:
//
//   - the signed bytes: "siglog/message/v1" 0x00 canonical(message)
//   - the digest input: "siglog/envelope/v1" 0x00 canonical(envelope)
//
// Signatures are ed25519 and hex encoded. Digests are BLAKE2b-256 and double
// as content addresses and as the fork discriminator at a given
// (publicKey, index).
//
// Verify is pure. Nothing in the append path calls it; callers verify before
// submitting.
package envelope
