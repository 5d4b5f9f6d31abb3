package envelope

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/roach88/siglog/internal/canonical"
)

// PublicKeySize is the length in bytes of an identity's ed25519 public key.
const PublicKeySize = 32

// DigestSize is the length in bytes of an envelope digest.
const DigestSize = 32

// DateLayout renders message dates. Millisecond precision, always UTC.
const DateLayout = "2006-01-02T15:04:05.000Z"

// PublicKey is a lowercase hex encoded ed25519 public key. It is the permanent
// identity of a log.
type PublicKey string

// Validate checks that pk is 64 lowercase hex characters.
func (pk PublicKey) Validate() error {
	if len(pk) != hex.EncodedLen(PublicKeySize) {
		return fmt.Errorf("public key must be %d hex characters, got %d", hex.EncodedLen(PublicKeySize), len(pk))
	}
	for _, c := range []byte(pk) {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return fmt.Errorf("public key must be lowercase hex")
		}
	}
	return nil
}

// Bytes decodes the key.
func (pk PublicKey) Bytes() ([]byte, error) {
	if err := pk.Validate(); err != nil {
		return nil, err
	}
	return hex.DecodeString(string(pk))
}

func (pk PublicKey) String() string { return string(pk) }

// Digest is the content hash of a canonically encoded envelope.
type Digest [DigestSize]byte

// ParseDigest decodes a hex digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parse digest: %w", err)
	}
	if len(b) != DigestSize {
		return d, fmt.Errorf("parse digest: want %d bytes, got %d", DigestSize, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// DigestFromBytes copies a raw digest record.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestSize {
		return d, fmt.Errorf("digest: want %d bytes, got %d", DigestSize, len(b))
	}
	copy(d[:], b)
	return d, nil
}

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Compare orders digests bytewise.
func (d Digest) Compare(other Digest) int { return bytes.Compare(d[:], other[:]) }

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool { return d == Digest{} }

// MarshalText renders the digest as hex.
func (d Digest) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText parses a hex digest.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Envelope is the signed unit of log content. Immutable once accepted.
type Envelope struct {
	PublicKey PublicKey
	Message   Message
	Signature string
}

// Message is the signed payload. Index is caller assigned and zero based.
type Message struct {
	Index int64
	Date  time.Time
	Body  Body
}

// Ref points at one entry of one log.
type Ref struct {
	PublicKey PublicKey `json:"publicKey"`
	Index     int64     `json:"index"`
}

// Body is the free-form message payload. Every body carries a string "type".
type Body canonical.Object

// NewBody builds a body of the given type.
func NewBody(typ string, pairs ...canonical.Pair) Body {
	obj := canonical.NewObject(pairs...)
	obj["type"] = canonical.String(typ)
	return Body(obj)
}

// Type returns the body type, or "" when absent.
func (b Body) Type() string {
	s, _ := b.String("type")
	return s
}

// String returns a string field.
func (b Body) String(key string) (string, bool) {
	v, ok := b[key].(canonical.String)
	return string(v), ok
}

// Int returns an integer field.
func (b Body) Int(key string) (int64, bool) {
	v, ok := b[key].(canonical.Int)
	return int64(v), ok
}

// Object returns a nested object field.
func (b Body) Object(key string) (canonical.Object, bool) {
	v, ok := b[key].(canonical.Object)
	return v, ok
}

// Array returns an array field.
func (b Body) Array(key string) (canonical.Array, bool) {
	v, ok := b[key].(canonical.Array)
	return v, ok
}

// PublicKey returns a field holding an identity.
func (b Body) PublicKey(key string) (PublicKey, bool) {
	s, ok := b.String(key)
	if !ok || s == "" {
		return "", false
	}
	return PublicKey(s), true
}

// Ref returns a nested {publicKey, index} field such as a post's parent.
func (b Body) Ref(key string) (Ref, bool) {
	obj, ok := b.Object(key)
	if !ok {
		return Ref{}, false
	}
	pk, ok := obj["publicKey"].(canonical.String)
	if !ok || pk == "" {
		return Ref{}, false
	}
	idx, ok := obj["index"].(canonical.Int)
	if !ok || idx < 0 {
		return Ref{}, false
	}
	return Ref{PublicKey: PublicKey(pk), Index: int64(idx)}, true
}

// Clone returns a deep copy of b.
func (b Body) Clone() Body {
	if b == nil {
		return nil
	}
	return Body(canonical.Clone(canonical.Object(b)).(canonical.Object))
}

// FormatDate renders t in DateLayout.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses any RFC 3339 date and normalizes it to UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Validate performs shape checks only. Body contents beyond "type" are the
// caller's concern.
func Validate(env Envelope) error {
	if err := env.PublicKey.Validate(); err != nil {
		return &ValidationError{Field: "publicKey", Reason: err.Error()}
	}
	if env.Message.Index < 0 {
		return &ValidationError{Field: "message.index", Reason: "must be non-negative"}
	}
	if env.Message.Date.IsZero() {
		return &ValidationError{Field: "message.date", Reason: "required"}
	}
	if !env.Message.Date.Equal(env.Message.Date.Truncate(time.Millisecond)) {
		return &ValidationError{Field: "message.date", Reason: "precision finer than milliseconds"}
	}
	if y := env.Message.Date.UTC().Year(); y < 0 || y > 9999 {
		return &ValidationError{Field: "message.date", Reason: "year outside 0000-9999"}
	}
	if env.Message.Body.Type() == "" {
		return &ValidationError{Field: "message.body.type", Reason: "required"}
	}
	if env.Signature == "" {
		return &ValidationError{Field: "signature", Reason: "required"}
	}
	return nil
}
