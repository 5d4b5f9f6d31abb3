package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/roach88/siglog/internal/canonical"
)

// Domain prefixes for hashing and signing.
// The version suffix tracks canonical.Version.
const (
	DomainEnvelope = "siglog/envelope/v1"
	DomainMessage  = "siglog/message/v1"
)

// preimage builds domain + 0x00 + data.
// The null separator keeps the domain/data boundary unambiguous.
func preimage(domain string, data []byte) []byte {
	out := make([]byte, 0, len(domain)+1+len(data))
	out = append(out, domain...)
	out = append(out, 0x00)
	return append(out, data...)
}

// Hash computes the BLAKE2b-256 digest of the canonical envelope encoding.
func Hash(env Envelope) (Digest, error) {
	b, err := Encode(env)
	if err != nil {
		return Digest{}, fmt.Errorf("hash: %w", err)
	}
	return HashEncoded(b), nil
}

// HashEncoded digests bytes previously produced by Encode.
func HashEncoded(encoded []byte) Digest {
	return blake2b.Sum256(preimage(DomainEnvelope, encoded))
}

// KeyPair is an ed25519 signing identity.
type KeyPair struct {
	PublicKey PublicKey
	SecretKey ed25519.PrivateKey
}

// MakeKeyPair generates a fresh identity.
func MakeKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key: %w", err)
	}
	return KeyPair{PublicKey: PublicKey(hex.EncodeToString(pub)), SecretKey: priv}, nil
}

// KeyPairFromSeed derives an identity from a 32-byte seed.
func KeyPairFromSeed(seed []byte) (KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return KeyPair{}, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return KeyPair{PublicKey: PublicKey(hex.EncodeToString(pub)), SecretKey: priv}, nil
}

// Sign produces an envelope for msg carrying a detached signature over the
// canonical message encoding.
func Sign(msg Message, secretKey ed25519.PrivateKey) (Envelope, error) {
	if len(secretKey) != ed25519.PrivateKeySize {
		return Envelope{}, fmt.Errorf("sign: secret key must be %d bytes", ed25519.PrivateKeySize)
	}
	msg.Date = msg.Date.UTC()
	data, err := canonical.Marshal(msg.object())
	if err != nil {
		return Envelope{}, fmt.Errorf("sign: %w", err)
	}
	sig := ed25519.Sign(secretKey, preimage(DomainMessage, data))
	pub := secretKey.Public().(ed25519.PublicKey)
	return Envelope{
		PublicKey: PublicKey(hex.EncodeToString(pub)),
		Message:   msg,
		Signature: hex.EncodeToString(sig),
	}, nil
}

// Verify checks env.Signature against env.PublicKey. Malformed keys or
// signatures verify as false.
func Verify(env Envelope) bool {
	pub, err := env.PublicKey.Bytes()
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(env.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	data, err := canonical.Marshal(env.Message.object())
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), preimage(DomainMessage, data), sig)
}
