package testutil

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/roach88/siglog/internal/envelope"
)

// Identity derives a stable key pair from a name. The same name yields the
// same public key in every run, which keeps scenario traces reproducible.
func Identity(name string) envelope.KeyPair {
	seed := sha256.Sum256([]byte("siglog-test-identity/" + name))
	kp, err := envelope.KeyPairFromSeed(seed[:])
	if err != nil {
		panic(err) // seed is always 32 bytes
	}
	return kp
}

// Day returns midnight UTC of the given calendar day.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Sign builds and signs an envelope, failing the test on error.
func Sign(t testing.TB, kp envelope.KeyPair, index int64, date time.Time, body envelope.Body) envelope.Envelope {
	t.Helper()
	env, err := SignEnvelope(kp, index, date, body)
	if err != nil {
		t.Fatalf("sign envelope: %v", err)
	}
	return env
}

// SignEnvelope builds and signs an envelope.
func SignEnvelope(kp envelope.KeyPair, index int64, date time.Time, body envelope.Body) (envelope.Envelope, error) {
	return envelope.Sign(envelope.Message{Index: index, Date: date, Body: body}, kp.SecretKey)
}
