package envelope

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/siglog/internal/canonical"
)

func testKeyPair(t *testing.T, b byte) KeyPair {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = b
	}
	kp, err := KeyPairFromSeed(seed)
	require.NoError(t, err)
	return kp
}

func testMessage(index int64, text string) Message {
	return Message{
		Index: index,
		Date:  time.Date(2019, 1, 1, 12, 0, 0, 0, time.UTC),
		Body:  NewBody("post", canonical.O("content", canonical.Array{canonical.String(text)})),
	}
}

func TestSignVerify(t *testing.T) {
	kp := testKeyPair(t, 1)

	env, err := Sign(testMessage(0, "hello"), kp.SecretKey)
	require.NoError(t, err)

	assert.Equal(t, kp.PublicKey, env.PublicKey)
	assert.Len(t, env.Signature, 128)
	assert.True(t, Verify(env))
	require.NoError(t, Validate(env))
}

func TestVerifyRejectsTampering(t *testing.T) {
	kp := testKeyPair(t, 1)
	env, err := Sign(testMessage(0, "hello"), kp.SecretKey)
	require.NoError(t, err)

	tampered := env
	tampered.Message.Body = NewBody("post", canonical.O("content", canonical.Array{canonical.String("bye")}))
	assert.False(t, Verify(tampered))

	otherKey := env
	otherKey.PublicKey = testKeyPair(t, 2).PublicKey
	assert.False(t, Verify(otherKey))

	moved := env
	moved.Message.Index = 1
	assert.False(t, Verify(moved))

	garbage := env
	garbage.Signature = "zz"
	assert.False(t, Verify(garbage))

	badKey := env
	badKey.PublicKey = "short"
	assert.False(t, Verify(badKey))
}

func TestHashStable(t *testing.T) {
	kp := testKeyPair(t, 1)
	env, err := Sign(testMessage(0, "hello"), kp.SecretKey)
	require.NoError(t, err)

	d1, err := Hash(env)
	require.NoError(t, err)
	d2, err := Hash(env)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	encoded, err := Encode(env)
	require.NoError(t, err)
	assert.Equal(t, d1, HashEncoded(encoded))

	// Body key order does not matter.
	reordered := env
	reordered.Message.Body = Body(canonical.Object{
		"content": canonical.Array{canonical.String("hello")},
		"type":    canonical.String("post"),
	})
	d3, err := Hash(reordered)
	require.NoError(t, err)
	assert.Equal(t, d1, d3)
}

func TestHashDistinguishesSameIndex(t *testing.T) {
	kp := testKeyPair(t, 1)

	first := testMessage(0, "hello")
	second := testMessage(0, "hello")
	second.Date = second.Date.Add(time.Hour)

	e1, err := Sign(first, kp.SecretKey)
	require.NoError(t, err)
	e2, err := Sign(second, kp.SecretKey)
	require.NoError(t, err)

	d1, err := Hash(e1)
	require.NoError(t, err)
	d2, err := Hash(e2)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}

func TestEncodeDecodeStable(t *testing.T) {
	kp := testKeyPair(t, 3)
	env, err := Sign(testMessage(7, "<b>bold</b>"), kp.SecretKey)
	require.NoError(t, err)

	encoded, err := Encode(env)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(encoded), `{"message":{"body":{"content":["<b>bold</b>"],"type":"post"},"date":"2019-01-01T12:00:00.000Z","index":7},"publicKey":"`))

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.True(t, decoded.Message.Date.Equal(env.Message.Date))
	assert.True(t, Verify(decoded))

	again, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, again)

	// encoding/json re-escapes HTML in Marshaler output, so only the
	// decoded value is compared here.
	viaJSON, err := json.Marshal(env)
	require.NoError(t, err)

	var roundTrip Envelope
	require.NoError(t, json.Unmarshal(viaJSON, &roundTrip))
	assert.Equal(t, env.Signature, roundTrip.Signature)
	assert.True(t, Verify(roundTrip))
}

func TestDecodeNormalizesDateZone(t *testing.T) {
	data := `{"message":{"body":{"type":"post"},"date":"2019-01-01T13:00:00.000+01:00","index":0},"publicKey":"aa","signature":"bb"}`

	env, err := Decode([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, env.Message.Date.Location())
	assert.Equal(t, "2019-01-01T12:00:00.000Z", FormatDate(env.Message.Date))
}

func TestDecodeRejectsShape(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		field string
	}{
		{"not object", `[]`, "envelope"},
		{"unknown field", `{"message":{"body":{"type":"x"},"date":"2019-01-01T00:00:00Z","index":0},"publicKey":"a","signature":"b","extra":1}`, "extra"},
		{"index string", `{"message":{"body":{"type":"x"},"date":"2019-01-01T00:00:00Z","index":"0"},"publicKey":"a","signature":"b"}`, "message.index"},
		{"bad date", `{"message":{"body":{"type":"x"},"date":"yesterday","index":0},"publicKey":"a","signature":"b"}`, "message.date"},
		{"body array", `{"message":{"body":[],"date":"2019-01-01T00:00:00Z","index":0},"publicKey":"a","signature":"b"}`, "message.body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidate(t *testing.T) {
	kp := testKeyPair(t, 1)
	good, err := Sign(testMessage(0, "x"), kp.SecretKey)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Envelope)
		field  string
	}{
		{"uppercase key", func(e *Envelope) { e.PublicKey = PublicKey(strings.ToUpper(string(e.PublicKey))) }, "publicKey"},
		{"negative index", func(e *Envelope) { e.Message.Index = -1 }, "message.index"},
		{"zero date", func(e *Envelope) { e.Message.Date = time.Time{} }, "message.date"},
		{"sub-millisecond", func(e *Envelope) { e.Message.Date = e.Message.Date.Add(time.Microsecond) }, "message.date"},
		{"five-digit year", func(e *Envelope) { e.Message.Date = time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC) }, "message.date"},
		{"negative year", func(e *Envelope) { e.Message.Date = time.Date(-1, 12, 31, 0, 0, 0, 0, time.UTC) }, "message.date"},
		{"year past 9999 in UTC", func(e *Envelope) {
			e.Message.Date = time.Date(9999, 12, 31, 23, 0, 0, 0, time.FixedZone("west", -2*3600))
		}, "message.date"},
		{"no type", func(e *Envelope) { e.Message.Body = Body{} }, "message.body.type"},
		{"no signature", func(e *Envelope) { e.Signature = "" }, "signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := good
			env.Message.Body = good.Message.Body.Clone()
			tt.mutate(&env)
			err := Validate(env)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidate_YearBounds(t *testing.T) {
	kp := testKeyPair(t, 1)
	for _, date := range []time.Time{
		time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(9999, 12, 31, 23, 59, 59, 999e6, time.UTC),
	} {
		msg := testMessage(0, "x")
		msg.Date = date
		env, err := Sign(msg, kp.SecretKey)
		require.NoError(t, err)
		require.NoError(t, Validate(env), FormatDate(date))
		assert.Len(t, FormatDate(date), len(DateLayout))
	}
}

func TestBodyAccessors(t *testing.T) {
	body := NewBody("post",
		canonical.O("parent", canonical.NewObject(
			canonical.O("publicKey", canonical.String("abc")),
			canonical.O("index", canonical.Int(4)),
		)),
		canonical.O("count", canonical.Int(2)),
	)

	assert.Equal(t, "post", body.Type())
	n, ok := body.Int("count")
	assert.True(t, ok)
	assert.Equal(t, int64(2), n)

	ref, ok := body.Ref("parent")
	require.True(t, ok)
	assert.Equal(t, Ref{PublicKey: "abc", Index: 4}, ref)

	_, ok = body.Ref("count")
	assert.False(t, ok)
	_, ok = body.PublicKey("missing")
	assert.False(t, ok)
}

func TestDigestText(t *testing.T) {
	kp := testKeyPair(t, 1)
	env, err := Sign(testMessage(0, "x"), kp.SecretKey)
	require.NoError(t, err)
	d, err := Hash(env)
	require.NoError(t, err)

	parsed, err := ParseDigest(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
	assert.False(t, d.IsZero())

	_, err = ParseDigest("abcd")
	require.Error(t, err)
}

func TestMakeKeyPair(t *testing.T) {
	a, err := MakeKeyPair()
	require.NoError(t, err)
	b, err := MakeKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, a.PublicKey, b.PublicKey)
	require.NoError(t, a.PublicKey.Validate())
}
