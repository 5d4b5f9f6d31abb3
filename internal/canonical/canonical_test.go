package canonical

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalScalars(t *testing.T) {
	tests := []struct {
		name     string
		input    Value
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"min int64", Int(-9223372036854775808), "-9223372036854775808"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array", Array{Int(1), String("a"), Bool(false)}, `[1,"a",false]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalSortsKeysRecursively(t *testing.T) {
	obj := Object{
		"z": Object{"b": Int(1), "a": Int(2)},
		"a": Int(3),
	}

	got, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(got))
}

func TestMarshalUTF16KeyOrder(t *testing.T) {
	// U+10000 encodes as a surrogate pair starting 0xD800, which sorts
	// before U+E000 in UTF-16 but after it in UTF-8.
	obj := Object{
		"\uE000":     Int(1),
		"\U00010000": Int(2),
	}

	got, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(got))
}

func TestMarshalNoHTMLEscape(t *testing.T) {
	got, err := Marshal(String("<script>a & b</script>"))
	require.NoError(t, err)
	assert.Equal(t, `"<script>a & b</script>"`, string(got))
	assert.NotContains(t, string(got), `\u003c`)
}

func TestMarshalLineSeparatorsLiteral(t *testing.T) {
	got, err := Marshal(String("a\u2028b\u2029c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(got))

	// A literal backslash followed by the text u2028 must stay escaped.
	got, err = Marshal(String("x\\u2028"))
	require.NoError(t, err)
	assert.Equal(t, `"x\\u2028"`, string(got))
}

func TestMarshalNFC(t *testing.T) {
	composed, err := Marshal(String("caf\u00e9"))
	require.NoError(t, err)
	decomposed, err := Marshal(String("cafe\u0301"))
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)

	_, err = Marshal(Object{"caf\u00e9": Int(1), "cafe\u0301": Int(2)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestMarshalRejectsNull(t *testing.T) {
	_, err := Marshal(Null{})
	require.Error(t, err)

	_, err = Marshal(Object{"a": Array{Null{}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null")
}

func TestDecodeRejectsFloats(t *testing.T) {
	for _, in := range []string{`1.5`, `{"a":1e3}`, `[2E1]`} {
		_, err := Decode([]byte(in))
		require.Error(t, err, in)
		assert.Contains(t, err.Error(), "float")
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode([]byte(`{"a":1} {"b":2}`))
	require.Error(t, err)
}

func TestDecodeRoundTrip(t *testing.T) {
	in := `{"body":{"content":[{"publicKey":"ab","type":"content"}],"type":"post"},"index":3}`

	v, err := Decode([]byte(in))
	require.NoError(t, err)

	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestCloneIsDeep(t *testing.T) {
	orig := Object{"list": Array{String("a")}, "nested": Object{"k": Int(1)}}
	cp := Clone(orig).(Object)

	cp["list"].(Array)[0] = String("b")
	cp["nested"].(Object)["k"] = Int(2)

	assert.Equal(t, String("a"), orig["list"].(Array)[0])
	assert.Equal(t, Int(1), orig["nested"].(Object)["k"])
	assert.False(t, Equal(orig, cp))
	assert.True(t, Equal(orig, Clone(orig)))
}

// TestEncodingVector pins the byte-level encoding. A failure here means the
// encoding changed and every published digest would change with it.
func TestEncodingVector(t *testing.T) {
	obj := NewObject(
		O("type", String("post")),
		O("text", String("a<b>&c")),
		O("q", String("say \"hi\"\n")),
		O("ok", Bool(true)),
		O("n", Int(-7)),
		O("list", Array{Int(1), String("a")}),
		O("\uE000", Int(2)),
		O("\U00010000", Int(1)),
	)

	got, err := Marshal(obj)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "vector_v"+Version, got)
}
