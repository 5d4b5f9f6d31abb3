package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/kv/leveldb"
	"github.com/roach88/siglog/internal/store"
	"github.com/roach88/siglog/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

func TestRun_MinimalScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "minimal",
		Description: "Minimal test scenario",
		Identities:  []string{"anna"},
		Appends: []AppendStep{
			{As: "anna", Index: 0, Date: "2019-02-01T00:00:00Z", Post: ptr("hello")},
		},
		Assertions: []Assertion{
			{Type: AssertReduction, Of: "anna", Expect: []string{"latest 0"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, result.Errors)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []TraceEvent{
		{Seq: 1, As: "anna", Index: 0, Type: "post", Outcome: ExpectOK},
	}, result.Trace)
}

func TestRun_UnexpectedOutcomeFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "unexpected",
		Description: "A gap where ok was expected",
		Identities:  []string{"anna"},
		Appends: []AppendStep{
			{As: "anna", Index: 1, Date: "2019-02-01T00:00:00Z", Post: ptr("early")},
		},
		Assertions: []Assertion{
			{Type: AssertTimeline, Of: "anna"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "appends[0] anna[1]: expected ok, got gap", result.Errors[0])
	assert.Equal(t, ExpectGap, result.Trace[0].Outcome)
}

func TestRun_AssertionFailureReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_timeline",
		Description: "Timeline assertion that does not hold",
		Identities:  []string{"anna", "bob"},
		Appends: []AppendStep{
			{As: "anna", Index: 0, Date: "2019-02-01T00:00:00Z", Post: ptr("a0")},
			{As: "bob", Index: 0, Date: "2019-02-02T00:00:00Z", Follow: "anna", Name: "Anna"},
		},
		Assertions: []Assertion{
			{Type: AssertTimeline, Of: "bob", Expect: []string{"anna[0]", "anna[1]"}},
			{Type: AssertFollowers, Of: "anna", Expect: []string{"bob"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.True(t, strings.HasPrefix(result.Errors[0], "assertions[0]: Assertion failed: timeline of bob"))
	assert.Contains(t, result.Errors[0], "Expected: [anna[0], anna[1]]")
	assert.Contains(t, result.Errors[0], "Actual: [anna[0]]")
}

func TestRun_ClockStep(t *testing.T) {
	scenario := &Scenario{
		Name:         "clock",
		Description:  "Clock moves between appends",
		Now:          "2019-06-01T00:00:00Z",
		MaxClockSkew: "1m",
		Identities:   []string{"anna"},
		Appends: []AppendStep{
			{As: "anna", Index: 0, Date: "2019-06-01T00:05:00Z", Post: ptr("x"), Expect: ExpectFuture},
			{As: "anna", Index: 0, Date: "2019-06-01T00:05:00Z", Post: ptr("x"), Now: "2019-06-01T00:04:30Z"},
		},
		Assertions: []Assertion{
			{Type: AssertReduction, Of: "anna", Expect: []string{"latest 0"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestHarness_BodyKinds(t *testing.T) {
	h := &Harness{keys: map[string]envelope.KeyPair{
		"anna": testutil.Identity("anna"),
		"bob":  testutil.Identity("bob"),
	}}
	bob := h.keys["bob"].PublicKey

	tests := []struct {
		name string
		step AppendStep
		want envelope.Body
	}{
		{"post", AppendStep{Post: ptr("hi"), Mentions: []string{"bob"}}, testutil.Post("hi", bob)},
		{"reply", AppendStep{Post: ptr("re"), Parent: &RefSpec{As: "bob", Index: 2}},
			testutil.Reply(envelope.Ref{PublicKey: bob, Index: 2}, "re")},
		{"follow", AppendStep{Follow: "bob", Name: "Bob"}, testutil.Follow(bob, "Bob")},
		{"unfollow", AppendStep{Unfollow: "bob", Stop: ptr(int64(3))}, testutil.Unfollow(bob, 3)},
		{"announce", AppendStep{Announce: "https://a/"}, testutil.Announce("https://a/")},
		{"avatar", AppendStep{Avatar: "https://a/p.png"}, testutil.Avatar("https://a/p.png")},
		{"introduce", AppendStep{Introduce: []string{"anna", "bob"}},
			testutil.Introduction(h.keys["anna"].PublicKey, bob)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.body(tt.step)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := h.body(AppendStep{})
	assert.Error(t, err)
}

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors:\n%s", strings.Join(result.Errors, "\n"))
		})
	}
}

func TestScenarios_FlatFile(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			db, err := leveldb.OpenMemory()
			require.NoError(t, err)
			backend, err := store.NewFlatFile(t.TempDir(), db)
			require.NoError(t, err)
			t.Cleanup(func() { backend.Close() })

			result, err := RunOn(scenario, backend)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors:\n%s", strings.Join(result.Errors, "\n"))
			require.NoError(t, AssertGolden(t, scenario.Name, result))
		})
	}
}
