package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Subject  string   // Identity or entry the assertion reads
	Expected []string // Expected rendering, in order
	Actual   []string // Actual rendering, in order
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s of %s\n", e.Type, e.Subject)
	fmt.Fprintf(&buf, "  Expected: %s\n", renderList(e.Expected))
	fmt.Fprintf(&buf, "  Actual: %s\n", renderList(e.Actual))

	return buf.String()
}

func renderList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return "[" + strings.Join(items, ", ") + "]"
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func (h *Harness) EvaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	actual, err := h.render(ctx, a)
	if err != nil {
		return err
	}

	expected := a.Expect
	if expected == nil {
		expected = []string{}
	}
	if !slices.Equal(expected, actual) {
		subject := a.Of
		if a.Entry != nil {
			subject = a.Entry.String()
		}
		return &AssertionError{
			Type:     a.Type,
			Subject:  subject,
			Expected: expected,
			Actual:   actual,
		}
	}
	return nil
}

// render reads the stream an assertion names and renders it with scenario
// names.
func (h *Harness) render(ctx context.Context, a Assertion) ([]string, error) {
	pk := h.keys[a.Of].PublicKey
	opts := store.ScanOptions{Reverse: a.Reverse, Limit: a.Limit}

	switch a.Type {
	case AssertTimeline:
		return h.renderEnvelopes(h.engine.TimelineStream(ctx, pk, opts))
	case AssertMentions:
		return h.renderEnvelopes(h.engine.MentionStream(ctx, pk, opts))
	case AssertFollowers:
		return h.renderFollowers(ctx, pk)
	case AssertReplies:
		parent := envelope.Ref{PublicKey: h.keys[a.Entry.As].PublicKey, Index: a.Entry.Index}
		return h.renderReplies(ctx, parent)
	case AssertConflicts:
		return h.renderConflicts(ctx, pk)
	case AssertReduction:
		return h.renderReduction(ctx, pk)
	default:
		return nil, fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) renderEnvelopes(s store.Stream[envelope.Envelope]) ([]string, error) {
	envs, err := store.Collect(s, 0)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(envs))
	for _, env := range envs {
		out = append(out, h.ref(env.PublicKey, env.Message.Index))
	}
	return out, nil
}

// renderFollowers lists followers by name, sorted. A bounded follow renders
// as "name through N".
func (h *Harness) renderFollowers(ctx context.Context, pk envelope.PublicKey) ([]string, error) {
	followers, err := store.Collect(h.engine.FollowerStream(ctx, pk), 0)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(followers))
	for _, f := range followers {
		line := h.name(f.PublicKey)
		if f.Stop != nil {
			line = fmt.Sprintf("%s through %d", line, *f.Stop)
		}
		out = append(out, line)
	}
	slices.Sort(out)
	return out, nil
}

// renderReplies lists replies as name[index], sorted.
func (h *Harness) renderReplies(ctx context.Context, parent envelope.Ref) ([]string, error) {
	refs, err := store.Collect(h.engine.ReplyStream(ctx, parent), 0)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, h.ref(ref.PublicKey, ref.Index))
	}
	slices.Sort(out)
	return out, nil
}

func (h *Harness) renderConflicts(ctx context.Context, pk envelope.PublicKey) ([]string, error) {
	conflicts, err := store.Collect(h.engine.ConflictStream(ctx, pk), 0)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, h.ref(pk, c.Index))
	}
	return out, nil
}

// renderReduction renders a reduction as lines: latest, avatar, uris in
// announcement order, then follows sorted by name.
func (h *Harness) renderReduction(ctx context.Context, pk envelope.PublicKey) ([]string, error) {
	state, err := h.engine.Reduction(ctx, pk)
	if err != nil {
		return nil, err
	}
	out := []string{}
	if state.LatestIndex != nil {
		out = append(out, fmt.Sprintf("latest %d", *state.LatestIndex))
	}
	if state.Avatar != "" {
		out = append(out, "avatar "+state.Avatar)
	}
	for _, uri := range state.URIs {
		out = append(out, "uri "+uri)
	}

	var follows []string
	for _, target := range state.FollowedKeys() {
		rec, _ := state.Record(target)
		line := "follows " + h.name(target)
		if rec.Stop != nil {
			line = fmt.Sprintf("%s through %d", line, *rec.Stop)
		}
		follows = append(follows, line)
	}
	slices.Sort(follows)
	return append(out, follows...), nil
}
