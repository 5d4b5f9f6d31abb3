package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/siglog/internal/canonical"
	"github.com/roach88/siglog/internal/engine"
	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/kv/leveldb"
	"github.com/roach88/siglog/internal/store"
	"github.com/roach88/siglog/internal/testutil"
)

// Harness is the test execution engine.
// It runs one scenario against a fresh engine with a fixed clock.
type Harness struct {
	engine *engine.Engine
	clock  *testutil.FixedClock
	keys   map[string]envelope.KeyPair
	names  map[envelope.PublicKey]string
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs on a fresh in-memory backend. Identity keys and the
// clock are deterministic, so traces are reproducible.
//
// Execution flow:
// 1. Create a fresh in-memory leveldb backend and engine
// 2. Derive identity keys from names
// 3. Sign and append each step, comparing the outcome with its expectation
// 4. Evaluate assertions against the engine's streams
func Run(scenario *Scenario) (*Result, error) {
	db, err := leveldb.OpenMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	backend := store.NewOrdered(db)
	defer backend.Close()

	return RunOn(scenario, backend)
}

// RunOn executes a scenario against backend, which must be empty. The
// caller keeps ownership of backend.
func RunOn(scenario *Scenario, backend store.Backend) (*Result, error) {
	now := DefaultNow
	if scenario.Now != "" {
		parsed, err := envelope.ParseDate(scenario.Now)
		if err != nil {
			return nil, fmt.Errorf("now: %w", err)
		}
		now = parsed
	}
	clock := testutil.NewFixedClock(now)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	opts := []engine.Option{engine.WithClock(clock), engine.WithLogger(logger)}
	if scenario.MaxClockSkew != "" {
		skew, err := time.ParseDuration(scenario.MaxClockSkew)
		if err != nil {
			return nil, fmt.Errorf("max_clock_skew: %w", err)
		}
		opts = append(opts, engine.WithMaxClockSkew(skew))
	}
	eng := engine.New(backend, opts...)
	defer eng.Close()

	h := &Harness{
		engine: eng,
		clock:  clock,
		keys:   make(map[string]envelope.KeyPair, len(scenario.Identities)),
		names:  make(map[envelope.PublicKey]string, len(scenario.Identities)),
		logger: logger,
	}
	for _, name := range scenario.Identities {
		kp := testutil.Identity(name)
		h.keys[name] = kp
		h.names[kp.PublicKey] = name
	}

	ctx := context.Background()
	result := NewResult()
	if err := h.executeAppends(ctx, scenario.Appends, result); err != nil {
		return nil, fmt.Errorf("failed to execute appends: %w", err)
	}

	for _, errMsg := range h.EvaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeAppends signs and appends each step in order.
// An outcome that differs from the step's expectation is a result error;
// an engine failure outside the outcome taxonomy aborts the run.
func (h *Harness) executeAppends(ctx context.Context, steps []AppendStep, result *Result) error {
	for i, step := range steps {
		if step.Now != "" {
			now, err := envelope.ParseDate(step.Now)
			if err != nil {
				return fmt.Errorf("append %d: %w", i, err)
			}
			h.clock.Set(now)
		}

		body, err := h.body(step)
		if err != nil {
			return fmt.Errorf("append %d: %w", i, err)
		}
		date, err := envelope.ParseDate(step.Date)
		if err != nil {
			return fmt.Errorf("append %d: %w", i, err)
		}
		env, err := testutil.SignEnvelope(h.keys[step.As], step.Index, date, body)
		if err != nil {
			return fmt.Errorf("append %d: failed to sign: %w", i, err)
		}

		outcome, err := classify(h.engine.Append(ctx, env))
		if err != nil {
			return fmt.Errorf("append %d (%s[%d]): %w", i, step.As, step.Index, err)
		}
		result.AddTrace(step.As, step.Index, body.Type(), outcome)

		expected := step.Expect
		if expected == "" {
			expected = ExpectOK
		}
		if outcome != expected {
			result.AddError(fmt.Sprintf("appends[%d] %s[%d]: expected %s, got %s",
				i, step.As, step.Index, expected, outcome))
		}

		h.logger.Debug("append step completed",
			"step", i,
			"as", step.As,
			"index", step.Index,
			"outcome", outcome,
		)
	}
	return nil
}

// classify maps an Append return onto a scenario outcome name.
func classify(outcome engine.Outcome, err error) (string, error) {
	switch {
	case err == nil && outcome == engine.OutcomeExists:
		return ExpectExists, nil
	case err == nil:
		return ExpectOK, nil
	case engine.IsConflict(err):
		return ExpectConflict, nil
	case engine.IsGap(err):
		return ExpectGap, nil
	case engine.IsDateOrder(err):
		return ExpectDate, nil
	case engine.IsFuture(err):
		return ExpectFuture, nil
	default:
		return "", err
	}
}

// body builds the message body a step describes.
func (h *Harness) body(step AppendStep) (envelope.Body, error) {
	pk := func(name string) envelope.PublicKey { return h.keys[name].PublicKey }

	switch {
	case step.Post != nil:
		mentions := make([]envelope.PublicKey, 0, len(step.Mentions))
		for _, name := range step.Mentions {
			mentions = append(mentions, pk(name))
		}
		if step.Parent != nil {
			parent := envelope.Ref{PublicKey: pk(step.Parent.As), Index: step.Parent.Index}
			return testutil.Reply(parent, *step.Post, mentions...), nil
		}
		return testutil.Post(*step.Post, mentions...), nil
	case step.Follow != "":
		return testutil.Follow(pk(step.Follow), step.Name), nil
	case step.Unfollow != "":
		return testutil.Unfollow(pk(step.Unfollow), *step.Stop), nil
	case step.Announce != "":
		return testutil.Announce(step.Announce), nil
	case step.Avatar != "":
		return testutil.Avatar(step.Avatar), nil
	case len(step.Introduce) == 2:
		return testutil.Introduction(pk(step.Introduce[0]), pk(step.Introduce[1])), nil
	default:
		return nil, fmt.Errorf("step has no body")
	}
}

// name renders pk by scenario name, or by key when it is not a scenario
// identity.
func (h *Harness) name(pk envelope.PublicKey) string {
	if name, ok := h.names[pk]; ok {
		return name
	}
	return pk.String()
}

// ref renders an entry as name[index].
func (h *Harness) ref(pk envelope.PublicKey, index int64) string {
	return fmt.Sprintf("%s[%d]", h.name(pk), index)
}

// canonicalTrace converts a trace for canonical JSON serialization.
func canonicalTrace(trace []TraceEvent) canonical.Array {
	out := make(canonical.Array, len(trace))
	for i, event := range trace {
		out[i] = canonical.NewObject(
			canonical.O("seq", canonical.Int(event.Seq)),
			canonical.O("as", canonical.String(event.As)),
			canonical.O("index", canonical.Int(event.Index)),
			canonical.O("type", canonical.String(event.Type)),
			canonical.O("outcome", canonical.String(event.Outcome)),
		)
	}
	return out
}
