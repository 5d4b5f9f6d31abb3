package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/siglog/internal/envelope"
)

// Scenario defines a conformance test scenario.
// A scenario appends signed entries from named identities and asserts on the
// resulting streams and reductions.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now is the engine clock reading when the scenario starts.
	// Defaults to DefaultNow.
	Now string `yaml:"now,omitempty"`

	// MaxClockSkew overrides the engine's future-date tolerance.
	MaxClockSkew string `yaml:"max_clock_skew,omitempty"`

	// Identities lists the names entries are signed by. Keys are derived
	// deterministically from each name.
	Identities []string `yaml:"identities"`

	// Appends run in order against a fresh engine.
	Appends []AppendStep `yaml:"appends"`

	// Assertions validate the final streams and reductions.
	Assertions []Assertion `yaml:"assertions"`
}

// AppendStep signs one entry and appends it. Exactly one body kind
// (post, follow, unfollow, announce, avatar, introduce) must be set.
type AppendStep struct {
	// As names the signing identity.
	As string `yaml:"as"`

	Index int64  `yaml:"index"`
	Date  string `yaml:"date"`

	// Now moves the engine clock before this append.
	Now string `yaml:"now,omitempty"`

	Post     *string  `yaml:"post,omitempty"`
	Mentions []string `yaml:"mentions,omitempty"`
	Parent   *RefSpec `yaml:"parent,omitempty"`

	Follow string `yaml:"follow,omitempty"`
	Name   string `yaml:"name,omitempty"`

	Unfollow string `yaml:"unfollow,omitempty"`
	Stop     *int64 `yaml:"stop,omitempty"`

	Announce  string   `yaml:"announce,omitempty"`
	Avatar    string   `yaml:"avatar,omitempty"`
	Introduce []string `yaml:"introduce,omitempty"`

	// Expect is the expected outcome. Defaults to "ok".
	Expect string `yaml:"expect,omitempty"`
}

// RefSpec names one log entry by identity name and index.
type RefSpec struct {
	As    string `yaml:"as"`
	Index int64  `yaml:"index"`
}

func (r RefSpec) String() string { return fmt.Sprintf("%s[%d]", r.As, r.Index) }

// Assertion validates one stream or reduction after all appends.
type Assertion struct {
	// Type selects the stream: timeline, mentions, followers, replies,
	// conflicts or reduction.
	Type string `yaml:"type"`

	// Of names the identity whose stream is read.
	Of string `yaml:"of,omitempty"`

	// Entry names the parent entry for replies.
	Entry *RefSpec `yaml:"entry,omitempty"`

	// Reverse reads the stream newest first (timeline, mentions).
	Reverse bool `yaml:"reverse,omitempty"`

	// Limit caps the number of items read (timeline, mentions).
	Limit int `yaml:"limit,omitempty"`

	// Expect is the exact rendered stream, in order.
	Expect []string `yaml:"expect"`
}

// Outcome constants for AppendStep.Expect.
const (
	ExpectOK       = "ok"
	ExpectExists   = "exists"
	ExpectConflict = "conflict"
	ExpectGap      = "gap"
	ExpectDate     = "date"
	ExpectFuture   = "future"
)

// Assertion type constants.
const (
	AssertTimeline  = "timeline"
	AssertMentions  = "mentions"
	AssertFollowers = "followers"
	AssertReplies   = "replies"
	AssertConflicts = "conflicts"
	AssertReduction = "reduction"
)

// DefaultNow is the clock reading used when a scenario does not set one.
var DefaultNow = time.Date(2019, time.June, 1, 0, 0, 0, 0, time.UTC)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Identities) == 0 {
		return fmt.Errorf("identities list is required and must be non-empty")
	}
	if len(s.Appends) == 0 {
		return fmt.Errorf("appends list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Now != "" {
		if _, err := envelope.ParseDate(s.Now); err != nil {
			return fmt.Errorf("now: %w", err)
		}
	}
	if s.MaxClockSkew != "" {
		if _, err := time.ParseDuration(s.MaxClockSkew); err != nil {
			return fmt.Errorf("max_clock_skew: %w", err)
		}
	}

	known := make(map[string]bool, len(s.Identities))
	for i, name := range s.Identities {
		if name == "" {
			return fmt.Errorf("identities[%d]: name is empty", i)
		}
		if known[name] {
			return fmt.Errorf("identities[%d]: duplicate name %q", i, name)
		}
		known[name] = true
	}
	identity := func(where, name string) error {
		if !known[name] {
			return fmt.Errorf("%s: unknown identity %q", where, name)
		}
		return nil
	}

	for i, step := range s.Appends {
		if err := validateAppend(i, step, identity); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, identity); err != nil {
			return err
		}
	}

	return nil
}

func validateAppend(i int, step AppendStep, identity func(where, name string) error) error {
	where := fmt.Sprintf("appends[%d]", i)
	if err := identity(where+".as", step.As); err != nil {
		return err
	}
	if step.Index < 0 {
		return fmt.Errorf("%s: index must be non-negative", where)
	}
	if _, err := envelope.ParseDate(step.Date); err != nil {
		return fmt.Errorf("%s.date: %w", where, err)
	}
	if step.Now != "" {
		if _, err := envelope.ParseDate(step.Now); err != nil {
			return fmt.Errorf("%s.now: %w", where, err)
		}
	}

	kinds := 0
	if step.Post != nil {
		kinds++
		for _, m := range step.Mentions {
			if err := identity(where+".mentions", m); err != nil {
				return err
			}
		}
		if step.Parent != nil {
			if err := identity(where+".parent", step.Parent.As); err != nil {
				return err
			}
		}
	}
	if step.Follow != "" {
		kinds++
		if err := identity(where+".follow", step.Follow); err != nil {
			return err
		}
	}
	if step.Unfollow != "" {
		kinds++
		if err := identity(where+".unfollow", step.Unfollow); err != nil {
			return err
		}
		if step.Stop == nil {
			return fmt.Errorf("%s: unfollow requires stop", where)
		}
	}
	if step.Announce != "" {
		kinds++
	}
	if step.Avatar != "" {
		kinds++
	}
	if len(step.Introduce) > 0 {
		kinds++
		if len(step.Introduce) != 2 {
			return fmt.Errorf("%s: introduce takes exactly two identities", where)
		}
		for _, name := range step.Introduce {
			if err := identity(where+".introduce", name); err != nil {
				return err
			}
		}
	}
	if kinds != 1 {
		return fmt.Errorf("%s: exactly one body kind is required, got %d", where, kinds)
	}

	switch step.Expect {
	case "", ExpectOK, ExpectExists, ExpectConflict, ExpectGap, ExpectDate, ExpectFuture:
	default:
		return fmt.Errorf("%s: unknown expect %q", where, step.Expect)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, identity func(where, name string) error) error {
	where := fmt.Sprintf("assertions[%d]", index)
	if a.Type == "" {
		return fmt.Errorf("%s: type is required", where)
	}

	switch a.Type {
	case AssertTimeline, AssertMentions, AssertFollowers, AssertConflicts, AssertReduction:
		if err := identity(where+".of", a.Of); err != nil {
			return err
		}
	case AssertReplies:
		if a.Entry == nil {
			return fmt.Errorf("%s: entry is required for replies", where)
		}
		if err := identity(where+".entry", a.Entry.As); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%s: unknown assertion type %q", where, a.Type)
	}

	if (a.Reverse || a.Limit != 0) && a.Type != AssertTimeline && a.Type != AssertMentions {
		return fmt.Errorf("%s: reverse and limit only apply to timeline and mentions", where)
	}
	if a.Limit < 0 {
		return fmt.Errorf("%s: limit must be non-negative", where)
	}
	return nil
}
