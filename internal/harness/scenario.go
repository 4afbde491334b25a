package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/offsync/internal/record"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config sets up the engine under test.
	Config ScenarioConfig `yaml:"config,omitempty"`

	// Remote scripts executor outcomes per resource, consumed in order.
	// Entries are "success", "retryable" or "terminal", optionally followed
	// by ": reason". A resource with an exhausted or missing script succeeds.
	Remote map[string][]string `yaml:"remote,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and queue state.
	Assertions []Assertion `yaml:"assertions"`
}

// ScenarioConfig configures the engine under test. Zero values take the
// engine defaults.
type ScenarioConfig struct {
	// Initial is the starting connectivity: "offline" (default), "online",
	// "metered" or "unmetered".
	Initial        string   `yaml:"initial,omitempty"`
	MaxAttempts    int      `yaml:"max_attempts,omitempty"`
	BaseRetryDelay Duration `yaml:"base_retry_delay,omitempty"`
	MaxRetryDelay  Duration `yaml:"max_retry_delay,omitempty"`
	Mirror         bool     `yaml:"mirror_online_writes,omitempty"`
}

// Step is one scripted action.
type Step struct {
	// Do names the action: enqueue, write, connect, disconnect, advance, replay.
	Do string `yaml:"do"`

	// Args holds action arguments.
	//   enqueue, write: id, type, resource, payload
	//   connect:        transport (default unmetered)
	//   advance:        by (duration)
	Args map[string]any `yaml:"args,omitempty"`

	// Expect optionally checks the step outcome.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected step outcome.
type ExpectClause struct {
	// Outcome is compared with the step's traced outcome. For writes this is
	// applied, queued, abandoned, or an error code such as VALIDATION. For
	// replays it is completed, skipped, interrupted or already_running.
	Outcome string `yaml:"outcome"`

	// Counts is a subset match on replay pass counters
	// (attempted, succeeded, retried, abandoned, failed, released).
	Counts map[string]int `yaml:"counts,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "attempt_order": attempts (filtered by Resource) ran in Records order
	// - "record_state": record has Status (and AttemptCount if set)
	// - "event_count": Event occurred Count times (for Record, if set)
	// - "attempt_spacing": gaps between attempts on Record equal Gaps
	// - "pending_count": Count PENDING records remain (for Resource, if set)
	Type string `yaml:"type"`

	Resource     string     `yaml:"resource,omitempty"`
	Record       string     `yaml:"record,omitempty"`
	Records      []string   `yaml:"records,omitempty"`
	Status       string     `yaml:"status,omitempty"`
	AttemptCount *int       `yaml:"attempt_count,omitempty"`
	Event        string     `yaml:"event,omitempty"`
	Count        int        `yaml:"count,omitempty"`
	Gaps         []Duration `yaml:"gaps,omitempty"`
}

// Assertion type constants.
const (
	AssertAttemptOrder   = "attempt_order"
	AssertRecordState    = "record_state"
	AssertEventCount     = "event_count"
	AssertAttemptSpacing = "attempt_spacing"
	AssertPendingCount   = "pending_count"
)

// Step action constants.
const (
	StepEnqueue    = "enqueue"
	StepWrite      = "write"
	StepConnect    = "connect"
	StepDisconnect = "disconnect"
	StepAdvance    = "advance"
	StepReplay     = "replay"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML parses strings such as "1s" or "2m30s".
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields, or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
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
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if _, err := parseState(s.Config.Initial); err != nil {
		return fmt.Errorf("config.initial: %w", err)
	}

	for resource, script := range s.Remote {
		for i, entry := range script {
			if _, err := parseOutcome(entry); err != nil {
				return fmt.Errorf("remote[%s][%d]: %w", resource, i, err)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	switch step.Do {
	case StepEnqueue, StepWrite:
		for _, key := range []string{"type", "resource"} {
			if v, _ := step.Args[key].(string); v == "" {
				return fmt.Errorf("steps[%d]: %s requires args.%s", i, step.Do, key)
			}
		}
	case StepAdvance:
		raw, _ := step.Args["by"].(string)
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance requires args.by as a duration: %v", i, err)
		}
		if d < 0 {
			return fmt.Errorf("steps[%d]: advance cannot go backwards", i)
		}
	case StepConnect:
		if t, ok := step.Args["transport"].(string); ok {
			if _, err := parseState(t); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		}
	case StepDisconnect, StepReplay:
	case "":
		return fmt.Errorf("steps[%d]: do is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", i, step.Do)
	}
	if step.Expect != nil && step.Expect.Outcome == "" {
		return fmt.Errorf("steps[%d].expect: outcome is required", i)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertAttemptOrder:
		if len(a.Records) == 0 {
			return fmt.Errorf("assertions[%d]: records list is required for attempt_order", index)
		}
	case AssertRecordState:
		if a.Record == "" {
			return fmt.Errorf("assertions[%d]: record is required for record_state", index)
		}
		if _, err := record.ParseStatus(strings.ToUpper(a.Status)); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertAttemptSpacing:
		if a.Record == "" {
			return fmt.Errorf("assertions[%d]: record is required for attempt_spacing", index)
		}
		if len(a.Gaps) == 0 {
			return fmt.Errorf("assertions[%d]: gaps list is required for attempt_spacing", index)
		}
	case AssertPendingCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for pending_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
