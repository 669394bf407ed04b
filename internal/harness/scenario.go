package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted session against an engine and an in-memory
// server. Steps run in order; the engine's queue is drained after each one,
// so the trace is deterministic.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario checks.
	Description string `yaml:"description"`

	// Server is the server's data before the first step.
	Server any `yaml:"server,omitempty"`

	// MaxRetries overrides the engine's transaction retry limit.
	MaxRetries *int `yaml:"max_retries,omitempty"`

	// Steps is the script.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final server data.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action. Op selects which of the other fields apply.
type Step struct {
	Op string `yaml:"op"`

	// Path addresses the data the step acts on.
	Path string `yaml:"path,omitempty"`

	// Value is the data for set, push, update, server_set and server_update.
	Value any `yaml:"value,omitempty"`

	// Priority is the priority for set and set_priority.
	Priority any `yaml:"priority,omitempty"`

	// ID names a listener (listen, once, off) so trace lines can tell
	// listeners apart.
	ID string `yaml:"id,omitempty"`

	// Query narrows a listen, once or get.
	Query *QuerySpec `yaml:"query,omitempty"`

	// Events are the event types a listen registers for.
	Events []string `yaml:"events,omitempty"`

	// Increment is what a transaction adds to the number at Path.
	Increment float64 `yaml:"increment,omitempty"`

	// Abort makes a transaction's update function give up.
	Abort bool `yaml:"abort,omitempty"`

	// Conflict is written by the server just before the next client write
	// at Path, so that write loses its race.
	Conflict any `yaml:"conflict,omitempty"`

	// ConflictTimes repeats Conflict for that many writes. Default 1.
	ConflictTimes int `yaml:"conflict_times,omitempty"`

	// ApplyLocally controls whether a transaction shows its pending value.
	ApplyLocally *bool `yaml:"apply_locally,omitempty"`
}

// QuerySpec is the YAML form of a query.
type QuerySpec struct {
	// OrderBy is "key", "priority", "value" or "child:<path>".
	OrderBy      string `yaml:"order_by,omitempty"`
	StartAt      any    `yaml:"start_at,omitempty"`
	StartAfter   any    `yaml:"start_after,omitempty"`
	EndAt        any    `yaml:"end_at,omitempty"`
	EndBefore    any    `yaml:"end_before,omitempty"`
	EqualTo      any    `yaml:"equal_to,omitempty"`
	LimitToFirst int    `yaml:"limit_to_first,omitempty"`
	LimitToLast  int    `yaml:"limit_to_last,omitempty"`
}

// Step ops.
const (
	OpListen       = "listen"
	OpOnce         = "once"
	OpOff          = "off"
	OpGet          = "get"
	OpSet          = "set"
	OpUpdate       = "update"
	OpRemove       = "remove"
	OpPush         = "push"
	OpSetPriority  = "set_priority"
	OpTransaction  = "transaction"
	OpServerSet    = "server_set"
	OpServerUpdate = "server_update"
	OpDeny         = "deny"
	OpAllow        = "allow"
	OpPause        = "pause_writes"
	OpResume       = "resume_writes"
	OpDisconnect   = "disconnect"
	OpReconnect    = "reconnect"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Line appears in the trace
	// - "trace_order": Lines appear in this order, not necessarily adjacent
	// - "trace_count": Line appears exactly Count times
	// - "final_state": The server holds Value at Path
	Type string `yaml:"type"`

	// Line is a trace line (trace_contains, trace_count).
	Line string `yaml:"line,omitempty"`

	// Lines are trace lines (trace_order).
	Lines []string `yaml:"lines,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Path and Value describe the expected server data (final_state).
	// A missing value means no data.
	Path  string `yaml:"path,omitempty"`
	Value any    `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

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
	// Strict field validation catches typos like "assertion:" vs "assertions:"
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
	if s.MaxRetries != nil && *s.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}

	ids := map[string]bool{}
	for i, step := range s.Steps {
		if err := validateStep(i, step, ids); err != nil {
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

func validateStep(i int, step Step, ids map[string]bool) error {
	needsPath := true
	switch step.Op {
	case OpListen, OpOnce:
		if step.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for %s", i, step.Op)
		}
		if ids[step.ID] {
			return fmt.Errorf("steps[%d]: listener id %q already used", i, step.ID)
		}
		ids[step.ID] = true
		if len(step.Events) == 0 {
			return fmt.Errorf("steps[%d]: events list is required for %s", i, step.Op)
		}
		if step.Op == OpOnce && len(step.Events) != 1 {
			return fmt.Errorf("steps[%d]: once takes exactly one event", i)
		}
	case OpOff:
		if step.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for off", i)
		}
		if !ids[step.ID] {
			return fmt.Errorf("steps[%d]: unknown listener id %q", i, step.ID)
		}
		needsPath = false
	case OpUpdate, OpServerUpdate:
		if _, ok := step.Value.(map[string]any); !ok {
			return fmt.Errorf("steps[%d]: %s needs a mapping value", i, step.Op)
		}
	case OpGet, OpSet, OpRemove, OpPush, OpSetPriority, OpTransaction,
		OpServerSet, OpDeny, OpAllow:
	case OpPause, OpResume, OpDisconnect, OpReconnect:
		needsPath = false
	case "":
		return fmt.Errorf("steps[%d]: op is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
	}
	if needsPath && step.Path == "" {
		return fmt.Errorf("steps[%d]: path is required for %s", i, step.Op)
	}
	if step.ConflictTimes < 0 {
		return fmt.Errorf("steps[%d]: conflict_times must be non-negative", i)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: line is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Lines) == 0 {
			return fmt.Errorf("assertions[%d]: lines list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: line is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for final_state", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
