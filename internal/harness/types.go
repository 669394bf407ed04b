package harness

import (
	"fmt"
	"strings"
)

// Trace event kinds.
const (
	KindEvent    = "event"    // a listener callback
	KindCancel   = "cancel"   // a listener cancellation
	KindComplete = "complete" // a write, get, once or transaction finished
)

// TraceEvent is one observable effect of a scenario, in delivery order.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Kind string `json:"kind"`

	// Listener is the step id of the listener that saw the event.
	Listener string `json:"listener,omitempty"`

	// Type is the event type, or the op for a completion.
	Type string `json:"type"`

	// Key is the child key for child events.
	Key string `json:"key,omitempty"`

	// Prev is the previous sibling name for child_added, child_changed
	// and child_moved.
	Prev string `json:"prev,omitempty"`

	// Path is the location a completion addressed.
	Path string `json:"path,omitempty"`

	// Data is the canonical JSON of the snapshot or result.
	Data string `json:"data,omitempty"`

	// Status is "ok" or an error code.
	Status string `json:"status,omitempty"`
}

// Line renders the event the way assertions and golden files spell it:
//
//	L1 child_added c after b 3
//	L1 value {"a":1}
//	L1 cancel permission_denied
//	set /a ok
//	transaction /c committed 3
func (ev TraceEvent) Line() string {
	var parts []string
	switch ev.Kind {
	case KindEvent:
		parts = append(parts, ev.Listener, ev.Type)
		if ev.Key != "" {
			parts = append(parts, ev.Key)
		}
		if ev.Prev != "" {
			parts = append(parts, "after", ev.Prev)
		}
		parts = append(parts, ev.Data)
	case KindCancel:
		parts = append(parts, ev.Listener, "cancel", ev.Status)
	default:
		parts = append(parts, ev.Type, ev.Path, ev.Status)
		if ev.Data != "" {
			parts = append(parts, ev.Data)
		}
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace contains all events and completions in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the server's data at the end, as canonical JSON.
	State string `json:"state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Lines returns the trace as lines.
func (r *Result) Lines() []string {
	lines := make([]string, len(r.Trace))
	for i, ev := range r.Trace {
		lines[i] = ev.Line()
	}
	return lines
}

func (r *Result) add(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}

func (r *Result) addComplete(op, path, status, data string) {
	r.add(TraceEvent{Kind: KindComplete, Type: op, Path: path, Status: status, Data: data})
}

func (r *Result) String() string {
	return fmt.Sprintf("pass=%t events=%d errors=%d", r.Pass, len(r.Trace), len(r.Errors))
}
