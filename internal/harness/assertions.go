package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/remote"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, event.Line())
		}
	}
	return buf.String()
}

// assertTraceContains checks that the line appears in the trace.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Line() == assertion.Line {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: assertion.Line,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the lines appear in the given order.
// Lines don't need to be consecutive, and each line matches a later trace
// position than the one before it, so a line may be listed twice.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for i, want := range assertion.Lines {
		found := false
		for pos < len(trace) {
			line := trace[pos].Line()
			pos++
			if line == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("lines in order: %q", assertion.Lines),
				Actual:   fmt.Sprintf("line %d %q missing or out of order", i+1, want),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the line appears exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Line() == assertion.Line {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %q", assertion.Count, assertion.Line),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState compares the server's data at Path with Value by
// canonical JSON, so 1 and 1.0 are equal and key order does not matter.
func assertFinalState(server *remote.Loopback, assertion Assertion) error {
	want, err := node.FromValue(assertion.Value)
	if err != nil {
		return fmt.Errorf("final_state: invalid expected value: %w", err)
	}
	got := server.Value(node.ParsePath(assertion.Path))
	if !got.Equal(want) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s = %s", assertion.Path, want),
			Actual:   fmt.Sprintf("%s = %s", assertion.Path, got),
		}
	}
	return nil
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Server *remote.Loopback
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides the server for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Server == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a server", i)
			} else {
				err = assertFinalState(actx.Server, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
