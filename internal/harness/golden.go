package harness

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Golden renders a result as the text stored in golden files: a header
// line, one trace line per event, then the server's final data.
func Golden(name string, result *Result) []byte {
	var buf strings.Builder
	buf.WriteString("# " + name + "\n")
	for _, line := range result.Lines() {
		buf.WriteString(line + "\n")
	}
	buf.WriteString("= " + result.State + "\n")
	return []byte(buf.String())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an already-computed result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Golden(name, result))
}
