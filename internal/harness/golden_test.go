package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGolden_Scenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(strings.TrimSuffix(filepath.Base(file), ".yaml"), func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
		})
	}
}

func TestGolden_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/transaction_retry.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, Golden(scenario.Name, first), Golden(scenario.Name, second))
}

func TestGolden_Format(t *testing.T) {
	r := NewResult()
	r.addComplete(OpSet, "/a", "ok", "")
	r.State = `{"a":1}`
	assert.Equal(t, "# demo\nset /a ok\n= {\"a\":1}\n", string(Golden("demo", r)))
}
