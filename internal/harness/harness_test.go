package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }

func boolp(b bool) *bool { return &b }

func TestRun_WritesAndListeners(t *testing.T) {
	result, err := Run(&Scenario{
		Name:        "writes",
		Description: "set, update and remove reach a listener",
		Steps: []Step{
			{Op: OpListen, ID: "L1", Path: "/a", Events: []string{"value"}},
			{Op: OpSet, Path: "/a", Value: map[string]any{"x": 1}},
			{Op: OpUpdate, Path: "/a", Value: map[string]any{"y": 2}},
			{Op: OpRemove, Path: "/a/x"},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Path: "/a", Value: map[string]any{"y": 2}},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, []string{
		"L1 value null",
		`L1 value {"x":1}`,
		"set /a ok",
		`L1 value {"x":1,"y":2}`,
		"update /a ok",
		`L1 value {"y":2}`,
		"remove /a/x ok",
	}, result.Lines())
	assert.Equal(t, `{"a":{"y":2}}`, result.State)
}

func TestRun_Off(t *testing.T) {
	result, err := Run(&Scenario{
		Name:        "off",
		Description: "a removed listener hears nothing more",
		Server:      map[string]any{"a": 1},
		Steps: []Step{
			{Op: OpListen, ID: "L1", Path: "/a", Events: []string{"value"}},
			{Op: OpOff, ID: "L1"},
			{Op: OpServerSet, Path: "/a", Value: 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"L1 value 1"}, result.Lines())
	assert.Equal(t, `{"a":2}`, result.State)
}

func TestRun_QueryAndGet(t *testing.T) {
	result, err := Run(&Scenario{
		Name:        "query",
		Description: "ordered, limited reads",
		Server: map[string]any{"scores": map[string]any{
			"ada": map[string]any{"score": 30},
			"bob": map[string]any{"score": 10},
			"cy":  map[string]any{"score": 20},
		}},
		Steps: []Step{
			{Op: OpGet, Path: "/scores", Query: &QuerySpec{OrderBy: "child:score", LimitToLast: 2}},
			{Op: OpGet, Path: "/scores", Query: &QuerySpec{OrderBy: "child:score", EndAt: 15}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		`get /scores ok {"ada":{"score":30},"cy":{"score":20}}`,
		`get /scores ok {"bob":{"score":10}}`,
	}, result.Lines())
}

func TestRun_ValidationErrorsAreTraced(t *testing.T) {
	result, err := Run(&Scenario{
		Name:        "invalid",
		Description: "bad keys are rejected without stopping the run",
		Steps: []Step{
			{Op: OpSet, Path: "/a.b", Value: 1},
			{Op: OpSet, Path: "/ok", Value: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"set /a.b invalid", "set /ok ok"}, result.Lines())
}

func TestRun_TransactionOutcomes(t *testing.T) {
	t.Run("abort", func(t *testing.T) {
		result, err := Run(&Scenario{
			Name:        "abort",
			Description: "update function gives up",
			Server:      map[string]any{"c": 4},
			Steps:       []Step{{Op: OpTransaction, Path: "/c", Abort: true}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"transaction /c aborted 4"}, result.Lines())
	})

	t.Run("retries exhausted", func(t *testing.T) {
		result, err := Run(&Scenario{
			Name:        "exhausted",
			Description: "the only attempt loses its race",
			Server:      map[string]any{"c": 1},
			MaxRetries:  intp(0),
			Steps: []Step{
				{Op: OpTransaction, Path: "/c", Increment: 1, Conflict: 50},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"transaction /c retry_exhausted"}, result.Lines())
		assert.Equal(t, `{"c":50}`, result.State)
	})

	t.Run("overridden by set", func(t *testing.T) {
		result, err := Run(&Scenario{
			Name:        "overridden",
			Description: "a local set replaces data under a sent transaction",
			Server:      map[string]any{"c": 1},
			Steps: []Step{
				{Op: OpPause},
				{Op: OpTransaction, Path: "/c", Increment: 1, ApplyLocally: boolp(false), Conflict: 7},
				{Op: OpSet, Path: "/c", Value: 100},
				{Op: OpResume},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"transaction /c overridden_by_set", "set /c ok"}, result.Lines())
		assert.Equal(t, `{"c":100}`, result.State)
	})
}

func TestRun_FailingAssertions(t *testing.T) {
	result, err := Run(&Scenario{
		Name:        "fails",
		Description: "assertions that do not hold mark the result failed",
		Steps:       []Step{{Op: OpSet, Path: "/a", Value: 1}},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Line: "set /a permission_denied"},
			{Type: AssertFinalState, Path: "/a", Value: 2},
		},
	})
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 2)
}

func TestRun_Errors(t *testing.T) {
	_, err := Run(&Scenario{
		Name:        "bad event",
		Description: "unknown event types stop the run",
		Steps:       []Step{{Op: OpListen, ID: "L1", Path: "/a", Events: []string{"child_exploded"}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 0 (listen)")

	_, err = Run(&Scenario{
		Name:        "bad order",
		Description: "unknown order_by stops the run",
		Steps:       []Step{{Op: OpGet, Path: "/a", Query: &QuerySpec{OrderBy: "size"}}},
	})
	require.Error(t, err)
}
