package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureLayout copies one scenario and its golden file into a fresh
// scenarios/ + golden/ pair.
func fixtureLayout(t *testing.T, name string) (scenarios, golden string) {
	t.Helper()
	root := t.TempDir()
	scenarios = filepath.Join(root, "scenarios")
	golden = filepath.Join(root, "golden")
	require.NoError(t, os.MkdirAll(scenarios, 0o755))
	require.NoError(t, os.MkdirAll(golden, 0o755))

	data, err := os.ReadFile(filepath.Join(scenariosDir, name+".yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(scenarios, name+".yaml"), data, 0o644))

	data, err = os.ReadFile(filepath.Join(scenariosDir, "..", "golden", name+".golden"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(golden, name+".golden"), data, 0o644))
	return scenarios, golden
}

func executeTest(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := executeTest(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := executeTest(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out, err := executeTest(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	out, err := executeTest(t, "json", t.TempDir())
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Data.Total)
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	out, err := executeTest(t, "text", scenariosDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ limit_window")
	assert.Contains(t, out, "✓ transaction_retry")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandFilter(t *testing.T) {
	out, err := executeTest(t, "json", scenariosDir, "--filter", "p*")
	require.NoError(t, err)

	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	names := make([]string, 0, len(resp.Data.Scenarios))
	for _, s := range resp.Data.Scenarios {
		names = append(names, s.Name)
		assert.True(t, s.Pass, s.Name)
	}
	assert.ElementsMatch(t, []string{"permission_cancel", "push_keys"}, names)
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	scenarios, golden := fixtureLayout(t, "offline")
	require.NoError(t, os.WriteFile(filepath.Join(golden, "offline.golden"), []byte("# offline\n= null\n"), 0o644))

	out, err := executeTest(t, "text", scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ offline")
	assert.Contains(t, out, "does not match golden file")
	assert.Contains(t, out, "1 failed")
}

func TestTestCommandGoldenMismatchJSON(t *testing.T) {
	scenarios, golden := fixtureLayout(t, "offline")
	require.NoError(t, os.WriteFile(filepath.Join(golden, "offline.golden"), []byte("stale"), 0o644))

	out, err := executeTest(t, "json", scenarios)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
}

func TestTestCommandUpdate(t *testing.T) {
	scenarios, golden := fixtureLayout(t, "offline")
	want, err := os.ReadFile(filepath.Join(golden, "offline.golden"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(golden, "offline.golden")))

	out, err := executeTest(t, "text", scenarios, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "golden updated")

	got, err := os.ReadFile(filepath.Join(golden, "offline.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	_, err = executeTest(t, "text", scenarios)
	assert.NoError(t, err)
}

func TestTestCommandWithoutGolden(t *testing.T) {
	scenarios, golden := fixtureLayout(t, "offline")
	require.NoError(t, os.RemoveAll(golden))

	out, err := executeTest(t, "text", scenarios)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ offline")
}

func TestTestCommandGoldenDirFlag(t *testing.T) {
	scenarios, golden := fixtureLayout(t, "offline")
	moved := filepath.Join(t.TempDir(), "elsewhere")
	require.NoError(t, os.Rename(golden, moved))
	require.NoError(t, os.MkdirAll(golden, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(golden, "offline.golden"), []byte("stale"), 0o644))

	_, err := executeTest(t, "text", scenarios, "--golden-dir", moved)
	assert.NoError(t, err)
}

func TestTestHelpText(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{})
	assert.Equal(t, "test <scenarios-dir>", cmd.Use)
	assert.Contains(t, cmd.Long, "golden")
}

func TestFindScenarioFiles(t *testing.T) {
	files, err := findScenarioFiles(scenariosDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 7)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	files, err := findScenarioFiles(scenariosDir, "transaction_*")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "transaction_retry.yaml", filepath.Base(files[0]))

	_, err = findScenarioFiles(scenariosDir, "[")
	assert.Error(t, err)
}

func TestFindScenarioFilesSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.yml"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "notes.txt"), []byte("x"), 0o644))

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("g", "offline.golden"), goldenFilePath("g", "offline"))
	assert.Equal(t, filepath.Join("testdata", "golden"), defaultGoldenDir(filepath.Join("testdata", "scenarios")))
	assert.Equal(t, filepath.Join("testdata", "golden"), defaultGoldenDir(filepath.Join("testdata", "scenarios")+"/"))
}
