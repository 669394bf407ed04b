package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/harness"
)

// RunResult is the JSON payload of the run command.
type RunResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Trace  []string `json:"trace"`
	State  string   `json:"state"`
	Errors []string `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run one scenario and print its trace",
		Long: `Run a scenario against a fresh engine and in-memory server.

Prints every listener event and completion in order, then the server's
final data. Assertions in the scenario are checked; a failing assertion
exits with code 1.

Example:
  treesync run ./scenarios/limit_window.yaml
  treesync run ./scenarios/offline.yaml --format json -v`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runScenarioFile(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	formatter.VerboseLog("running %s: %s", scenario.Name, scenario.Description)

	var runOpts []harness.Option
	if opts.Verbose {
		runOpts = append(runOpts, harness.WithLogger(newLogger(opts, 0, formatter.GetErrWriter())))
	}
	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		_ = formatter.Error(ErrCodeScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "scenario failed to run", err)
	}

	lines := append(result.Lines(), "= "+result.State)
	for _, e := range result.Errors {
		lines = append(lines, "✗ "+e)
	}
	if err := formatter.Lines(lines, RunResult{
		Name:   scenario.Name,
		Pass:   result.Pass,
		Trace:  result.Lines(),
		State:  result.State,
		Errors: result.Errors,
	}); err != nil {
		return err
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("%d assertion(s) failed", len(result.Errors)))
	}
	return nil
}
