package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/config"
	"github.com/roach88/treesync/internal/harness"
)

// ValidationError is one file that failed to load.
type ValidationError struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate config and scenario files",
		Long: `Check config files (.cue, .json) against the config schema and
scenario files (.yaml, .yml) against the scenario format, without running
anything.

Examples:
  treesync validate treesync.cue
  treesync validate ./testdata/scenarios/*.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	var errs []ValidationError
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			return outputValidateError(formatter, ErrCodeConfig, fmt.Sprintf("file not found: %s", file))
		}
		formatter.VerboseLog("Validating %s", file)
		if verr := validateFile(file); verr != nil {
			errs = append(errs, *verr)
		}
	}

	if len(errs) > 0 {
		return outputValidationErrors(formatter, len(files), errs)
	}
	return outputValidateSuccess(formatter, len(files))
}

// validateFile picks the loader by extension.
func validateFile(file string) *ValidationError {
	switch filepath.Ext(file) {
	case ".yaml", ".yml":
		if _, err := harness.LoadScenario(file); err != nil {
			return &ValidationError{File: file, Code: ErrCodeScenario, Message: err.Error()}
		}
	default:
		if _, err := config.Load(file); err != nil {
			verr := &ValidationError{File: file, Code: ErrCodeConfig, Message: err.Error()}
			var le *config.LoadError
			if errors.As(err, &le) {
				verr.Message = le.Message
				if le.Pos.IsValid() {
					verr.Line = le.Pos.Line()
				}
			}
			return verr
		}
	}
	return nil
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, files int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Files: files})
	}

	fmt.Fprintf(formatter.Writer, "✓ %d file(s) valid\n", files)
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, files int, errs []ValidationError) error {
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Files: files, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", err.File, err.Line)
		} else {
			fmt.Fprintln(formatter.Writer, err.File)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}

	return failed
}
