package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft/internal/harness"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Filter string
}

// ReplayScenarioResult holds the replay result for a single scenario.
type ReplayScenarioResult struct {
	File      string            `json:"file"`
	Name      string            `json:"name"`
	Pass      bool              `json:"pass"`
	Converged bool              `json:"converged"`
	Errors    []string          `json:"errors,omitempty"`
	Hashes    map[string]string `json:"hashes,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Scenarios []ReplayScenarioResult `json:"scenarios"`
	Passed    int                    `json:"passed"`
	Failed    int                    `json:"failed"`
	Total     int                    `json:"total"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenarios-dir>",
		Short: "Run convergence scenarios and verify their assertions",
		Long: `Run every scenario file in a directory. Each scenario spins up named
replicas, executes scripted edits and syncs, and checks its assertions:
convergence, text content, lengths, map keys.

Scenario files are YAML validated against the scenario schema before
execution, so a malformed file fails the run rather than silently
skipping steps.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (directory not found, malformed scenario file)

Examples:
  weft replay ./scenarios
  weft replay ./scenarios --filter "concurrent_*"
  weft replay ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "glob pattern to filter scenario files by name")

	return cmd
}

func runReplay(opts *ReplayOptions, scenariosDir string, cmd *cobra.Command) error {
	files, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	if len(files) == 0 {
		if opts.Format == "json" {
			return outputReplayJSON(cmd, ReplayResult{Scenarios: []ReplayScenarioResult{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenario files found.")
		return nil
	}

	result := ReplayResult{
		Scenarios: make([]ReplayScenarioResult, 0, len(files)),
		Total:     len(files),
	}

	for _, file := range files {
		scenario, err := harness.LoadScenario(file)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to load scenario %s", file), err)
		}

		run, err := harness.Run(scenario)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to run scenario %s", scenario.Name), err)
		}

		sr := ReplayScenarioResult{
			File:      file,
			Name:      scenario.Name,
			Pass:      run.Pass,
			Converged: run.Converged,
			Errors:    run.Errors,
			Hashes:    run.Hashes,
		}
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeScenario,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	if err := writeJSON(cmd.OutOrStdout(), response); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	for _, sr := range result.Scenarios {
		status := "✓"
		if !sr.Pass {
			status = "✗"
		}
		fmt.Fprintf(w, "%s %s (%s)\n", status, sr.Name, sr.File)

		for _, msg := range sr.Errors {
			fmt.Fprintf(w, "    %s\n", msg)
		}

		if verbose {
			replicas := make([]string, 0, len(sr.Hashes))
			for name := range sr.Hashes {
				replicas = append(replicas, name)
			}
			sort.Strings(replicas)
			for _, name := range replicas {
				fmt.Fprintf(w, "    %s: %s\n", name, sr.Hashes[name])
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Replay Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
