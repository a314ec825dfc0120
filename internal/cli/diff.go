package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft/internal/codec"
)

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	Out string
}

// DiffResult is the JSON payload for a computed delta.
type DiffResult struct {
	Base        string `json:"base"`
	Target      string `json:"target"`
	Output      string `json:"output,omitempty"`
	Size        int    `json:"size"`
	ItemRuns    int    `json:"item_runs"`
	DeleteSpans int    `json:"delete_spans"`
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff <base-update> <target-update>",
		Short: "Compute the delta that brings base up to target",
		Long: `Materialize both updates and emit the operations present in target
but absent from base, as a delta update. Applying the delta to a
document holding base yields target.

The delta is one-directional: operations present only in base are not
represented, so diff a b and diff b a generally differ.

Exit codes:
  0 - Delta computed
  1 - Updates buffered awaiting missing dependencies
  2 - Command error (unreadable file, malformed update)

Examples:
  weft diff base.update target.update
  weft diff base.update target.update --out delta.update
  weft diff base.update target.update --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "path for the delta update")

	return cmd
}

func runDiff(opts *DiffOptions, basePath, targetPath string, cmd *cobra.Command) error {
	baseData, err := readUpdate(basePath)
	if err != nil {
		return err
	}
	targetData, err := readUpdate(targetPath)
	if err != nil {
		return err
	}

	logger := docLogger(opts.RootOptions, cmd)

	baseDoc, err := materialize(logger, baseData)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("base %s", basePath), err)
	}
	defer baseDoc.Close()

	targetDoc, err := materialize(logger, targetData)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("target %s", targetPath), err)
	}
	defer targetDoc.Close()

	if pending := baseDoc.PendingUpdates() + targetDoc.PendingUpdates(); pending > 0 {
		err := NewExitError(ExitFailure,
			fmt.Sprintf("%d update run(s) buffered awaiting missing dependencies", pending))
		if opts.Format == "json" {
			resp := CLIResponse{
				Status: "error",
				Error:  &CLIError{Code: ErrCodePending, Message: err.Message},
			}
			if werr := writeJSON(cmd.OutOrStdout(), resp); werr != nil {
				return werr
			}
		}
		return err
	}

	delta, err := targetDoc.EncodeStateAsUpdate(baseDoc.EncodeStateVector())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode delta", err)
	}

	decoded, err := codec.DecodeUpdate(delta)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to decode computed delta", err)
	}
	spans := 0
	for _, r := range decoded.DS.Replicas() {
		spans += len(decoded.DS[r])
	}

	if opts.Out != "" {
		if err := writeOutput(opts.Out, delta); err != nil {
			return err
		}
	}

	if opts.Format == "json" {
		result := DiffResult{
			Base:        basePath,
			Target:      targetPath,
			Output:      opts.Out,
			Size:        len(delta),
			ItemRuns:    len(decoded.Items),
			DeleteSpans: spans,
		}
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "delta: %d bytes, %d item run(s), %d delete span(s)\n",
		len(delta), len(decoded.Items), spans)
	if opts.Out != "" {
		fmt.Fprintf(w, "wrote %s\n", opts.Out)
	}
	return nil
}
