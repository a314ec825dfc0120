package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	*RootOptions
	Out string
}

// MergeResult is the JSON payload for a successful merge.
type MergeResult struct {
	Inputs []string          `json:"inputs"`
	Output string            `json:"output"`
	Size   int               `json:"size"`
	Roots  map[string]string `json:"roots"`
	Hash   string            `json:"hash"`
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "merge <update-file>...",
		Short: "Merge update files into a single consolidated update",
		Long: `Apply every input update to a fresh document and write the full
resulting state as one consolidated update. Inputs may arrive in any
order; integration is commutative, so the output is the same for every
permutation of the same set.

The merge refuses to write while any input still waits on operations
that none of the inputs carry, since the consolidated update would
silently drop the buffered runs.

Exit codes:
  0 - Merge written
  1 - Updates buffered awaiting missing dependencies
  2 - Command error (unreadable file, malformed update)

Examples:
  weft merge a.update b.update --out merged.update
  weft merge state.update delta.update -o merged.update --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "path for the consolidated update (required)")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runMerge(opts *MergeOptions, paths []string, cmd *cobra.Command) error {
	updates, err := readUpdateFiles(paths)
	if err != nil {
		return err
	}

	doc, err := materialize(docLogger(opts.RootOptions, cmd), updates...)
	if err != nil {
		return err
	}
	defer doc.Close()

	if pending := doc.PendingUpdates(); pending > 0 {
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

	merged, err := doc.EncodeStateAsUpdate(nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode merged state", err)
	}
	if err := writeOutput(opts.Out, merged); err != nil {
		return err
	}

	if opts.Format == "json" {
		result := MergeResult{
			Inputs: paths,
			Output: opts.Out,
			Size:   len(merged),
			Roots:  rootKinds(doc),
			Hash:   doc.ContentHash(),
		}
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "merged %d update(s) into %s (%d bytes)\n", len(paths), opts.Out, len(merged))
	if roots := formatRoots(doc); roots != "" {
		fmt.Fprintf(w, "roots: %s\n", roots)
	}
	fmt.Fprintf(w, "hash: %s\n", doc.ContentHash())
	return nil
}
