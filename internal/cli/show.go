package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
}

// DocState is the JSON payload describing a materialized document.
type DocState struct {
	State   json.RawMessage   `json:"state"`
	Hash    string            `json:"hash"`
	Roots   map[string]string `json:"roots"`
	Pending int               `json:"pending,omitempty"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <update-file>",
		Short: "Materialize an update and print the document state",
		Long: `Apply an update to a fresh document and print the resulting state as
canonical JSON together with its content hash. Two replicas holding the
same operations print identical output.

If the update references operations it does not carry, the reachable
state is printed and the command exits nonzero, since the document is
incomplete.

Exit codes:
  0 - Document state printed
  1 - Updates buffered awaiting missing dependencies
  2 - Command error (unreadable file, malformed update)

Examples:
  weft show state.update
  weft show state.update --format json
  weft show state.update --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, args[0], cmd)
		},
	}

	return cmd
}

func runShow(opts *ShowOptions, path string, cmd *cobra.Command) error {
	data, err := readUpdate(path)
	if err != nil {
		return err
	}

	doc, err := materialize(docLogger(opts.RootOptions, cmd), data)
	if err != nil {
		return err
	}
	defer doc.Close()

	return outputDocState(opts.RootOptions, cmd, doc)
}

// outputDocState prints a document's canonical state in the selected
// format. Buffered updates are reported after the reachable state and
// turn the run into a failure exit.
func outputDocState(opts *RootOptions, cmd *cobra.Command, doc *weft.Doc) error {
	pending := doc.PendingUpdates()

	if opts.Format == "json" {
		state := DocState{
			State:   json.RawMessage(doc.CanonicalJSON()),
			Hash:    doc.ContentHash(),
			Roots:   rootKinds(doc),
			Pending: pending,
		}
		status := "ok"
		resp := CLIResponse{Status: status, Data: state}
		if pending > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodePending,
				Message: fmt.Sprintf("%d update run(s) buffered awaiting missing dependencies", pending),
			}
		}
		if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
		if pending > 0 {
			return NewExitError(ExitFailure,
				fmt.Sprintf("%d update run(s) buffered awaiting missing dependencies", pending))
		}
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, string(doc.CanonicalJSON()))
	if opts.Verbose {
		if roots := formatRoots(doc); roots != "" {
			fmt.Fprintf(w, "roots: %s\n", roots)
		}
	}
	fmt.Fprintf(w, "hash: %s\n", doc.ContentHash())

	if pending > 0 {
		fmt.Fprintf(w, "✗ %d update run(s) buffered awaiting missing dependencies\n", pending)
		return NewExitError(ExitFailure,
			fmt.Sprintf("%d update run(s) buffered awaiting missing dependencies", pending))
	}
	return nil
}
