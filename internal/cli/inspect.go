package cli

import (
	"fmt"

	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"

	"github.com/weftwork/weft/internal/codec"
	"github.com/weftwork/weft/internal/item"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Dump bool // print the decoded frame as a Go literal
}

// InspectItem describes one decoded item run.
type InspectItem struct {
	ID          string `json:"id"`
	Len         int    `json:"len"`
	Content     string `json:"content"`
	Deleted     bool   `json:"deleted,omitempty"`
	OriginLeft  string `json:"origin_left,omitempty"`
	OriginRight string `json:"origin_right,omitempty"`
	Root        string `json:"root,omitempty"`
	Anchor      string `json:"anchor,omitempty"`
	Key         string `json:"key,omitempty"`
}

// InspectSpan describes one delete-set span.
type InspectSpan struct {
	Replica uint64 `json:"replica"`
	Clock   uint64 `json:"clock"`
	Len     uint64 `json:"len"`
}

// InspectReport is the full decode summary for an update file.
type InspectReport struct {
	Size    int               `json:"size"`
	State   map[uint64]uint64 `json:"state"`
	Items   []InspectItem     `json:"items"`
	Deletes []InspectSpan     `json:"deletes"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <update-file>",
		Short: "Decode an update file without applying it",
		Long: `Decode an update file and report its contents: the sender's state
vector, every item run (identity, origins, parent, content), and the
delete set. Nothing is integrated; this is a pure wire-format view.

Exit codes:
  0 - Update decoded cleanly
  2 - Command error (unreadable file, malformed update)

Examples:
  weft inspect state.update
  weft inspect state.update --dump
  weft inspect state.update --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Dump, "dump", false, "print the decoded frame as a Go literal (text format only)")

	return cmd
}

func runInspect(opts *InspectOptions, path string, cmd *cobra.Command) error {
	data, err := readUpdate(path)
	if err != nil {
		return err
	}

	upd, err := codec.DecodeUpdate(data)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to decode update", err)
	}

	report := buildInspectReport(data, upd)

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: report})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "update: %d bytes, %d item run(s), %d delete span(s)\n",
		report.Size, len(report.Items), len(report.Deletes))

	fmt.Fprint(w, "state:")
	if len(upd.State) == 0 {
		fmt.Fprint(w, " empty")
	}
	for _, r := range upd.State.Replicas() {
		fmt.Fprintf(w, " %d:%d", r, upd.State.Get(r))
	}
	fmt.Fprintln(w)

	for _, it := range report.Items {
		fmt.Fprintf(w, "  item %s %s\n", it.ID, describeInspectItem(it))
	}
	for _, span := range report.Deletes {
		fmt.Fprintf(w, "  delete %d:[%d,%d)\n", span.Replica, span.Clock, span.Clock+span.Len)
	}

	if opts.Dump {
		fmt.Fprintln(w)
		fmt.Fprintln(w, litter.Sdump(upd))
	}
	return nil
}

func buildInspectReport(data []byte, upd *codec.Update) InspectReport {
	report := InspectReport{
		Size:    len(data),
		State:   upd.State,
		Items:   make([]InspectItem, 0, len(upd.Items)),
		Deletes: []InspectSpan{},
	}

	for _, it := range upd.Items {
		entry := InspectItem{
			ID:      it.ID.String(),
			Len:     it.Len(),
			Content: describeContent(it.Content),
			Deleted: it.Deleted,
			Key:     it.ParentKey,
		}
		if it.OriginLeft != nil {
			entry.OriginLeft = it.OriginLeft.String()
		}
		if it.OriginRight != nil {
			entry.OriginRight = it.OriginRight.String()
		}
		if it.ParentName != "" {
			entry.Root = it.ParentName
		}
		if it.ParentAnchor != nil {
			entry.Anchor = it.ParentAnchor.String()
		}
		report.Items = append(report.Items, entry)
	}

	for _, r := range upd.DS.Replicas() {
		for _, span := range upd.DS[r] {
			report.Deletes = append(report.Deletes, InspectSpan{
				Replica: r,
				Clock:   span.Clock,
				Len:     span.Len,
			})
		}
	}
	return report
}

// describeContent names an item's content variant for reports.
func describeContent(c item.Content) string {
	switch v := c.(type) {
	case *item.ContentText:
		return "text"
	case *item.ContentValues:
		return "values"
	case *item.ContentDeleted:
		return "deleted"
	case *item.ContentBranch:
		return "branch:" + v.Kind.String()
	case *item.ContentFormat:
		return "format:" + v.Key
	default:
		return fmt.Sprintf("%T", c)
	}
}

// describeInspectItem renders one decoded run as a text line.
func describeInspectItem(it InspectItem) string {
	s := fmt.Sprintf("%s len=%d", it.Content, it.Len)
	if it.Deleted {
		s += " deleted"
	}
	if it.OriginLeft != "" {
		s += " left=" + it.OriginLeft
	}
	if it.OriginRight != "" {
		s += " right=" + it.OriginRight
	}
	if it.Root != "" {
		s += " root=" + it.Root
	}
	if it.Anchor != "" {
		s += " anchor=" + it.Anchor
	}
	if it.Key != "" {
		s += " key=" + it.Key
	}
	return s
}
