package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft"
	"github.com/weftwork/weft/updatelog"
)

// LogOptions holds flags shared by the log subcommands.
type LogOptions struct {
	*RootOptions
	Database string
}

// LogAppendEntry reports the outcome of appending one update file.
type LogAppendEntry struct {
	File     string `json:"file"`
	Seq      int64  `json:"seq"`
	Hash     string `json:"hash"`
	Size     int    `json:"size"`
	Inserted bool   `json:"inserted"`
}

// LogEntry is one logged update, without its payload.
type LogEntry struct {
	Seq        int64  `json:"seq"`
	ID         string `json:"id"`
	Hash       string `json:"hash"`
	Size       int    `json:"size"`
	AppendedAt string `json:"appended_at"`
}

// LogCompactResult is the JSON payload for a successful compaction.
type LogCompactResult struct {
	Replaced int    `json:"replaced"`
	Seq      int64  `json:"seq"`
	Hash     string `json:"hash"`
	Size     int    `json:"size"`
}

// NewLogCommand creates the log command group.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Manage a persistent update log",
		Long: `Manage an append-only update log backed by SQLite. Updates are
validated and deduplicated by content hash on append, and the log can
be materialized back into a document or compacted into a single
consolidated update.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newLogAppendCommand(rootOpts))
	cmd.AddCommand(newLogListCommand(rootOpts))
	cmd.AddCommand(newLogShowCommand(rootOpts))
	cmd.AddCommand(newLogCompactCommand(rootOpts))

	return cmd
}

// openLog opens the update log named by --db, mapping failures to
// command errors.
func openLog(opts *LogOptions) (*updatelog.Log, error) {
	l, err := updatelog.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open log %s", opts.Database), err)
	}
	return l, nil
}

func newLogAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append <update-file>...",
		Short: "Append update files to the log",
		Long: `Validate each update file and append it to the log. Appends are
idempotent: an update whose bytes are already logged reports the
existing record instead of inserting a second row.

Exit codes:
  0 - All updates appended (or already present)
  2 - Command error (unreadable file, malformed update, log error)

Examples:
  weft log append delta.update --db doc.db
  weft log append a.update b.update --db doc.db --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogAppend(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite update log (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runLogAppend(opts *LogOptions, paths []string, cmd *cobra.Command) error {
	ctx := context.Background()

	l, err := openLog(opts)
	if err != nil {
		return err
	}
	defer l.Close()

	entries := make([]LogAppendEntry, 0, len(paths))
	for _, path := range paths {
		data, err := readUpdate(path)
		if err != nil {
			return err
		}

		rec, inserted, err := l.Append(ctx, data)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to append %s", path), err)
		}

		entries = append(entries, LogAppendEntry{
			File:     path,
			Seq:      rec.Seq,
			Hash:     rec.Hash,
			Size:     rec.Size,
			Inserted: inserted,
		})
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: entries})
	}

	w := cmd.OutOrStdout()
	for _, e := range entries {
		if e.Inserted {
			fmt.Fprintf(w, "appended %s: seq=%d hash=%s (%d bytes)\n", e.File, e.Seq, e.Hash, e.Size)
		} else {
			fmt.Fprintf(w, "duplicate %s: already stored as seq=%d\n", e.File, e.Seq)
		}
	}
	return nil
}

func newLogListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List logged updates",
		Long: `List every logged update in append order, with its sequence number,
size, append timestamp, and content hash. Payloads are not printed.

Exit codes:
  0 - Log listed
  2 - Command error (log not readable)

Examples:
  weft log list --db doc.db
  weft log list --db doc.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite update log (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runLogList(opts *LogOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	l, err := openLog(opts)
	if err != nil {
		return err
	}
	defer l.Close()

	records, err := l.Records(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read log", err)
	}

	entries := make([]LogEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, LogEntry{
			Seq:        rec.Seq,
			ID:         rec.ID.String(),
			Hash:       rec.Hash,
			Size:       rec.Size,
			AppendedAt: rec.AppendedAt,
		})
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: entries})
	}

	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(w, "log is empty")
		return nil
	}

	fmt.Fprintf(w, "%-5s %-8s %-24s %s\n", "seq", "size", "appended at", "hash")
	for _, e := range entries {
		fmt.Fprintf(w, "%-5d %-8d %-24s %s\n", e.Seq, e.Size, e.AppendedAt, e.Hash)
	}
	return nil
}

func newLogShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Materialize the log and print the document state",
		Long: `Replay every logged update into a fresh document and print the
resulting state as canonical JSON together with its content hash.

If logged updates reference operations the log never received, the
reachable state is printed and the command exits nonzero.

Exit codes:
  0 - Document state printed
  1 - Updates buffered awaiting missing dependencies
  2 - Command error (log not readable)

Examples:
  weft log show --db doc.db
  weft log show --db doc.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogShow(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite update log (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runLogShow(opts *LogOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	l, err := openLog(opts)
	if err != nil {
		return err
	}
	defer l.Close()

	doc, err := l.Materialize(ctx, weft.WithLogger(docLogger(opts.RootOptions, cmd)))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to materialize log", err)
	}
	defer doc.Close()

	return outputDocState(opts.RootOptions, cmd, doc)
}

func newLogCompactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Replace the log with one consolidated update",
		Long: `Materialize the log and replace all of its rows with a single update
holding the full document state. Replaying the compacted log yields
the same document as replaying the original.

Compaction refuses to run while any logged update is still buffered
awaiting dependencies, since consolidation would silently drop it.

Exit codes:
  0 - Log compacted
  1 - Updates buffered awaiting missing dependencies
  2 - Command error (log not readable)

Examples:
  weft log compact --db doc.db
  weft log compact --db doc.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogCompact(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite update log (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runLogCompact(opts *LogOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	l, err := openLog(opts)
	if err != nil {
		return err
	}
	defer l.Close()

	doc, err := l.Materialize(ctx, weft.WithLogger(docLogger(opts.RootOptions, cmd)))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to materialize log", err)
	}
	pending := doc.PendingUpdates()
	doc.Close()

	if pending > 0 {
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

	rec, replaced, err := l.Compact(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compact log", err)
	}

	if opts.Format == "json" {
		result := LogCompactResult{
			Replaced: replaced,
			Seq:      rec.Seq,
			Hash:     rec.Hash,
			Size:     rec.Size,
		}
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "compacted %d update(s) into seq=%d (%d bytes)\n", replaced, rec.Seq, rec.Size)
	fmt.Fprintf(w, "hash: %s\n", rec.Hash)
	return nil
}
