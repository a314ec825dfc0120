package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/weftwork/weft"
)

// readUpdate loads one update file. Validation of the bytes themselves
// happens when they are applied or decoded.
func readUpdate(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to read update file %s", path), err)
	}
	if len(data) == 0 {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("update file %s is empty", path))
	}
	return data, nil
}

// readUpdateFiles loads several update files in argument order.
func readUpdateFiles(paths []string) ([][]byte, error) {
	updates := make([][]byte, 0, len(paths))
	for _, path := range paths {
		data, err := readUpdate(path)
		if err != nil {
			return nil, err
		}
		updates = append(updates, data)
	}
	return updates, nil
}

// materialize applies updates, in order, to a fresh document.
// Malformed input is a command error; causal gaps are not an error
// here, the caller decides how to treat doc.PendingUpdates().
func materialize(logger *slog.Logger, updates ...[]byte) (*weft.Doc, error) {
	doc := weft.NewDoc(weft.WithLogger(logger))
	for i, update := range updates {
		if err := doc.ApplyUpdate(update); err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("update %d rejected", i+1), err)
		}
	}
	return doc, nil
}

// rootKinds maps every known root of doc to its kind name.
func rootKinds(doc *weft.Doc) map[string]string {
	roots := make(map[string]string)
	for _, name := range doc.Roots() {
		kind, _ := doc.RootKind(name)
		roots[name] = kind.String()
	}
	return roots
}

// formatRoots renders root kinds as "name (kind), name (kind)" in the
// sorted order Roots reports.
func formatRoots(doc *weft.Doc) string {
	names := doc.Roots()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		kind, _ := doc.RootKind(name)
		parts = append(parts, fmt.Sprintf("%s (%s)", name, kind))
	}
	return strings.Join(parts, ", ")
}

// writeOutput writes encoded bytes to path.
func writeOutput(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0644); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

// findScenarioFiles finds all YAML scenario files in a directory,
// optionally filtered by a glob pattern on the base name.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		// Only process .yaml and .yml files
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		// Apply filter if specified
		if filter != "" {
			base := filepath.Base(path)
			name := strings.TrimSuffix(base, ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}
