package cli

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftwork/weft"
)

// newTestDoc creates a document with discarded logs.
func newTestDoc(t *testing.T, replica uint64) *weft.Doc {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	doc := weft.NewDoc(weft.WithReplicaID(replica), weft.WithLogger(logger))
	t.Cleanup(func() { _ = doc.Close() })
	return doc
}

// textUpdate runs a single text edit and returns the update it produced.
func textUpdate(t *testing.T, doc *weft.Doc, root string, index int, s string) []byte {
	t.Helper()
	txt, err := doc.Text(root)
	require.NoError(t, err)
	update, err := doc.Transact(func(tx *weft.Txn) error {
		return txt.Insert(tx, index, s)
	})
	require.NoError(t, err)
	require.NotNil(t, update)
	return update
}

// fullState encodes the document's complete state as one update.
func fullState(t *testing.T, doc *weft.Doc) []byte {
	t.Helper()
	update, err := doc.EncodeStateAsUpdate(nil)
	require.NoError(t, err)
	return update
}

// writeUpdateFile writes update bytes under dir and returns the path.
func writeUpdateFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// pendingUpdate returns an update whose causal dependencies are not
// included: the second of two transactions, with the first withheld.
func pendingUpdate(t *testing.T, replica uint64) []byte {
	t.Helper()
	doc := newTestDoc(t, replica)
	textUpdate(t, doc, "body", 0, "a")
	return textUpdate(t, doc, "body", 1, "b")
}
