package updatelog

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/weftwork/weft"
)

// createTestLog creates a log backed by a throwaway database file.
func createTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// createTestDoc creates a document with a fixed replica ID and
// discarded diagnostics.
func createTestDoc(t *testing.T, replica uint64) *weft.Doc {
	t.Helper()
	return weft.NewDoc(
		weft.WithReplicaID(replica),
		weft.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

// textUpdate inserts s into the named text root of doc and returns the
// update bytes covering that one transaction.
func textUpdate(t *testing.T, doc *weft.Doc, root string, index int, s string) []byte {
	t.Helper()

	txt, err := doc.Text(root)
	if err != nil {
		t.Fatalf("Text(%q) failed: %v", root, err)
	}
	update, err := doc.Transact(func(tx *weft.Txn) error {
		return txt.Insert(tx, index, s)
	})
	if err != nil {
		t.Fatalf("Transact failed: %v", err)
	}
	if update == nil {
		t.Fatal("Transact returned nil update for a non-empty transaction")
	}
	return update
}

// mustAppend appends update and fails the test on error.
func mustAppend(t *testing.T, l *Log, update []byte) (Record, bool) {
	t.Helper()
	rec, inserted, err := l.Append(context.Background(), update)
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	return rec, inserted
}
