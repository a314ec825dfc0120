// Package testutil provides deterministic document construction for
// tests. Fixed replica IDs make conflict tie-breaks reproducible, so
// tests and golden snapshots can assert exact merged outcomes.
package testutil

import (
	"io"
	"log/slog"

	"github.com/weftwork/weft"
)

// QuietLogger returns a logger that discards everything, keeping
// document diagnostics out of test output.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewDoc creates a document with a fixed replica ID and a quiet
// logger.
func NewDoc(id uint64) *weft.Doc {
	return weft.NewDoc(weft.WithReplicaID(id), weft.WithLogger(QuietLogger()))
}

// NewPair creates two documents with replica IDs 1 and 2. Replica 1
// wins ordering ties, so merged outcomes are stable.
func NewPair() (*weft.Doc, *weft.Doc) {
	return NewDoc(1), NewDoc(2)
}

// Sync sends dst everything it is missing from src.
func Sync(src, dst *weft.Doc) error {
	update, err := src.EncodeStateAsUpdate(dst.EncodeStateVector())
	if err != nil {
		return err
	}
	return dst.ApplyUpdate(update)
}

// SyncBoth exchanges missing state in both directions, converging the
// pair.
func SyncBoth(a, b *weft.Doc) error {
	if err := Sync(a, b); err != nil {
		return err
	}
	return Sync(b, a)
}
