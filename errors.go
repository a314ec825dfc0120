package weft

import (
	"errors"

	"github.com/weftwork/weft/internal/codec"
	"github.com/weftwork/weft/internal/item"
)

// Sentinel errors of the public API. Errors returned by this package
// wrap one of these; match with errors.Is.
var (
	// ErrMalformedUpdate rejects update or state-vector bytes that fail
	// structural validation. Nothing is integrated from such input; the
	// wrapped error reports the failing byte offset.
	ErrMalformedUpdate = codec.ErrMalformedUpdate

	// ErrIncompleteSync is returned by ApplyUpdateStrict when causally
	// gated work remains buffered after the apply. Everything whose
	// dependencies were met has still been integrated.
	ErrIncompleteSync = errors.New("incomplete sync: unmet causal dependencies")

	// ErrTransactionConflict rejects opening a transaction (or applying
	// an update) while another transaction is open on the document.
	// Observer callbacks run with the committing transaction still
	// holding the slot, so transacting from a callback fails with this.
	ErrTransactionConflict = errors.New("transaction already open")

	// ErrUnknownRootType rejects accessing a root under a different
	// kind than the one it is bound to.
	ErrUnknownRootType = item.ErrUnknownRootType

	// ErrDetachedHandle rejects mutations through handles with no live
	// document behind them: preliminary handles not yet attached, and
	// any handle after Doc.Close.
	ErrDetachedHandle = errors.New("handle is not attached to a live document")

	// ErrNoTransaction rejects mutators called with a nil transaction
	// or one belonging to a different document.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrTransactionDone rejects mutators called with a transaction
	// that already committed.
	ErrTransactionDone = errors.New("transaction already committed")

	// ErrAlreadyAttached rejects inserting a shared-type handle that is
	// already attached to a container slot. Shared types form a tree;
	// a second attachment point would make it a graph.
	ErrAlreadyAttached = errors.New("handle already attached to a container")

	// ErrOutOfRange rejects positional arguments outside the visible
	// length of a sequence.
	ErrOutOfRange = item.ErrOutOfRange

	// ErrValueKind rejects host values with no replicated
	// representation (channels, funcs, NaN, infinities, ...).
	ErrValueKind = errors.New("unsupported value kind")
)
