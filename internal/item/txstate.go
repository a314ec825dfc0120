package item

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// seqChanged is the sentinel key marking positional (non-map) changes
// in a branch's changed-key set.
const seqChanged = "\x00seq"

// TxState accumulates the effects of one transaction: the state vector
// before any op, the tombstoned spans, and which branches (and keys)
// changed. The document layer turns it into observer events and the
// committed update.
type TxState struct {
	// Before is the state vector snapshot taken when the transaction
	// opened. Items with clocks at or past it were created in this
	// transaction.
	Before StateVector

	// DS collects the spans tombstoned by this transaction.
	DS DeleteSet

	changed map[*Branch]mapset.Set[string]
	keyOld  map[*Branch]map[string]*Item
}

// NewTxState snapshots the store and opens an empty transaction record.
func NewTxState(s *Store) *TxState {
	return &TxState{
		Before:  s.sv.Clone(),
		DS:      make(DeleteSet),
		changed: make(map[*Branch]mapset.Set[string]),
		keyOld:  make(map[*Branch]map[string]*Item),
	}
}

// InsertedHere reports whether the clock unit id was created inside
// this transaction (local op or remote integration alike).
func (tx *TxState) InsertedHere(id ID) bool {
	return id.Clock >= tx.Before.Get(id.Replica)
}

// MarkSeq records a positional change in b.
func (tx *TxState) MarkSeq(b *Branch) {
	tx.keys(b).Add(seqChanged)
}

// MarkKey records a change to one map key of b. prev is the winning
// item before the change; it is captured only on the first change to
// the key so the observer event reports the pre-transaction value.
func (tx *TxState) MarkKey(b *Branch, key string, prev *Item) {
	keys := tx.keys(b)
	if !keys.Contains(key) {
		keys.Add(key)
		old := tx.keyOld[b]
		if old == nil {
			old = make(map[string]*Item)
			tx.keyOld[b] = old
		}
		old[key] = prev
	}
}

// SeqChanged reports whether b saw positional changes.
func (tx *TxState) SeqChanged(b *Branch) bool {
	set, ok := tx.changed[b]
	return ok && set.Contains(seqChanged)
}

// ChangedKeys returns the map keys of b touched by this transaction.
func (tx *TxState) ChangedKeys(b *Branch) []string {
	set, ok := tx.changed[b]
	if !ok {
		return nil
	}
	keys := set.ToSlice()
	out := keys[:0]
	for _, k := range keys {
		if k != seqChanged {
			out = append(out, k)
		}
	}
	return out
}

// OldEntry returns the pre-transaction winning item for a changed key.
func (tx *TxState) OldEntry(b *Branch, key string) *Item {
	return tx.keyOld[b][key]
}

// Branches returns every branch touched by this transaction. Order is
// unspecified; callers sort for deterministic event delivery.
func (tx *TxState) Branches() []*Branch {
	out := make([]*Branch, 0, len(tx.changed))
	for b := range tx.changed {
		out = append(out, b)
	}
	return out
}

// Empty reports whether the transaction recorded no effects.
func (tx *TxState) Empty() bool {
	return len(tx.changed) == 0 && tx.DS.Empty()
}

func (tx *TxState) keys(b *Branch) mapset.Set[string] {
	set, ok := tx.changed[b]
	if !ok {
		// The document is single-writer; the thread-unsafe variant
		// avoids lock traffic on every op.
		set = mapset.NewThreadUnsafeSet[string]()
		tx.changed[b] = set
	}
	return set
}
