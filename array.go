package weft

import (
	"fmt"
	"slices"

	"github.com/weftwork/weft/internal/item"
)

// Array is a handle on a collaborative list. Elements are plain values
// or nested shared types; runs of plain values inserted together share
// one item so the wire stays compact.
type Array struct {
	doc    *Doc
	branch *item.Branch
	seed   []any
}

// NewArray creates a detached (preliminary) array seeded with values.
// The seed is replayed into the document when the handle is attached.
func NewArray(values ...any) *Array {
	return &Array{seed: slices.Clone(values)}
}

// Kind returns KindArray.
func (a *Array) Kind() Kind { return KindArray }

func (a *Array) rootKind() item.RootKind { return item.KindArray }
func (a *Array) isAttached() bool        { return a.doc != nil }

func (a *Array) bind(d *Doc, b *item.Branch) {
	a.doc = d
	a.branch = b
}

func (a *Array) validateSeed(depth int) error {
	if depth > maxHostDepth {
		return fmt.Errorf("%w: preliminary nesting exceeds %d levels", ErrValueKind, maxHostDepth)
	}
	for _, v := range a.seed {
		if h, ok := asHandle(v); ok {
			if h.isAttached() {
				return ErrAlreadyAttached
			}
			if err := h.validateSeed(depth + 1); err != nil {
				return err
			}
			continue
		}
		if _, err := toValue(v); err != nil {
			return err
		}
	}
	return nil
}

func (a *Array) seedInto(tx *Txn) error {
	if len(a.seed) == 0 {
		return nil
	}
	seed := a.seed
	a.seed = nil
	elems, err := convertValues(seed)
	if err != nil {
		return err
	}
	return a.insertElems(tx, 0, elems)
}

func (a *Array) mutable(tx *Txn) (*Doc, error) {
	if a.doc == nil {
		return nil, ErrDetachedHandle
	}
	if err := tx.guard(a.doc); err != nil {
		return nil, err
	}
	return a.doc, nil
}

// Insert places values before position index. A detached Text, Array,
// or Map among the values is attached at its slot and seeded; an
// already attached handle fails the whole call before mutating.
func (a *Array) Insert(tx *Txn, index int, values ...any) error {
	d, err := a.mutable(tx)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	elems, err := convertValues(values)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return a.insertElems(tx, index, elems)
}

// Push appends values at the end.
func (a *Array) Push(tx *Txn, values ...any) error {
	d, err := a.mutable(tx)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	elems, err := convertValues(values)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return a.insertElems(tx, a.branch.VisLen, elems)
}

// Prepend inserts values at the front.
func (a *Array) Prepend(tx *Txn, values ...any) error {
	return a.Insert(tx, 0, values...)
}

// insertElems mutates under the document lock: plain values are
// coalesced into runs, handles get their own branch slot and replay
// their seed in place.
func (a *Array) insertElems(tx *Txn, index int, elems []insertElem) error {
	b := a.branch
	if index < 0 || index > b.VisLen {
		return fmt.Errorf("%w: position %d, length %d", ErrOutOfRange, index, b.VisLen)
	}
	d := a.doc
	pos := index
	var run []item.Value
	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		_, err := d.store.InsertSeq(tx.state, b, d.replica, pos, &item.ContentValues{Values: run})
		if err != nil {
			return err
		}
		pos += len(run)
		run = nil
		return nil
	}
	for _, elem := range elems {
		if elem.handle == nil {
			run = append(run, elem.value)
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		slot, err := d.store.InsertSeq(tx.state, b, d.replica, pos, &item.ContentBranch{Kind: elem.handle.rootKind()})
		if err != nil {
			return err
		}
		cb := slot.Content.(*item.ContentBranch)
		elem.handle.bind(d, cb.Branch)
		if err := elem.handle.seedInto(tx); err != nil {
			return err
		}
		pos++
	}
	return flush()
}

// Delete removes length elements starting at index.
func (a *Array) Delete(tx *Txn, index, length int) error {
	d, err := a.mutable(tx)
	if err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.DeleteSeq(tx.state, a.branch, index, length)
}

// Len returns the number of visible elements.
func (a *Array) Len() int {
	if a.doc == nil {
		return len(a.seed)
	}
	a.doc.mu.RLock()
	defer a.doc.mu.RUnlock()
	return a.branch.VisLen
}

// Get returns the element at index. Plain values come back as host
// types, nested shared types as handles.
func (a *Array) Get(index int) (any, error) {
	if a.doc == nil {
		if index < 0 || index >= len(a.seed) {
			return nil, fmt.Errorf("%w: position %d, length %d", ErrOutOfRange, index, len(a.seed))
		}
		return a.seed[index], nil
	}
	a.doc.mu.RLock()
	defer a.doc.mu.RUnlock()

	b := a.branch
	if index < 0 || index >= b.VisLen {
		return nil, fmt.Errorf("%w: position %d, length %d", ErrOutOfRange, index, b.VisLen)
	}
	it, off, ok := b.FindVisible(index)
	if !ok {
		return nil, fmt.Errorf("%w: position %d, length %d", ErrOutOfRange, index, b.VisLen)
	}
	return a.doc.elemValue(it, off), nil
}

// Slice returns the elements in [start, start+length).
func (a *Array) Slice(start, length int) ([]any, error) {
	if a.doc == nil {
		if start < 0 || length < 0 || start+length > len(a.seed) {
			return nil, fmt.Errorf("%w: range [%d,%d) of length %d", ErrOutOfRange, start, start+length, len(a.seed))
		}
		return slices.Clone(a.seed[start : start+length]), nil
	}
	a.doc.mu.RLock()
	defer a.doc.mu.RUnlock()

	b := a.branch
	if start < 0 || length < 0 || start+length > b.VisLen {
		return nil, fmt.Errorf("%w: range [%d,%d) of length %d", ErrOutOfRange, start, start+length, b.VisLen)
	}
	if length == 0 {
		return nil, nil
	}
	it, off, ok := b.FindVisible(start)
	if !ok {
		return nil, fmt.Errorf("%w: range [%d,%d) of length %d", ErrOutOfRange, start, start+length, b.VisLen)
	}
	out := make([]any, 0, length)
	for it != nil && len(out) < length {
		if it.Deleted || it.VisibleLen() == 0 {
			it = it.Right
			off = 0
			continue
		}
		for ; off < it.VisibleLen() && len(out) < length; off++ {
			out = append(out, a.doc.elemValue(it, off))
		}
		off = 0
		it = it.Right
	}
	return out, nil
}

// Observe subscribes fn to events of exactly this array.
func (a *Array) Observe(fn func(Event)) (*Subscription, error) {
	if a.doc == nil {
		return nil, ErrDetachedHandle
	}
	return a.doc.observeBranch(a.branch, fn)
}

// elemValue extracts the host value of one visible unit of it.
func (d *Doc) elemValue(it *item.Item, off int) any {
	switch c := it.Content.(type) {
	case *item.ContentValues:
		return fromValue(c.Values[off])
	case *item.ContentBranch:
		return d.handleFor(c)
	case *item.ContentText:
		runes := []rune(c.Text)
		if off < len(runes) {
			return string(runes[off])
		}
		return nil
	default:
		return nil
	}
}
