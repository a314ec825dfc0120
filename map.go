package weft

import (
	"fmt"
	"maps"
	"slices"

	"github.com/weftwork/weft/internal/item"
)

// Map is a handle on a collaborative key-value container. Concurrent
// writes to one key keep exactly one winner everywhere; superseded
// writes stay readable through History.
type Map struct {
	doc    *Doc
	branch *item.Branch
	seed   map[string]any
}

// NewMap creates a detached (preliminary) map seeded with entries. The
// seed is replayed in sorted key order when the handle is attached.
func NewMap(entries map[string]any) *Map {
	return &Map{seed: maps.Clone(entries)}
}

// Kind returns KindMap.
func (m *Map) Kind() Kind { return KindMap }

func (m *Map) rootKind() item.RootKind { return item.KindMap }
func (m *Map) isAttached() bool        { return m.doc != nil }

func (m *Map) bind(d *Doc, b *item.Branch) {
	m.doc = d
	m.branch = b
}

func (m *Map) validateSeed(depth int) error {
	if depth > maxHostDepth {
		return fmt.Errorf("%w: preliminary nesting exceeds %d levels", ErrValueKind, maxHostDepth)
	}
	for k, v := range m.seed {
		if k == "" {
			return fmt.Errorf("%w: empty map key", ErrValueKind)
		}
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

func (m *Map) seedInto(tx *Txn) error {
	if len(m.seed) == 0 {
		return nil
	}
	seed := m.seed
	m.seed = nil
	var keys []string
	for k := range seed {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := m.setLocked(tx, k, seed[k]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Map) mutable(tx *Txn) (*Doc, error) {
	if m.doc == nil {
		return nil, ErrDetachedHandle
	}
	if err := tx.guard(m.doc); err != nil {
		return nil, err
	}
	return m.doc, nil
}

// Set writes value under key, superseding any previous entry. A
// detached Text, Array, or Map value is attached under the key and
// seeded; an already attached handle fails before mutating. Empty keys
// are rejected.
func (m *Map) Set(tx *Txn, key string, value any) error {
	d, err := m.mutable(tx)
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w: empty map key", ErrValueKind)
	}
	if h, ok := asHandle(value); ok {
		if h.isAttached() {
			return ErrAlreadyAttached
		}
		if err := h.validateSeed(0); err != nil {
			return err
		}
	} else if _, err := toValue(value); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return m.setLocked(tx, key, value)
}

// setLocked writes one entry under the document lock. Values were
// validated by the caller, so conversion failures cannot strand a
// half-written entry.
func (m *Map) setLocked(tx *Txn, key string, value any) error {
	d := m.doc
	if h, ok := asHandle(value); ok {
		slot := d.store.SetMap(tx.state, m.branch, d.replica, key, &item.ContentBranch{Kind: h.rootKind()})
		cb := slot.Content.(*item.ContentBranch)
		h.bind(d, cb.Branch)
		return h.seedInto(tx)
	}
	val, err := toValue(value)
	if err != nil {
		return err
	}
	d.store.SetMap(tx.state, m.branch, d.replica, key, &item.ContentValues{Values: []item.Value{val}})
	return nil
}

// Delete removes the entry for key. Deleting an absent key is a no-op.
func (m *Map) Delete(tx *Txn, key string) error {
	d, err := m.mutable(tx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store.DeleteMap(tx.state, m.branch, key)
	return nil
}

// Pop reads and removes the entry for key, reporting whether it was
// present.
func (m *Map) Pop(tx *Txn, key string) (any, bool, error) {
	d, err := m.mutable(tx)
	if err != nil {
		return nil, false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	it := m.branch.Entry(key)
	if it == nil {
		return nil, false, nil
	}
	val := d.entryValue(it)
	d.store.DeleteMap(tx.state, m.branch, key)
	return val, true, nil
}

// Clear removes every visible entry.
func (m *Map) Clear(tx *Txn) error {
	d, err := m.mutable(tx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range m.visibleKeysLocked() {
		d.store.DeleteMap(tx.state, m.branch, k)
	}
	return nil
}

// Get returns the value under key and whether the key is present.
// Plain values come back as host types, nested shared types as handles.
func (m *Map) Get(key string) (any, bool) {
	if m.doc == nil {
		v, ok := m.seed[key]
		return v, ok
	}
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()
	it := m.branch.Entry(key)
	if it == nil {
		return nil, false
	}
	return m.doc.entryValue(it), true
}

// Keys returns the visible keys in sorted order.
func (m *Map) Keys() []string {
	if m.doc == nil {
		var keys []string
		for k := range m.seed {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		return keys
	}
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()
	return m.visibleKeysLocked()
}

func (m *Map) visibleKeysLocked() []string {
	var keys []string
	for k, it := range m.branch.Entries {
		if it != nil && !it.Deleted {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of visible entries.
func (m *Map) Len() int {
	if m.doc == nil {
		return len(m.seed)
	}
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()
	n := 0
	for _, it := range m.branch.Entries {
		if it != nil && !it.Deleted {
			n++
		}
	}
	return n
}

// MapWrite is one historical write to a map key.
type MapWrite struct {
	Replica uint64
	Clock   uint64
	// Value is the written payload; nil when the write's content was
	// elided on the wire.
	Value   any
	Deleted bool
}

// History returns every write recorded for key, oldest first. Writes
// superseded by the key's winner remain listed with Deleted set.
func (m *Map) History(key string) []MapWrite {
	if m.doc == nil {
		return nil
	}
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()
	var out []MapWrite
	for it := m.branch.Entries[key]; it != nil; it = it.Left {
		out = append(out, MapWrite{
			Replica: it.ID.Replica,
			Clock:   it.ID.Clock,
			Value:   m.doc.entryValue(it),
			Deleted: it.Deleted,
		})
	}
	slices.Reverse(out)
	return out
}

// Observe subscribes fn to events of exactly this map.
func (m *Map) Observe(fn func(Event)) (*Subscription, error) {
	if m.doc == nil {
		return nil, ErrDetachedHandle
	}
	return m.doc.observeBranch(m.branch, fn)
}
