// Package item implements the replicated item store: identifiers and
// clocks, tombstoned item runs linked into branch sequences and key
// chains, the order-statistics index for positional access, and the
// integration algorithm that places concurrent edits deterministically.
//
// Nothing in this package is safe for concurrent use. The owning
// Document serializes all access (single writer, readers excluded only
// during commit).
package item

import "fmt"

// ID identifies one clock unit of one item run.
//
// Replica is an opaque unsigned integer unique per document instance.
// Clock is the per-replica counter, starting at 0 and advancing once per
// inserted unit (rune, array element, map write, format mark), not once
// per call. An item run covers the half-open range
// [Clock, Clock+Len).
type ID struct {
	Replica uint64
	Clock   uint64
}

// Less orders IDs by replica, then clock. This is only a deterministic
// tie-break for causally concurrent items; causal order is carried by
// origin links, never by raw ID comparison.
func (a ID) Less(b ID) bool {
	if a.Replica != b.Replica {
		return a.Replica < b.Replica
	}
	return a.Clock < b.Clock
}

// String renders the ID as "replica:clock" for logs and dumps.
func (a ID) String() string {
	return fmt.Sprintf("%d:%d", a.Replica, a.Clock)
}

// RootKind names the three shared-type variants a branch can carry.
type RootKind uint8

const (
	KindUnknown RootKind = 0 // created by a remote update, not yet bound
	KindText    RootKind = 1
	KindArray   RootKind = 2
	KindMap     RootKind = 3
)

// String returns the lowercase kind name used on the wire and in errors.
func (k RootKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Item is the atomic unit of replicated state: one run of content with
// a stable identity, creation-time origin links, and a tombstone flag.
//
// ID, OriginLeft, and OriginRight are immutable once the item is
// integrated (splits preserve them per half). Left/Right are the
// current list links and change as neighbors integrate. Deleted is
// monotone: once true it never reverts, and the item is retained
// forever so positional math survives later merges.
type Item struct {
	ID          ID
	OriginLeft  *ID
	OriginRight *ID

	Left  *Item
	Right *Item

	// Parent is the branch this item lives in once integrated.
	// ParentName/ParentAnchor carry the wire parent of a decoded item
	// until resolution binds Parent.
	Parent       *Branch
	ParentName   string
	ParentAnchor *ID

	// ParentKey is set for map entries; empty for sequence items.
	ParentKey string

	Content Content
	Deleted bool
}

// Len returns the clock span of the item run.
func (it *Item) Len() int {
	return it.Content.Len()
}

// LastID returns the ID of the final clock unit in the run.
func (it *Item) LastID() ID {
	return ID{Replica: it.ID.Replica, Clock: it.ID.Clock + uint64(it.Len()) - 1}
}

// VisibleLen returns the item's contribution to its sequence length:
// zero for tombstones and for zero-width content (format marks).
func (it *Item) VisibleLen() int {
	if it.Deleted {
		return 0
	}
	return it.Content.VisibleLen()
}

// ContainsClock reports whether the given clock falls inside this run.
func (it *Item) ContainsClock(clock uint64) bool {
	return clock >= it.ID.Clock && clock < it.ID.Clock+uint64(it.Len())
}

// Branch holds one logical sequence or key space of items: either a
// named root of a document or a nested container anchored to exactly
// one item slot.
type Branch struct {
	Kind RootKind

	// Name is set for roots; empty for nested branches.
	Name string
	// Anchor is the item whose content carries this branch when nested.
	Anchor *Item

	// Start is the leftmost item of the sequence, tombstones included.
	Start *Item
	// Entries maps key to the current winning item for map branches.
	// Superseded writes stay reachable through the winner's Left chain.
	Entries map[string]*Item

	// VisLen is the visible length in runes (text) or elements (array).
	VisLen int

	index *posIndex
}

// NewBranch creates an empty branch of the given kind.
func NewBranch(kind RootKind) *Branch {
	return &Branch{Kind: kind}
}

// IsRoot reports whether the branch is a named document root.
func (b *Branch) IsRoot() bool {
	return b.Anchor == nil
}

// Sequential reports whether items order positionally (text and array
// branches; map branches order per key chain only).
func (b *Branch) Sequential() bool {
	return b.Kind != KindMap
}

// Entry returns the current winning item for a key, or nil when the key
// was never written or its winner is tombstoned.
func (b *Branch) Entry(key string) *Item {
	it, ok := b.Entries[key]
	if !ok || it.Deleted {
		return nil
	}
	return it
}

// setEntry records the new winning item for a key.
func (b *Branch) setEntry(key string, it *Item) {
	if b.Entries == nil {
		b.Entries = make(map[string]*Item)
	}
	b.Entries[key] = it
}

// FindVisible locates the item containing visible position pos and the
// offset inside it. The index is never built on this path, so reads
// stay read-only.
func (b *Branch) FindVisible(pos int) (*Item, int, bool) {
	if pos < 0 || pos >= b.VisLen || b.index == nil {
		return nil, 0, false
	}
	return b.index.Find(pos)
}

// PosOf returns the visible position of the first unit of a visible
// item in a sequential branch.
func (b *Branch) PosOf(it *Item) (int, bool) {
	if b.index == nil {
		return 0, false
	}
	return b.index.PosOf(it)
}

// Alive reports whether every anchor on the path to the root is
// undeleted. Items integrated under a deleted anchor are tombstoned on
// arrival, and events for such branches are suppressed.
func (b *Branch) Alive() bool {
	for cur := b; cur.Anchor != nil; {
		if cur.Anchor.Deleted {
			return false
		}
		cur = cur.Anchor.Parent
		if cur == nil {
			return false
		}
	}
	return true
}
