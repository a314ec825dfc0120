package item

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// ErrUnknownRootType is returned when a root is accessed under a
// different kind than the one it is bound to.
var ErrUnknownRootType = errors.New("unknown root type")

// ErrOutOfRange is returned for positional arguments outside the
// current visible length of a sequence.
var ErrOutOfRange = errors.New("index out of range")

// Store holds every item of one document: per-replica yarns (items in
// clock order), the integrated state vector, the named root registry,
// and the pending buffer for causally gated work.
type Store struct {
	yarns map[uint64][]*Item
	sv    StateVector
	roots map[string]*Branch

	pending *pendingSet

	// droppedRecords counts structurally impossible records discarded
	// during resolution. Every replica drops the same records, so the
	// count is diagnostic only.
	droppedRecords int
}

// DroppedRecords reports how many impossible records were discarded.
func (s *Store) DroppedRecords() int {
	return s.droppedRecords
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		yarns:   make(map[uint64][]*Item),
		sv:      make(StateVector),
		roots:   make(map[string]*Branch),
		pending: newPendingSet(),
	}
}

// State returns the live state vector. Callers treat it as read-only;
// Clone before handing it across the API boundary.
func (s *Store) State() StateVector {
	return s.sv
}

// Root returns the named root branch, creating it on first access.
// The first access under a concrete kind binds the root; later accesses
// under a different kind fail with ErrUnknownRootType. Roots created by
// remote updates start unbound (KindUnknown) and bind on first typed
// access.
func (s *Store) Root(name string, kind RootKind) (*Branch, error) {
	b, ok := s.roots[name]
	if !ok {
		b = NewBranch(kind)
		b.Name = name
		s.roots[name] = b
		return b, nil
	}
	if b.Kind == KindUnknown && kind != KindUnknown {
		b.Kind = kind
		return b, nil
	}
	if kind != KindUnknown && b.Kind != kind {
		return nil, fmt.Errorf("%w: root %q is bound to %s, requested %s",
			ErrUnknownRootType, name, b.Kind, kind)
	}
	return b, nil
}

// RootNames lists known root names in ascending order.
func (s *Store) RootNames() []string {
	names := make([]string, 0, len(s.roots))
	for name := range s.roots {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RootBranch returns the named root without creating or binding it.
func (s *Store) RootBranch(name string) (*Branch, bool) {
	b, ok := s.roots[name]
	return b, ok
}

// addYarn appends an integrated item to its replica's yarn and advances
// the state vector. Integration guarantees contiguity: the item's first
// clock equals the replica's current state.
func (s *Store) addYarn(it *Item) {
	if it.ID.Clock != s.sv[it.ID.Replica] {
		panic(fmt.Sprintf("item: yarn gap for %s (state %d)", it.ID, s.sv[it.ID.Replica]))
	}
	s.yarns[it.ID.Replica] = append(s.yarns[it.ID.Replica], it)
	s.sv[it.ID.Replica] = it.ID.Clock + uint64(it.Len())
}

// Find returns the integrated item run containing id.
func (s *Store) Find(id ID) (*Item, bool) {
	yarn := s.yarns[id.Replica]
	i := sort.Search(len(yarn), func(i int) bool { return yarn[i].ID.Clock > id.Clock })
	if i == 0 {
		return nil, false
	}
	it := yarn[i-1]
	if !it.ContainsClock(id.Clock) {
		return nil, false
	}
	return it, true
}

// FindCleanStart returns the item starting exactly at id, splitting a
// run when id addresses its interior.
func (s *Store) FindCleanStart(id ID) (*Item, error) {
	it, ok := s.Find(id)
	if !ok {
		return nil, fmt.Errorf("item: no integrated run contains %s", id)
	}
	if it.ID.Clock == id.Clock {
		return it, nil
	}
	return s.splitItem(it, int(id.Clock-it.ID.Clock)), nil
}

// FindCleanEnd returns the item ending exactly at id (LastID == id),
// splitting a run when id addresses its interior.
func (s *Store) FindCleanEnd(id ID) (*Item, error) {
	it, ok := s.Find(id)
	if !ok {
		return nil, fmt.Errorf("item: no integrated run contains %s", id)
	}
	if it.LastID().Clock == id.Clock {
		return it, nil
	}
	s.splitItem(it, int(id.Clock-it.ID.Clock)+1)
	return it, nil
}

// splitItem divides a run before clock offset n, leaving the receiver
// as the left half and returning the new right half. Links, yarn order,
// and the positional index stay consistent; origins of the right half
// point at the left half per the run-extension rule.
func (s *Store) splitItem(it *Item, n int) *Item {
	if n <= 0 || n >= it.Len() {
		panic(fmt.Sprintf("item: split offset %d outside run %s+%d", n, it.ID, it.Len()))
	}
	leftContent, rightContent := splitContent(it.Content, n)
	leftLast := ID{Replica: it.ID.Replica, Clock: it.ID.Clock + uint64(n) - 1}
	right := &Item{
		ID:          ID{Replica: it.ID.Replica, Clock: it.ID.Clock + uint64(n)},
		OriginLeft:  &leftLast,
		OriginRight: it.OriginRight,
		Left:        it,
		Right:       it.Right,
		Parent:      it.Parent,
		ParentKey:   it.ParentKey,
		Content:     rightContent,
		Deleted:     it.Deleted,
	}
	it.Content = leftContent
	if right.Right != nil {
		right.Right.Left = right
	}
	it.Right = right

	yarn := s.yarns[it.ID.Replica]
	i := sort.Search(len(yarn), func(i int) bool { return yarn[i].ID.Clock > it.ID.Clock })
	yarn = append(yarn, nil)
	copy(yarn[i+1:], yarn[i:])
	yarn[i] = right
	s.yarns[it.ID.Replica] = yarn

	if it.Parent != nil && it.Parent.Sequential() && it.Parent.index != nil && it.Parent.index.Contains(it) {
		it.Parent.index.AddWeight(it, -right.VisibleLen())
		it.Parent.index.InsertAfter(it, right)
	}
	return right
}

// RunRef addresses a suffix of an item run: the units from Offset (in
// clock units) to the end.
type RunRef struct {
	It     *Item
	Offset int
}

// RunsSince collects, per replica in ascending order, the item runs not
// yet covered by since. Runs straddling the boundary are referenced at
// the uncovered offset without mutating the store.
func (s *Store) RunsSince(since StateVector) []RunRef {
	replicas := make([]uint64, 0, len(s.yarns))
	for r := range s.yarns {
		replicas = append(replicas, r)
	}
	slices.Sort(replicas)

	var out []RunRef
	for _, r := range replicas {
		yarn := s.yarns[r]
		from := since.Get(r)
		if from >= s.sv[r] {
			continue
		}
		i := sort.Search(len(yarn), func(i int) bool {
			return yarn[i].ID.Clock+uint64(yarn[i].Len()) > from
		})
		for ; i < len(yarn); i++ {
			it := yarn[i]
			off := 0
			if it.ID.Clock < from {
				off = int(from - it.ID.Clock)
			}
			out = append(out, RunRef{It: it, Offset: off})
		}
	}
	return out
}

// FullDeleteSet collects every tombstoned span in the store. Delete
// sets travel whole with every diff because state vectors do not cover
// deletions; OR-merge keeps re-application idempotent.
func (s *Store) FullDeleteSet() DeleteSet {
	ds := make(DeleteSet)
	for r, yarn := range s.yarns {
		for _, it := range yarn {
			if it.Deleted {
				ds[r] = append(ds[r], ClockSpan{Clock: it.ID.Clock, Len: uint64(it.Len())})
			}
		}
	}
	ds.Normalize()
	return ds
}

// PendingLen reports how many decoded item runs are buffered awaiting
// causal dependencies.
func (s *Store) PendingLen() int {
	return len(s.pending.items)
}

// PendingDeletes reports how many tombstone clock units are buffered
// awaiting integration of the runs they address.
func (s *Store) PendingDeletes() uint64 {
	return s.pending.ds.Units()
}

// MissingDependencies lists, per pending run, one unmet dependency ID
// (deduplicated, ascending). Diagnostic surface for strict applies.
func (s *Store) MissingDependencies() []ID {
	seen := make(map[ID]struct{})
	var out []ID
	for _, p := range s.pending.items {
		miss, gated := s.gate(p)
		if !gated {
			continue
		}
		if _, dup := seen[miss]; dup {
			continue
		}
		seen[miss] = struct{}{}
		out = append(out, miss)
	}
	slices.SortFunc(out, func(a, b ID) int {
		if a.Less(b) {
			return -1
		}
		if b.Less(a) {
			return 1
		}
		return 0
	})
	return out
}
