package item

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// disposition classifies one integration attempt.
type disposition int

const (
	integrated disposition = iota // placed into the store
	duplicate                     // fully covered already, no-op
	gated                         // waiting on a causal dependency
	dropped                       // structurally impossible record, discarded
)

// idEqual compares two nullable origin IDs.
func idEqual(a, b *ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// gate returns the first unmet dependency of a decoded item: its
// own-replica clock predecessor, either origin, or its parent anchor.
// Same-replica origins never gate; clock contiguity already covers
// them.
func (s *Store) gate(it *Item) (ID, bool) {
	state := s.sv[it.ID.Replica]
	if it.ID.Clock > state {
		return ID{Replica: it.ID.Replica, Clock: state}, true
	}
	if o := it.OriginLeft; o != nil && o.Replica != it.ID.Replica && !s.sv.Covers(*o) {
		return *o, true
	}
	if o := it.OriginRight; o != nil && o.Replica != it.ID.Replica && !s.sv.Covers(*o) {
		return *o, true
	}
	if it.Parent == nil && it.ParentAnchor != nil && !s.sv.Covers(*it.ParentAnchor) {
		return *it.ParentAnchor, true
	}
	return ID{}, false
}

// tryIntegrate deduplicates, gates, resolves, and integrates one
// decoded item run.
func (s *Store) tryIntegrate(tx *TxState, it *Item) disposition {
	state := s.sv[it.ID.Replica]
	if it.ID.Clock+uint64(it.Len()) <= state {
		return duplicate
	}
	if _, pend := s.gate(it); pend {
		return gated
	}
	if it.ID.Clock < state {
		// Overlapping redelivery: integrate only the unseen suffix.
		// The suffix originates from its own already-integrated
		// predecessor unit, like any run extension.
		offset := int(state - it.ID.Clock)
		it.Content = sliceContentFrom(it.Content, offset)
		origin := ID{Replica: it.ID.Replica, Clock: state - 1}
		it.OriginLeft = &origin
		it.ID.Clock = state
	}
	if !s.resolve(it) {
		return dropped
	}
	s.integrate(tx, it)
	return integrated
}

// resolve binds a decoded item's origins to live items (splitting runs
// so the left origin is a run end and the right origin a run start) and
// binds its parent branch. Returns false for records whose parent
// anchor cannot host children; such records are discarded identically
// on every replica.
func (s *Store) resolve(it *Item) bool {
	if it.OriginLeft != nil {
		left, err := s.FindCleanEnd(*it.OriginLeft)
		if err != nil {
			panic(fmt.Sprintf("item: gated origin missing: %v", err))
		}
		it.Left = left
	}
	if it.OriginRight != nil {
		right, err := s.FindCleanStart(*it.OriginRight)
		if err != nil {
			panic(fmt.Sprintf("item: gated origin missing: %v", err))
		}
		it.Right = right
	}
	switch {
	case it.Parent != nil:
	case it.Left != nil:
		it.Parent = it.Left.Parent
	case it.Right != nil:
		it.Parent = it.Right.Parent
	case it.ParentAnchor != nil:
		anchor, ok := s.Find(*it.ParentAnchor)
		if !ok {
			panic(fmt.Sprintf("item: gated anchor missing: %s", it.ParentAnchor))
		}
		cb, ok := anchor.Content.(*ContentBranch)
		if !ok {
			s.droppedRecords++
			return false
		}
		if cb.Branch == nil {
			cb.Branch = NewBranch(cb.Kind)
			cb.Branch.Anchor = anchor
		}
		it.Parent = cb.Branch
	default:
		b, err := s.Root(it.ParentName, KindUnknown)
		if err != nil {
			// Unreachable: KindUnknown access never mismatches.
			s.droppedRecords++
			return false
		}
		it.Parent = b
	}
	if it.Parent == nil {
		s.droppedRecords++
		return false
	}
	it.ParentName = ""
	it.ParentAnchor = nil
	return true
}

// integrate places a resolved item. One routine serves sequences and
// map key chains, local edits and remote integration alike: local
// callers pre-link exact neighbors and skip the conflict walk; remote
// items walk the conflict window and break ties by ascending replica
// ID, which is what makes every replica converge on one order.
func (s *Store) integrate(tx *TxState, it *Item) {
	if (it.Left == nil && (it.Right == nil || it.Right.Left != nil)) ||
		(it.Left != nil && it.Left.Right != it.Right) {
		left := it.Left
		var o *Item
		switch {
		case left != nil:
			o = left.Right
		case it.ParentKey != "":
			o = it.Parent.Entries[it.ParentKey]
			for o != nil && o.Left != nil {
				o = o.Left
			}
		default:
			o = it.Parent.Start
		}
		conflicting := mapset.NewThreadUnsafeSet[*Item]()
		beforeOrigin := mapset.NewThreadUnsafeSet[*Item]()
		for o != nil && o != it.Right {
			beforeOrigin.Add(o)
			conflicting.Add(o)
			if idEqual(it.OriginLeft, o.OriginLeft) {
				// Same left origin: ascending replica ID decides.
				if o.ID.Replica < it.ID.Replica {
					left = o
					conflicting.Clear()
				} else if idEqual(it.OriginRight, o.OriginRight) {
					break
				}
			} else {
				// o originates inside the window iff its origin item
				// was already walked; otherwise o ends the window.
				inWindow := false
				if o.OriginLeft != nil {
					if oo, ok := s.Find(*o.OriginLeft); ok && beforeOrigin.Contains(oo) {
						inWindow = true
						if !conflicting.Contains(oo) {
							left = o
							conflicting.Clear()
						}
					}
				}
				if !inWindow {
					break
				}
			}
			o = o.Right
		}
		it.Left = left
	}

	var prevWinner *Item
	if it.ParentKey != "" {
		prevWinner = it.Parent.Entry(it.ParentKey)
	}

	if it.Left != nil {
		it.Right = it.Left.Right
		it.Left.Right = it
	} else {
		var right *Item
		if it.ParentKey != "" {
			right = it.Parent.Entries[it.ParentKey]
			for right != nil && right.Left != nil {
				right = right.Left
			}
		} else {
			right = it.Parent.Start
			it.Parent.Start = it
		}
		it.Right = right
	}
	if it.Right != nil {
		it.Right.Left = it
	}

	s.addYarn(it)

	if cb, ok := it.Content.(*ContentBranch); ok {
		if cb.Branch == nil {
			cb.Branch = NewBranch(cb.Kind)
		}
		cb.Branch.Anchor = it
	}

	if it.ParentKey != "" {
		tx.MarkKey(it.Parent, it.ParentKey, prevWinner)
		if it.Right == nil {
			it.Parent.setEntry(it.ParentKey, it)
			if it.Left != nil && !it.Left.Deleted {
				s.DeleteItem(tx, it.Left)
			}
		} else if !it.Deleted {
			// A later write for this key is already integrated; this
			// one lost and is tombstoned so every replica agrees.
			s.DeleteItem(tx, it)
		}
	} else {
		tx.MarkSeq(it.Parent)
		if vis := it.VisibleLen(); vis > 0 {
			it.Parent.VisLen += vis
			prev := it.Left
			for prev != nil && prev.VisibleLen() == 0 {
				prev = prev.Left
			}
			it.Parent.idx().InsertAfter(prev, it)
		}
	}

	if it.Parent.Anchor != nil && it.Parent.Anchor.Deleted && !it.Deleted {
		s.DeleteItem(tx, it)
	}
}

// DeleteItem tombstones one item run. Content is retained in memory
// (history lookups read it); the wire elides bulk payloads instead.
// Tombstoning an anchor tombstones the whole nested branch.
func (s *Store) DeleteItem(tx *TxState, it *Item) {
	if it.Deleted {
		return
	}
	b := it.Parent
	if b != nil {
		if it.ParentKey != "" {
			tx.MarkKey(b, it.ParentKey, b.Entry(it.ParentKey))
		} else {
			if vis := it.VisibleLen(); vis > 0 {
				if b.index != nil {
					b.index.Remove(it)
				}
				b.VisLen -= vis
			}
			tx.MarkSeq(b)
		}
	}
	it.Deleted = true
	tx.DS.Add(it.ID, it.Len())
	if cb, ok := it.Content.(*ContentBranch); ok && cb.Branch != nil {
		s.deleteBranch(tx, cb.Branch)
	}
}

// deleteBranch tombstones every item of a nested branch (sequence list
// and all key chains).
func (s *Store) deleteBranch(tx *TxState, b *Branch) {
	for it := b.Start; it != nil; it = it.Right {
		if !it.Deleted {
			s.DeleteItem(tx, it)
		}
	}
	for _, entry := range b.Entries {
		for it := entry; it != nil; it = it.Left {
			if !it.Deleted {
				s.DeleteItem(tx, it)
			}
		}
	}
}

// applyDeleteSet tombstones every covered span that is integrated,
// splitting runs at span boundaries. Spans (or parts) referencing
// clocks not yet integrated are returned for the pending buffer.
func (s *Store) applyDeleteSet(tx *TxState, ds DeleteSet) DeleteSet {
	leftover := make(DeleteSet)
	for _, r := range ds.Replicas() {
		state := s.sv[r]
		for _, span := range ds[r] {
			clock, end := span.Clock, span.End()
			if clock >= state {
				leftover[r] = append(leftover[r], span)
				continue
			}
			if end > state {
				leftover[r] = append(leftover[r], ClockSpan{Clock: state, Len: end - state})
				end = state
			}
			it, err := s.FindCleanStart(ID{Replica: r, Clock: clock})
			if err != nil {
				panic(fmt.Sprintf("item: delete span below state not found: %v", err))
			}
			for it != nil && it.ID.Clock < end {
				if it.ID.Clock+uint64(it.Len()) > end {
					s.splitItem(it, int(end-it.ID.Clock))
				}
				next := it.ID.Clock + uint64(it.Len())
				if !it.Deleted {
					s.DeleteItem(tx, it)
				}
				if next >= end {
					break
				}
				it, _ = s.Find(ID{Replica: r, Clock: next})
			}
		}
	}
	leftover.Normalize()
	return leftover
}
