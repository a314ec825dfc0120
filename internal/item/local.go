package item

import "fmt"

// Clock returns the local replica's next clock value (equal to the
// number of units integrated from it). The clock is owned by the
// document through its store; documents in one process never share it.
func (s *Store) Clock(replica uint64) uint64 {
	return s.sv[replica]
}

// SeqNeighbors resolves the insertion slot for visible position pos:
// left is the item ending exactly at pos (split as needed), right is
// left's current list successor, tombstones and zero-width marks
// included. A zero pos inserts before the branch start.
func (s *Store) SeqNeighbors(b *Branch, pos int) (left, right *Item, err error) {
	if pos < 0 || pos > b.VisLen {
		return nil, nil, fmt.Errorf("%w: position %d, length %d", ErrOutOfRange, pos, b.VisLen)
	}
	if pos == 0 {
		return nil, b.Start, nil
	}
	cand, off, ok := b.idx().Find(pos - 1)
	if !ok {
		panic(fmt.Sprintf("item: index lost position %d (length %d)", pos-1, b.VisLen))
	}
	if off < cand.VisibleLen()-1 {
		// Visible offsets equal clock offsets for splittable content.
		s.splitItem(cand, off+1)
	}
	return cand, cand.Right, nil
}

// InsertSeq creates and integrates a local sequence item at visible
// position pos.
func (s *Store) InsertSeq(tx *TxState, b *Branch, replica uint64, pos int, content Content) (*Item, error) {
	left, right, err := s.SeqNeighbors(b, pos)
	if err != nil {
		return nil, err
	}
	return s.InsertBetween(tx, b, replica, left, right, content), nil
}

// InsertBetween creates and integrates a local item between explicit
// neighbors. right must be left's current list successor (the branch
// start when left is nil). Zero-width format marks land on exact list
// slots this way; positional lookup cannot address them.
func (s *Store) InsertBetween(tx *TxState, b *Branch, replica uint64, left, right *Item, content Content) *Item {
	it := &Item{
		ID:      ID{Replica: replica, Clock: s.sv[replica]},
		Left:    left,
		Right:   right,
		Parent:  b,
		Content: content,
	}
	if left != nil {
		last := left.LastID()
		it.OriginLeft = &last
	}
	if right != nil {
		id := right.ID
		it.OriginRight = &id
	}
	s.integrate(tx, it)
	return it
}

// DeleteSeq tombstones n visible units starting at pos, splitting runs
// at the range boundaries.
func (s *Store) DeleteSeq(tx *TxState, b *Branch, pos, n int) error {
	if n < 0 || pos < 0 || pos+n > b.VisLen {
		return fmt.Errorf("%w: delete [%d,%d) of length %d", ErrOutOfRange, pos, pos+n, b.VisLen)
	}
	if n == 0 {
		return nil
	}
	it, off, ok := b.idx().Find(pos)
	if !ok {
		panic(fmt.Sprintf("item: index lost position %d (length %d)", pos, b.VisLen))
	}
	if off > 0 {
		it = s.splitItem(it, off)
	}
	remaining := n
	for remaining > 0 {
		if it == nil {
			panic("item: visible length out of sync with list")
		}
		vis := it.VisibleLen()
		if vis == 0 {
			it = it.Right
			continue
		}
		if vis > remaining {
			s.splitItem(it, remaining)
			vis = remaining
		}
		s.DeleteItem(tx, it)
		remaining -= vis
		it = it.Right
	}
	return nil
}

// SetMap creates and integrates a local map write. The previous
// winning item, if any, becomes the new item's chain predecessor and is
// tombstoned by the integration tail.
func (s *Store) SetMap(tx *TxState, b *Branch, replica uint64, key string, content Content) *Item {
	prev := b.Entries[key]
	it := &Item{
		ID:        ID{Replica: replica, Clock: s.sv[replica]},
		Left:      prev,
		Parent:    b,
		ParentKey: key,
		Content:   content,
	}
	if prev != nil {
		last := prev.LastID()
		it.OriginLeft = &last
	}
	s.integrate(tx, it)
	return it
}

// DeleteMap tombstones the current winner for key. Reports whether a
// visible entry existed.
func (s *Store) DeleteMap(tx *TxState, b *Branch, key string) bool {
	cur := b.Entry(key)
	if cur == nil {
		return false
	}
	s.DeleteItem(tx, cur)
	return true
}
