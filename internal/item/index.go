package item

// posIndex is the order-statistics index over the visible items of a
// sequence branch. Items are held in order across fixed-capacity
// chunks; a Fenwick tree over per-chunk weights gives O(log n) prefix
// sums, so positional lookup costs O(log n + chunk scan) instead of a
// full list walk. Weights are visible lengths (runes or elements), so
// tombstones and zero-width marks never appear here.
//
// The index is advisory structure only: the linked item list remains
// the source of truth for order.
type posIndex struct {
	chunks []*indexChunk
	fen    []int // 1-based Fenwick tree over chunk weights
	loc    map[*Item]*indexChunk
	total  int
}

const chunkCap = 128

type indexChunk struct {
	items  []*Item
	weight int
	pos    int // position in posIndex.chunks, maintained on rebuild
}

func newPosIndex() *posIndex {
	return &posIndex{loc: make(map[*Item]*indexChunk)}
}

// index returns the branch's index, building it lazily.
func (b *Branch) idx() *posIndex {
	if b.index == nil {
		b.index = newPosIndex()
	}
	return b.index
}

// Total returns the visible length tracked by the index.
func (ix *posIndex) Total() int {
	return ix.total
}

// Find locates the item containing visible position pos and the offset
// inside it. ok is false when pos is out of range.
func (ix *posIndex) Find(pos int) (it *Item, offset int, ok bool) {
	if pos < 0 || pos >= ix.total {
		return nil, 0, false
	}
	ci, rem := ix.findChunk(pos)
	for _, cand := range ix.chunks[ci].items {
		w := cand.VisibleLen()
		if rem < w {
			return cand, rem, true
		}
		rem -= w
	}
	// Chunk weights and item weights are maintained together; falling
	// through means the index is corrupt.
	panic("item: position index chunk weight out of sync")
}

// PosOf returns the visible position of the first unit of it.
func (ix *posIndex) PosOf(it *Item) (int, bool) {
	ch, ok := ix.loc[it]
	if !ok {
		return 0, false
	}
	pos := ix.prefix(ch.pos)
	for _, cand := range ch.items {
		if cand == it {
			return pos, true
		}
		pos += cand.VisibleLen()
	}
	return 0, false
}

// InsertAfter places it directly after prev in visible order. A nil
// prev prepends. The caller guarantees it is visible and prev (when
// non-nil) is tracked.
func (ix *posIndex) InsertAfter(prev, it *Item) {
	w := it.VisibleLen()
	if prev == nil {
		ch := ix.headChunk()
		ch.items = append([]*Item{it}, ch.items...)
		ix.loc[it] = ch
		ix.bumpWeight(ch, w)
		ix.maybeSplit(ch)
		return
	}
	ch := ix.loc[prev]
	if ch == nil {
		panic("item: InsertAfter anchor not in position index")
	}
	at := -1
	for i, cand := range ch.items {
		if cand == prev {
			at = i
			break
		}
	}
	if at < 0 {
		panic("item: position index location map out of sync")
	}
	ch.items = append(ch.items, nil)
	copy(ch.items[at+2:], ch.items[at+1:])
	ch.items[at+1] = it
	ix.loc[it] = ch
	ix.bumpWeight(ch, w)
	ix.maybeSplit(ch)
}

// Remove drops it from the index. Callers remove before flipping the
// tombstone flag so the visible weight is still readable.
func (ix *posIndex) Remove(it *Item) {
	ch, ok := ix.loc[it]
	if !ok {
		return
	}
	for i, cand := range ch.items {
		if cand == it {
			ch.items = append(ch.items[:i], ch.items[i+1:]...)
			break
		}
	}
	delete(ix.loc, it)
	ix.bumpWeight(ch, -it.VisibleLen())
}

// AddWeight adjusts it's tracked weight by delta (run split or content
// truncation).
func (ix *posIndex) AddWeight(it *Item, delta int) {
	ch, ok := ix.loc[it]
	if !ok {
		return
	}
	ix.bumpWeight(ch, delta)
}

// Contains reports whether it is tracked.
func (ix *posIndex) Contains(it *Item) bool {
	_, ok := ix.loc[it]
	return ok
}

func (ix *posIndex) headChunk() *indexChunk {
	if len(ix.chunks) == 0 {
		ch := &indexChunk{pos: 0}
		ix.chunks = []*indexChunk{ch}
		ix.rebuildFen()
	}
	return ix.chunks[0]
}

// bumpWeight applies a weight delta to ch and the Fenwick path above it.
func (ix *posIndex) bumpWeight(ch *indexChunk, delta int) {
	if delta == 0 {
		return
	}
	ch.weight += delta
	ix.total += delta
	for i := ch.pos + 1; i < len(ix.fen); i += i & (-i) {
		ix.fen[i] += delta
	}
}

// prefix sums the weights of chunks strictly before index pos.
func (ix *posIndex) prefix(pos int) int {
	sum := 0
	for i := pos; i > 0; i -= i & (-i) {
		sum += ix.fen[i]
	}
	return sum
}

// findChunk returns the index of the chunk containing visible position
// pos and the remainder inside it.
func (ix *posIndex) findChunk(pos int) (int, int) {
	// Standard Fenwick descent over prefix sums.
	idx := 0
	rem := pos
	mask := 1
	for mask<<1 <= len(ix.chunks) {
		mask <<= 1
	}
	for ; mask > 0; mask >>= 1 {
		next := idx + mask
		if next < len(ix.fen) && ix.fen[next] <= rem {
			idx = next
			rem -= ix.fen[next]
		}
	}
	// idx is the count of whole chunks before the target.
	for idx < len(ix.chunks) && ix.chunks[idx].weight == 0 {
		idx++
	}
	return idx, rem
}

// maybeSplit divides a chunk that outgrew its capacity and rebuilds the
// Fenwick tree. Splits are rare (once per chunkCap inserts), so the
// O(chunks) rebuild amortizes away.
func (ix *posIndex) maybeSplit(ch *indexChunk) {
	if len(ch.items) <= chunkCap {
		return
	}
	half := len(ch.items) / 2
	right := &indexChunk{items: append([]*Item(nil), ch.items[half:]...)}
	ch.items = ch.items[:half]
	for _, it := range right.items {
		right.weight += it.VisibleLen()
		ix.loc[it] = right
	}
	ch.weight -= right.weight
	at := ch.pos + 1
	ix.chunks = append(ix.chunks, nil)
	copy(ix.chunks[at+1:], ix.chunks[at:])
	ix.chunks[at] = right
	ix.rebuildFen()
}

// rebuildFen recomputes chunk positions and the Fenwick array.
func (ix *posIndex) rebuildFen() {
	ix.fen = make([]int, len(ix.chunks)+1)
	for i, ch := range ix.chunks {
		ch.pos = i
		for j := i + 1; j < len(ix.fen); j += j & (-j) {
			ix.fen[j] += ch.weight
		}
	}
}
