package item

import (
	"slices"
	"sort"
)

// StateVector maps replica ID to the number of clock units integrated
// from that replica. An entry of 5 means clocks 0..4 are present; a
// missing entry means nothing is. The value is therefore the next
// clock expected from the replica.
type StateVector map[uint64]uint64

// Get returns the integrated clock count for a replica (0 if unknown).
func (sv StateVector) Get(replica uint64) uint64 {
	return sv[replica]
}

// Set records the integrated clock count for a replica.
func (sv StateVector) Set(replica, clock uint64) {
	sv[replica] = clock
}

// Covers reports whether the single clock unit identified by id has
// been integrated.
func (sv StateVector) Covers(id ID) bool {
	return id.Clock < sv[id.Replica]
}

// Clone returns an independent copy.
func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for r, c := range sv {
		out[r] = c
	}
	return out
}

// Merge raises each entry to the maximum of the two vectors.
func (sv StateVector) Merge(other StateVector) {
	for r, c := range other {
		if c > sv[r] {
			sv[r] = c
		}
	}
}

// Equal reports whether two vectors cover the same state. Zero entries
// compare equal to missing ones.
func (sv StateVector) Equal(other StateVector) bool {
	for r, c := range sv {
		if c != other[r] {
			return false
		}
	}
	for r, c := range other {
		if c != sv[r] {
			return false
		}
	}
	return true
}

// Replicas returns the replica IDs with nonzero entries in ascending
// order. Wire encodings and logs iterate in this order so output is
// deterministic.
func (sv StateVector) Replicas() []uint64 {
	out := make([]uint64, 0, len(sv))
	for r, c := range sv {
		if c > 0 {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return out
}

// ClockSpan is a half-open range of clocks [Clock, Clock+Len) of one
// replica.
type ClockSpan struct {
	Clock uint64
	Len   uint64
}

// End returns the first clock after the span.
func (s ClockSpan) End() uint64 {
	return s.Clock + s.Len
}

// DeleteSet records tombstoned clock ranges per replica. Tombstones
// merge by OR: applying a delete set marks every covered item deleted,
// and re-applying is a no-op.
type DeleteSet map[uint64][]ClockSpan

// Add records the span [id.Clock, id.Clock+n) as deleted.
func (ds DeleteSet) Add(id ID, n int) {
	ds[id.Replica] = append(ds[id.Replica], ClockSpan{Clock: id.Clock, Len: uint64(n)})
}

// Empty reports whether the set contains no spans.
func (ds DeleteSet) Empty() bool {
	for _, spans := range ds {
		if len(spans) > 0 {
			return false
		}
	}
	return true
}

// Normalize sorts each replica's spans and coalesces adjacent or
// overlapping ones. Encoders call this so equal sets encode equally.
func (ds DeleteSet) Normalize() {
	for r, spans := range ds {
		if len(spans) == 0 {
			delete(ds, r)
			continue
		}
		sort.Slice(spans, func(i, j int) bool { return spans[i].Clock < spans[j].Clock })
		merged := spans[:1]
		for _, s := range spans[1:] {
			last := &merged[len(merged)-1]
			if s.Clock <= last.End() {
				if s.End() > last.End() {
					last.Len = s.End() - last.Clock
				}
				continue
			}
			merged = append(merged, s)
		}
		ds[r] = merged
	}
}

// Covers reports whether the clock unit identified by id is inside the
// set.
func (ds DeleteSet) Covers(id ID) bool {
	spans := ds[id.Replica]
	i := sort.Search(len(spans), func(i int) bool { return spans[i].End() > id.Clock })
	return i < len(spans) && spans[i].Clock <= id.Clock
}

// Merge folds other into ds.
func (ds DeleteSet) Merge(other DeleteSet) {
	for r, spans := range other {
		ds[r] = append(ds[r], spans...)
	}
	ds.Normalize()
}

// Clone returns an independent copy.
func (ds DeleteSet) Clone() DeleteSet {
	out := make(DeleteSet, len(ds))
	for r, spans := range ds {
		out[r] = slices.Clone(spans)
	}
	return out
}

// Replicas returns replica IDs with spans, ascending.
func (ds DeleteSet) Replicas() []uint64 {
	out := make([]uint64, 0, len(ds))
	for r, spans := range ds {
		if len(spans) > 0 {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return out
}
