package item

// pendingSet buffers causally gated work: decoded item runs whose
// dependencies have not arrived, and delete spans addressing clocks not
// yet integrated. Every successful integration batch retries the
// buffer to a fixpoint; that retry is the only internal retry in the
// engine.
type pendingSet struct {
	items []*Item
	ds    DeleteSet
}

func newPendingSet() *pendingSet {
	return &pendingSet{ds: make(DeleteSet)}
}

// Units counts the clock units covered by a delete set; used to detect
// drain progress.
func (ds DeleteSet) Units() uint64 {
	var n uint64
	for _, spans := range ds {
		for _, s := range spans {
			n += s.Len
		}
	}
	return n
}

// ApplyBatch integrates a decoded update: item runs first, then the
// delete set, then the pending buffer is drained to a fixpoint. Items
// already covered are skipped (idempotence); gated items remain
// buffered until their dependencies arrive.
func (s *Store) ApplyBatch(tx *TxState, items []*Item, ds DeleteSet) {
	s.pending.items = append(s.pending.items, items...)
	if len(ds) > 0 {
		s.pending.ds.Merge(ds)
	}
	s.drainPending(tx)
}

// drainPending repeatedly attempts buffered items and delete spans
// until a pass makes no progress. Duplicates are consumed; only truly
// gated work survives a pass.
func (s *Store) drainPending(tx *TxState) {
	for {
		progressed := false

		var remaining []*Item
		for _, it := range s.pending.items {
			switch s.tryIntegrate(tx, it) {
			case integrated, duplicate, dropped:
				progressed = true
			case gated:
				remaining = append(remaining, it)
			}
		}
		s.pending.items = remaining

		if !s.pending.ds.Empty() {
			before := s.pending.ds.Units()
			s.pending.ds = s.applyDeleteSet(tx, s.pending.ds)
			if s.pending.ds.Units() < before {
				progressed = true
			}
		}

		if !progressed {
			return
		}
		if len(s.pending.items) == 0 && s.pending.ds.Empty() {
			return
		}
	}
}
