package weft

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/weftwork/weft/internal/item"
)

// Event describes the net effect of one committed transaction (local
// or remote) on one branch. Sequences carry a Delta; maps carry Keys.
// Events fire once per changed branch after the whole update has been
// integrated; operations that cancel out inside the transaction
// produce no event.
type Event struct {
	// Root is the name of the document root the change happened under.
	Root string
	// Path locates the changed branch below the root: map keys as
	// strings, sequence positions as ints. Empty for the root itself.
	Path []any
	// Kind of the changed branch.
	Kind Kind
	// Delta is the positional change script for text and array
	// branches: retain/insert/delete runs in document order.
	Delta []DeltaOp
	// Keys reports per-key changes for map branches.
	Keys map[string]KeyChange
	// Local distinguishes committed local transactions from remote
	// applies.
	Local bool
	// Origin carries the TransactOrigin tag of local transactions.
	Origin string

	branch *item.Branch
}

// DeltaKind tags one delta operation.
type DeltaKind uint8

const (
	DeltaRetain DeltaKind = iota
	DeltaInsert
	DeltaDelete
)

// String returns the lowercase op name.
func (k DeltaKind) String() string {
	switch k {
	case DeltaInsert:
		return "insert"
	case DeltaDelete:
		return "delete"
	default:
		return "retain"
	}
}

// DeltaOp is one run of a positional change script. Len counts runes
// for text branches and elements for arrays. Inserted text travels in
// Text, inserted array values in Values. Attributes carries formatting
// changes: a retain with Attributes reformats the retained range, an
// insert with Attributes carries the formatting it was inserted with;
// a nil attribute value clears the attribute.
type DeltaOp struct {
	Kind       DeltaKind
	Len        int
	Text       string
	Values     []any
	Attributes map[string]any
}

// KeyAction tags one map key change.
type KeyAction uint8

const (
	KeyAdd KeyAction = iota
	KeyUpdate
	KeyDelete
)

// String returns the lowercase action name.
func (a KeyAction) String() string {
	switch a {
	case KeyAdd:
		return "add"
	case KeyDelete:
		return "delete"
	default:
		return "update"
	}
}

// KeyChange reports one map key's transition across a transaction.
type KeyChange struct {
	Action   KeyAction
	OldValue any
	NewValue any
}

// Subscription is a registered observer. Cancel unregisters it;
// cancelling twice is a no-op.
type Subscription struct {
	doc    *Doc
	id     uint64
	root   string
	branch *item.Branch
	update bool
}

// Cancel removes the subscription from its document.
func (s *Subscription) Cancel() {
	if s == nil || s.doc == nil {
		return
	}
	d := s.doc
	s.doc = nil
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case s.update:
		delete(d.updateSubs, s.id)
	case s.branch != nil:
		if subs := d.branchSubs[s.branch]; subs != nil {
			delete(subs, s.id)
			if len(subs) == 0 {
				delete(d.branchSubs, s.branch)
			}
		}
	default:
		if subs := d.rootSubs[s.root]; subs != nil {
			delete(subs, s.id)
			if len(subs) == 0 {
				delete(d.rootSubs, s.root)
			}
		}
	}
}

// Observe subscribes fn to every event under the named root, nested
// branches included; Event.Path tells them apart. Callbacks run
// synchronously after each commit or apply, in deterministic order,
// with the mutation fully visible. Opening a transaction from a
// callback fails with ErrTransactionConflict.
func (d *Doc) Observe(root string, fn func(Event)) (*Subscription, error) {
	if root == "" {
		return nil, fmt.Errorf("weft: root name must be non-empty")
	}
	if fn == nil {
		return nil, fmt.Errorf("weft: observer func must be non-nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDetachedHandle
	}
	d.nextSubID++
	subs := d.rootSubs[root]
	if subs == nil {
		subs = make(map[uint64]func(Event))
		d.rootSubs[root] = subs
	}
	subs[d.nextSubID] = fn
	return &Subscription{doc: d, id: d.nextSubID, root: root}, nil
}

// observeBranch subscribes fn to events of exactly one branch. Handle
// Observe methods delegate here.
func (d *Doc) observeBranch(b *item.Branch, fn func(Event)) (*Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("weft: observer func must be non-nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDetachedHandle
	}
	d.nextSubID++
	subs := d.branchSubs[b]
	if subs == nil {
		subs = make(map[uint64]func(Event))
		d.branchSubs[b] = subs
	}
	subs[d.nextSubID] = fn
	return &Subscription{doc: d, id: d.nextSubID, branch: b}, nil
}

// OnUpdate subscribes fn to the document's update feed: the committed
// update of every local transaction and, for remote applies, the
// re-encoded range that was actually integrated. Subscribers typically
// persist or forward the bytes.
func (d *Doc) OnUpdate(fn func(update []byte)) (*Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("weft: update func must be non-nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDetachedHandle
	}
	d.nextSubID++
	d.updateSubs[d.nextSubID] = fn
	return &Subscription{doc: d, id: d.nextSubID, update: true}, nil
}

// delivery pairs one event with one subscriber callback.
type delivery struct {
	fn func(Event)
	ev Event
}

// collectDeliveries matches events to subscribers under the write
// lock. Delivery order is deterministic: events in sorted order, root
// subscribers before branch subscribers, each in registration order.
func (d *Doc) collectDeliveries(events []Event) []delivery {
	var out []delivery
	for _, ev := range events {
		for _, id := range sortedSubIDs(d.rootSubs[ev.Root]) {
			out = append(out, delivery{fn: d.rootSubs[ev.Root][id], ev: ev})
		}
		if subs := d.branchSubs[ev.branch]; subs != nil {
			for _, id := range sortedSubIDs(subs) {
				out = append(out, delivery{fn: subs[id], ev: ev})
			}
		}
	}
	return out
}

func (d *Doc) collectUpdateSubs() []func([]byte) {
	if len(d.updateSubs) == 0 {
		return nil
	}
	out := make([]func([]byte), 0, len(d.updateSubs))
	for _, id := range sortedSubIDs(d.updateSubs) {
		out = append(out, d.updateSubs[id])
	}
	return out
}

func sortedSubIDs[V any](subs map[uint64]V) []uint64 {
	if len(subs) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// buildEvents turns a transaction record into per-branch events.
// Branches under a deleted anchor are dead and produce nothing.
func (d *Doc) buildEvents(tx *item.TxState, local bool, origin string) []Event {
	// Covers needs sorted spans; remote applies can record tombstones
	// out of clock order.
	tx.DS.Normalize()
	branches := tx.Branches()
	events := make([]Event, 0, len(branches))
	for _, b := range branches {
		if !b.Alive() {
			continue
		}
		root, path, ok := rootAndPath(b)
		if !ok {
			continue
		}
		ev := Event{
			Root:   root,
			Path:   path,
			Kind:   kindOf(effectiveKind(b)),
			Local:  local,
			Origin: origin,
			branch: b,
		}
		if tx.SeqChanged(b) {
			ev.Delta = d.buildDelta(tx, b)
		}
		if keys := d.buildKeyChanges(tx, b); len(keys) > 0 {
			ev.Keys = keys
		}
		if len(ev.Delta) == 0 && len(ev.Keys) == 0 {
			continue
		}
		events = append(events, ev)
	}
	slices.SortFunc(events, func(a, b Event) int {
		if c := strings.Compare(a.Root, b.Root); c != 0 {
			return c
		}
		return strings.Compare(pathKey(a.Path), pathKey(b.Path))
	})
	return events
}

func kindOf(k item.RootKind) Kind {
	switch k {
	case item.KindText:
		return KindText
	case item.KindArray:
		return KindArray
	case item.KindMap:
		return KindMap
	default:
		return KindUnknown
	}
}

func pathKey(path []any) string {
	var sb strings.Builder
	for _, elem := range path {
		fmt.Fprintf(&sb, "/%v", elem)
	}
	return sb.String()
}

// rootAndPath walks a branch's anchors up to its document root. Array
// slots contribute their visible position, map slots their key.
func rootAndPath(b *item.Branch) (string, []any, bool) {
	var rev []any
	cur := b
	for !cur.IsRoot() {
		anchor := cur.Anchor
		if anchor == nil || anchor.Parent == nil {
			return "", nil, false
		}
		if anchor.ParentKey != "" {
			rev = append(rev, anchor.ParentKey)
		} else {
			pos, ok := anchor.Parent.PosOf(anchor)
			if !ok {
				return "", nil, false
			}
			rev = append(rev, pos)
		}
		cur = anchor.Parent
	}
	if cur.Name == "" {
		return "", nil, false
	}
	slices.Reverse(rev)
	return cur.Name, rev, true
}

// buildDelta walks the branch sequence and classifies every run
// against the transaction: created here, removed here, or retained.
// Format marks created in the transaction attribute the runs to their
// right until a pre-existing boundary reasserts itself.
func (d *Doc) buildDelta(tx *item.TxState, b *item.Branch) []DeltaOp {
	var ops []DeltaOp
	eff := make(map[string]item.Value)
	base := make(map[string]item.Value)
	for it := b.Start; it != nil; it = it.Right {
		if fm, ok := it.Content.(*item.ContentFormat); ok {
			if it.Deleted {
				continue
			}
			eff[fm.Key] = fm.Value
			if !tx.InsertedHere(it.ID) {
				base[fm.Key] = fm.Value
			}
			continue
		}
		insertedHere := tx.InsertedHere(it.ID)
		deletedHere := it.Deleted && tx.DS.Covers(it.ID)
		switch {
		case insertedHere && it.Deleted:
			// Created and removed inside the transaction: no net effect.
		case insertedHere:
			op := DeltaOp{
				Kind:       DeltaInsert,
				Len:        it.Content.VisibleLen(),
				Attributes: changedAttrs(eff, base),
			}
			switch c := it.Content.(type) {
			case *item.ContentText:
				op.Text = c.Text
			case *item.ContentValues:
				vals := make([]any, len(c.Values))
				for i, v := range c.Values {
					vals[i] = fromValue(v)
				}
				op.Values = vals
			case *item.ContentBranch:
				op.Values = []any{d.handleFor(c)}
			}
			ops = append(ops, op)
		case deletedHere:
			ops = append(ops, DeltaOp{Kind: DeltaDelete, Len: it.Content.VisibleLen()})
		case !it.Deleted:
			ops = append(ops, DeltaOp{
				Kind:       DeltaRetain,
				Len:        it.VisibleLen(),
				Attributes: changedAttrs(eff, base),
			})
		}
	}
	ops = mergeDelta(ops)
	for len(ops) > 0 {
		last := ops[len(ops)-1]
		if last.Kind == DeltaRetain && len(last.Attributes) == 0 {
			ops = ops[:len(ops)-1]
			continue
		}
		break
	}
	return ops
}

// changedAttrs reports the attributes whose effective value differs
// from the last pre-transaction boundary.
func changedAttrs(eff, base map[string]item.Value) map[string]any {
	var out map[string]any
	for k, v := range eff {
		bv, ok := base[k]
		if !ok {
			bv = item.VNull{}
		}
		if item.EqualValue(v, bv) {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = fromValue(v)
	}
	return out
}

func attrsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// mergeDelta coalesces adjacent ops of the same kind and attributes.
func mergeDelta(ops []DeltaOp) []DeltaOp {
	out := make([]DeltaOp, 0, len(ops))
	for _, op := range ops {
		if op.Len == 0 {
			continue
		}
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Kind == op.Kind && attrsEqual(last.Attributes, op.Attributes) {
				switch op.Kind {
				case DeltaRetain, DeltaDelete:
					last.Len += op.Len
					continue
				case DeltaInsert:
					if last.Values == nil && op.Values == nil {
						last.Text += op.Text
						last.Len += op.Len
						continue
					}
					if last.Text == "" && op.Text == "" {
						last.Values = append(last.Values, op.Values...)
						last.Len += op.Len
						continue
					}
				}
			}
		}
		out = append(out, op)
	}
	return out
}

// buildKeyChanges reports map keys whose winner changed across the
// transaction. Keys that churned but ended where they started (a
// losing concurrent write, for example) report nothing.
func (d *Doc) buildKeyChanges(tx *item.TxState, b *item.Branch) map[string]KeyChange {
	keys := tx.ChangedKeys(b)
	if len(keys) == 0 {
		return nil
	}
	out := make(map[string]KeyChange, len(keys))
	for _, k := range keys {
		oldIt := tx.OldEntry(b, k)
		newIt := b.Entry(k)
		if oldIt == newIt {
			continue
		}
		change := KeyChange{}
		switch {
		case oldIt == nil:
			change.Action = KeyAdd
		case newIt == nil:
			change.Action = KeyDelete
		default:
			change.Action = KeyUpdate
		}
		if oldIt != nil {
			change.OldValue = d.entryValue(oldIt)
		}
		if newIt != nil {
			change.NewValue = d.entryValue(newIt)
		}
		out[k] = change
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// entryValue materializes a map entry's payload: scalars as host
// values, nested branches as handles. Tombstoned entries whose content
// was elided on the wire read as nil.
func (d *Doc) entryValue(it *item.Item) any {
	switch c := it.Content.(type) {
	case *item.ContentValues:
		if len(c.Values) == 0 {
			return nil
		}
		return fromValue(c.Values[len(c.Values)-1])
	case *item.ContentBranch:
		return d.handleFor(c)
	case *item.ContentText:
		return c.Text
	default:
		return nil
	}
}

// handleFor wraps an integrated nested branch in its typed handle.
func (d *Doc) handleFor(cb *item.ContentBranch) any {
	if cb.Branch == nil {
		return nil
	}
	switch cb.Kind {
	case item.KindText:
		return &Text{doc: d, branch: cb.Branch}
	case item.KindArray:
		return &Array{doc: d, branch: cb.Branch}
	case item.KindMap:
		return &Map{doc: d, branch: cb.Branch}
	default:
		return nil
	}
}
