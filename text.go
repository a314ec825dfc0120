package weft

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/weftwork/weft/internal/item"
)

// Text is a handle on a collaborative text sequence. All indices and
// lengths count runes, never bytes. Formatting attributes are carried
// by zero-width boundary marks: a mark sets an attribute for everything
// to its right until the next mark for the same key.
type Text struct {
	doc    *Doc
	branch *item.Branch
	seed   string
}

// NewText creates a detached (preliminary) text seeded with s. Reads
// serve the seed; mutators require attaching the handle to a container
// slot first.
func NewText(s string) *Text {
	return &Text{seed: s}
}

// Kind returns KindText.
func (t *Text) Kind() Kind { return KindText }

func (t *Text) rootKind() item.RootKind { return item.KindText }
func (t *Text) isAttached() bool        { return t.doc != nil }

func (t *Text) bind(d *Doc, b *item.Branch) {
	t.doc = d
	t.branch = b
}

func (t *Text) validateSeed(depth int) error { return nil }

func (t *Text) seedInto(tx *Txn) error {
	if t.seed == "" {
		return nil
	}
	seed := t.seed
	t.seed = ""
	return t.insertLocked(tx, 0, seed)
}

func (t *Text) mutable(tx *Txn) (*Doc, error) {
	if t.doc == nil {
		return nil, ErrDetachedHandle
	}
	if err := tx.guard(t.doc); err != nil {
		return nil, err
	}
	return t.doc, nil
}

// Insert places s before rune position index.
func (t *Text) Insert(tx *Txn, index int, s string) error {
	d, err := t.mutable(tx)
	if err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return t.insertLocked(tx, index, s)
}

func (t *Text) insertLocked(tx *Txn, index int, s string) error {
	_, err := t.doc.store.InsertSeq(tx.state, t.branch, t.doc.replica, index, item.NewContentText(s))
	return err
}

// InsertWithAttrs places s before rune position index with the given
// formatting attributes. Attributes already in force at the insertion
// point are not re-marked.
func (t *Text) InsertWithAttrs(tx *Txn, index int, s string, attrs map[string]any) error {
	d, err := t.mutable(tx)
	if err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	pairs, err := convertAttrs(attrs)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	b := t.branch
	if index < 0 || index > b.VisLen {
		return fmt.Errorf("%w: position %d, length %d", ErrOutOfRange, index, b.VisLen)
	}
	prior := attrsAt(b, index)
	textIt, err := d.store.InsertSeq(tx.state, b, d.replica, index, item.NewContentText(s))
	if err != nil {
		return err
	}

	var closes []attrKV
	left := textIt.Left
	for _, kv := range pairs {
		pv, ok := prior[kv.key]
		if !ok {
			pv = item.VNull{}
		}
		if item.EqualValue(kv.val, pv) {
			continue
		}
		open := &item.ContentFormat{Key: kv.key, Value: kv.val}
		left = d.store.InsertBetween(tx.state, b, d.replica, left, textIt, open)
		closes = append(closes, attrKV{key: kv.key, val: pv})
	}
	cLeft := textIt
	for _, kv := range closes {
		mark := &item.ContentFormat{Key: kv.key, Value: kv.val}
		cLeft = d.store.InsertBetween(tx.state, b, d.replica, cLeft, cLeft.Right, mark)
	}
	return nil
}

// Delete removes length runes starting at index.
func (t *Text) Delete(tx *Txn, index, length int) error {
	d, err := t.mutable(tx)
	if err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.DeleteSeq(tx.state, t.branch, index, length)
}

// Format applies attributes to the range [index, index+length). A nil
// attribute value clears the attribute over the range. Later inserts
// inside the range or at its end take its formatting; inserts at the
// start land before the range and stay unformatted.
func (t *Text) Format(tx *Txn, index, length int, attrs map[string]any) error {
	d, err := t.mutable(tx)
	if err != nil {
		return err
	}
	pairs, err := convertAttrs(attrs)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	b := t.branch
	if index < 0 || length < 0 || index+length > b.VisLen {
		return fmt.Errorf("%w: format [%d,%d) of length %d", ErrOutOfRange, index, index+length, b.VisLen)
	}
	if length == 0 {
		return nil
	}
	prior := attrsAt(b, index+length)

	left, right, err := d.store.SeqNeighbors(b, index)
	if err != nil {
		return err
	}
	// New opens land left of any marks already at the boundary, and a
	// later mark in document order wins. Stale marks for the same keys
	// inside the range would override the opens, so tombstone them.
	// The close computed from prior keeps the text beyond the range on
	// whatever those marks had established.
	keys := make(map[string]bool, len(pairs))
	for _, kv := range pairs {
		keys[kv.key] = true
	}
	seen := 0
	for it := right; it != nil && seen < length; it = it.Right {
		if fm, ok := it.Content.(*item.ContentFormat); ok && !it.Deleted && keys[fm.Key] {
			d.store.DeleteItem(tx.state, it)
			continue
		}
		seen += it.VisibleLen()
	}
	for _, kv := range pairs {
		open := &item.ContentFormat{Key: kv.key, Value: kv.val}
		left = d.store.InsertBetween(tx.state, b, d.replica, left, right, open)
	}

	// Zero-width marks do not shift visible positions, so the close
	// slot is resolved the same way after the opens landed.
	cLeft, cRight, err := d.store.SeqNeighbors(b, index+length)
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		pv, ok := prior[kv.key]
		if !ok {
			pv = item.VNull{}
		}
		mark := &item.ContentFormat{Key: kv.key, Value: pv}
		cLeft = d.store.InsertBetween(tx.state, b, d.replica, cLeft, cRight, mark)
	}
	return nil
}

// String returns the visible text.
func (t *Text) String() string {
	if t.doc == nil {
		return t.seed
	}
	t.doc.mu.RLock()
	defer t.doc.mu.RUnlock()
	return branchText(t.branch)
}

// Len returns the visible length in runes.
func (t *Text) Len() int {
	if t.doc == nil {
		return utf8.RuneCountInString(t.seed)
	}
	t.doc.mu.RLock()
	defer t.doc.mu.RUnlock()
	return t.branch.VisLen
}

// Range returns the runes in [start, start+length).
func (t *Text) Range(start, length int) (string, error) {
	if t.doc == nil {
		runes := []rune(t.seed)
		if start < 0 || length < 0 || start+length > len(runes) {
			return "", fmt.Errorf("%w: range [%d,%d) of length %d", ErrOutOfRange, start, start+length, len(runes))
		}
		return string(runes[start : start+length]), nil
	}
	t.doc.mu.RLock()
	defer t.doc.mu.RUnlock()

	b := t.branch
	if start < 0 || length < 0 || start+length > b.VisLen {
		return "", fmt.Errorf("%w: range [%d,%d) of length %d", ErrOutOfRange, start, start+length, b.VisLen)
	}
	if length == 0 {
		return "", nil
	}
	it, off, ok := b.FindVisible(start)
	if !ok {
		return "", fmt.Errorf("%w: range [%d,%d) of length %d", ErrOutOfRange, start, start+length, b.VisLen)
	}
	var sb strings.Builder
	remaining := length
	for it != nil && remaining > 0 {
		if it.Deleted || it.VisibleLen() == 0 {
			it = it.Right
			off = 0
			continue
		}
		if c, isText := it.Content.(*item.ContentText); isText {
			runes := []rune(c.Text)[off:]
			if len(runes) > remaining {
				runes = runes[:remaining]
			}
			sb.WriteString(string(runes))
			remaining -= len(runes)
		} else {
			consumed := it.VisibleLen() - off
			if consumed > remaining {
				consumed = remaining
			}
			remaining -= consumed
		}
		off = 0
		it = it.Right
	}
	return sb.String(), nil
}

// TextRun is one maximal run of equally formatted text.
type TextRun struct {
	Text       string
	Attributes map[string]any
}

// Runs returns the visible text split at formatting boundaries.
// Attributes cleared by a nil-valued mark do not appear.
func (t *Text) Runs() []TextRun {
	if t.doc == nil {
		if t.seed == "" {
			return nil
		}
		return []TextRun{{Text: t.seed}}
	}
	t.doc.mu.RLock()
	defer t.doc.mu.RUnlock()

	var runs []TextRun
	active := make(map[string]item.Value)
	var cur strings.Builder
	var curAttrs map[string]any
	flush := func() {
		if cur.Len() > 0 {
			runs = append(runs, TextRun{Text: cur.String(), Attributes: curAttrs})
			cur.Reset()
		}
	}
	for it := t.branch.Start; it != nil; it = it.Right {
		if it.Deleted {
			continue
		}
		switch c := it.Content.(type) {
		case *item.ContentFormat:
			if _, isNull := c.Value.(item.VNull); isNull {
				delete(active, c.Key)
			} else {
				active[c.Key] = c.Value
			}
		case *item.ContentText:
			snap := attrsHost(active)
			if !attrsEqual(snap, curAttrs) {
				flush()
				curAttrs = snap
			}
			cur.WriteString(c.Text)
		}
	}
	flush()
	return runs
}

// Observe subscribes fn to events of exactly this text.
func (t *Text) Observe(fn func(Event)) (*Subscription, error) {
	if t.doc == nil {
		return nil, ErrDetachedHandle
	}
	return t.doc.observeBranch(t.branch, fn)
}

func branchText(b *item.Branch) string {
	var sb strings.Builder
	for it := b.Start; it != nil; it = it.Right {
		if it.Deleted {
			continue
		}
		if c, ok := it.Content.(*item.ContentText); ok {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

// attrKV is one converted attribute, processed in sorted key order so
// mark layout is deterministic.
type attrKV struct {
	key string
	val item.Value
}

func convertAttrs(attrs map[string]any) ([]attrKV, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if k == "" {
			return nil, fmt.Errorf("%w: empty attribute key", ErrValueKind)
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]attrKV, 0, len(keys))
	for _, k := range keys {
		v, err := toValue(attrs[k])
		if err != nil {
			return nil, err
		}
		out = append(out, attrKV{key: k, val: v})
	}
	return out, nil
}

// attrsAt returns the attribute values in force for the rune at
// visible position pos, considering every mark strictly left of it.
func attrsAt(b *item.Branch, pos int) map[string]item.Value {
	active := make(map[string]item.Value)
	seen := 0
	for it := b.Start; it != nil && seen < pos; it = it.Right {
		if it.Deleted {
			continue
		}
		if fm, ok := it.Content.(*item.ContentFormat); ok {
			if _, isNull := fm.Value.(item.VNull); isNull {
				delete(active, fm.Key)
			} else {
				active[fm.Key] = fm.Value
			}
			continue
		}
		seen += it.Content.VisibleLen()
	}
	return active
}

func attrsHost(active map[string]item.Value) map[string]any {
	if len(active) == 0 {
		return nil
	}
	out := make(map[string]any, len(active))
	for k, v := range active {
		out[k] = fromValue(v)
	}
	return out
}
