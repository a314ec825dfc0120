package weft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupText(t *testing.T, content string) (*Doc, *Text) {
	t.Helper()
	d := newTestDoc(t, 1)
	txt, err := d.Text("notes")
	require.NoError(t, err)
	if content != "" {
		mustTransact(t, d, func(tx *Txn) error { return txt.Insert(tx, 0, content) })
	}
	return d, txt
}

func TestText_InsertAndRead(t *testing.T) {
	d, txt := setupText(t, "hello")
	assert.Equal(t, "hello", txt.String())
	assert.Equal(t, 5, txt.Len())

	mustTransact(t, d, func(tx *Txn) error { return txt.Insert(tx, 5, " world") })
	assert.Equal(t, "hello world", txt.String())

	mustTransact(t, d, func(tx *Txn) error { return txt.Insert(tx, 5, ",") })
	assert.Equal(t, "hello, world", txt.String())
}

func TestText_InsertEmptyIsNoOp(t *testing.T) {
	d, txt := setupText(t, "hi")
	update, err := d.Transact(func(tx *Txn) error { return txt.Insert(tx, 0, "") })
	require.NoError(t, err)
	assert.Nil(t, update)
	assert.Equal(t, "hi", txt.String())
}

func TestText_UnicodeRuneIndexing(t *testing.T) {
	d, txt := setupText(t, "héllo🙂")
	assert.Equal(t, 6, txt.Len(), "lengths count runes, not bytes")

	got, err := txt.Range(1, 1)
	require.NoError(t, err)
	assert.Equal(t, "é", got)
	got, err = txt.Range(5, 1)
	require.NoError(t, err)
	assert.Equal(t, "🙂", got)

	mustTransact(t, d, func(tx *Txn) error { return txt.Delete(tx, 5, 1) })
	assert.Equal(t, "héllo", txt.String())

	mustTransact(t, d, func(tx *Txn) error { return txt.Insert(tx, 5, "!") })
	assert.Equal(t, "héllo!", txt.String())
}

func TestText_InsertOutOfRange(t *testing.T) {
	d, txt := setupText(t, "")
	_, err := d.Transact(func(tx *Txn) error { return txt.Insert(tx, 5, "x") })
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = d.Transact(func(tx *Txn) error { return txt.Insert(tx, -1, "x") })
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestText_Delete(t *testing.T) {
	d, txt := setupText(t, "hello world")
	mustTransact(t, d, func(tx *Txn) error { return txt.Delete(tx, 0, 6) })
	assert.Equal(t, "world", txt.String())
	assert.Equal(t, 5, txt.Len())
}

func TestText_DeleteAcrossRuns(t *testing.T) {
	d, txt := setupText(t, "abc")
	mustTransact(t, d, func(tx *Txn) error { return txt.Insert(tx, 3, "def") })

	// The range straddles two separately inserted runs.
	mustTransact(t, d, func(tx *Txn) error { return txt.Delete(tx, 2, 2) })
	assert.Equal(t, "abef", txt.String())
}

func TestText_DeleteOutOfRange(t *testing.T) {
	d, txt := setupText(t, "abc")
	_, err := d.Transact(func(tx *Txn) error { return txt.Delete(tx, 1, 5) })
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, "abc", txt.String())
}

func TestText_DeleteZeroLengthIsNoOp(t *testing.T) {
	d, txt := setupText(t, "abc")
	update, err := d.Transact(func(tx *Txn) error { return txt.Delete(tx, 1, 0) })
	require.NoError(t, err)
	assert.Nil(t, update)
}

func TestText_Range(t *testing.T) {
	_, txt := setupText(t, "hello world")

	got, err := txt.Range(6, 5)
	require.NoError(t, err)
	assert.Equal(t, "world", got)

	got, err = txt.Range(0, 0)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	_, err = txt.Range(8, 9)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.ErrorContains(t, err, "range [8,17) of length 11")
}

func TestText_RunsPlain(t *testing.T) {
	d, txt := setupText(t, "")
	assert.Nil(t, txt.Runs())

	mustTransact(t, d, func(tx *Txn) error { return txt.Insert(tx, 0, "plain") })
	assert.Equal(t, []TextRun{{Text: "plain"}}, txt.Runs())
}

func TestText_Format_AppliesAttributes(t *testing.T) {
	d, txt := setupText(t, "hello world")
	mustTransact(t, d, func(tx *Txn) error {
		return txt.Format(tx, 0, 5, map[string]any{"bold": true})
	})

	assert.Equal(t, []TextRun{
		{Text: "hello", Attributes: map[string]any{"bold": true}},
		{Text: " world"},
	}, txt.Runs())
	assert.Equal(t, "hello world", txt.String(), "marks are invisible to the plain reading")
	assert.Equal(t, 11, txt.Len())
}

func TestText_Format_ClearWithNil(t *testing.T) {
	d, txt := setupText(t, "hello")
	mustTransact(t, d, func(tx *Txn) error {
		return txt.Format(tx, 0, 5, map[string]any{"bold": true})
	})
	mustTransact(t, d, func(tx *Txn) error {
		return txt.Format(tx, 0, 5, map[string]any{"bold": nil})
	})

	assert.Equal(t, []TextRun{{Text: "hello"}}, txt.Runs())
}

func TestText_Format_ReformatOverrides(t *testing.T) {
	d, txt := setupText(t, "hello")
	mustTransact(t, d, func(tx *Txn) error {
		return txt.Format(tx, 0, 5, map[string]any{"bold": true})
	})
	mustTransact(t, d, func(tx *Txn) error {
		return txt.Format(tx, 0, 5, map[string]any{"bold": false})
	})

	assert.Equal(t, []TextRun{
		{Text: "hello", Attributes: map[string]any{"bold": false}},
	}, txt.Runs())
}

func TestText_Format_PartialClearKeepsTail(t *testing.T) {
	d, txt := setupText(t, "hellohello")
	mustTransact(t, d, func(tx *Txn) error {
		return txt.Format(tx, 0, 10, map[string]any{"bold": true})
	})
	mustTransact(t, d, func(tx *Txn) error {
		return txt.Format(tx, 0, 5, map[string]any{"bold": nil})
	})

	assert.Equal(t, []TextRun{
		{Text: "hello"},
		{Text: "hello", Attributes: map[string]any{"bold": true}},
	}, txt.Runs())
}

func TestText_Format_MultipleKeys(t *testing.T) {
	d, txt := setupText(t, "abc")
	mustTransact(t, d, func(tx *Txn) error {
		return txt.Format(tx, 0, 3, map[string]any{"bold": true, "level": 2})
	})

	assert.Equal(t, []TextRun{
		{Text: "abc", Attributes: map[string]any{"bold": true, "level": int64(2)}},
	}, txt.Runs())
}

func TestText_Format_OutOfRange(t *testing.T) {
	d, txt := setupText(t, "hello")
	_, err := d.Transact(func(tx *Txn) error {
		return txt.Format(tx, 2, 12, map[string]any{"bold": true})
	})
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.ErrorContains(t, err, "format [2,14) of length 5")
}

func TestText_Format_EmptyAttrsIsNoOp(t *testing.T) {
	d, txt := setupText(t, "hello")
	update, err := d.Transact(func(tx *Txn) error {
		return txt.Format(tx, 0, 5, nil)
	})
	require.NoError(t, err)
	assert.Nil(t, update)
}

func TestText_Format_BoundaryInserts(t *testing.T) {
	d, txt := setupText(t, "abc")
	mustTransact(t, d, func(tx *Txn) error {
		return txt.Format(tx, 1, 1, map[string]any{"bold": true})
	})

	// At the start of the range the insert lands before the formatting;
	// inside and at the end it takes the formatting.
	mustTransact(t, d, func(tx *Txn) error { return txt.Insert(tx, 1, "S") })
	assert.Equal(t, []TextRun{
		{Text: "aS"},
		{Text: "b", Attributes: map[string]any{"bold": true}},
		{Text: "c"},
	}, txt.Runs())

	mustTransact(t, d, func(tx *Txn) error { return txt.Insert(tx, 3, "E") })
	assert.Equal(t, []TextRun{
		{Text: "aS"},
		{Text: "bE", Attributes: map[string]any{"bold": true}},
		{Text: "c"},
	}, txt.Runs())
}

func TestText_InsertWithAttrs(t *testing.T) {
	d, txt := setupText(t, "ab")
	mustTransact(t, d, func(tx *Txn) error {
		return txt.InsertWithAttrs(tx, 1, "X", map[string]any{"bold": true})
	})

	assert.Equal(t, "aXb", txt.String())
	assert.Equal(t, []TextRun{
		{Text: "a"},
		{Text: "X", Attributes: map[string]any{"bold": true}},
		{Text: "b"},
	}, txt.Runs())
}

func TestText_InsertWithAttrs_SkipsAttrsInForce(t *testing.T) {
	d, txt := setupText(t, "")
	mustTransact(t, d, func(tx *Txn) error {
		return txt.InsertWithAttrs(tx, 0, "abc", map[string]any{"bold": true})
	})
	mustTransact(t, d, func(tx *Txn) error {
		return txt.InsertWithAttrs(tx, 3, " def", map[string]any{"bold": true})
	})

	// No redundant boundary was created, so the runs coalesce.
	assert.Equal(t, []TextRun{
		{Text: "abc def", Attributes: map[string]any{"bold": true}},
	}, txt.Runs())
}

func TestText_FormatTravelsInUpdates(t *testing.T) {
	a := newTestDoc(t, 1)
	txtA, err := a.Text("notes")
	require.NoError(t, err)
	mustTransact(t, a, func(tx *Txn) error { return txtA.Insert(tx, 0, "hello world") })
	mustTransact(t, a, func(tx *Txn) error {
		return txtA.Format(tx, 0, 5, map[string]any{"bold": true})
	})

	b := newTestDoc(t, 2)
	syncDocs(t, a, b)
	txtB, err := b.Text("notes")
	require.NoError(t, err)
	assert.Equal(t, txtA.Runs(), txtB.Runs())
	assert.Equal(t, a.ContentHash(), b.ContentHash())
}

func TestText_ClearedFormatTravelsInUpdates(t *testing.T) {
	a := newTestDoc(t, 1)
	txtA, err := a.Text("notes")
	require.NoError(t, err)
	mustTransact(t, a, func(tx *Txn) error { return txtA.Insert(tx, 0, "hello") })
	mustTransact(t, a, func(tx *Txn) error {
		return txtA.Format(tx, 0, 5, map[string]any{"bold": true})
	})
	mustTransact(t, a, func(tx *Txn) error {
		return txtA.Format(tx, 0, 5, map[string]any{"bold": nil})
	})

	// The clear tombstones the superseded mark; the tombstone must reach
	// the other replica through the delete set.
	b := newTestDoc(t, 2)
	syncDocs(t, a, b)
	txtB, err := b.Text("notes")
	require.NoError(t, err)
	assert.Equal(t, []TextRun{{Text: "hello"}}, txtB.Runs())
}

func TestText_ConcurrentFormatsConverge(t *testing.T) {
	a := newTestDoc(t, 1)
	b := newTestDoc(t, 2)
	txtA, err := a.Text("notes")
	require.NoError(t, err)
	mustTransact(t, a, func(tx *Txn) error { return txtA.Insert(tx, 0, "abcdefgh") })
	syncBoth(t, a, b)

	txtB, err := b.Text("notes")
	require.NoError(t, err)
	mustTransact(t, a, func(tx *Txn) error {
		return txtA.Format(tx, 0, 5, map[string]any{"bold": true})
	})
	mustTransact(t, b, func(tx *Txn) error {
		return txtB.Format(tx, 2, 5, map[string]any{"italic": true})
	})
	syncBoth(t, a, b)

	want := []TextRun{
		{Text: "ab", Attributes: map[string]any{"bold": true}},
		{Text: "cde", Attributes: map[string]any{"bold": true, "italic": true}},
		{Text: "fg", Attributes: map[string]any{"italic": true}},
		{Text: "h"},
	}
	assert.Equal(t, want, txtA.Runs())
	assert.Equal(t, want, txtB.Runs())
}

func TestText_DetachedHandle(t *testing.T) {
	txt := NewText("seed")
	assert.Equal(t, "seed", txt.String())
	assert.Equal(t, 4, txt.Len())
	assert.Equal(t, []TextRun{{Text: "seed"}}, txt.Runs())

	got, err := txt.Range(1, 2)
	require.NoError(t, err)
	assert.Equal(t, "ee", got)

	assert.ErrorIs(t, txt.Insert(nil, 0, "x"), ErrDetachedHandle)
	_, err = txt.Observe(func(Event) {})
	assert.ErrorIs(t, err, ErrDetachedHandle)
}

func TestText_NestedInMap(t *testing.T) {
	d := newTestDoc(t, 1)
	mp, err := d.Map("doc")
	require.NoError(t, err)
	mustTransact(t, d, func(tx *Txn) error {
		return mp.Set(tx, "body", NewText("draft"))
	})

	got, ok := mp.Get("body")
	require.True(t, ok)
	body, ok := got.(*Text)
	require.True(t, ok, "nested shared types come back as handles")
	assert.Equal(t, "draft", body.String())

	mustTransact(t, d, func(tx *Txn) error { return body.Insert(tx, 5, "!") })
	assert.Equal(t, `{"doc":{"body":"draft!"}}`, string(d.CanonicalJSON()))
}
