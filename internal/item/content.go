package item

import (
	"fmt"
	"unicode/utf8"
)

// Content is the sealed variant of item payloads. Only ContentText,
// ContentValues, ContentBranch, ContentFormat, and ContentDeleted
// implement it.
//
// Len is the clock span the content occupies. VisibleLen is its
// contribution to the branch's visible sequence length; format marks
// are zero-width. Splittable contents divide at interior offsets when
// a later operation addresses the middle of a run.
type Content interface {
	Len() int
	VisibleLen() int
	content() // sealed
}

// ContentText is a run of text. Offsets and lengths are rune counts.
type ContentText struct {
	Text string

	runeLen int
}

// NewContentText builds a text run, caching the rune length.
func NewContentText(s string) *ContentText {
	return &ContentText{Text: s, runeLen: utf8.RuneCountInString(s)}
}

func (c *ContentText) content()        {}
func (c *ContentText) Len() int        { return c.runeLen }
func (c *ContentText) VisibleLen() int { return c.runeLen }

// SplitAt divides the run before rune offset n, returning the two
// halves. n must be interior: 0 < n < Len.
func (c *ContentText) SplitAt(n int) (Content, Content) {
	byteOff := runeByteOffset(c.Text, n)
	left := &ContentText{Text: c.Text[:byteOff], runeLen: n}
	right := &ContentText{Text: c.Text[byteOff:], runeLen: c.runeLen - n}
	return left, right
}

// runeByteOffset returns the byte index of rune number n in s.
func runeByteOffset(s string, n int) int {
	seen := 0
	for i := range s {
		if seen == n {
			return i
		}
		seen++
	}
	return len(s)
}

// ContentValues is a run of plain values (array elements).
type ContentValues struct {
	Values []Value
}

func (c *ContentValues) content()        {}
func (c *ContentValues) Len() int        { return len(c.Values) }
func (c *ContentValues) VisibleLen() int { return len(c.Values) }

// SplitAt divides the run before element n.
func (c *ContentValues) SplitAt(n int) (Content, Content) {
	return &ContentValues{Values: c.Values[:n:n]}, &ContentValues{Values: c.Values[n:]}
}

// ContentBranch anchors a nested shared type (text, array, or map)
// inside a sequence slot or map entry. The wire carries only the kind;
// Branch is materialized at integration.
type ContentBranch struct {
	Kind   RootKind
	Branch *Branch
}

func (c *ContentBranch) content()        {}
func (c *ContentBranch) Len() int        { return 1 }
func (c *ContentBranch) VisibleLen() int { return 1 }

// ContentFormat is a zero-width formatting boundary for text branches.
// A mark carries the attribute value in force to its right until the
// next mark for the same key. VNull clears the attribute.
type ContentFormat struct {
	Key   string
	Value Value
}

func (c *ContentFormat) content()        {}
func (c *ContentFormat) Len() int        { return 1 }
func (c *ContentFormat) VisibleLen() int { return 0 }

// ContentDeleted stands in for the payload of a tombstoned run whose
// content was elided on the wire. Only the clock span survives.
type ContentDeleted struct {
	Count int
}

func (c *ContentDeleted) content()        {}
func (c *ContentDeleted) Len() int        { return c.Count }
func (c *ContentDeleted) VisibleLen() int { return c.Count }

// SplitAt divides the placeholder span before offset n.
func (c *ContentDeleted) SplitAt(n int) (Content, Content) {
	return &ContentDeleted{Count: n}, &ContentDeleted{Count: c.Count - n}
}

// splitContent divides any splittable content at offset n. Branch and
// format contents have span 1 and are never split; reaching them with
// an interior offset is a store invariant violation.
func splitContent(c Content, n int) (Content, Content) {
	switch v := c.(type) {
	case *ContentText:
		return v.SplitAt(n)
	case *ContentValues:
		return v.SplitAt(n)
	case *ContentDeleted:
		return v.SplitAt(n)
	default:
		panic(fmt.Sprintf("item: split of unsplittable content %T at %d", c, n))
	}
}

// sliceContentFrom returns the tail of the content starting at offset
// n. n == 0 returns the content unchanged.
func sliceContentFrom(c Content, n int) Content {
	if n == 0 {
		return c
	}
	_, right := splitContent(c, n)
	return right
}

// SliceFrom returns the tail of a splittable content starting at
// offset n. The codec uses it to emit run suffixes without touching
// the store.
func SliceFrom(c Content, n int) Content {
	return sliceContentFrom(c, n)
}
