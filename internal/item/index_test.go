package item

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkIndex verifies every visible position against a mirror of the
// expected runes: lookup, content, and the position round-trip.
func checkIndex(t *testing.T, b *Branch, mirror []rune) {
	t.Helper()
	require.Equal(t, len(mirror), b.VisLen)
	require.Equal(t, string(mirror), seqText(b))
	for pos, want := range mirror {
		it, off, ok := b.FindVisible(pos)
		require.True(t, ok, "position %d", pos)
		got := []rune(it.Content.(*ContentText).Text)[off]
		assert.Equal(t, string(want), string(got), "position %d", pos)

		start, ok := b.PosOf(it)
		require.True(t, ok, "position %d", pos)
		assert.Equal(t, pos-off, start, "position %d", pos)
	}
}

func TestPosIndex_ManySingleRuneEdits(t *testing.T) {
	s, b, tx := newTextStore(t, "t")

	// Enough single-rune inserts to split chunks several times over.
	var mirror []rune
	for i := 0; i < 300; i++ {
		pos := (i*37 + 11) % (len(mirror) + 1)
		r := rune('a' + i%26)
		_, err := s.InsertSeq(tx, b, 1, pos, NewContentText(string(r)))
		require.NoError(t, err)
		mirror = append(mirror[:pos], append([]rune{r}, mirror[pos:]...)...)
	}
	checkIndex(t, b, mirror)

	for i := 0; i < 150; i++ {
		pos := (i*53 + 7) % len(mirror)
		require.NoError(t, s.DeleteSeq(tx, b, pos, 1))
		mirror = append(mirror[:pos], mirror[pos+1:]...)
	}
	checkIndex(t, b, mirror)
}

func TestPosIndex_SplitRunsTrackPositions(t *testing.T) {
	s, b, tx := newTextStore(t, "t")
	_, err := s.InsertSeq(tx, b, 1, 0, NewContentText("abcdefgh"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteSeq(tx, b, 2, 3))
	checkIndex(t, b, []rune("abfgh"))

	// Inserting at the tombstone boundary keeps positions consistent.
	_, err = s.InsertSeq(tx, b, 1, 2, NewContentText("XY"))
	require.NoError(t, err)
	checkIndex(t, b, []rune("abXYfgh"))
}

func TestPosIndex_FindVisibleBounds(t *testing.T) {
	s, b, tx := newTextStore(t, "t")

	_, _, ok := b.FindVisible(0)
	assert.False(t, ok, "an empty branch has no positions")

	_, err := s.InsertSeq(tx, b, 1, 0, NewContentText("ab"))
	require.NoError(t, err)

	_, _, ok = b.FindVisible(-1)
	assert.False(t, ok)
	_, _, ok = b.FindVisible(2)
	assert.False(t, ok, "positions are zero-based")
}
