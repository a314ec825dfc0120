package codec

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftwork/weft/internal/item"
)

func TestStateVector_RoundTrip(t *testing.T) {
	sv := item.StateVector{7: 3, 2: 12}
	got, err := DecodeStateVector(EncodeStateVector(sv))
	require.NoError(t, err)
	assert.True(t, got.Equal(sv))
}

func TestStateVector_EmptyIsOneByte(t *testing.T) {
	enc := EncodeStateVector(item.StateVector{})
	assert.Equal(t, []byte{0x00}, enc)

	got, err := DecodeStateVector(enc)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStateVector_SkipsZeroEntries(t *testing.T) {
	enc := EncodeStateVector(item.StateVector{1: 0, 2: 5})
	got, err := DecodeStateVector(enc)
	require.NoError(t, err)
	assert.Equal(t, item.StateVector{2: 5}, got)
}

func TestDecodeStateVector_Rejects(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		msg  string
	}{
		{"empty input", nil, "truncated state vector entry count"},
		{"trailing bytes", []byte{0x00, 0x00}, "trailing bytes after state vector"},
		{"descending replicas", []byte{0x02, 0x02, 0x05, 0x01, 0x03}, "not strictly ascending"},
		{"duplicate replicas", []byte{0x02, 0x01, 0x05, 0x01, 0x03}, "not strictly ascending"},
		{"zero clock", []byte{0x01, 0x01, 0x00}, "zero clock"},
		{"count exceeds input", []byte{0x7f}, "exceeds remaining input"},
		{"varint overflow", append(bytesRepeat(0xff, 9), 0x7f, 0x00), "overflows 64 bits"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeStateVector(tc.in)
			require.ErrorIs(t, err, ErrMalformedUpdate)
			assert.ErrorContains(t, err, tc.msg)
		})
	}
}

func bytesRepeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

// TestUpdate_RoundTrip drives the codec with store-produced runs:
// split runs, a tombstone, a format mark, map writes, a nested branch
// anchor, and an item parented on that anchor.
func TestUpdate_RoundTrip(t *testing.T) {
	s := item.NewStore()
	tb, err := s.Root("t", item.KindText)
	require.NoError(t, err)
	mb, err := s.Root("m", item.KindMap)
	require.NoError(t, err)
	tx := item.NewTxState(s)

	_, err = s.InsertSeq(tx, tb, 1, 0, item.NewContentText("hi")) // clocks 0..1
	require.NoError(t, err)
	left, right, err := s.SeqNeighbors(tb, 2)
	require.NoError(t, err)
	s.InsertBetween(tx, tb, 1, left, right, &item.ContentFormat{ // clock 2
		Key: "bold", Value: item.VBool(true),
	})

	zoo := []item.Value{
		item.VNull{},
		item.VBool(true),
		item.VInt(-42),
		item.VFloat(2.5),
		item.VString("s"),
		item.VBytes{1, 2},
		item.VList{item.VInt(1), item.VString("x")},
		item.VObject{"b": item.VNull{}, "a": item.VInt(1)},
	}
	s.SetMap(tx, mb, 1, "k", &item.ContentValues{Values: zoo}) // clocks 3..10
	anchor := s.SetMap(tx, mb, 1, "cfg", &item.ContentBranch{ // clock 11
		Kind: item.KindArray,
	})
	nested := anchor.Content.(*item.ContentBranch).Branch
	_, err = s.InsertSeq(tx, nested, 1, 0, &item.ContentValues{ // clock 12
		Values: []item.Value{item.VInt(1)},
	})
	require.NoError(t, err)
	require.NoError(t, s.DeleteSeq(tx, tb, 0, 1)) // tombstones "h"

	enc, err := EncodeUpdate(s.State(), s.RunsSince(item.StateVector{}), s.FullDeleteSet())
	require.NoError(t, err)
	dec, err := DecodeUpdate(enc)
	require.NoError(t, err)

	assert.True(t, dec.State.Equal(item.StateVector{1: 13}))
	assert.Equal(t, item.DeleteSet{1: {{Clock: 0, Len: 1}}}, dec.DS)
	require.Len(t, dec.Items, 6)

	byClock := make(map[uint64]*item.Item, len(dec.Items))
	for _, it := range dec.Items {
		require.Equal(t, uint64(1), it.ID.Replica)
		byClock[it.ID.Clock] = it
	}

	// Tombstoned run travels as a length-only placeholder.
	h := byClock[0]
	require.NotNil(t, h)
	assert.True(t, h.Deleted)
	assert.Equal(t, &item.ContentDeleted{Count: 1}, h.Content)
	assert.Equal(t, "t", h.ParentName)

	// The split run's right half originates from its left half and
	// carries no parent bytes.
	i := byClock[1]
	require.NotNil(t, i)
	require.NotNil(t, i.OriginLeft)
	assert.Equal(t, item.ID{Replica: 1, Clock: 0}, *i.OriginLeft)
	assert.Nil(t, i.OriginRight)
	assert.Empty(t, i.ParentName)
	assert.Equal(t, "i", i.Content.(*item.ContentText).Text)
	assert.False(t, i.Deleted)

	mark := byClock[2]
	require.NotNil(t, mark)
	fm := mark.Content.(*item.ContentFormat)
	assert.Equal(t, "bold", fm.Key)
	assert.True(t, item.EqualValue(item.VBool(true), fm.Value))

	kv := byClock[3]
	require.NotNil(t, kv)
	assert.Equal(t, "m", kv.ParentName)
	assert.Equal(t, "k", kv.ParentKey)
	got := kv.Content.(*item.ContentValues).Values
	require.Len(t, got, len(zoo))
	for j := range zoo {
		assert.True(t, item.EqualValue(zoo[j], got[j]), "value %d", j)
	}

	cfg := byClock[11]
	require.NotNil(t, cfg)
	assert.Equal(t, "cfg", cfg.ParentKey)
	assert.Equal(t, item.KindArray, cfg.Content.(*item.ContentBranch).Kind)

	nestedItem := byClock[12]
	require.NotNil(t, nestedItem)
	require.NotNil(t, nestedItem.ParentAnchor)
	assert.Equal(t, item.ID{Replica: 1, Clock: 11}, *nestedItem.ParentAnchor)
	assert.Empty(t, nestedItem.ParentName)
}

func TestEncodeUpdate_PartialRunSuffix(t *testing.T) {
	s := item.NewStore()
	b, err := s.Root("t", item.KindText)
	require.NoError(t, err)
	tx := item.NewTxState(s)
	run, err := s.InsertSeq(tx, b, 1, 0, item.NewContentText("hello"))
	require.NoError(t, err)

	enc, err := EncodeUpdate(s.State(), []item.RunRef{{It: run, Offset: 3}}, nil)
	require.NoError(t, err)
	dec, err := DecodeUpdate(enc)
	require.NoError(t, err)

	require.Len(t, dec.Items, 1)
	it := dec.Items[0]
	assert.Equal(t, item.ID{Replica: 1, Clock: 3}, it.ID)
	require.NotNil(t, it.OriginLeft)
	assert.Equal(t, item.ID{Replica: 1, Clock: 2}, *it.OriginLeft,
		"a suffix extends its own predecessor unit")
	assert.Equal(t, "lo", it.Content.(*item.ContentText).Text)
	assert.Equal(t, "hello", run.Content.(*item.ContentText).Text,
		"encoding a suffix never splits the stored run")
}

func TestEncodeUpdate_RejectsDeepValues(t *testing.T) {
	v := item.Value(item.VNull{})
	for i := 0; i < 129; i++ {
		v = item.VList{v}
	}
	run := item.RunRef{It: &item.Item{
		ID:         item.ID{Replica: 1, Clock: 0},
		ParentName: "r",
		Content:    &item.ContentValues{Values: []item.Value{v}},
	}}

	_, err := EncodeUpdate(item.StateVector{1: 1}, []item.RunRef{run}, nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "value nesting exceeds")
}

func TestDecodeUpdate_EmptyFrame(t *testing.T) {
	dec, err := DecodeUpdate([]byte{Version, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Empty(t, dec.State)
	assert.Empty(t, dec.Items)
	assert.Empty(t, dec.DS)
}

// frameWithItem wraps raw item bytes in a minimal valid frame: empty
// state vector, one item, empty delete set.
func frameWithItem(itemBytes ...byte) []byte {
	b := []byte{Version, 0x00, 0x01}
	b = append(b, itemBytes...)
	return append(b, 0x00)
}

// frameWithDS wraps raw delete-set bytes in a frame with no items.
func frameWithDS(dsBytes ...byte) []byte {
	b := []byte{Version, 0x00, 0x00}
	return append(b, dsBytes...)
}

// itemHead is an item prefix: replica 7, clock 0, no origin flags,
// parented on root "r".
func itemHead(flags byte) []byte {
	b := []byte{0x07, 0x00, flags, parentRoot, 0x01, 'r'}
	return b
}

func withContent(head []byte, content ...byte) []byte {
	return append(append([]byte{}, head...), content...)
}

func TestDecodeUpdate_Rejects(t *testing.T) {
	deepList := withContent(itemHead(0), contentValues, 0x01)
	for i := 0; i < 130; i++ {
		deepList = append(deepList, valueList, 0x01)
	}
	deepList = append(deepList, valueNull)

	cases := []struct {
		name string
		in   []byte
		msg  string
	}{
		{"empty input", nil, "truncated version tag"},
		{"unsupported version", []byte{0x7e}, "unsupported format version"},
		{"trailing bytes", []byte{Version, 0x00, 0x00, 0x00, 0xaa}, "trailing bytes after delete set"},
		{"item count exceeds input", []byte{Version, 0x00, 0x05}, "item count exceeds remaining input"},
		{"unknown flag bits",
			frameWithItem(0x07, 0x00, 0x80),
			"unknown item flag bits"},
		{"unknown parent kind",
			frameWithItem(0x07, 0x00, 0x00, 0x07),
			"unknown parent kind"},
		{"empty root name",
			frameWithItem(0x07, 0x00, 0x00, parentRoot, 0x00),
			"empty root name"},
		{"empty map key",
			frameWithItem(withContent(itemHead(flagMapKey), 0x00)...),
			"empty map key"},
		{"unknown content tag",
			frameWithItem(withContent(itemHead(0), 0x7a)...),
			"unknown content tag"},
		{"zero-length text run",
			frameWithItem(withContent(itemHead(0), contentText, 0x00)...),
			"zero-length text run"},
		{"invalid utf-8 text",
			frameWithItem(withContent(itemHead(0), contentText, 0x01, 0xff)...),
			"not valid UTF-8"},
		{"zero tombstone span",
			frameWithItem(withContent(itemHead(0), contentDeleted, 0x00)...),
			"zero-length tombstone span"},
		{"unknown branch kind",
			frameWithItem(withContent(itemHead(0), contentBranch, 0x04)...),
			"unknown branch kind"},
		{"zero branch kind",
			frameWithItem(withContent(itemHead(0), contentBranch, 0x00)...),
			"unknown branch kind"},
		{"empty format key",
			frameWithItem(withContent(itemHead(0), contentFormat, 0x00)...),
			"empty format key"},
		{"zero-length value run",
			frameWithItem(withContent(itemHead(0), contentValues, 0x00)...),
			"zero-length value run"},
		{"unknown value tag",
			frameWithItem(withContent(itemHead(0), contentValues, 0x01, 0x7b)...),
			"unknown value tag"},
		{"bool out of range",
			frameWithItem(withContent(itemHead(0), contentValues, 0x01, valueBool, 0x02)...),
			"bool value out of range"},
		{"truncated float",
			frameWithItem(withContent(itemHead(0), contentValues, 0x01, valueFloat, 0x01, 0x02)...),
			"truncated float value"},
		{"non-finite float",
			frameWithItem(withContent(itemHead(0), contentValues, 0x01, valueFloat,
				0x7f, 0xf8, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)...),
			"non-finite float value"},
		{"object keys out of order",
			frameWithItem(withContent(itemHead(0), contentValues, 0x01, valueObject, 0x02,
				0x01, 'b', valueNull, 0x01, 'a', valueNull)...),
			"object keys not strictly ascending"},
		{"value nesting too deep",
			frameWithItem(deepList...),
			"value nesting too deep"},
		{"delete spans not coalesced",
			frameWithDS(0x01, 0x01, 0x02, 0x00, 0x05, 0x03, 0x02),
			"delete spans overlap or are not coalesced"},
		{"zero-length delete span",
			frameWithDS(0x01, 0x01, 0x01, 0x00, 0x00),
			"zero-length delete span"},
		{"delete replicas out of order",
			frameWithDS(0x02, 0x02, 0x01, 0x00, 0x01, 0x01, 0x01, 0x00, 0x01),
			"not strictly ascending"},
		{"delete replica with no spans",
			frameWithDS(0x01, 0x01, 0x00),
			"delete set replica with no spans"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeUpdate(tc.in)
			require.ErrorIs(t, err, ErrMalformedUpdate)
			assert.ErrorContains(t, err, tc.msg)
		})
	}
}

func TestDecodeError_ReportsOffset(t *testing.T) {
	_, err := DecodeUpdate([]byte{Version, 0x00, 0x00, 0x00, 0xaa})
	require.Error(t, err)

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 4, de.Offset)
	assert.Equal(t, "malformed update at byte 4: trailing bytes after delete set", de.Error())
}

func TestDecodeUpdate_NeverPanicsOnJunk(t *testing.T) {
	// A few shapes that historically trip length-prefixed decoders.
	junk := [][]byte{
		{Version},
		{Version, 0xff},
		{Version, 0x00, 0x01, 0x07},
		{Version, 0x00, 0x01, 0x07, 0x00},
		{Version, 0x00, 0x01, 0x07, 0x00, 0x01},
		binary.AppendUvarint([]byte{Version, 0x00}, 1<<40),
	}
	for i, in := range junk {
		_, err := DecodeUpdate(in)
		assert.ErrorIs(t, err, ErrMalformedUpdate, "input %d", i)
	}
}
