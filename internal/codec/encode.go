package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/weftwork/weft/internal/item"
)

// encoder is a growing byte buffer with varint primitives.
type encoder struct {
	buf []byte
}

func (e *encoder) byte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *encoder) uvarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

func (e *encoder) svarint(v int64) {
	e.buf = binary.AppendVarint(e.buf, v)
}

func (e *encoder) str(s string) {
	e.uvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) bytes(b []byte) {
	e.uvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) id(id item.ID) {
	e.uvarint(id.Replica)
	e.uvarint(id.Clock)
}

// EncodeStateVector renders a state vector in ascending replica order.
// The empty vector is the single byte 0x00.
func EncodeStateVector(sv item.StateVector) []byte {
	e := &encoder{}
	writeStateVector(e, sv)
	return e.buf
}

func writeStateVector(e *encoder, sv item.StateVector) {
	replicas := sv.Replicas()
	e.uvarint(uint64(len(replicas)))
	for _, r := range replicas {
		e.uvarint(r)
		e.uvarint(sv.Get(r))
	}
}

// EncodeUpdate renders one frame: the sender's state vector, the given
// item runs (already ordered by replica then clock), and the delete
// set. Tombstoned text and value runs travel as length-only
// placeholders; branch anchors and format marks keep their payload so
// receivers can still host nested content under them.
func EncodeUpdate(state item.StateVector, runs []item.RunRef, ds item.DeleteSet) ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, 64+len(runs)*16)}
	e.byte(Version)
	writeStateVector(e, state)

	e.uvarint(uint64(len(runs)))
	for _, run := range runs {
		if err := writeItem(e, run); err != nil {
			return nil, err
		}
	}

	ds.Normalize()
	replicas := ds.Replicas()
	e.uvarint(uint64(len(replicas)))
	for _, r := range replicas {
		spans := ds[r]
		e.uvarint(r)
		e.uvarint(uint64(len(spans)))
		for _, s := range spans {
			e.uvarint(s.Clock)
			e.uvarint(s.Len)
		}
	}
	return e.buf, nil
}

func writeItem(e *encoder, run item.RunRef) error {
	it := run.It
	clock := it.ID.Clock + uint64(run.Offset)

	originLeft := it.OriginLeft
	if run.Offset > 0 {
		// Suffix of a partially known run: it extends its own
		// predecessor unit.
		o := item.ID{Replica: it.ID.Replica, Clock: clock - 1}
		originLeft = &o
	}

	var flags byte
	if originLeft != nil {
		flags |= flagOriginLeft
	}
	if it.OriginRight != nil {
		flags |= flagOriginRight
	}
	if it.ParentKey != "" {
		flags |= flagMapKey
	}
	if it.Deleted {
		flags |= flagDeleted
	}

	e.uvarint(it.ID.Replica)
	e.uvarint(clock)
	e.byte(flags)
	if originLeft != nil {
		e.id(*originLeft)
	}
	if it.OriginRight != nil {
		e.id(*it.OriginRight)
	}
	if originLeft == nil && it.OriginRight == nil {
		if err := writeParent(e, it); err != nil {
			return err
		}
	}
	if it.ParentKey != "" {
		e.str(it.ParentKey)
	}
	return writeContent(e, it, run.Offset)
}

func writeParent(e *encoder, it *item.Item) error {
	b := it.Parent
	if b == nil {
		// Decoded-but-never-integrated items keep their wire hints.
		if it.ParentAnchor != nil {
			e.byte(parentItem)
			e.id(*it.ParentAnchor)
			return nil
		}
		e.byte(parentRoot)
		e.str(it.ParentName)
		return nil
	}
	if b.IsRoot() {
		e.byte(parentRoot)
		e.str(b.Name)
		return nil
	}
	if b.Anchor == nil {
		return fmt.Errorf("codec: nested branch without anchor")
	}
	e.byte(parentItem)
	e.id(b.Anchor.ID)
	return nil
}

func writeContent(e *encoder, it *item.Item, offset int) error {
	content := it.Content
	if offset > 0 {
		content = item.SliceFrom(content, offset)
	}
	switch c := content.(type) {
	case *item.ContentDeleted:
		e.byte(contentDeleted)
		e.uvarint(uint64(c.Count))
	case *item.ContentText:
		if it.Deleted {
			e.byte(contentDeleted)
			e.uvarint(uint64(c.Len()))
			return nil
		}
		e.byte(contentText)
		e.str(c.Text)
	case *item.ContentValues:
		if it.Deleted {
			e.byte(contentDeleted)
			e.uvarint(uint64(c.Len()))
			return nil
		}
		e.byte(contentValues)
		e.uvarint(uint64(len(c.Values)))
		for _, v := range c.Values {
			if err := writeValue(e, v, 0); err != nil {
				return err
			}
		}
	case *item.ContentBranch:
		e.byte(contentBranch)
		e.byte(byte(c.Kind))
	case *item.ContentFormat:
		e.byte(contentFormat)
		e.str(c.Key)
		return writeValue(e, c.Value, 0)
	default:
		return fmt.Errorf("codec: unencodable content %T", content)
	}
	return nil
}

func writeValue(e *encoder, v item.Value, depth int) error {
	if depth > maxValueDepth {
		return fmt.Errorf("codec: value nesting exceeds %d", maxValueDepth)
	}
	switch val := v.(type) {
	case item.VNull:
		e.byte(valueNull)
	case item.VBool:
		e.byte(valueBool)
		if val {
			e.byte(1)
		} else {
			e.byte(0)
		}
	case item.VInt:
		e.byte(valueInt)
		e.svarint(int64(val))
	case item.VFloat:
		e.byte(valueFloat)
		var fb [8]byte
		binary.BigEndian.PutUint64(fb[:], math.Float64bits(float64(val)))
		e.buf = append(e.buf, fb[:]...)
	case item.VString:
		e.byte(valueString)
		e.str(string(val))
	case item.VBytes:
		e.byte(valueBytes)
		e.bytes(val)
	case item.VList:
		e.byte(valueList)
		e.uvarint(uint64(len(val)))
		for _, elem := range val {
			if err := writeValue(e, elem, depth+1); err != nil {
				return err
			}
		}
	case item.VObject:
		e.byte(valueObject)
		e.uvarint(uint64(len(val)))
		for _, k := range sortedKeys(val) {
			e.str(k)
			if err := writeValue(e, val[k], depth+1); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("codec: unencodable value %T", v)
	}
	return nil
}

func sortedKeys(obj item.VObject) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	// Plain byte order; object payloads are opaque to merge semantics
	// and only need a deterministic encoding.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}
