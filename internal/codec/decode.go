package codec

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/weftwork/weft/internal/item"
)

// decoder walks the input buffer. Every failure carries the byte
// offset it happened at and wraps ErrMalformedUpdate.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) fail(msg string) error {
	return &DecodeError{Offset: d.off, Msg: msg}
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) byte(what string) (byte, error) {
	if d.off >= len(d.buf) {
		return 0, d.fail("truncated " + what)
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *decoder) uvarint(what string) (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.off:])
	if n == 0 {
		return 0, d.fail("truncated " + what)
	}
	if n < 0 {
		return 0, d.fail(what + " overflows 64 bits")
	}
	d.off += n
	return v, nil
}

func (d *decoder) svarint(what string) (int64, error) {
	v, n := binary.Varint(d.buf[d.off:])
	if n == 0 {
		return 0, d.fail("truncated " + what)
	}
	if n < 0 {
		return 0, d.fail(what + " overflows 64 bits")
	}
	d.off += n
	return v, nil
}

// count reads a declared element count and rejects values that cannot
// fit in the remaining input (every element costs at least one byte).
func (d *decoder) count(what string) (int, error) {
	v, err := d.uvarint(what)
	if err != nil {
		return 0, err
	}
	if v > uint64(d.remaining()) {
		return 0, d.fail(what + " exceeds remaining input")
	}
	return int(v), nil
}

func (d *decoder) str(what string) (string, error) {
	n, err := d.uvarint(what + " length")
	if err != nil {
		return "", err
	}
	if n > uint64(d.remaining()) {
		return "", d.fail(what + " length exceeds remaining input")
	}
	s := string(d.buf[d.off : d.off+int(n)])
	d.off += int(n)
	if !utf8.ValidString(s) {
		return "", d.fail(what + " is not valid UTF-8")
	}
	return s, nil
}

func (d *decoder) rawBytes(what string) ([]byte, error) {
	n, err := d.uvarint(what + " length")
	if err != nil {
		return nil, err
	}
	if n > uint64(d.remaining()) {
		return nil, d.fail(what + " length exceeds remaining input")
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:d.off+int(n)])
	d.off += int(n)
	return out, nil
}

func (d *decoder) id(what string) (item.ID, error) {
	r, err := d.uvarint(what + " replica")
	if err != nil {
		return item.ID{}, err
	}
	c, err := d.uvarint(what + " clock")
	if err != nil {
		return item.ID{}, err
	}
	return item.ID{Replica: r, Clock: c}, nil
}

// DecodeStateVector parses a standalone state-vector frame. The single
// byte 0x00 is the empty vector. Trailing bytes reject the input.
func DecodeStateVector(data []byte) (item.StateVector, error) {
	d := &decoder{buf: data}
	sv, err := readStateVector(d)
	if err != nil {
		return nil, err
	}
	if d.off != len(d.buf) {
		return nil, d.fail("trailing bytes after state vector")
	}
	return sv, nil
}

func readStateVector(d *decoder) (item.StateVector, error) {
	n, err := d.count("state vector entry count")
	if err != nil {
		return nil, err
	}
	sv := make(item.StateVector, n)
	var prev uint64
	for i := 0; i < n; i++ {
		replica, err := d.uvarint("state vector replica")
		if err != nil {
			return nil, err
		}
		if i > 0 && replica <= prev {
			return nil, d.fail("state vector replicas not strictly ascending")
		}
		prev = replica
		clock, err := d.uvarint("state vector clock")
		if err != nil {
			return nil, err
		}
		if clock == 0 {
			return nil, d.fail("state vector entry with zero clock")
		}
		sv.Set(replica, clock)
	}
	return sv, nil
}

// DecodeUpdate parses a complete update frame without touching any
// store. Items keep their wire parent hints (ParentName/ParentAnchor)
// for the resolution step at integration time.
func DecodeUpdate(data []byte) (*Update, error) {
	d := &decoder{buf: data}

	version, err := d.byte("version tag")
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, d.fail("unsupported format version")
	}

	sv, err := readStateVector(d)
	if err != nil {
		return nil, err
	}

	count, err := d.count("item count")
	if err != nil {
		return nil, err
	}
	items := make([]*item.Item, 0, count)
	for i := 0; i < count; i++ {
		it, err := readItem(d)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}

	ds, err := readDeleteSet(d)
	if err != nil {
		return nil, err
	}

	if d.off != len(d.buf) {
		return nil, d.fail("trailing bytes after delete set")
	}
	return &Update{State: sv, Items: items, DS: ds}, nil
}

const knownFlags = flagOriginLeft | flagOriginRight | flagMapKey | flagDeleted

func readItem(d *decoder) (*item.Item, error) {
	id, err := d.id("item")
	if err != nil {
		return nil, err
	}
	flags, err := d.byte("item flags")
	if err != nil {
		return nil, err
	}
	if flags&^byte(knownFlags) != 0 {
		return nil, d.fail("unknown item flag bits")
	}

	it := &item.Item{ID: id}
	if flags&flagOriginLeft != 0 {
		o, err := d.id("origin-left")
		if err != nil {
			return nil, err
		}
		it.OriginLeft = &o
	}
	if flags&flagOriginRight != 0 {
		o, err := d.id("origin-right")
		if err != nil {
			return nil, err
		}
		it.OriginRight = &o
	}
	if it.OriginLeft == nil && it.OriginRight == nil {
		kind, err := d.byte("parent kind")
		if err != nil {
			return nil, err
		}
		switch kind {
		case parentRoot:
			name, err := d.str("root name")
			if err != nil {
				return nil, err
			}
			if name == "" {
				return nil, d.fail("empty root name")
			}
			it.ParentName = name
		case parentItem:
			anchor, err := d.id("parent anchor")
			if err != nil {
				return nil, err
			}
			it.ParentAnchor = &anchor
		default:
			return nil, d.fail("unknown parent kind")
		}
	}
	if flags&flagMapKey != 0 {
		key, err := d.str("map key")
		if err != nil {
			return nil, err
		}
		if key == "" {
			return nil, d.fail("empty map key")
		}
		it.ParentKey = key
	}

	if err := readContent(d, it); err != nil {
		return nil, err
	}
	if flags&flagDeleted != 0 {
		it.Deleted = true
	}
	return it, nil
}

func readContent(d *decoder, it *item.Item) error {
	tag, err := d.byte("content tag")
	if err != nil {
		return err
	}
	switch tag {
	case contentDeleted:
		n, err := d.uvarint("tombstone span")
		if err != nil {
			return err
		}
		if n == 0 {
			return d.fail("zero-length tombstone span")
		}
		if n > math.MaxInt32 {
			return d.fail("implausible tombstone span")
		}
		it.Content = &item.ContentDeleted{Count: int(n)}
		it.Deleted = true
	case contentText:
		s, err := d.str("text run")
		if err != nil {
			return err
		}
		if s == "" {
			return d.fail("zero-length text run")
		}
		it.Content = item.NewContentText(s)
	case contentValues:
		n, err := d.count("value count")
		if err != nil {
			return err
		}
		if n == 0 {
			return d.fail("zero-length value run")
		}
		values := make([]item.Value, 0, n)
		for i := 0; i < n; i++ {
			v, err := readValue(d, 0)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		it.Content = &item.ContentValues{Values: values}
	case contentBranch:
		kind, err := d.byte("branch kind")
		if err != nil {
			return err
		}
		if kind == 0 || kind > byte(item.KindMap) {
			return d.fail("unknown branch kind")
		}
		it.Content = &item.ContentBranch{Kind: item.RootKind(kind)}
	case contentFormat:
		key, err := d.str("format key")
		if err != nil {
			return err
		}
		if key == "" {
			return d.fail("empty format key")
		}
		v, err := readValue(d, 0)
		if err != nil {
			return err
		}
		it.Content = &item.ContentFormat{Key: key, Value: v}
	default:
		return d.fail("unknown content tag")
	}
	return nil
}

func readValue(d *decoder, depth int) (item.Value, error) {
	if depth > maxValueDepth {
		return nil, d.fail("value nesting too deep")
	}
	tag, err := d.byte("value tag")
	if err != nil {
		return nil, err
	}
	switch tag {
	case valueNull:
		return item.VNull{}, nil
	case valueBool:
		b, err := d.byte("bool value")
		if err != nil {
			return nil, err
		}
		if b > 1 {
			return nil, d.fail("bool value out of range")
		}
		return item.VBool(b == 1), nil
	case valueInt:
		v, err := d.svarint("int value")
		if err != nil {
			return nil, err
		}
		return item.VInt(v), nil
	case valueFloat:
		if d.remaining() < 8 {
			return nil, d.fail("truncated float value")
		}
		bits := binary.BigEndian.Uint64(d.buf[d.off:])
		d.off += 8
		f := math.Float64frombits(bits)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, d.fail("non-finite float value")
		}
		return item.VFloat(f), nil
	case valueString:
		s, err := d.str("string value")
		if err != nil {
			return nil, err
		}
		return item.VString(s), nil
	case valueBytes:
		b, err := d.rawBytes("bytes value")
		if err != nil {
			return nil, err
		}
		return item.VBytes(b), nil
	case valueList:
		n, err := d.count("list length")
		if err != nil {
			return nil, err
		}
		list := make(item.VList, 0, n)
		for i := 0; i < n; i++ {
			v, err := readValue(d, depth+1)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case valueObject:
		n, err := d.count("object size")
		if err != nil {
			return nil, err
		}
		obj := make(item.VObject, n)
		var prev string
		for i := 0; i < n; i++ {
			k, err := d.str("object key")
			if err != nil {
				return nil, err
			}
			if i > 0 && k <= prev {
				return nil, d.fail("object keys not strictly ascending")
			}
			prev = k
			v, err := readValue(d, depth+1)
			if err != nil {
				return nil, err
			}
			obj[k] = v
		}
		return obj, nil
	default:
		return nil, d.fail("unknown value tag")
	}
}

func readDeleteSet(d *decoder) (item.DeleteSet, error) {
	n, err := d.count("delete set replica count")
	if err != nil {
		return nil, err
	}
	ds := make(item.DeleteSet, n)
	var prevReplica uint64
	for i := 0; i < n; i++ {
		replica, err := d.uvarint("delete set replica")
		if err != nil {
			return nil, err
		}
		if i > 0 && replica <= prevReplica {
			return nil, d.fail("delete set replicas not strictly ascending")
		}
		prevReplica = replica
		m, err := d.count("delete span count")
		if err != nil {
			return nil, err
		}
		if m == 0 {
			return nil, d.fail("delete set replica with no spans")
		}
		spans := make([]item.ClockSpan, 0, m)
		var prevEnd uint64
		for j := 0; j < m; j++ {
			clock, err := d.uvarint("delete span clock")
			if err != nil {
				return nil, err
			}
			length, err := d.uvarint("delete span length")
			if err != nil {
				return nil, err
			}
			if length == 0 {
				return nil, d.fail("zero-length delete span")
			}
			if j > 0 && clock <= prevEnd {
				return nil, d.fail("delete spans overlap or are not coalesced")
			}
			spans = append(spans, item.ClockSpan{Clock: clock, Len: length})
			prevEnd = clock + length
		}
		ds[replica] = spans
	}
	return ds, nil
}
