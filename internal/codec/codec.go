// Package codec implements the binary update and state-vector formats.
//
// The frame is versioned (leading tag byte 0x01) and uses unsigned
// LEB128 varints for clocks, counts, and lengths. Layout:
//
//	update      := version stateVector itemTable deleteSet
//	stateVector := uvarint(n) {replica clock}×n          ascending replica
//	itemTable   := uvarint(count) item×count             replica, then clock
//	item        := replica clock flags [originLeft] [originRight]
//	               [parent] [key] content
//	deleteSet   := uvarint(n) {replica uvarint(m) {clock len}×m}×n
//
// A standalone state vector is the stateVector production alone; the
// empty vector is the single byte 0x00.
//
// Decoding fails closed: truncation, trailing bytes, unknown tags,
// and implausible declared sizes all reject the input with an error
// wrapping ErrMalformedUpdate before any store mutation happens.
package codec

import (
	"errors"
	"fmt"

	"github.com/weftwork/weft/internal/item"
)

// Format version tag of every frame this package writes.
const Version = 0x01

// ErrMalformedUpdate is the sentinel wrapped by every decode failure.
var ErrMalformedUpdate = errors.New("malformed update")

// DecodeError reports where in the input decoding failed.
type DecodeError struct {
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed update at byte %d: %s", e.Offset, e.Msg)
}

// Unwrap ties DecodeError into the ErrMalformedUpdate sentinel chain.
func (e *DecodeError) Unwrap() error {
	return ErrMalformedUpdate
}

// Update is a fully decoded frame. Items carry wire parent hints
// (ParentName/ParentAnchor) and are not yet integrated.
type Update struct {
	State item.StateVector
	Items []*item.Item
	DS    item.DeleteSet
}

// item flag bits.
const (
	flagOriginLeft  = 0x01
	flagOriginRight = 0x02
	flagMapKey      = 0x08
	flagDeleted     = 0x10
)

// parent kind bytes (present only when both origins are absent).
const (
	parentRoot = 0x00
	parentItem = 0x01
)

// content tags.
const (
	contentDeleted = 0x01
	contentValues  = 0x02
	contentText    = 0x03
	contentBranch  = 0x04
	contentFormat  = 0x05
)

// value tags.
const (
	valueNull   = 0x00
	valueBool   = 0x01
	valueInt    = 0x02
	valueFloat  = 0x03
	valueString = 0x04
	valueBytes  = 0x05
	valueList   = 0x06
	valueObject = 0x07
)

// maxValueDepth bounds nested list/object payloads so hostile input
// cannot overflow the decoder stack.
const maxValueDepth = 128
