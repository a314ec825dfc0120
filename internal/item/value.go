package item

import (
	"bytes"
	"fmt"
)

// Value is a sealed interface over the scalar payload kinds an item can
// carry. Only VNull, VBool, VInt, VFloat, VString, VBytes, VList, and
// VObject implement it. Nested shared types are never Values; they
// travel as ContentBranch so the merge engine can anchor them.
//
// The set is closed so the codec and the canonical encoder can switch
// exhaustively over every kind.
type Value interface {
	value() // sealed
}

// VNull represents an explicit null payload.
type VNull struct{}

func (VNull) value() {}

// VBool represents a boolean payload.
type VBool bool

func (VBool) value() {}

// VInt represents a signed 64-bit integer payload.
type VInt int64

func (VInt) value() {}

// VFloat represents a 64-bit float payload. NaN and infinities are
// rejected at conversion time; they have no canonical JSON form.
type VFloat float64

func (VFloat) value() {}

// VString represents a UTF-8 string payload.
type VString string

func (VString) value() {}

// VBytes represents an opaque binary payload.
type VBytes []byte

func (VBytes) value() {}

// VList represents a plain (non-replicated) list payload. Elements are
// Values; edits to a VList replace the whole slot.
type VList []Value

func (VList) value() {}

// VObject represents a plain (non-replicated) string-keyed payload.
type VObject map[string]Value

func (VObject) value() {}

// CloneValue returns a deep copy. Items never alias payload memory with
// callers; every value crossing the API boundary is cloned.
func CloneValue(v Value) Value {
	switch val := v.(type) {
	case VBytes:
		out := make(VBytes, len(val))
		copy(out, val)
		return out
	case VList:
		out := make(VList, len(val))
		for i, elem := range val {
			out[i] = CloneValue(elem)
		}
		return out
	case VObject:
		out := make(VObject, len(val))
		for k, elem := range val {
			out[k] = CloneValue(elem)
		}
		return out
	default:
		// Remaining kinds are immutable by value.
		return v
	}
}

// EqualValue reports deep structural equality of two values.
func EqualValue(a, b Value) bool {
	switch av := a.(type) {
	case VNull:
		_, ok := b.(VNull)
		return ok
	case VBool:
		bv, ok := b.(VBool)
		return ok && av == bv
	case VInt:
		bv, ok := b.(VInt)
		return ok && av == bv
	case VFloat:
		bv, ok := b.(VFloat)
		return ok && av == bv
	case VString:
		bv, ok := b.(VString)
		return ok && av == bv
	case VBytes:
		bv, ok := b.(VBytes)
		return ok && bytes.Equal(av, bv)
	case VList:
		bv, ok := b.(VList)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !EqualValue(av[i], bv[i]) {
				return false
			}
		}
		return true
	case VObject:
		bv, ok := b.(VObject)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, present := bv[k]
			if !present || !EqualValue(v, w) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ValueKindName returns a short name for error messages and dumps.
func ValueKindName(v Value) string {
	switch v.(type) {
	case VNull:
		return "null"
	case VBool:
		return "bool"
	case VInt:
		return "int"
	case VFloat:
		return "float"
	case VString:
		return "string"
	case VBytes:
		return "bytes"
	case VList:
		return "list"
	case VObject:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
