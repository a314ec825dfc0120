package weft

import (
	"fmt"
	"math"

	"github.com/weftwork/weft/internal/item"
)

// Kind names the shared-type variants a root or nested handle can be.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindText
	KindArray
	KindMap
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// maxHostDepth bounds nested []any / map[string]any payloads at the
// conversion boundary, matching the codec's limit.
const maxHostDepth = 128

// toValue converts a host value into its replicated representation.
// Scalars, []byte, []any, and map[string]any are supported; shared-type
// handles are not values and must be caught by the caller first.
func toValue(v any) (item.Value, error) {
	return toValueDepth(v, 0)
}

func toValueDepth(v any, depth int) (item.Value, error) {
	if depth > maxHostDepth {
		return nil, fmt.Errorf("%w: nesting exceeds %d levels", ErrValueKind, maxHostDepth)
	}
	switch val := v.(type) {
	case nil:
		return item.VNull{}, nil
	case bool:
		return item.VBool(val), nil
	case int:
		return item.VInt(val), nil
	case int8:
		return item.VInt(val), nil
	case int16:
		return item.VInt(val), nil
	case int32:
		return item.VInt(val), nil
	case int64:
		return item.VInt(val), nil
	case uint:
		if uint64(val) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: uint %d overflows int64", ErrValueKind, val)
		}
		return item.VInt(val), nil
	case uint8:
		return item.VInt(val), nil
	case uint16:
		return item.VInt(val), nil
	case uint32:
		return item.VInt(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("%w: uint64 %d overflows int64", ErrValueKind, val)
		}
		return item.VInt(val), nil
	case float32:
		return toFloat(float64(val))
	case float64:
		return toFloat(val)
	case string:
		return item.VString(val), nil
	case []byte:
		out := make(item.VBytes, len(val))
		copy(out, val)
		return out, nil
	case []any:
		list := make(item.VList, 0, len(val))
		for _, elem := range val {
			ev, err := toValueDepth(elem, depth+1)
			if err != nil {
				return nil, err
			}
			list = append(list, ev)
		}
		return list, nil
	case map[string]any:
		obj := make(item.VObject, len(val))
		for k, elem := range val {
			ev, err := toValueDepth(elem, depth+1)
			if err != nil {
				return nil, err
			}
			obj[k] = ev
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrValueKind, v)
	}
}

func toFloat(f float64) (item.Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: non-finite float", ErrValueKind)
	}
	return item.VFloat(f), nil
}

// fromValue converts a replicated value back into host types: nil,
// bool, int64, float64, string, []byte, []any, map[string]any. Memory
// is never shared with the store.
func fromValue(v item.Value) any {
	switch val := v.(type) {
	case item.VNull:
		return nil
	case item.VBool:
		return bool(val)
	case item.VInt:
		return int64(val)
	case item.VFloat:
		return float64(val)
	case item.VString:
		return string(val)
	case item.VBytes:
		out := make([]byte, len(val))
		copy(out, val)
		return out
	case item.VList:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = fromValue(elem)
		}
		return out
	case item.VObject:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = fromValue(elem)
		}
		return out
	default:
		return nil
	}
}

// convertValues runs the pre-mutation phase of a multi-value insert:
// every element is either converted or recognized as an attachable
// handle, so a bad element fails the call before anything mutates.
type insertElem struct {
	value  item.Value
	handle handle
}

func convertValues(values []any) ([]insertElem, error) {
	out := make([]insertElem, 0, len(values))
	for _, v := range values {
		if h, ok := asHandle(v); ok {
			if h.isAttached() {
				return nil, ErrAlreadyAttached
			}
			if err := h.validateSeed(0); err != nil {
				return nil, err
			}
			out = append(out, insertElem{handle: h})
			continue
		}
		val, err := toValue(v)
		if err != nil {
			return nil, err
		}
		out = append(out, insertElem{value: val})
	}
	return out, nil
}

// handle is the store-facing face shared by Text, Array, and Map. The
// attach flow is: caller inserts a branch slot, bind points the handle
// at it, seedInto replays the preliminary contents inside the same
// transaction.
type handle interface {
	rootKind() item.RootKind
	isAttached() bool
	bind(d *Doc, b *item.Branch)
	validateSeed(depth int) error
	seedInto(tx *Txn) error
}

func asHandle(v any) (handle, bool) {
	switch h := v.(type) {
	case *Text:
		return h, h != nil
	case *Array:
		return h, h != nil
	case *Map:
		return h, h != nil
	default:
		return nil, false
	}
}
