package weft

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"

	"github.com/weftwork/weft/internal/item"
)

// contentHashDomain separates document hashes from any other sha256 use
// of the same bytes. Bump the version when the canonical form changes.
const contentHashDomain = "weft/doc/v1"

// CanonicalJSON renders the visible document state as deterministic
// JSON: converged replicas produce identical bytes regardless of local
// access patterns. Roots never written are omitted; object keys sort by
// UTF-16 code units; string values are NFC-normalized; floats use the
// shortest round-trip form. Formatting attributes are not part of the
// canonical form.
func (d *Doc) CanonicalJSON() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := d.store.RootNames()
	slices.SortFunc(names, compareUTF16)

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, name := range names {
		b, ok := d.store.RootBranch(name)
		if !ok || (b.Start == nil && len(b.Entries) == 0) {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		writeCanonicalString(&buf, name)
		buf.WriteByte(':')
		// Root kinds are not carried on the wire, so rendering must not
		// consult the local binding: a replica that never touched the
		// root typed would disagree with one that did.
		writeBranchCanonical(&buf, b, inferredKind(b))
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// ContentHash returns a hex sha256 over the domain-separated canonical
// form. Equal hashes mean equal visible state.
func (d *Doc) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(contentHashDomain))
	h.Write([]byte{0})
	h.Write(d.CanonicalJSON())
	return hex.EncodeToString(h.Sum(nil))
}

// inferredKind classifies a branch by its visible content alone. Every
// converged replica holds the same visible content, so the inference
// agrees everywhere. Branches with nothing visible stay unknown and
// render as null.
func inferredKind(b *item.Branch) item.RootKind {
	for _, it := range b.Entries {
		if it != nil && !it.Deleted {
			return item.KindMap
		}
	}
	for it := b.Start; it != nil; it = it.Right {
		if it.Deleted {
			continue
		}
		switch it.Content.(type) {
		case *item.ContentText:
			return item.KindText
		case *item.ContentValues, *item.ContentBranch:
			return item.KindArray
		}
	}
	return item.KindUnknown
}

// effectiveKind prefers the local binding and falls back to content
// inference for roots created by remote updates alone.
func effectiveKind(b *item.Branch) item.RootKind {
	if b.Kind != item.KindUnknown {
		return b.Kind
	}
	return inferredKind(b)
}

func writeBranchCanonical(buf *bytes.Buffer, b *item.Branch, kind item.RootKind) {
	switch kind {
	case item.KindText:
		writeCanonicalString(buf, norm.NFC.String(branchText(b)))
	case item.KindArray:
		writeArrayCanonical(buf, b)
	case item.KindMap:
		writeMapCanonical(buf, b)
	default:
		buf.WriteString("null")
	}
}

func writeArrayCanonical(buf *bytes.Buffer, b *item.Branch) {
	buf.WriteByte('[')
	first := true
	comma := func() {
		if !first {
			buf.WriteByte(',')
		}
		first = false
	}
	for it := b.Start; it != nil; it = it.Right {
		if it.Deleted {
			continue
		}
		switch c := it.Content.(type) {
		case *item.ContentValues:
			for _, v := range c.Values {
				comma()
				writeCanonicalValue(buf, v)
			}
		case *item.ContentBranch:
			comma()
			writeNestedCanonical(buf, c)
		case *item.ContentText:
			// Runes are the visible units, one element each.
			for _, r := range c.Text {
				comma()
				writeCanonicalString(buf, norm.NFC.String(string(r)))
			}
		}
	}
	buf.WriteByte(']')
}

func writeMapCanonical(buf *bytes.Buffer, b *item.Branch) {
	keys := make([]string, 0, len(b.Entries))
	for k, it := range b.Entries {
		if it != nil && !it.Deleted {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, compareUTF16)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeCanonicalString(buf, k)
		buf.WriteByte(':')
		it := b.Entries[k]
		switch c := it.Content.(type) {
		case *item.ContentValues:
			if len(c.Values) == 0 {
				buf.WriteString("null")
			} else {
				writeCanonicalValue(buf, c.Values[len(c.Values)-1])
			}
		case *item.ContentBranch:
			writeNestedCanonical(buf, c)
		case *item.ContentText:
			writeCanonicalString(buf, norm.NFC.String(c.Text))
		default:
			buf.WriteString("null")
		}
	}
	buf.WriteByte('}')
}

func writeNestedCanonical(buf *bytes.Buffer, cb *item.ContentBranch) {
	if cb.Branch == nil {
		buf.WriteString("null")
		return
	}
	// Nested kinds travel on the wire, so the binding is convergent.
	writeBranchCanonical(buf, cb.Branch, cb.Kind)
}

func writeCanonicalValue(buf *bytes.Buffer, v item.Value) {
	switch val := v.(type) {
	case item.VNull:
		buf.WriteString("null")
	case item.VBool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case item.VInt:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case item.VFloat:
		buf.WriteString(formatCanonicalFloat(float64(val)))
	case item.VString:
		writeCanonicalString(buf, norm.NFC.String(string(val)))
	case item.VBytes:
		writeCanonicalString(buf, base64.StdEncoding.EncodeToString(val))
	case item.VList:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalValue(buf, elem)
		}
		buf.WriteByte(']')
	case item.VObject:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, compareUTF16)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			writeCanonicalValue(buf, val[k])
		}
		buf.WriteByte('}')
	default:
		buf.WriteString("null")
	}
}

// formatCanonicalFloat renders the shortest form that round-trips.
// Negative zero collapses to "0" so sign-of-zero differences cannot
// split hashes.
func formatCanonicalFloat(f float64) string {
	if f == 0 {
		return "0"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// writeCanonicalString quotes s with the minimal escape set and no HTML
// escaping. Bytes pass through untouched above 0x1f, so the output is a
// pure function of the string's bytes.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			buf.WriteString(`\"`)
		case c == '\\':
			buf.WriteString(`\\`)
		case c == '\n':
			buf.WriteString(`\n`)
		case c == '\r':
			buf.WriteString(`\r`)
		case c == '\t':
			buf.WriteString(`\t`)
		case c < 0x20:
			fmt.Fprintf(buf, `\u%04x`, c)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
}

// compareUTF16 orders strings by UTF-16 code units, the order remote
// ecosystems sort object keys in, so canonical forms agree across
// implementations that share the convention.
func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	n := min(len(ua), len(ub))
	for i := 0; i < n; i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ua) < len(ub):
		return -1
	case len(ua) > len(ub):
		return 1
	default:
		return 0
	}
}
