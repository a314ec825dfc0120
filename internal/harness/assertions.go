package harness

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/weftwork/weft"
)

// AssertionError is returned when an assertion fails.
// It includes per-replica context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Replica  string // Replica the assertion failed on; empty for converged
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s", e.Type)
	if e.Replica != "" {
		fmt.Fprintf(&buf, " on replica %s", e.Replica)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns failure
// messages. Assertions without a replica run against every replica.
func EvaluateAssertions(result *Result, assertions []Assertion, set *replicaSet) []string {
	var errs []string
	for i, assertion := range assertions {
		if err := evaluateAssertion(result, &assertion, set); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a *Assertion, set *replicaSet) error {
	if a.Type == AssertConverged {
		if !result.Converged {
			return &AssertionError{
				Type:     AssertConverged,
				Expected: "every replica reports the same content hash",
				Actual:   fmt.Sprintf("hashes %v", result.Hashes),
			}
		}
		return nil
	}

	names := set.names
	if a.Replica != "" {
		names = []string{a.Replica}
	}
	for _, name := range names {
		if err := evaluateOn(set.docs[name], name, a); err != nil {
			return err
		}
	}
	return nil
}

func evaluateOn(doc *weft.Doc, name string, a *Assertion) error {
	switch a.Type {
	case AssertText:
		txt, err := doc.Text(a.Root)
		if err != nil {
			return fmt.Errorf("replica %s: %w", name, err)
		}
		want, _ := a.Equals.(string)
		if got := txt.String(); got != want {
			return &AssertionError{
				Type:     AssertText,
				Replica:  name,
				Expected: fmt.Sprintf("root %q renders %q", a.Root, want),
				Actual:   fmt.Sprintf("%q", got),
			}
		}

	case AssertLength:
		got, err := rootLength(doc, a.Root)
		if err != nil {
			return fmt.Errorf("replica %s: %w", name, err)
		}
		if got != a.Count {
			return &AssertionError{
				Type:     AssertLength,
				Replica:  name,
				Expected: fmt.Sprintf("root %q has length %d", a.Root, a.Count),
				Actual:   fmt.Sprintf("length %d", got),
			}
		}

	case AssertKey:
		mp, err := doc.Map(a.Root)
		if err != nil {
			return fmt.Errorf("replica %s: %w", name, err)
		}
		got, ok := mp.Get(a.Key)
		if !ok {
			return &AssertionError{
				Type:     AssertKey,
				Replica:  name,
				Expected: fmt.Sprintf("root %q key %q holds %v", a.Root, a.Key, a.Equals),
				Actual:   "key absent",
			}
		}
		if !valuesMatch(got, a.Equals) {
			return &AssertionError{
				Type:     AssertKey,
				Replica:  name,
				Expected: fmt.Sprintf("root %q key %q holds %v", a.Root, a.Key, a.Equals),
				Actual:   fmt.Sprintf("%v", got),
			}
		}

	case AssertKeyAbsent:
		mp, err := doc.Map(a.Root)
		if err != nil {
			return fmt.Errorf("replica %s: %w", name, err)
		}
		if got, ok := mp.Get(a.Key); ok {
			return &AssertionError{
				Type:     AssertKeyAbsent,
				Replica:  name,
				Expected: fmt.Sprintf("root %q has no entry for %q", a.Root, a.Key),
				Actual:   fmt.Sprintf("present with %v", got),
			}
		}

	case AssertKeys:
		mp, err := doc.Map(a.Root)
		if err != nil {
			return fmt.Errorf("replica %s: %w", name, err)
		}
		got := mp.Keys()
		if !slices.Equal(got, a.Keys) {
			return &AssertionError{
				Type:     AssertKeys,
				Replica:  name,
				Expected: fmt.Sprintf("root %q has keys %v", a.Root, a.Keys),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

// rootLength resolves the root under its bound or inferred kind, so
// asserting a length never accidentally binds the root to a type.
func rootLength(doc *weft.Doc, root string) (int, error) {
	kind, ok := doc.RootKind(root)
	if !ok {
		return 0, fmt.Errorf("unknown root %q", root)
	}
	switch kind {
	case weft.KindText:
		txt, err := doc.Text(root)
		if err != nil {
			return 0, err
		}
		return txt.Len(), nil
	case weft.KindArray:
		arr, err := doc.Array(root)
		if err != nil {
			return 0, err
		}
		return arr.Len(), nil
	case weft.KindMap:
		mp, err := doc.Map(root)
		if err != nil {
			return 0, err
		}
		return mp.Len(), nil
	default:
		return 0, nil
	}
}

// valuesMatch compares a document value against a YAML-parsed expected
// value. YAML decodes integers as int while documents return int64, so
// numeric comparison crosses those representations.
func valuesMatch(got, want any) bool {
	switch w := want.(type) {
	case nil:
		return got == nil
	case int:
		return intMatches(got, int64(w))
	case int64:
		return intMatches(got, w)
	case float64:
		g, ok := got.(float64)
		return ok && g == w
	case string:
		g, ok := got.(string)
		return ok && g == w
	case bool:
		g, ok := got.(bool)
		return ok && g == w
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			return false
		}
		for i := range w {
			if !valuesMatch(g[i], w[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok || len(g) != len(w) {
			return false
		}
		for k, wv := range w {
			gv, present := g[k]
			if !present || !valuesMatch(gv, wv) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(got, want)
	}
}

func intMatches(got any, want int64) bool {
	switch g := got.(type) {
	case int64:
		return g == want
	case int:
		return int64(g) == want
	case float64:
		return g == float64(want)
	default:
		return false
	}
}
