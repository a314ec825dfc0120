package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedSet builds a two-replica set, applies the steps, and snapshots
// the outcome so assertions can be evaluated directly.
func seedSet(t *testing.T, steps []Step) (*replicaSet, *Result) {
	t.Helper()

	scenario := &Scenario{
		Name:        "fixture",
		Description: "assertion fixture",
		Replicas:    []string{"r1", "r2"},
		Steps:       steps,
	}
	set := buildReplicas(scenario)
	for i := range steps {
		require.NoError(t, set.execute(&steps[i]), "step %d", i)
	}
	result := NewResult()
	set.snapshot(result)
	return set, result
}

func TestEvaluateAssertions_AllPass(t *testing.T) {
	set, result := seedSet(t, []Step{
		{Op: OpTextInsert, Replica: "r1", Root: "notes", Index: 0, Text: "hello"},
		{Op: OpMapSet, Replica: "r1", Root: "meta", Key: "n", Value: 3},
		{Op: OpMapSet, Replica: "r1", Root: "meta", Key: "obj", Value: map[string]any{"a": []any{1, 2}}},
		{Op: OpSyncAll},
	})

	assertions := []Assertion{
		{Type: AssertConverged},
		{Type: AssertText, Root: "notes", Equals: "hello"},
		{Type: AssertLength, Root: "notes", Count: 5},
		{Type: AssertKey, Root: "meta", Key: "n", Equals: 3},
		{Type: AssertKey, Root: "meta", Key: "obj", Equals: map[string]any{"a": []any{1, 2}}},
		{Type: AssertKeys, Root: "meta", Keys: []string{"n", "obj"}},
		{Type: AssertKeyAbsent, Root: "meta", Key: "zap"},
		{Type: AssertLength, Root: "meta", Count: 2},
	}

	errs := EvaluateAssertions(result, assertions, set)
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_TextMismatch(t *testing.T) {
	set, result := seedSet(t, []Step{
		{Op: OpTextInsert, Replica: "r1", Root: "notes", Index: 0, Text: "hello"},
		{Op: OpSyncAll},
	})

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertText, Root: "notes", Equals: "nope"},
	}, set)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "assertions[0]")
	assert.Contains(t, errs[0], "assertion failed: text")
	assert.Contains(t, errs[0], "on replica")
}

func TestEvaluateAssertions_ReplicaScope(t *testing.T) {
	set, result := seedSet(t, []Step{
		{Op: OpTextInsert, Replica: "r1", Root: "notes", Index: 0, Text: "hello"},
		{Op: OpSync, From: "r1", To: "r2"},
		{Op: OpTextInsert, Replica: "r2", Root: "notes", Index: 5, Text: " there"},
	})

	scoped := []Assertion{
		{Type: AssertText, Replica: "r1", Root: "notes", Equals: "hello"},
		{Type: AssertText, Replica: "r2", Root: "notes", Equals: "hello there"},
	}
	assert.Empty(t, EvaluateAssertions(result, scoped, set))

	unscoped := []Assertion{
		{Type: AssertText, Root: "notes", Equals: "hello"},
	}
	errs := EvaluateAssertions(result, unscoped, set)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "on replica r2")
}

func TestEvaluateAssertions_ConvergedFailure(t *testing.T) {
	set, result := seedSet(t, []Step{
		{Op: OpTextInsert, Replica: "r1", Root: "notes", Index: 0, Text: "a"},
	})
	require.False(t, result.Converged)

	errs := EvaluateAssertions(result, []Assertion{{Type: AssertConverged}}, set)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "assertion failed: converged")
	assert.Contains(t, errs[0], "hashes")
}

func TestEvaluateAssertions_KeyAbsentFailure(t *testing.T) {
	set, result := seedSet(t, []Step{
		{Op: OpMapSet, Replica: "r1", Root: "meta", Key: "n", Value: 3},
		{Op: OpSyncAll},
	})

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertKeyAbsent, Root: "meta", Key: "n"},
	}, set)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "present with")
}

func TestEvaluateAssertions_KeysMismatch(t *testing.T) {
	set, result := seedSet(t, []Step{
		{Op: OpMapSet, Replica: "r1", Root: "meta", Key: "a", Value: 1},
		{Op: OpMapSet, Replica: "r1", Root: "meta", Key: "b", Value: 2},
		{Op: OpSyncAll},
	})

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertKeys, Root: "meta", Keys: []string{"a"}},
	}, set)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "assertion failed: keys")
}

func TestEvaluateAssertions_UnknownRootLength(t *testing.T) {
	set, result := seedSet(t, nil)

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertLength, Root: "ghost", Count: 0},
	}, set)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown root "ghost"`)
}

func TestValuesMatch(t *testing.T) {
	tests := []struct {
		name string
		got  any
		want any
		ok   bool
	}{
		{"int64 vs int", int64(3), 3, true},
		{"int64 vs int64", int64(3), int64(3), true},
		{"float vs int", float64(3), 3, true},
		{"float vs float", 3.5, 3.5, true},
		{"string", "a", "a", true},
		{"bool", true, true, true},
		{"nil", nil, nil, true},
		{"list normalized", []any{int64(1), "x"}, []any{1, "x"}, true},
		{"map normalized", map[string]any{"k": int64(1)}, map[string]any{"k": 1}, true},
		{"int mismatch", int64(3), 4, false},
		{"string mismatch", "a", "b", false},
		{"nil vs string", nil, "a", false},
		{"list length", []any{int64(1)}, []any{1, 2}, false},
		{"map missing key", map[string]any{}, map[string]any{"k": 1}, false},
		{"type mismatch", "3", 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, valuesMatch(tt.got, tt.want))
		})
	}
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{Type: AssertText, Replica: "r1", Expected: "x", Actual: "y"}
	msg := err.Error()
	assert.Contains(t, msg, "assertion failed: text on replica r1")
	assert.Contains(t, msg, "Expected: x")
	assert.Contains(t, msg, "Actual: y")

	global := &AssertionError{Type: AssertConverged, Expected: "equal hashes", Actual: "split"}
	assert.NotContains(t, global.Error(), "on replica")
}
