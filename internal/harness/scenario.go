package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario defines a multi-replica convergence scenario. Replicas edit
// concurrently, exchange updates at the sync points the steps name, and
// the assertions pin down the merged outcome.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Replicas names the participating documents. Replica IDs are
	// assigned by list position (1, 2, ...), so tie-breaks are stable
	// across runs.
	Replicas []string `yaml:"replicas"`

	// Steps are executed in order, each edit in its own transaction.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state of every replica.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is a single edit or sync action.
type Step struct {
	// Op selects the operation. Edit ops: text_insert, text_delete,
	// text_format, array_insert, array_push, array_delete, map_set,
	// map_set_map, map_delete. Sync ops: sync (from/to), sync_all.
	Op string `yaml:"op"`

	// Replica is the acting document (edit ops).
	Replica string `yaml:"replica,omitempty"`

	// Root is the shared type the edit targets (edit ops).
	Root string `yaml:"root,omitempty"`

	Index  int    `yaml:"index,omitempty"`
	Length int    `yaml:"length,omitempty"`
	Text   string `yaml:"text,omitempty"`
	Key    string `yaml:"key,omitempty"`

	// Value is the payload for map_set.
	Value any `yaml:"value,omitempty"`

	// Values is the payload for array_insert and array_push.
	Values []any `yaml:"values,omitempty"`

	// Attrs carries formatting attributes for text_format.
	Attrs map[string]any `yaml:"attrs,omitempty"`

	// Entries seeds the nested map for map_set_map.
	Entries map[string]any `yaml:"entries,omitempty"`

	// From and To name the sender and receiver for sync.
	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`
}

// Assertion validates final replica state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "converged": every replica reports the same content hash
	// - "text": text root renders the expected string
	// - "length": root has the expected visible length
	// - "key": map root holds the expected value under key
	// - "key_absent": map root has no visible entry under key
	// - "keys": map root's visible keys equal the expected list
	Type string `yaml:"type"`

	// Replica scopes the assertion; empty means every replica.
	Replica string `yaml:"replica,omitempty"`

	// Root is the shared type under test (all types except converged).
	Root string `yaml:"root,omitempty"`

	// Key is the map key (key, key_absent).
	Key string `yaml:"key,omitempty"`

	// Equals is the expected value (text, key).
	Equals any `yaml:"equals,omitempty"`

	// Count is the expected length (length).
	Count int `yaml:"count,omitempty"`

	// Keys is the expected sorted key list (keys).
	Keys []string `yaml:"keys,omitempty"`
}

// Assertion type constants.
const (
	AssertConverged = "converged"
	AssertText      = "text"
	AssertLength    = "length"
	AssertKey       = "key"
	AssertKeyAbsent = "key_absent"
	AssertKeys      = "keys"
)

// Edit and sync op constants.
const (
	OpTextInsert  = "text_insert"
	OpTextDelete  = "text_delete"
	OpTextFormat  = "text_format"
	OpArrayInsert = "array_insert"
	OpArrayPush   = "array_push"
	OpArrayDelete = "array_delete"
	OpMapSet      = "map_set"
	OpMapSetMap   = "map_set_map"
	OpMapDelete   = "map_delete"
	OpSync        = "sync"
	OpSyncAll     = "sync_all"
)

var editOps = []string{
	OpTextInsert, OpTextDelete, OpTextFormat,
	OpArrayInsert, OpArrayPush, OpArrayDelete,
	OpMapSet, OpMapSetMap, OpMapDelete,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), fails schema validation, or is missing
// required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML bytes. Validation runs in three
// layers: the CUE schema pins the structure, strict YAML decoding
// catches typos, and semantic validation checks cross-references.
func ParseScenario(data []byte) (*Scenario, error) {
	if err := ValidateScenarioSchema(data); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks semantic constraints the schema cannot see:
// replica references, per-op required fields, duplicate names.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	seen := make(map[string]bool, len(s.Replicas))
	for i, name := range s.Replicas {
		if name == "" {
			return fmt.Errorf("replicas[%d]: name must be non-empty", i)
		}
		if seen[name] {
			return fmt.Errorf("replicas[%d]: duplicate replica %q", i, name)
		}
		seen[name] = true
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step, seen); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, seen); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step, replicas map[string]bool) error {
	switch {
	case slices.Contains(editOps, st.Op):
		if st.Replica == "" {
			return fmt.Errorf("steps[%d]: replica is required for %s", index, st.Op)
		}
		if !replicas[st.Replica] {
			return fmt.Errorf("steps[%d]: unknown replica %q", index, st.Replica)
		}
		if st.Root == "" {
			return fmt.Errorf("steps[%d]: root is required for %s", index, st.Op)
		}
	case st.Op == OpSync:
		if st.From == "" || st.To == "" {
			return fmt.Errorf("steps[%d]: sync requires from and to", index)
		}
		if !replicas[st.From] {
			return fmt.Errorf("steps[%d]: unknown replica %q", index, st.From)
		}
		if !replicas[st.To] {
			return fmt.Errorf("steps[%d]: unknown replica %q", index, st.To)
		}
		if st.From == st.To {
			return fmt.Errorf("steps[%d]: sync from and to must differ", index)
		}
	case st.Op == OpSyncAll:
		// No fields.
	case st.Op == "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}

	switch st.Op {
	case OpTextInsert:
		if st.Text == "" {
			return fmt.Errorf("steps[%d]: text is required for text_insert", index)
		}
	case OpTextFormat:
		if len(st.Attrs) == 0 {
			return fmt.Errorf("steps[%d]: attrs is required for text_format", index)
		}
	case OpArrayInsert, OpArrayPush:
		if len(st.Values) == 0 {
			return fmt.Errorf("steps[%d]: values is required for %s", index, st.Op)
		}
	case OpMapSet, OpMapDelete:
		if st.Key == "" {
			return fmt.Errorf("steps[%d]: key is required for %s", index, st.Op)
		}
	case OpMapSetMap:
		if st.Key == "" {
			return fmt.Errorf("steps[%d]: key is required for map_set_map", index)
		}
		if st.Entries == nil {
			return fmt.Errorf("steps[%d]: entries is required for map_set_map (use empty map for an empty container)", index)
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion, replicas map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Replica != "" && !replicas[a.Replica] {
		return fmt.Errorf("assertions[%d]: unknown replica %q", index, a.Replica)
	}

	switch a.Type {
	case AssertConverged:
		// No fields.
	case AssertText:
		if a.Root == "" {
			return fmt.Errorf("assertions[%d]: root is required for text", index)
		}
		if _, ok := a.Equals.(string); !ok {
			return fmt.Errorf("assertions[%d]: equals must be a string for text", index)
		}
	case AssertLength:
		if a.Root == "" {
			return fmt.Errorf("assertions[%d]: root is required for length", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for length", index)
		}
	case AssertKey:
		if a.Root == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: root and key are required for key", index)
		}
	case AssertKeyAbsent:
		if a.Root == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: root and key are required for key_absent", index)
		}
	case AssertKeys:
		if a.Root == "" {
			return fmt.Errorf("assertions[%d]: root is required for keys", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
