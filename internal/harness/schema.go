package harness

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// ValidateScenarioSchema unifies raw scenario YAML with the embedded
// CUE schema. Runs before strict struct decoding: CUE reports the
// offending field and constraint, where a decoder would only produce a
// type error.
func ValidateScenarioSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling scenario schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Scenario"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("looking up #Scenario: %w", err)
	}

	val := ctx.Encode(doc)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encoding scenario: %w", err)
	}

	unified := def.Unify(val)
	if err := unified.Err(); err != nil {
		return fmt.Errorf("schema mismatch: %w", err)
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema mismatch: %w", err)
	}
	return nil
}
