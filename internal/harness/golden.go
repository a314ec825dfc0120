package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot captures the outcome of a scenario run for golden-file
// comparison. State holds the canonical JSON of the first replica;
// when the run converged it is identical on every replica.
type Snapshot struct {
	Scenario  string `json:"scenario"`
	Converged bool   `json:"converged"`
	State     string `json:"state"`
}

// RunWithGolden executes a scenario and compares the outcome against
// the golden file at testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Assertion failures recorded in the result are not checked here; the
// caller inspects result.Pass separately.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares a result against the scenario's golden file.
// Useful when the caller already ran the scenario and wants to check
// the outcome without re-running it.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	snapshot := Snapshot{
		Scenario:  scenario.Name,
		Converged: result.Converged,
		State:     result.States[scenario.Replicas[0]],
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)

	return nil
}
