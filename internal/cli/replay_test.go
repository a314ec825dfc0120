package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: basic_convergence
description: Two replicas converge after syncing a single edit.
replicas:
  - alice
  - bob
steps:
  - op: text_insert
    replica: alice
    root: body
    index: 0
    text: hello
  - op: sync_all
assertions:
  - type: converged
  - type: text
    root: body
    equals: hello
`

const failingScenario = `name: failing_assertion
description: Text assertion expects content that is never written.
replicas:
  - alice
steps:
  - op: text_insert
    replica: alice
    root: body
    index: 0
    text: hello
assertions:
  - type: text
    root: body
    equals: goodbye
`

const malformedScenario = `name: broken
description: Missing assertions.
replicas:
  - alice
steps: []
`

func writeScenarioFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReplayAllPassing(t *testing.T) {
	tmpDir := t.TempDir()
	writeScenarioFile(t, tmpDir, "basic_convergence.yaml", passingScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{tmpDir})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ basic_convergence")
	assert.Contains(t, output, "Replay Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, output, "✓ All scenarios passed")
}

func TestReplayFailingScenario(t *testing.T) {
	tmpDir := t.TempDir()
	writeScenarioFile(t, tmpDir, "failing_assertion.yaml", failingScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{tmpDir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 scenario(s) failed")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	output := buf.String()
	assert.Contains(t, output, "✗ failing_assertion")
	assert.Contains(t, output, "Replay Summary: 0 passed, 1 failed, 1 total")
}

func TestReplayFilter(t *testing.T) {
	tmpDir := t.TempDir()
	writeScenarioFile(t, tmpDir, "basic_convergence.yaml", passingScenario)
	writeScenarioFile(t, tmpDir, "failing_assertion.yaml", failingScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{tmpDir, "--filter", "basic*"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "basic_convergence")
	assert.NotContains(t, output, "failing_assertion")
	assert.Contains(t, output, "1 total")
}

func TestReplayEmptyDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{tmpDir})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No scenario files found.")
}

func TestReplayMalformedScenario(t *testing.T) {
	tmpDir := t.TempDir()
	writeScenarioFile(t, tmpDir, "broken.yaml", malformedScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{tmpDir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load scenario")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayNonExistentDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/scenarios"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to find scenarios")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayJSON(t *testing.T) {
	tmpDir := t.TempDir()
	writeScenarioFile(t, tmpDir, "basic_convergence.yaml", passingScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{tmpDir})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 0, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "basic_convergence", resp.Data.Scenarios[0].Name)
	assert.True(t, resp.Data.Scenarios[0].Converged)
}

func TestReplayJSONFailure(t *testing.T) {
	tmpDir := t.TempDir()
	writeScenarioFile(t, tmpDir, "failing_assertion.yaml", failingScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{tmpDir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
		Error  *CLIError    `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeScenario, resp.Error.Code)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.False(t, resp.Data.Scenarios[0].Pass)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestReplayVerboseShowsHashes(t *testing.T) {
	tmpDir := t.TempDir()
	writeScenarioFile(t, tmpDir, "basic_convergence.yaml", passingScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", Verbose: true}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{tmpDir})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "alice: ")
	assert.Contains(t, output, "bob: ")
}

func TestReplayHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "scenario")
	assert.Contains(t, output, "--filter")
}
