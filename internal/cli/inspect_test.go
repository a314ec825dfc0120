package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftwork/weft"
)

func TestInspectValidUpdate(t *testing.T) {
	tmpDir := t.TempDir()
	doc := newTestDoc(t, 1)
	update := textUpdate(t, doc, "body", 0, "hello")
	path := writeUpdateFile(t, tmpDir, "state.update", update)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "item run(s)")
	assert.Contains(t, output, "state: 1:5")
	assert.Contains(t, output, "root=body")
	assert.Contains(t, output, "text len=5")
}

func TestInspectDeleteSpans(t *testing.T) {
	tmpDir := t.TempDir()
	doc := newTestDoc(t, 1)
	textUpdate(t, doc, "body", 0, "hello")

	txt, err := doc.Text("body")
	require.NoError(t, err)
	_, err = doc.Transact(func(tx *weft.Txn) error {
		return txt.Delete(tx, 0, 2)
	})
	require.NoError(t, err)

	path := writeUpdateFile(t, tmpDir, "state.update", fullState(t, doc))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err = cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "1 delete span(s)")
	assert.Contains(t, output, "delete 1:[0,2)")
}

func TestInspectDump(t *testing.T) {
	tmpDir := t.TempDir()
	doc := newTestDoc(t, 1)
	update := textUpdate(t, doc, "body", 0, "hi")
	path := writeUpdateFile(t, tmpDir, "state.update", update)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "--dump"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "codec.Update")
}

func TestInspectJSON(t *testing.T) {
	tmpDir := t.TempDir()
	doc := newTestDoc(t, 1)
	update := textUpdate(t, doc, "body", 0, "hello")
	path := writeUpdateFile(t, tmpDir, "state.update", update)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   InspectReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, len(update), resp.Data.Size)
	require.Len(t, resp.Data.Items, 1)
	assert.Equal(t, "1:0", resp.Data.Items[0].ID)
	assert.Equal(t, 5, resp.Data.Items[0].Len)
	assert.Equal(t, "body", resp.Data.Items[0].Root)
	assert.Empty(t, resp.Data.Deletes)
}

func TestInspectMalformedUpdate(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeUpdateFile(t, tmpDir, "junk.update", []byte{0xde, 0xad, 0xbe, 0xef})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode update")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInspectMissingFile(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/state.update"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read update file")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInspectEmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeUpdateFile(t, tmpDir, "empty.update", []byte{})

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is empty")
}

func TestInspectHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Decode")
	assert.Contains(t, output, "--dump")
}
