package cli

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "boringtable", root.Name)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{"validate", "render", "get", "action"}
	for _, cmdName := range expectedCommands {
		assert.Contains(t, root.Subcommands, cmdName, "Expected subcommand %s to be registered", cmdName)
	}
	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	var buf bytes.Buffer
	root := NewRootCommandWithOutput(&buf)

	require.NoError(t, root.ExecuteArgs([]string{"--help"}))

	output := buf.String()
	assert.Contains(t, output, "Usage: boringtable <command> [args]")
	assert.Contains(t, output, "Commands:")
	// Sorted by name
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("action")), bytes.Index(buf.Bytes(), []byte("validate")))
}

func TestCommandExecute_NoArgs(t *testing.T) {
	var buf bytes.Buffer
	root := NewRootCommandWithOutput(&buf)

	oldArgs := os.Args
	os.Args = []string{"boringtable"}
	defer func() { os.Args = oldArgs }()

	assert.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "Usage:")
}

func TestCommandExecute_Unknown(t *testing.T) {
	root := NewRootCommandWithOutput(&bytes.Buffer{})
	err := root.ExecuteArgs([]string{"push"})
	require.Error(t, err)
	assert.Equal(t, "unknown command: push", err.Error())
}
