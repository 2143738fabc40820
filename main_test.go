package main

import (
	"bytes"
	"medplum-mcp/cmd"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestHelpCommandSmoke tests that the --help command executes without errors
// and produces the expected output.
func TestHelpCommandSmoke(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"medplum-mcp", "--help"}

	// help goes to stdout, so swap it for a pipe
	r, w, _ := os.Pipe()
	oldStdout := os.Stdout
	os.Stdout = w

	cmd.Execute()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	buf.ReadFrom(r)

	assert.Contains(t, buf.String(), "Usage:")
	for _, sub := range []string{"serve", "call", "tools"} {
		assert.Contains(t, buf.String(), sub)
	}
}
