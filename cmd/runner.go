package cmd

import (
	"bytes"
	"io"

	"github.com/spf13/cobra"
)

// CommandRunner executes cmd with its output and logs captured.
func CommandRunner(cmd *cobra.Command) (string, error) {

	b := bytes.NewBufferString("")
	cmd.SetOut(b)
	cmd.SetErr(b)

	err := cmd.Execute()
	out, readErr := io.ReadAll(b)
	if err != nil {
		return string(out), err
	}

	return string(out), readErr
}
