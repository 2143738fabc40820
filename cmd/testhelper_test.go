package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// runSubCommand runs cmd until wait has passed, cancels it and returns
// everything it wrote.
func runSubCommand(t *testing.T, cmd *cobra.Command, wait time.Duration) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		cmd.SetContext(ctx)
		out, err := CommandRunner(cmd)
		done <- result{out, err}
	}()

	// give the command time to start
	time.Sleep(wait)
	cancel()

	var res result
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("command did not stop after cancel")
	}
	require.NoError(t, res.err, res.out)
	return res.out
}

// logLines decodes the JSON log lines in out. Anything else is skipped.
func logLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		lines = append(lines, entry)
	}
	require.NoError(t, sc.Err())
	return lines
}

func findLog(lines []map[string]any, message string) (map[string]any, bool) {
	for _, l := range lines {
		if l["message"] == message {
			return l, true
		}
	}
	return nil, false
}
