package cmd

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"medplum-mcp/internal/config"
	"medplum-mcp/internal/mcpconst"
	"medplum-mcp/internal/server"
	"medplum-mcp/internal/tools"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/fhir+json")
		_, _ = w.Write([]byte(`{"resourceType":"Patient","id":"123"}`))
	}))
	t.Cleanup(backend.Close)

	u, err := url.Parse(backend.URL)
	require.NoError(t, err)
	s, err := server.New(config.Config{BaseURL: u, GracefulShutdownTimeout: time.Second}, server.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts.URL + mcpconst.StreamPath
}

func TestCallCommand(t *testing.T) {
	assert := assert.New(t)
	endpoint := startServer(t)

	rootCmd.SetArgs([]string{"call", "search", "--url", endpoint, "--token", "tok", "--args", `{"query":"homer"}`})
	out, err := CommandRunner(rootCmd)
	require.NoError(t, err)
	assert.Contains(out, tools.DummyDocumentText)

	rootCmd.SetArgs([]string{"call", mcpconst.ToolFHIRRequest, "--url", endpoint, "--token", "tok",
		"--args", `{"method":"get","path":"Patient/123"}`})
	out, err = CommandRunner(rootCmd)
	require.NoError(t, err)
	assert.Contains(out, `{"resourceType":"Patient","id":"123"}`)
}

func TestCallCommandErrors(t *testing.T) {
	endpoint := startServer(t)

	tests := []struct {
		name     string
		args     []string
		contains string
	}{
		{"bad args", []string{"call", "search", "--url", endpoint, "--token", "tok", "--args", "[1"}, "--args must be a JSON object"},
		{"tool error", []string{"call", mcpconst.ToolFHIRRequest, "--url", endpoint, "--token", "tok", "--args", `{"method":"head","path":"Patient"}`}, "unsupported method"},
		{"rejected token", []string{"call", "search", "--url", endpoint, "--token", "", "--args", `{"query":"x"}`}, "401"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rootCmd.SetArgs(tt.args)
			_, err := CommandRunner(rootCmd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestToolsCommand(t *testing.T) {
	endpoint := startServer(t)

	rootCmd.SetArgs([]string{"tools", "--url", endpoint, "--token", "tok"})
	out, err := CommandRunner(rootCmd)
	require.NoError(t, err)
	for _, name := range []string{mcpconst.ToolSearch, mcpconst.ToolFetch, mcpconst.ToolFHIRRequest} {
		assert.Contains(t, out, name)
	}
}
