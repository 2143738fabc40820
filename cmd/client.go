package cmd

import (
	"context"
	"net/http"
	"time"

	"medplum-mcp/internal/jsonrpc"
	"medplum-mcp/internal/mcpconst"

	"github.com/spf13/cobra"
)

const defaultStreamURL = "http://localhost:8104" + mcpconst.StreamPath

var (
	clientURL     string
	clientToken   string
	clientTimeout time.Duration
)

// mcpClient speaks to a running server's streaming endpoint.
type mcpClient struct {
	url     string
	headers map[string]string
	http    *http.Client
}

func newMCPClient(url, token string, timeout time.Duration) *mcpClient {
	return &mcpClient{
		url:     url,
		headers: map[string]string{mcpconst.AuthorizationHeader: "Bearer " + token},
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *mcpClient) call(ctx context.Context, method mcpconst.JsonRpcMethod, params, result any) error {
	return jsonrpc.Call(ctx, c.http, c.url, method, params, c.headers, result)
}

// initialize runs the handshake every client starts with.
func (c *mcpClient) initialize(ctx context.Context) error {
	if err := c.call(ctx, mcpconst.Initialize, jsonrpc.InitializeParams(rootCmd.Name()), nil); err != nil {
		return err
	}
	return c.call(ctx, mcpconst.NotificationsInitialized, nil, nil)
}

func (c *mcpClient) callTool(ctx context.Context, name string, args map[string]any) (jsonrpc.ToolResult, error) {
	var result jsonrpc.ToolResult
	err := c.call(ctx, mcpconst.ToolsCall, map[string]any{"name": name, "arguments": args}, &result)
	return result, err
}

func (c *mcpClient) listTools(ctx context.Context) (jsonrpc.ToolList, error) {
	var list jsonrpc.ToolList
	err := c.call(ctx, mcpconst.ToolsList, nil, &list)
	return list, err
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&clientURL, "url", defaultStreamURL, "The streaming endpoint of the MCP server")
	cmd.Flags().StringVar(&clientToken, "token", "", "The Medplum access token to authenticate with")
	cmd.Flags().DurationVar(&clientTimeout, "timeout", 30*time.Second, "Timeout for each request")
	_ = cmd.MarkFlagRequired("token")
}
