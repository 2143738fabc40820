package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"medplum-mcp/internal/auth"
	"medplum-mcp/internal/fhir"
	"medplum-mcp/internal/mcpconst"
	"medplum-mcp/internal/metrics"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// DummyDocumentText is returned by the search and fetch stubs. Some clients
// (ChatGPT connectors) refuse to connect unless both tools exist.
const DummyDocumentText = "This is a dummy document used for testing purposes."

type ProvidedTool struct {
	tool    mcp.Tool
	handler server.ToolHandlerFunc
}

func (pt ProvidedTool) GetName() string {
	return pt.tool.Name
}

// body has no type so clients may send a JSON value or a JSON encoded string
var fhirRequestSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"method": {
			"type": "string",
			"description": "HTTP method: get, post, put, patch or delete"
		},
		"path": {
			"type": "string",
			"description": "FHIR path relative to the R4 base, for example Patient?name=Homer or Patient/123"
		},
		"body": {
			"description": "Request body for post, put and patch, as JSON or a JSON encoded string"
		}
	},
	"required": ["method", "path"]
}`)

// Provided returns the tools served for client, in registration order.
func Provided(client *fhir.Client, m *metrics.Metrics, logger zerolog.Logger) []ProvidedTool {
	return []ProvidedTool{
		{
			mcp.NewTool(mcpconst.ToolSearch,
				mcp.WithDescription("Search for documents"),
				mcp.WithString("query", mcp.Required(), mcp.Description("The search query")),
			), searchHandler(logger),
		},
		{
			mcp.NewTool(mcpconst.ToolFetch,
				mcp.WithDescription("Fetch a document by id"),
				mcp.WithString("id", mcp.Required(),
					mcp.Description("The ID of the resource to fetch, obtained from a search result.")),
			), fetchHandler(logger),
		},
		{
			mcp.NewToolWithRawSchema(mcpconst.ToolFHIRRequest,
				"Make a FHIR request to the Medplum server on behalf of the caller",
				fhirRequestSchema,
			), fhirRequestHandler(client, m),
		},
	}
}

// NewMCPServer builds an MCP server with every tool registered. Tool calls
// log through logger.
func NewMCPServer(name, version string, client *fhir.Client, m *metrics.Metrics, logger zerolog.Logger,
	opts ...server.ServerOption) *server.MCPServer {

	logger = logger.With().Str("component", "tools").Logger()
	opts = append([]server.ServerOption{
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(observe(m, logger)),
	}, opts...)

	s := server.NewMCPServer(name, version, opts...)
	for _, tp := range Provided(client, m, logger) {
		s.AddTool(tp.tool, tp.handler)
	}
	return s
}

// observe logs and counts every tool call.
func observe(m *metrics.Metrics, logger zerolog.Logger) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			start := time.Now()
			result, err := next(ctx, request)

			failed := err != nil || (result != nil && result.IsError)
			m.ObserveTool(request.Params.Name, failed)

			event := logger.Info()
			if failed {
				event = logger.Warn().Err(err)
			}
			event.Str("tool", request.Params.Name).
				Bool("failed", failed).
				Dur("duration", time.Since(start)).
				Msg("tool call")
			return result, err
		}
	}
}

// below are the handlers for the respective MCP tools

func searchHandler(logger zerolog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		logger.Debug().Str("query", query).Msg("performing search")
		return mcp.NewToolResultText(DummyDocumentText), nil
	}
}

func fetchHandler(logger zerolog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		logger.Debug().Str("id", id).Msg("performing fetch")
		return mcp.NewToolResultText(DummyDocumentText), nil
	}
}

func fhirRequestHandler(client *fhir.Client, m *metrics.Metrics) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		methodArg, err := request.RequireString("method")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		path, err := request.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		method, err := fhir.ParseMethod(methodArg)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		body, err := fhir.NormalizeBody(request.GetArguments()["body"])
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		info, ok := auth.FromContext(ctx)
		if !ok {
			return mcp.NewToolResultError(fhir.ErrMissingToken.Error()), nil
		}

		resp, err := client.Do(ctx, info.Token, method, path, body)
		if resp != nil {
			m.ObserveBackend(string(method), resp.StatusCode)
		} else if !errors.Is(err, fhir.ErrInvalidPath) && !errors.Is(err, fhir.ErrMissingToken) {
			m.ObserveBackend(string(method), 0)
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s %s failed: %v", method, path, err)), nil
		}

		// the link tells the caller which backend URL produced the text
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent(resp.Text()),
				mcp.NewResourceLink(resp.URL, path, fmt.Sprintf("%s %s", method, resp.URL), fhir.ContentTypeFHIR),
			},
		}, nil
	}
}
