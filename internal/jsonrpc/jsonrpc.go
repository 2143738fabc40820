package jsonrpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"

	"medplum-mcp/internal/mcpconst"

	"github.com/sourcegraph/jsonrpc2"
)

// this allows us to leverage different ways to create the http Request, a normal
// network one or also a mock one for testing. we set headers and deal with the body
// the same either way in NewJSONRPCRequest()
type NewHttpRequester func(ctx context.Context, method string, url string, body io.Reader) (*http.Request, error)

// StatusError is returned by DoRequest when the server answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mcp server returned non-2xx status: %d: %s", e.StatusCode, e.Body)
}

// This function consolidates request manipulation for a JSONRPC request. it allows
// the caller to pass in the request constructor so we can use a mock in tests
func NewJSONRPCRequest(ctx context.Context, url string, jsonRpcMethod mcpconst.JsonRpcMethod, params any,
	additionalHeaders map[string]string, reqFunc NewHttpRequester) (*http.Request, error) {

	var rawParams *json.RawMessage
	if params != nil {
		paramsMsg, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		rawParams = (*json.RawMessage)(&paramsMsg)
	}

	isNotification := strings.HasPrefix(string(jsonRpcMethod), "notifications/")
	reqBody := &jsonrpc2.Request{
		Method: string(jsonRpcMethod),
		Params: rawParams,
		ID:     jsonrpc2.ID{Num: uint64(rand.Int63())},
		Notif:  isNotification,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error putting together jsonrpc request: %w", err)
	}

	req, err := reqFunc(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("problem creating new JSONRPC request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	for header, val := range additionalHeaders {
		req.Header.Set(header, val)
	}

	return req, nil
}

// DoRequest sends a JSON-RPC request and handles parsing the response, correctly
// interpreting both standard JSON and SSE (text/event-stream) formats.
func DoRequest(ctx context.Context, client *http.Client, req *http.Request) (*jsonrpc2.Response, *http.Response, error) {
	httpResp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to call mcp server: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, httpResp, &StatusError{StatusCode: httpResp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	respBody, err := ReadBody(httpResp.Header.Get("Content-Type"), httpResp.Body)
	if err != nil {
		return nil, httpResp, err
	}

	if len(respBody) == 0 {
		// notifications come back as 202 with an empty body
		return nil, httpResp, nil
	}

	var resp jsonrpc2.Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, httpResp, fmt.Errorf("failed to unmarshal mcp server response: %s", string(respBody))
	}

	return &resp, httpResp, nil
}

// ReadBody returns the JSON-RPC payload of a response body. For SSE it is the
// last "data:" line, otherwise the whole body.
func ReadBody(contentType string, body io.Reader) ([]byte, error) {
	if !strings.Contains(contentType, "text/event-stream") {
		b, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read mcp server response: %w", err)
		}
		return b, nil
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var lastData string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			lastData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mcp server SSE response: %w", err)
	}
	return []byte(lastData), nil
}

// Call posts one JSON-RPC request and unmarshals its result into resultPtr.
func Call(ctx context.Context, client *http.Client, url string, method mcpconst.JsonRpcMethod,
	params any, headers map[string]string, resultPtr any) error {

	httpReq, err := NewJSONRPCRequest(ctx, url, method, params, headers, http.NewRequestWithContext)
	if err != nil {
		return err
	}

	resp, _, err := DoRequest(ctx, client, httpReq)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	if resp.Error != nil {
		return fmt.Errorf("%s failed (code %d): %s", method, resp.Error.Code, resp.Error.Message)
	}
	if resultPtr == nil || resp.Result == nil {
		return nil
	}
	if err := json.Unmarshal(*resp.Result, resultPtr); err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return nil
}

// Content is one item of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// ToolResult is the part of a tools/call result the CLI and tests read.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text joins the text items of the result, one per line.
func (r ToolResult) Text() string {
	var texts []string
	for _, c := range r.Content {
		if c.Type == "text" {
			texts = append(texts, c.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ToolList is a tools/list result.
type ToolList struct {
	Tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	} `json:"tools"`
}

// InitializeParams builds the params of an initialize request for client.
func InitializeParams(client string) map[string]any {
	return map[string]any{
		"protocolVersion": mcpconst.ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": client, "version": "1.0.0"},
	}
}
