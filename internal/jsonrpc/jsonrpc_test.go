package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"medplum-mcp/internal/mcpconst"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNewRequester(ctx context.Context, method string, url string, body io.Reader) (*http.Request, error) {
	return httptest.NewRequest(method, url, body).WithContext(ctx), nil
}

func TestNewJSONRPCRequest(t *testing.T) {
	assert := assert.New(t)

	headers := map[string]string{mcpconst.AuthorizationHeader: "Bearer abc"}
	req, err := NewJSONRPCRequest(context.Background(), "/stream", mcpconst.ToolsCall,
		map[string]any{"name": "search"}, headers, testNewRequester)
	require.NoError(t, err)

	assert.Equal(http.MethodPost, req.Method)
	assert.Equal("application/json", req.Header.Get("Content-Type"))
	assert.Equal("application/json, text/event-stream", req.Header.Get("Accept"))
	assert.Equal("Bearer abc", req.Header.Get(mcpconst.AuthorizationHeader))

	var body map[string]any
	require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	assert.Equal("2.0", body["jsonrpc"])
	assert.Equal("tools/call", body["method"])
	assert.Contains(body, "id")
	assert.Equal(map[string]any{"name": "search"}, body["params"])
}

func TestNewJSONRPCRequestNotificationHasNoID(t *testing.T) {
	req, err := NewJSONRPCRequest(context.Background(), "/stream", mcpconst.NotificationsInitialized,
		nil, nil, testNewRequester)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	assert.NotContains(t, body, "id")
	assert.NotContains(t, body, "params")
}

func TestReadBody(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{
			name:        "plain json",
			contentType: "application/json",
			body:        `{"jsonrpc":"2.0","id":1,"result":{}}`,
			want:        `{"jsonrpc":"2.0","id":1,"result":{}}`,
		},
		{
			name:        "sse takes last data line",
			contentType: "text/event-stream",
			body:        "event: message\ndata: {\"a\":1}\n\nevent: message\ndata: {\"b\":2}\n\n",
			want:        `{"b":2}`,
		},
		{
			name:        "sse without data",
			contentType: "text/event-stream",
			body:        ": keepalive\n\n",
			want:        "",
		},
		{
			name:        "empty",
			contentType: "",
			body:        "",
			want:        "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadBody(tt.contentType, strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestDoRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("X-Mode") {
		case "sse":
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":7,\"result\":{\"ok\":true}}\n\n")
		case "accepted":
			w.WriteHeader(http.StatusAccepted)
		case "denied":
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":7,"error":{"code":-32601,"message":"nope"}}`)
		}
	}))
	defer ts.Close()

	send := func(mode string) (*http.Request, error) {
		return NewJSONRPCRequest(context.Background(), ts.URL, mcpconst.Ping, nil,
			map[string]string{"X-Mode": mode}, http.NewRequestWithContext)
	}

	t.Run("sse", func(t *testing.T) {
		req, err := send("sse")
		require.NoError(t, err)
		resp, httpResp, err := DoRequest(context.Background(), ts.Client(), req)
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusOK, httpResp.StatusCode)
		assert.JSONEq(t, `{"ok":true}`, string(*resp.Result))
	})

	t.Run("accepted", func(t *testing.T) {
		req, err := send("accepted")
		require.NoError(t, err)
		resp, _, err := DoRequest(context.Background(), ts.Client(), req)
		require.NoError(t, err)
		assert.Nil(t, resp)
	})

	t.Run("status error", func(t *testing.T) {
		req, err := send("denied")
		require.NoError(t, err)
		_, _, err = DoRequest(context.Background(), ts.Client(), req)
		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
		assert.Equal(t, "Unauthorized", statusErr.Body)
	})

	t.Run("rpc error", func(t *testing.T) {
		err := Call(context.Background(), ts.Client(), ts.URL, mcpconst.Ping, nil, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope")
		assert.Contains(t, err.Error(), "-32601")
	})
}

func TestToolResultText(t *testing.T) {
	assert := assert.New(t)

	r := ToolResult{Content: []Content{{Type: "text", Text: "a"}, {Type: "image"}, {Type: "text", Text: "b"}}}
	assert.Equal("a\nb", r.Text())
	assert.Equal("", ToolResult{}.Text())
}
