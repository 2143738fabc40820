package mcpconst

const AuthorizationHeader = "Authorization"

// JsonRpcMethod is a typed string for JSON-RPC method names.
type JsonRpcMethod string

// Defines the standard JSON-RPC methods for MCP.
const (
	Initialize               JsonRpcMethod = "initialize"
	NotificationsInitialized JsonRpcMethod = "notifications/initialized"
	ToolsCall                JsonRpcMethod = "tools/call"
	ToolsList                JsonRpcMethod = "tools/list"
	Ping                     JsonRpcMethod = "ping"
)

// ProtocolVersion is what our client helpers announce on initialize.
const ProtocolVersion = "2025-06-18"

// Tool names exposed by the server.
const (
	ToolSearch      = "search"
	ToolFetch       = "fetch"
	ToolFHIRRequest = "fhir-request"
)

// Route paths.
const (
	StreamPath    = "/stream"
	SSEPath       = "/sse"
	WellKnownPath = "/.well-known"
	MetricsPath   = "/metrics"
)
