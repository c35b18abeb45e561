// Package mcp serves the tool catalog over JSON-RPC: the method router, the
// stdio and HTTP transports, and the mcp-go streamable endpoint.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bobmcallan/openapi-mcp/internal/common"
	"github.com/bobmcallan/openapi-mcp/internal/dispatch"
	"github.com/bobmcallan/openapi-mcp/internal/openapi"
)

// JSON-RPC error codes used by the router.
const (
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// ToolDispatcher executes a tool call.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, toolName string, args map[string]any) (*dispatch.Result, error)
}

// RPCRecorder observes handled JSON-RPC messages.
type RPCRecorder interface {
	ObserveRPC(method, outcome string)
}

type nopRPCRecorder struct{}

func (nopRPCRecorder) ObserveRPC(string, string) {}

type nopDispatchRecorder struct{}

func (nopDispatchRecorder) ObserveDispatch(string, string, time.Duration) {}

// Request is a JSON-RPC 2.0 request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the message carries no id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a Response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    map[string]any     `json:"capabilities"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// RouterOptions configures a Router.
type RouterOptions struct {
	ServerName      string
	ServerVersion   string
	ProtocolVersion string
	Tools           []openapi.Tool
	// ToolErrors holds the operations that were left out of the catalog,
	// keyed by tool name.
	ToolErrors map[string]error
	Dispatcher ToolDispatcher
	// Validator checks arguments against input schemas; nil disables it.
	Validator *Validator
	Recorder  RPCRecorder
	// DispatchRecorder sees calls refused before dispatch.
	DispatchRecorder dispatch.Recorder
	Logger           *common.Logger
}

// Router answers initialize, ping, tools/list and tools/call. It holds no
// mutable state and is safe for concurrent use.
type Router struct {
	info            mcp.Implementation
	protocolVersion string
	tools           []mcp.Tool
	toolErrors      map[string]error
	dispatcher      ToolDispatcher
	validator       *Validator
	recorder        RPCRecorder
	refusals        dispatch.Recorder
	logger          *common.Logger
}

// NewRouter builds the wire form of every catalog tool once.
func NewRouter(opts RouterOptions) *Router {
	tools := make([]mcp.Tool, 0, len(opts.Tools))
	for _, t := range opts.Tools {
		tools = append(tools, BuildMCPTool(t))
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRPCRecorder{}
	}
	refusals := opts.DispatchRecorder
	if refusals == nil {
		refusals = nopDispatchRecorder{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Router{
		info:            mcp.Implementation{Name: opts.ServerName, Version: opts.ServerVersion},
		protocolVersion: opts.ProtocolVersion,
		tools:           tools,
		toolErrors:      opts.ToolErrors,
		dispatcher:      opts.Dispatcher,
		validator:       opts.Validator,
		recorder:        recorder,
		refusals:        refusals,
		logger:          logger,
	}
}

// Tools returns the catalog in wire form.
func (r *Router) Tools() []mcp.Tool {
	return r.tools
}

// Info returns the server identity sent in initialize.
func (r *Router) Info() mcp.Implementation {
	return r.info
}

// ProtocolVersion returns the protocol version sent in initialize.
func (r *Router) ProtocolVersion() string {
	return r.protocolVersion
}

// knownMethods are the methods recorded under their own metric label.
var knownMethods = map[string]bool{
	"initialize":                true,
	"ping":                      true,
	"tools/list":                true,
	"tools/call":                true,
	"notifications/initialized": true,
	"notifications/cancelled":   true,
}

// methodLabel bounds metric labels to methods the server knows.
func methodLabel(method string) string {
	if knownMethods[method] {
		return method
	}
	return "unknown"
}

// Handle processes one raw JSON-RPC message. It returns nil for
// notifications, which get no response.
func (r *Router) Handle(ctx context.Context, raw []byte) (resp *Response) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		r.recorder.ObserveRPC("invalid", "internal_error")
		r.logger.Warn().Str("error", err.Error()).Msg("Malformed JSON-RPC message")
		return errorResponse(extractID(raw), CodeInternalError, "Internal error: "+err.Error())
	}

	if req.IsNotification() {
		r.recorder.ObserveRPC(methodLabel(req.Method), "notification")
		r.logger.Debug().Str("method", req.Method).Msg("Notification received")
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			r.recorder.ObserveRPC(methodLabel(req.Method), "internal_error")
			r.logger.Error().
				Str("method", req.Method).
				Str("panic", fmt.Sprintf("%v", p)).
				Str("stack", string(debug.Stack())).
				Msg("Panic while handling JSON-RPC request")
			resp = errorResponse(req.ID, CodeInternalError, fmt.Sprintf("Internal error: %v", p))
		}
	}()

	r.logger.Debug().Str("method", req.Method).Msg("JSON-RPC request")

	switch req.Method {
	case "initialize":
		r.recorder.ObserveRPC(methodLabel(req.Method), "ok")
		return resultResponse(req.ID, initializeResult{
			ProtocolVersion: r.protocolVersion,
			Capabilities:    map[string]any{"tools": map[string]any{}},
			ServerInfo:      r.info,
		})

	case "ping":
		r.recorder.ObserveRPC(methodLabel(req.Method), "ok")
		return resultResponse(req.ID, map[string]any{})

	case "tools/list":
		r.recorder.ObserveRPC(methodLabel(req.Method), "ok")
		return resultResponse(req.ID, mcp.ListToolsResult{Tools: r.tools})

	case "tools/call":
		var params callParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				r.recorder.ObserveRPC(methodLabel(req.Method), "internal_error")
				return errorResponse(req.ID, CodeInternalError, "Internal error: invalid params: "+err.Error())
			}
		}
		result := r.CallTool(ctx, params.Name, params.Arguments)
		outcome := "ok"
		if result.IsError {
			outcome = "tool_error"
		}
		r.recorder.ObserveRPC(methodLabel(req.Method), outcome)
		return resultResponse(req.ID, result)

	default:
		r.recorder.ObserveRPC(methodLabel(req.Method), "method_not_found")
		return errorResponse(req.ID, CodeMethodNotFound, "Method not found: "+req.Method)
	}
}

// CallTool validates (when enabled) and dispatches one tool call. Every
// failure becomes an error result rather than a Go error.
func (r *Router) CallTool(ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	if r.validator != nil {
		if err, broken := r.toolErrors[name]; broken {
			r.refusals.ObserveDispatch(name, "schema_error", 0)
			return errorResult(dispatch.SchemaError(name, err).Error())
		}
		if violations := r.validator.Validate(name, args); len(violations) > 0 {
			r.logger.Warn().Str("tool", name).Int("violations", len(violations)).Msg("Tool arguments failed validation")
			return errorResult(invalidArgumentsText(violations))
		}
	}

	if r.dispatcher == nil {
		return errorResult("Error: no dispatcher configured")
	}
	result, err := r.dispatcher.Dispatch(ctx, name, args)
	if err != nil {
		return errorResult(err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(result.Text())},
	}
}

// errorResult creates an MCP error result.
func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(message)},
		IsError: true,
	}
}

func resultResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) *Response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

// extractID recovers the id from a message that failed to decode as a
// Request, so the error can still be correlated.
func extractID(raw []byte) json.RawMessage {
	var probe map[string]json.RawMessage
	if json.Unmarshal(raw, &probe) != nil {
		return nil
	}
	id := probe["id"]
	var scalar any
	if json.Unmarshal(id, &scalar) != nil {
		return nil
	}
	switch scalar.(type) {
	case string, float64:
		return id
	}
	return nil
}
