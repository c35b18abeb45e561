package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/openapi-mcp/internal/openapi"
)

var emptyInputSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// BuildMCPTool converts a catalog tool into its mcp-go wire form. The
// derived input schema is sent as is.
func BuildMCPTool(t openapi.Tool) mcp.Tool {
	schema, err := json.Marshal(t.InputSchema)
	if err != nil || t.InputSchema == nil {
		schema = emptyInputSchema
	}
	tool := mcp.NewToolWithRawSchema(t.Name, t.Description, schema)
	if t.Operation != nil {
		tool.Annotations = methodAnnotations(t.Operation.Method)
	}
	return tool
}

// methodAnnotations derives behaviour hints from the HTTP method.
func methodAnnotations(method string) mcp.ToolAnnotation {
	readOnly := method == "GET"
	return mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(readOnly),
		DestructiveHint: mcp.ToBoolPtr(method == "DELETE"),
		IdempotentHint:  mcp.ToBoolPtr(readOnly || method == "PUT" || method == "DELETE"),
		OpenWorldHint:   mcp.ToBoolPtr(true),
	}
}

// RegisterToolsFromCatalog registers every router tool on s. Calls are
// answered by the router, so both endpoints behave identically.
func RegisterToolsFromCatalog(s *server.MCPServer, r *Router) int {
	for _, tool := range r.Tools() {
		s.AddTool(tool, routerToolHandler(r))
	}
	return len(r.Tools())
}

func routerToolHandler(r *Router) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return r.CallTool(ctx, req.Params.Name, req.GetArguments()), nil
	}
}
