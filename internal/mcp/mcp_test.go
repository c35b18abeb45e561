package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/openapi-mcp/internal/common"
	"github.com/bobmcallan/openapi-mcp/internal/dispatch"
	"github.com/bobmcallan/openapi-mcp/internal/openapi"
)

// --- Helpers ---

const testSpec = `
openapi: 3.0.3
info: {title: Ledger, version: "1"}
paths:
  /entries:
    post:
      operationId: createEntry
      description: Create an entry
      requestBody:
        content:
          application/json:
            schema:
              type: object
              required: [name]
              properties:
                name: {type: string, maxLength: 10}
                amount: {type: number}
      responses: {"201": {description: created}}
  /entries/{id}:
    get:
      operationId: getEntry
      summary: Get an entry
      parameters:
        - {name: id, in: path, required: true, schema: {type: string}}
      responses: {"200": {description: ok}}
`

type dispatchFunc func(ctx context.Context, name string, args map[string]any) (*dispatch.Result, error)

func (f dispatchFunc) Dispatch(ctx context.Context, name string, args map[string]any) (*dispatch.Result, error) {
	return f(ctx, name, args)
}

func echoDispatcher() ToolDispatcher {
	return dispatchFunc(func(_ context.Context, name string, args map[string]any) (*dispatch.Result, error) {
		return &dispatch.Result{Status: 200, Payload: map[string]any{"tool": name, "args": args}}, nil
	})
}

func testTools(t *testing.T) []openapi.Tool {
	t.Helper()
	doc, err := openapi.Load(context.Background(), []byte(testSpec))
	if err != nil {
		t.Fatalf("failed to load spec: %v", err)
	}
	tools, err := openapi.BuildCatalog(openapi.NewIndex(doc, common.NewSilentLogger()), openapi.NewResolver(doc))
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	return tools
}

func testRouter(t *testing.T, d ToolDispatcher, mutate ...func(*RouterOptions)) *Router {
	t.Helper()
	opts := RouterOptions{
		ServerName:      "Test Server",
		ServerVersion:   "1.2.3",
		ProtocolVersion: "2024-11-05",
		Tools:           testTools(t),
		Dispatcher:      d,
		Logger:          common.NewSilentLogger(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewRouter(opts)
}

// roundTrip handles raw and re-decodes the response the way a client would.
func roundTrip(t *testing.T, r *Router, raw string) map[string]any {
	t.Helper()
	resp := r.Handle(context.Background(), []byte(raw))
	if resp == nil {
		return nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("failed to marshal response: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return out
}

// listTools calls tools/list on the MCPServer and returns the tools.
func listTools(t *testing.T, s *mcpserver.MCPServer) []mcpgo.Tool {
	t.Helper()

	msg := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	result := s.HandleMessage(t.Context(), msg)

	resp, ok := result.(mcpgo.JSONRPCResponse)
	if !ok {
		t.Fatalf("expected JSONRPCResponse, got %T", result)
	}

	resultJSON, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}

	var toolsResult mcpgo.ListToolsResult
	if err := json.Unmarshal(resultJSON, &toolsResult); err != nil {
		t.Fatalf("failed to unmarshal ListToolsResult: %v", err)
	}
	return toolsResult.Tools
}

// callTool calls a tool on the MCPServer and returns the result.
func callTool(t *testing.T, s *mcpserver.MCPServer, name string, args map[string]any) *mcpgo.CallToolResult {
	t.Helper()

	params, _ := json.Marshal(map[string]any{"name": name, "arguments": args})
	msg := json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":` + string(params) + `}`)
	result := s.HandleMessage(t.Context(), msg)

	resp, ok := result.(mcpgo.JSONRPCResponse)
	if !ok {
		t.Fatalf("expected JSONRPCResponse, got %T", result)
	}

	resultJSON, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}

	var toolResult mcpgo.CallToolResult
	if err := json.Unmarshal(resultJSON, &toolResult); err != nil {
		t.Fatalf("failed to unmarshal CallToolResult: %v", err)
	}
	return &toolResult
}

// extractText extracts the text field from an MCP content block.
func extractText(t *testing.T, content mcpgo.Content) string {
	t.Helper()
	contentJSON, _ := json.Marshal(content)
	var tc struct {
		Text string `json:"text"`
	}
	json.Unmarshal(contentJSON, &tc)
	return tc.Text
}
