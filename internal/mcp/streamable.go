package mcp

import (
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

// newMCPServer builds an mcp-go server carrying the router's catalog.
func newMCPServer(r *Router) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer(
		r.Info().Name,
		r.Info().Version,
		mcpserver.WithToolCapabilities(true),
	)
	RegisterToolsFromCatalog(s, r)
	return s
}

// NewStreamableHandler serves the catalog through mcp-go's stateless
// streamable HTTP transport, behind the same bearer check as the root
// endpoint.
func NewStreamableHandler(r *Router, token string) http.Handler {
	streamable := mcpserver.NewStreamableHTTPServer(newMCPServer(r),
		mcpserver.WithStateLess(true),
	)
	return RequireBearer(token, streamable)
}
