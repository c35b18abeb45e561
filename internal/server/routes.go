package server

import "net/http"

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// MCP: JSON-RPC POST and the SSE stream on the root, mcp-go streamable on /mcp
	if s.app.MCPHandler != nil {
		mux.Handle("/{$}", s.app.MCPHandler)
	}
	if s.app.StreamableHandler != nil {
		mux.Handle("/mcp", s.app.StreamableHandler)
	}

	if s.app.HealthHandler != nil {
		mux.Handle("/health", s.app.HealthHandler)
	}
	if s.app.VersionHandler != nil {
		mux.Handle("/version", s.app.VersionHandler)
	}

	if s.app.Metrics != nil && s.app.Config.Metrics.Path != "" {
		mux.Handle(s.app.Config.Metrics.Path, s.app.Metrics.Handler())
	}

	mux.HandleFunc("/", s.handleNotFound)

	return mux
}

// handleNotFound returns a JSON 404 for unmatched routes.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"error":"Not Found","message":"The requested endpoint does not exist"}`))
}
