package handlers

import (
	"net/http"

	"github.com/bobmcallan/openapi-mcp/internal/common"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Server    string `json:"server"`
	Transport string `json:"transport"`
	Auth      string `json:"auth"`
	Tools     int    `json:"tools"`
}

// HealthHandler reports liveness and the size of the tool catalog. It is
// served without authentication.
type HealthHandler struct {
	logger     *common.Logger
	serverName string
	toolCount  int
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(logger *common.Logger, serverName string, toolCount int) *HealthHandler {
	return &HealthHandler{logger: logger, serverName: serverName, toolCount: toolCount}
}

// ServeHTTP handles GET /health.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Server:    h.serverName,
		Transport: "HTTP Streamable",
		Auth:      "Bearer token required for MCP endpoints",
		Tools:     h.toolCount,
	})
}
