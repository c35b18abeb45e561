package mcp

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/openapi-mcp/internal/common"
)

// maxRequestSize caps a POSTed JSON-RPC message.
const maxRequestSize = 10 << 20

// StreamObserver is told when SSE streams open and close.
type StreamObserver interface {
	SSEOpened()
	SSEClosed()
}

type nopStreamObserver struct{}

func (nopStreamObserver) SSEOpened() {}
func (nopStreamObserver) SSEClosed() {}

// Handler is the root MCP endpoint: POST carries JSON-RPC, GET opens an
// SSE stream that announces the server and then sends keepalives.
type Handler struct {
	router    *Router
	token     string
	keepalive time.Duration
	logger    *common.Logger
	streams   StreamObserver
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithStreamObserver reports SSE stream lifecycle to o.
func WithStreamObserver(o StreamObserver) HandlerOption {
	return func(h *Handler) {
		if o != nil {
			h.streams = o
		}
	}
}

// NewHandler creates the root MCP handler. token must be non-empty.
func NewHandler(router *Router, token string, keepalive time.Duration, logger *common.Logger, opts ...HandlerOption) *Handler {
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	h := &Handler{
		router:    router,
		token:     token,
		keepalive: keepalive,
		logger:    logger,
		streams:   nopStreamObserver{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP authenticates the bearer token and routes by method.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !bearerMatches(r, h.token) {
		writeUnauthorized(w)
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.handleRPC(w, r)
	case http.MethodGet:
		h.handleSSE(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		writeRPC(w, http.StatusInternalServerError, errorResponse(nil, CodeInternalError, "Internal error: "+err.Error()))
		return
	}

	resp := h.router.Handle(r.Context(), body)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeRPC(w, statusFor(resp), resp)
}

// statusFor maps JSON-RPC errors onto HTTP status codes.
func statusFor(resp *Response) int {
	if resp.Error == nil {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case CodeMethodNotFound:
		return http.StatusBadRequest
	case CodeInternalError:
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

func writeRPC(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The stream outlives the server's WriteTimeout.
	_ = rc.SetWriteDeadline(time.Time{})

	announce, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "initialize",
		"params": initializeResult{
			ProtocolVersion: h.router.ProtocolVersion(),
			Capabilities:    map[string]any{},
			ServerInfo:      h.router.Info(),
		},
	})
	if err != nil {
		http.Error(w, "failed to encode announcement", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	streamID := uuid.New().String()
	h.streams.SSEOpened()
	defer h.streams.SSEClosed()
	h.logger.Info().Str("stream_id", streamID).Str("remote_addr", r.RemoteAddr).Msg("SSE stream opened")
	defer h.logger.Info().Str("stream_id", streamID).Msg("SSE stream closed")

	if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", announce); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.logger.Warn().Str("stream_id", streamID).Str("error", err.Error()).Msg("SSE flush not supported")
		return
	}

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// RequireBearer wraps next with the bearer token check.
func RequireBearer(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !bearerMatches(r, token) {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerMatches(r *http.Request, token string) bool {
	if token == "" {
		return false
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="MCP Server"`)
	w.WriteHeader(http.StatusUnauthorized)
	io.WriteString(w, `{"error":"Unauthorized"}`)
}

// MaskToken shortens a token for logging.
func MaskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:8] + "..." + token[len(token)-4:]
}
