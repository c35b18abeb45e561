package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobmcallan/openapi-mcp/internal/common"
)

const testToken = "test-token-0123456789abcdef"

func newTestHandler(t *testing.T, opts ...HandlerOption) *Handler {
	t.Helper()
	return NewHandler(testRouter(t, echoDispatcher()), testToken, 20*time.Millisecond, common.NewSilentLogger(), opts...)
}

func post(h http.Handler, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type streamCounter struct{ opened, closed atomic.Int32 }

func (s *streamCounter) SSEOpened() { s.opened.Add(1) }
func (s *streamCounter) SSEClosed() { s.closed.Add(1) }

// --- Auth ---

func TestHandler_RejectsMissingOrWrongToken(t *testing.T) {
	h := newTestHandler(t)

	for _, token := range []string{"", "wrong"} {
		rec := post(h, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, token)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("token %q: expected 401, got %d", token, rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); got != `Bearer realm="MCP Server"` {
			t.Errorf("unexpected WWW-Authenticate: %q", got)
		}
		if rec.Body.String() != `{"error":"Unauthorized"}` {
			t.Errorf("unexpected body: %q", rec.Body.String())
		}
	}
}

func TestHandler_RejectsNonBearerScheme(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Basic "+testToken)
	rec := httptest.NewRecorder()
	newTestHandler(t).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestRequireBearer_EmptyTokenNeverMatches(t *testing.T) {
	called := false
	h := RequireBearer("", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized || called {
		t.Errorf("expected 401 without calling next, got %d (called=%v)", rec.Code, called)
	}
}

// --- POST ---

func TestHandler_PostStatusMapping(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"success", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, http.StatusOK},
		{"tool call", `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"getEntry"}}`, http.StatusOK},
		{"unknown method", `{"jsonrpc":"2.0","id":3,"method":"nope"}`, http.StatusBadRequest},
		{"malformed", `{"jsonrpc":`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(h, tt.body, testToken)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected application/json, got %q", ct)
			}
			var resp map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Errorf("expected JSON body, got %q", rec.Body.String())
			}
		})
	}
}

func TestHandler_PostNotificationEmptyBody(t *testing.T) {
	rec := post(newTestHandler(t), `{"jsonrpc":"2.0","method":"notifications/initialized"}`, testToken)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rec.Body.String())
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	newTestHandler(t).ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
	if rec.Header().Get("Allow") != "GET, POST" {
		t.Errorf("unexpected Allow header: %q", rec.Header().Get("Allow"))
	}
}

// --- SSE ---

func TestHandler_SSEAnnouncesAndKeepsAlive(t *testing.T) {
	streams := &streamCounter{}
	srv := httptest.NewServer(newTestHandler(t, WithStreamObserver(streams)))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected no-cache, got %q", cc)
	}

	reader := bufio.NewReader(resp.Body)
	readLine := func() string {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read stream: %v", err)
		}
		return strings.TrimRight(line, "\n")
	}

	if got := readLine(); got != "event: message" {
		t.Fatalf("expected event line, got %q", got)
	}
	data, ok := strings.CutPrefix(readLine(), "data: ")
	if !ok {
		t.Fatal("expected data line")
	}
	var announce map[string]any
	if err := json.Unmarshal([]byte(data), &announce); err != nil {
		t.Fatalf("invalid announcement: %v", err)
	}
	if announce["method"] != "initialize" {
		t.Errorf("expected initialize notification, got %v", announce["method"])
	}
	if _, hasID := announce["id"]; hasID {
		t.Error("expected announcement without id")
	}
	params := announce["params"].(map[string]any)
	if caps := params["capabilities"].(map[string]any); len(caps) != 0 {
		t.Errorf("expected empty capabilities, got %v", caps)
	}
	if info := params["serverInfo"].(map[string]any); info["name"] != "Test Server" {
		t.Errorf("unexpected serverInfo: %v", info)
	}
	if got := readLine(); got != "" {
		t.Errorf("expected blank separator, got %q", got)
	}

	if got := readLine(); got != ": keepalive" {
		t.Errorf("expected keepalive comment, got %q", got)
	}
	if streams.opened.Load() != 1 {
		t.Errorf("expected 1 opened stream, got %d", streams.opened.Load())
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for streams.closed.Load() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if streams.closed.Load() != 1 {
		t.Error("expected stream to close after client disconnect")
	}
}

// --- MaskToken ---

func TestMaskToken(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "****"},
		{"short", "****"},
		{"exactly12chr", "****"},
		{"abcdefgh-middle-wxyz", "abcdefgh...wxyz"},
	}
	for _, tt := range tests {
		if got := MaskToken(tt.in); got != tt.want {
			t.Errorf("MaskToken(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}
