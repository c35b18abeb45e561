package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobmcallan/openapi-mcp/internal/common"
	"github.com/bobmcallan/openapi-mcp/internal/config"
	"github.com/bobmcallan/openapi-mcp/internal/openapi"
)

// --- Helpers ---

const ledgerSpec = `
openapi: 3.0.3
info: {title: Ledger, version: "1"}
paths:
  /entries:
    get:
      operationId: listEntries
      parameters:
        - {name: tag, in: query, schema: {type: array, items: {type: string}}}
        - {name: limit, in: query, schema: {type: integer}}
      responses: {"200": {description: ok}}
    post:
      operationId: createEntry
      requestBody:
        content:
          application/json:
            schema:
              type: object
              required: [name]
              properties:
                name: {type: string}
                amount: {type: number}
      responses: {"201": {description: created}}
  /entries/{id}:
    get:
      operationId: getEntry
      parameters:
        - {name: id, in: path, required: true, schema: {type: string}}
      responses: {"200": {description: ok}}
    delete:
      operationId: deleteEntry
      parameters:
        - {name: id, in: path, required: true, schema: {type: string}}
      responses: {"204": {description: deleted}}
`

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

type recorded struct {
	tool    string
	outcome string
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *fakeRecorder) ObserveDispatch(tool, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recorded{tool, outcome})
}

func testIndex(t *testing.T) *openapi.Index {
	t.Helper()
	doc, err := openapi.Load(context.Background(), []byte(ledgerSpec))
	if err != nil {
		t.Fatalf("failed to load spec: %v", err)
	}
	return openapi.NewIndex(doc, common.NewSilentLogger())
}

func testConfig(baseURL string) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.API.BaseURL = baseURL
	cfg.API.Username = "alice"
	cfg.API.Password = "s3cret"
	return cfg
}

func newTestDispatcher(t *testing.T, baseURL string, opts ...Option) *Dispatcher {
	t.Helper()
	return New(testIndex(t), testConfig(baseURL), common.NewSilentLogger(), opts...)
}

// --- Request construction ---

func TestDispatch_GetWithPathParameter(t *testing.T) {
	var gotPath, gotAuth, gotAccept string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"42","name":"rent"}`))
	}))
	defer srv.Close()

	result, err := newTestDispatcher(t, srv.URL+"/").Dispatch(context.Background(), "getEntry", map[string]any{"path_id": "42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/entries/42" {
		t.Errorf("expected /entries/42, got %s", gotPath)
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:s3cret"))
	if gotAuth != want {
		t.Errorf("expected %q, got %q", want, gotAuth)
	}
	if gotAccept != "application/json" {
		t.Errorf("expected Accept application/json, got %q", gotAccept)
	}
	if len(gotBody) != 0 {
		t.Errorf("expected no body, got %q", gotBody)
	}

	payload := result.Payload.(map[string]any)
	if payload["name"] != "rent" {
		t.Errorf("expected parsed JSON payload, got %v", payload)
	}
	if result.Status != http.StatusOK {
		t.Errorf("expected status 200, got %d", result.Status)
	}
}

func TestDispatch_PostWithJSONBody(t *testing.T) {
	var gotMethod, gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	_, err := newTestDispatcher(t, srv.URL).Dispatch(context.Background(), "createEntry", map[string]any{
		"body_name":   "rent",
		"body_amount": 1200,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", gotContentType)
	}
	if gotBody["name"] != "rent" || gotBody["amount"] != float64(1200) {
		t.Errorf("expected {name: rent, amount: 1200}, got %v", gotBody)
	}
}

func TestDispatch_QueryEncoding(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := newTestDispatcher(t, srv.URL).Dispatch(context.Background(), "listEntries", map[string]any{
		"query_tag":     []any{"a", "b"},
		"query_limit":   float64(10),
		"query_missing": nil,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tags := gotQuery["tag"]; len(tags) != 2 || tags[0] != "a" || tags[1] != "b" {
		t.Errorf("expected repeated tag keys, got %v", tags)
	}
	if limit := gotQuery["limit"]; len(limit) != 1 || limit[0] != "10" {
		t.Errorf("expected limit=10, got %v", limit)
	}
	if _, ok := gotQuery["missing"]; ok {
		t.Error("expected nil query value to be dropped")
	}
}

func TestDispatch_UnresolvedPlaceholderStaysLiteral(t *testing.T) {
	var gotPath string
	client := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.EscapedPath()
		return &http.Response{StatusCode: 200, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(`{}`))}, nil
	})}

	_, err := newTestDispatcher(t, "http://api.test", WithHTTPClient(client)).Dispatch(context.Background(), "getEntry", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotPath, "id") || strings.HasSuffix(gotPath, "/entries/") {
		t.Errorf("expected literal placeholder in path, got %s", gotPath)
	}
}

func TestDispatch_PathValueEscaped(t *testing.T) {
	var gotPath string
	client := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.EscapedPath()
		return &http.Response{StatusCode: 200, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(`{}`))}, nil
	})}

	_, err := newTestDispatcher(t, "http://api.test", WithHTTPClient(client)).Dispatch(context.Background(), "getEntry", map[string]any{"path_id": "a/b c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/entries/a%2Fb%20c" {
		t.Errorf("expected escaped path, got %s", gotPath)
	}
}

// --- Classification ---

func TestDispatch_HTTPErrorJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"not found"}`))
	}))
	defer srv.Close()

	_, err := newTestDispatcher(t, srv.URL).Dispatch(context.Background(), "getEntry", map[string]any{"path_id": "404"})

	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if de.Kind != HTTPError || de.Status != 404 {
		t.Errorf("expected HttpError 404, got %s %d", de.Kind, de.Status)
	}
	if !strings.Contains(de.Detail, "not found") {
		t.Errorf("expected detail to contain 'not found', got %q", de.Detail)
	}
	if !strings.HasPrefix(err.Error(), "HTTP Error 404:\n{") {
		t.Errorf("unexpected text form: %q", err.Error())
	}
}

func TestDispatch_HTTPErrorHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html><head><TITLE>Bad Gateway</TITLE></head><body>upstream</body></html>`))
	}))
	defer srv.Close()

	_, err := newTestDispatcher(t, srv.URL).Dispatch(context.Background(), "getEntry", map[string]any{"path_id": "1"})
	want := "HTTP Error 502:\nHTML Error Page (status 502)\nTitle: Bad Gateway"
	if err == nil || err.Error() != want {
		t.Errorf("expected %q, got %v", want, err)
	}
}

func TestDispatch_HTTPErrorPlainTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.Repeat("x", 800)))
	}))
	defer srv.Close()

	_, err := newTestDispatcher(t, srv.URL).Dispatch(context.Background(), "getEntry", map[string]any{"path_id": "1"})
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if len(de.Detail) != 500 {
		t.Errorf("expected 500 character detail, got %d", len(de.Detail))
	}
}

func TestDispatch_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	result, err := newTestDispatcher(t, srv.URL).Dispatch(context.Background(), "deleteEntry", map[string]any{"path_id": "7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "{\n  \"message\": \"Resource deleted or no content returned\",\n  \"status\": \"success\"\n}"
	if result.Text() != want {
		t.Errorf("expected %q, got %q", want, result.Text())
	}
}

func TestDispatch_HTMLSuccessPreview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<p>" + strings.Repeat("y", 600) + "</p>"))
	}))
	defer srv.Close()

	result, err := newTestDispatcher(t, srv.URL).Dispatch(context.Background(), "getEntry", map[string]any{"path_id": "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload := result.Payload.(map[string]any)
	if payload["message"] != "Response received (HTML content)" || payload["content_type"] != "text/html" {
		t.Errorf("unexpected HTML envelope: %v", payload)
	}
	if preview := payload["text_preview"].(string); len(preview) != 500 {
		t.Errorf("expected 500 character preview, got %d", len(preview))
	}
}

func TestDispatch_PlainTextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("pong <ok>"))
	}))
	defer srv.Close()

	result, err := newTestDispatcher(t, srv.URL).Dispatch(context.Background(), "getEntry", map[string]any{"path_id": "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text() != "{\n  \"response\": \"pong <ok>\"\n}" {
		t.Errorf("expected raw-text envelope without HTML escaping, got %q", result.Text())
	}
}

// --- Failures before the network ---

func TestDispatch_MissingCredentialsMakesNoCalls(t *testing.T) {
	var calls atomic.Int32
	client := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errors.New("unexpected call")
	})}

	cfg := testConfig("http://api.test")
	cfg.API.Password = ""
	rec := &fakeRecorder{}
	d := New(testIndex(t), cfg, common.NewSilentLogger(), WithHTTPClient(client), WithRecorder(rec))

	for _, name := range []string{"getEntry", "noSuchTool"} {
		_, err := d.Dispatch(context.Background(), name, map[string]any{"path_id": "1"})
		if !IsKind(err, MissingCredentials) {
			t.Errorf("%s: expected MissingCredentials, got %v", name, err)
		}
	}
	if calls.Load() != 0 {
		t.Errorf("expected zero network calls, got %d", calls.Load())
	}
	want := []recorded{{"getEntry", "missing_credentials"}, {UnknownTool, "missing_credentials"}}
	for i, w := range want {
		if i >= len(rec.calls) || rec.calls[i] != w {
			t.Errorf("observation %d: expected %v, got %v", i, w, rec.calls)
		}
	}
}

func TestDispatch_ToolNotFound(t *testing.T) {
	_, err := newTestDispatcher(t, "http://api.test").Dispatch(context.Background(), "nope", nil)
	if !IsKind(err, ToolNotFound) {
		t.Fatalf("expected ToolNotFound, got %v", err)
	}
	if err.Error() != "Error: Tool 'nope' not found in API specification" {
		t.Errorf("unexpected text form: %q", err.Error())
	}
}

// --- Transport failures ---

func TestDispatch_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = newTestDispatcher(t, "http://"+addr).Dispatch(context.Background(), "getEntry", map[string]any{"path_id": "1"})
	var de *Error
	if !errors.As(err, &de) || de.Kind != TransportError {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if de.Type != "ConnectionError" {
		t.Errorf("expected ConnectionError, got %s", de.Type)
	}
	if !strings.HasPrefix(err.Error(), "Error: ConnectionError: ") {
		t.Errorf("unexpected text form: %q", err.Error())
	}
}

func TestDispatch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.API.Timeout = config.Duration{Duration: 50 * time.Millisecond}
	d := New(testIndex(t), cfg, common.NewSilentLogger())

	_, err := d.Dispatch(context.Background(), "getEntry", map[string]any{"path_id": "1"})
	var de *Error
	if !errors.As(err, &de) || de.Type != "Timeout" {
		t.Errorf("expected Timeout transport error, got %v", err)
	}
}

func TestDispatch_DNSError(t *testing.T) {
	client := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return nil, &net.DNSError{Err: "no such host", Name: r.URL.Host, IsNotFound: true}
	})}

	_, err := newTestDispatcher(t, "http://api.invalid", WithHTTPClient(client)).Dispatch(context.Background(), "getEntry", map[string]any{"path_id": "1"})
	var de *Error
	if !errors.As(err, &de) || de.Type != "DNSError" {
		t.Errorf("expected DNSError, got %v", err)
	}
}

func TestDispatch_OtherTransportErrorUsesTypeName(t *testing.T) {
	client := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return nil, io.ErrUnexpectedEOF
	})}

	_, err := newTestDispatcher(t, "http://api.test", WithHTTPClient(client)).Dispatch(context.Background(), "getEntry", map[string]any{"path_id": "1"})
	var de *Error
	if !errors.As(err, &de) || de.Type != "errors.errorString" {
		t.Errorf("expected errors.errorString, got %v", err)
	}
}

// --- Recorder ---

func TestDispatch_RecordsOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	d := newTestDispatcher(t, srv.URL, WithRecorder(rec))
	d.Dispatch(context.Background(), "getEntry", map[string]any{"path_id": "1"})
	d.Dispatch(context.Background(), "getEntry", map[string]any{"path_id": "missing"})
	d.Dispatch(context.Background(), "nope", nil)

	want := []recorded{
		{"getEntry", "success"},
		{"getEntry", "http_error"},
		{UnknownTool, "not_found"},
	}
	if len(rec.calls) != len(want) {
		t.Fatalf("expected %d observations, got %d", len(want), len(rec.calls))
	}
	for i, w := range want {
		if rec.calls[i] != w {
			t.Errorf("observation %d: expected %v, got %v", i, w, rec.calls[i])
		}
	}
}

func TestError_SchemaResolutionText(t *testing.T) {
	err := SchemaError("plantTree", &openapi.SchemaResolutionError{Ref: "#/components/schemas/Node", Reason: "cyclic reference"})
	want := "Error: SchemaResolutionError: cyclic reference: #/components/schemas/Node"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}
