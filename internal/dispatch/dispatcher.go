// Package dispatch turns tool calls into HTTP requests against the
// configured REST API and normalizes the responses.
package dispatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/bobmcallan/openapi-mcp/internal/common"
	"github.com/bobmcallan/openapi-mcp/internal/config"
	"github.com/bobmcallan/openapi-mcp/internal/openapi"
)

// maxResponseSize caps downstream response bodies.
const maxResponseSize = 50 << 20 // 50MB

// UnknownTool is the metric label recorded for names outside the catalog.
const UnknownTool = "unknown"

// Recorder observes dispatch outcomes.
type Recorder interface {
	ObserveDispatch(tool, outcome string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDispatch(string, string, time.Duration) {}

// Dispatcher executes tool calls. It is safe for concurrent use.
type Dispatcher struct {
	index      *openapi.Index
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *common.Logger
	recorder   Recorder
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

// WithRecorder reports every dispatch outcome to r.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// New creates a dispatcher over ix using the API settings in cfg.
func New(ix *openapi.Index, cfg *config.Config, logger *common.Logger, opts ...Option) *Dispatcher {
	timeout := cfg.API.Timeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d := &Dispatcher{
		index:      ix,
		baseURL:    strings.TrimRight(cfg.API.BaseURL, "/"),
		username:   cfg.API.Username,
		password:   cfg.API.Password,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		recorder:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes the operation registered under toolName with the given
// flat arguments. Failures are returned as *Error.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, args map[string]any) (*Result, error) {
	start := time.Now()
	result, err := d.dispatch(ctx, toolName, args)
	d.recorder.ObserveDispatch(d.toolLabel(toolName), outcomeOf(err), time.Since(start))
	return result, err
}

// toolLabel bounds metric labels to catalog names.
func (d *Dispatcher) toolLabel(toolName string) string {
	if _, ok := d.index.Lookup(toolName); ok {
		return toolName
	}
	return UnknownTool
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	return outcome(err)
}

func (d *Dispatcher) dispatch(ctx context.Context, toolName string, args map[string]any) (*Result, error) {
	if d.username == "" || d.password == "" {
		d.logger.Warn().Str("tool", toolName).Msg("Dispatch refused: API credentials not configured")
		return nil, &Error{Kind: MissingCredentials, Tool: toolName}
	}

	op, ok := d.index.Lookup(toolName)
	if !ok {
		d.logger.Warn().Str("tool", toolName).Msg("Dispatch refused: unknown tool")
		return nil, &Error{Kind: ToolNotFound, Tool: toolName}
	}

	split := openapi.SplitArguments(args)
	if len(split.Unknown) > 0 {
		d.logger.Warn().
			Str("tool", toolName).
			Str("arguments", strings.Join(split.Unknown, ",")).
			Msg("Ignoring arguments without path_, query_ or body_ prefix")
	}

	req, err := d.newRequest(ctx, op, split)
	if err != nil {
		return nil, transportError(toolName, err)
	}

	d.logger.Debug().Str("tool", toolName).Str("method", op.Method).Str("url", req.URL.String()).Msg("dispatch request")

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		de := transportError(toolName, err)
		d.logger.Error().
			Str("tool", toolName).
			Str("method", op.Method).
			Str("type", de.Type).
			Int64("duration_ms", duration.Milliseconds()).
			Str("error", err.Error()).
			Msg("dispatch request failed")
		return nil, de
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, transportError(toolName, fmt.Errorf("failed to read response: %w", err))
	}

	d.logger.Debug().
		Str("tool", toolName).
		Int("status", resp.StatusCode).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("dispatch response")

	result, err := classify(toolName, resp.StatusCode, resp.Header.Get("Content-Type"), body)
	if err != nil {
		d.logger.Warn().Str("tool", toolName).Int("status", resp.StatusCode).Msg("downstream returned an error status")
	}
	return result, err
}

func (d *Dispatcher) newRequest(ctx context.Context, op *openapi.Operation, split openapi.SplitArgs) (*http.Request, error) {
	target := d.baseURL + substitutePath(op.Path, split.Path)
	if q := encodeQuery(split.Query); q != "" {
		target += "?" + q
	}

	var bodyReader io.Reader
	if len(split.Body) > 0 {
		data, err := json.Marshal(split.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, target, bodyReader)
	if err != nil {
		return nil, err
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Basic "+basicAuth(d.username, d.password))
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// substitutePath fills {name} placeholders. Placeholders without a value
// stay in the path as written.
func substitutePath(template string, params map[string]any) string {
	path := template
	for name, value := range params {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(stringValue(value)))
	}
	return path
}

// encodeQuery renders query arguments. Slices repeat the key and nil values
// are dropped.
func encodeQuery(params map[string]any) string {
	values := url.Values{}
	for name, value := range params {
		switch items := value.(type) {
		case nil:
		case []any:
			for _, item := range items {
				if item != nil {
					values.Add(name, stringValue(item))
				}
			}
		case []string:
			for _, item := range items {
				values.Add(name, item)
			}
		default:
			values.Add(name, stringValue(value))
		}
	}
	return values.Encode()
}

func stringValue(v any) string {
	if m, ok := v.(map[string]any); ok {
		data, _ := json.Marshal(m)
		return string(data)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s
}

func basicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
