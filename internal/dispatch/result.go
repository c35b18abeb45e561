package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const previewLength = 500

var htmlTitle = regexp.MustCompile(`(?is)<title>(.*?)</title>`)

// Result is a successful dispatch.
type Result struct {
	Status  int
	Payload any
}

// Text renders the payload as two-space indented JSON.
func (r *Result) Text() string {
	return prettyJSON(r.Payload)
}

// classify turns a completed exchange into a result or an HttpError.
func classify(tool string, status int, contentType string, body []byte) (*Result, error) {
	if status >= 400 {
		return nil, &Error{Kind: HTTPError, Tool: tool, Status: status, Detail: errorDetail(status, contentType, body)}
	}

	if status == 204 {
		return &Result{Status: status, Payload: map[string]any{
			"status":  "success",
			"message": "Resource deleted or no content returned",
		}}, nil
	}

	if parsed, ok := parseJSON(body); ok {
		return &Result{Status: status, Payload: parsed}, nil
	}

	text := string(body)
	if isHTML(contentType) {
		return &Result{Status: status, Payload: map[string]any{
			"status":       "success",
			"content_type": contentType,
			"message":      "Response received (HTML content)",
			"text_preview": truncate(text, previewLength),
		}}, nil
	}
	return &Result{Status: status, Payload: map[string]any{"response": text}}, nil
}

func errorDetail(status int, contentType string, body []byte) string {
	if parsed, ok := parseJSON(body); ok {
		return prettyJSON(parsed)
	}
	if isHTML(contentType) {
		detail := fmt.Sprintf("HTML Error Page (status %d)", status)
		if m := htmlTitle.FindSubmatch(body); m != nil {
			detail += "\nTitle: " + string(m[1])
		}
		return detail
	}
	return truncate(string(body), previewLength)
}

func parseJSON(body []byte) (any, bool) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return v, true
}

func isHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func prettyJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
