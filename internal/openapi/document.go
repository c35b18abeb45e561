// Package openapi turns an OpenAPI document into MCP tool descriptors and
// maps flat tool arguments back onto the operation they came from.
package openapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"
)

// maxDocumentSize caps documents fetched over HTTP.
const maxDocumentSize = 20 << 20

// allowedMethods are the HTTP methods that become tools.
var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

// Route is one (path, method) pair in document order.
type Route struct {
	Path   string
	Method string // upper case
}

// Document is a parsed OpenAPI document plus the declaration order of its
// operations. It is not modified after Load returns.
type Document struct {
	T      *openapi3.T
	Routes []Route
}

// Load parses an OpenAPI 3.x or Swagger 2.0 document in YAML or JSON.
func Load(ctx context.Context, data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse OpenAPI document: %w", err)
	}
	top := mappingRoot(&root)
	if top == nil {
		return nil, fmt.Errorf("failed to parse OpenAPI document: top level is not a mapping")
	}

	var (
		doc *openapi3.T
		err error
	)
	if mappingValue(top, "swagger") != nil {
		doc, err = loadSwagger2(top)
	} else {
		loader := openapi3.NewLoader()
		loader.Context = ctx
		doc, err = loader.LoadFromData(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse OpenAPI document: %w", err)
	}

	return &Document{T: doc, Routes: routesInOrder(top)}, nil
}

// LoadFile reads and parses the document at path.
func LoadFile(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read OpenAPI document %s: %w", path, err)
	}
	return Load(ctx, data)
}

// LoadURL fetches and parses the document at rawURL.
func LoadURL(ctx context.Context, client *http.Client, rawURL string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document URL %s: %w", rawURL, err)
	}
	req.Header.Set("Accept", "application/json, application/yaml, text/yaml, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch OpenAPI document %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("failed to fetch OpenAPI document %s: status %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read OpenAPI document %s: %w", rawURL, err)
	}
	return Load(ctx, data)
}

// IsURL reports whether source should be fetched over HTTP.
func IsURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Validate runs kin-openapi's structural validation. Example values are not checked.
func (d *Document) Validate(ctx context.Context) error {
	return d.T.Validate(ctx, openapi3.DisableExamplesValidation())
}

// Components returns the named component schemas, never nil.
func (d *Document) Components() openapi3.Schemas {
	if d.T.Components == nil || d.T.Components.Schemas == nil {
		return openapi3.Schemas{}
	}
	return d.T.Components.Schemas
}

func loadSwagger2(top *yaml.Node) (*openapi3.T, error) {
	var raw any
	if err := top.Decode(&raw); err != nil {
		return nil, err
	}
	data, err := json.Marshal(stringKeys(raw))
	if err != nil {
		return nil, err
	}
	var doc2 openapi2.T
	if err := doc2.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	// Without consumes the converter emits */* request bodies, which no
	// body content type matches.
	if len(doc2.Consumes) == 0 {
		doc2.Consumes = []string{"application/json"}
	}
	return openapi2conv.ToV3(&doc2)
}

// routesInOrder walks the raw node tree: kin-openapi keeps paths in a map,
// which loses the order the author wrote them in.
func routesInOrder(top *yaml.Node) []Route {
	paths := mappingValue(top, "paths")
	if paths == nil || paths.Kind != yaml.MappingNode {
		return nil
	}

	var routes []Route
	for i := 0; i+1 < len(paths.Content); i += 2 {
		path := paths.Content[i].Value
		item := paths.Content[i+1]
		if item.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(item.Content); j += 2 {
			method := strings.ToUpper(item.Content[j].Value)
			if allowedMethods[method] {
				routes = append(routes, Route{Path: path, Method: method})
			}
		}
	}
	return routes
}

func mappingRoot(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return nil
	}
	return n
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// stringKeys converts YAML maps with non-string keys (unquoted status codes
// such as 200) into maps JSON can encode.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = stringKeys(val)
		}
		return m
	case []any:
		for i, val := range t {
			t[i] = stringKeys(val)
		}
		return t
	default:
		return v
	}
}
