package openapi

import (
	"errors"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// MaxDescriptionLength is the longest tool description, in characters.
const MaxDescriptionLength = 1024

// bodyContentTypes lists request body media types in preference order.
var bodyContentTypes = []string{
	"application/json",
	"application/x-www-form-urlencoded",
	"multipart/form-data",
	"text/plain",
}

// Tool is the catalog entry for one operation.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Operation   *Operation
}

// ToolError reports an operation that was left out of the catalog.
type ToolError struct {
	Tool   string
	Method string
	Path   string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s (%s %s): %v", e.Tool, e.Method, e.Path, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// ToolErrors flattens the error returned by BuildCatalog, keyed by tool name.
func ToolErrors(err error) map[string]error {
	out := map[string]error{}
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if te, ok := err.(*ToolError); ok {
			out[te.Tool] = te.Err
			return
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				walk(e)
			}
		}
	}
	walk(err)
	return out
}

// BuildCatalog derives one tool per indexed operation, in document order.
// Operations whose schemas fail to resolve are left out and their errors
// are joined into the returned error; the rest of the catalog is still built.
func BuildCatalog(ix *Index, res *Resolver) ([]Tool, error) {
	tools := make([]Tool, 0, ix.Len())
	var errs []error

	for _, op := range ix.Operations() {
		schema, err := inputSchema(op, res)
		if err != nil {
			errs = append(errs, &ToolError{Tool: op.Name, Method: op.Method, Path: op.Path, Err: err})
			continue
		}
		tools = append(tools, Tool{
			Name:        op.Name,
			Description: toolDescription(op),
			InputSchema: schema,
			Operation:   op,
		})
	}
	return tools, errors.Join(errs...)
}

func toolDescription(op *Operation) string {
	desc := op.Description
	if desc == "" {
		desc = op.Summary
	}
	if desc == "" {
		desc = op.Method + " " + op.Path
	}
	return truncateRunes(desc, MaxDescriptionLength)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func inputSchema(op *Operation, res *Resolver) (map[string]any, error) {
	properties := map[string]any{}
	required := []string{}

	for _, ref := range op.Parameters {
		if ref == nil || ref.Value == nil {
			continue
		}
		p := ref.Value

		var prefix string
		switch p.In {
		case openapi3.ParameterInPath:
			prefix = PathPrefix
		case openapi3.ParameterInQuery:
			prefix = QueryPrefix
		default:
			continue
		}

		var schema map[string]any
		if p.Schema == nil {
			schema = map[string]any{"type": "string"}
		} else {
			resolved, err := res.Resolve(p.Schema)
			if err != nil {
				return nil, err
			}
			schema = resolved
		}
		if p.Description != "" {
			schema["description"] = p.Description
		}

		key := prefix + p.Name
		properties[key] = schema
		if p.Required {
			required = append(required, key)
		}
	}

	if media := bodyMedia(op.RequestBody); media != nil {
		body, err := res.Resolve(media.Schema)
		if err != nil {
			return nil, err
		}
		if props, ok := body["properties"].(map[string]any); ok {
			for name, prop := range props {
				properties[BodyPrefix+name] = prop
			}
		}
		if req, ok := body["required"].([]string); ok {
			for _, name := range req {
				required = append(required, BodyPrefix+name)
			}
		}
	}

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}, nil
}

func bodyMedia(ref *openapi3.RequestBodyRef) *openapi3.MediaType {
	if ref == nil || ref.Value == nil {
		return nil
	}
	for _, ct := range bodyContentTypes {
		if media, ok := ref.Value.Content[ct]; ok && media != nil {
			return media
		}
	}
	return nil
}
