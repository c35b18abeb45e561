package openapi

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

const (
	componentSchemaPrefix = "#/components/schemas/"

	// DefaultMaxDepth bounds schema nesting.
	DefaultMaxDepth = 64
)

// SchemaResolutionError reports a reference that cannot be expanded.
type SchemaResolutionError struct {
	Ref    string
	Reason string
}

func (e *SchemaResolutionError) Error() string {
	if e.Ref == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Ref)
}

// Resolver flattens OpenAPI schema fragments into JSON Schema fragments
// suitable for tool input schemas. It performs no I/O.
type Resolver struct {
	components openapi3.Schemas
	maxDepth   int
}

// NewResolver creates a resolver over the component schemas of doc.
func NewResolver(doc *Document) *Resolver {
	return &Resolver{components: doc.Components(), maxDepth: DefaultMaxDepth}
}

// NewResolverWithComponents creates a resolver over an explicit component set.
func NewResolverWithComponents(components openapi3.Schemas, maxDepth int) *Resolver {
	if components == nil {
		components = openapi3.Schemas{}
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{components: components, maxDepth: maxDepth}
}

// Resolve expands $ref, allOf and oneOf and drops readOnly properties.
// An empty fragment resolves to an empty object schema.
func (r *Resolver) Resolve(ref *openapi3.SchemaRef) (map[string]any, error) {
	return r.resolve(ref, nil, 0)
}

func (r *Resolver) resolve(ref *openapi3.SchemaRef, stack []string, depth int) (map[string]any, error) {
	if ref == nil || (ref.Ref == "" && isEmptySchema(ref.Value)) {
		return emptyObject(), nil
	}
	if depth > r.maxDepth {
		return nil, &SchemaResolutionError{Ref: ref.Ref, Reason: "maximum depth exceeded"}
	}

	if ref.Ref != "" {
		for _, seen := range stack {
			if seen == ref.Ref {
				return nil, &SchemaResolutionError{Ref: ref.Ref, Reason: "cyclic reference"}
			}
		}
		stack = append(stack, ref.Ref)

		if name, ok := strings.CutPrefix(ref.Ref, componentSchemaPrefix); ok {
			target, found := r.components[name]
			if !found || target == nil {
				return nil, &SchemaResolutionError{Ref: ref.Ref, Reason: "unresolved reference"}
			}
			return r.resolve(target, stack, depth+1)
		}
		if ref.Value == nil {
			return nil, &SchemaResolutionError{Ref: ref.Ref, Reason: "unresolved reference"}
		}
	}

	s := ref.Value
	if isEmptySchema(s) {
		return emptyObject(), nil
	}
	switch {
	case len(s.AllOf) > 0:
		return r.mergeAllOf(s.AllOf, stack, depth)
	case len(s.OneOf) > 0:
		// The first alternative wins; tool schemas carry a single shape.
		return r.resolve(s.OneOf[0], stack, depth+1)
	}
	return r.resolvePlain(s, stack, depth)
}

func (r *Resolver) mergeAllOf(parts openapi3.SchemaRefs, stack []string, depth int) (map[string]any, error) {
	properties := map[string]any{}
	var required []string
	seen := map[string]bool{}
	var typ any

	for _, part := range parts {
		sub, err := r.resolve(part, stack, depth+1)
		if err != nil {
			return nil, err
		}
		if props, ok := sub["properties"].(map[string]any); ok {
			for name, p := range props {
				properties[name] = p
			}
		}
		if req, ok := sub["required"].([]string); ok {
			for _, name := range req {
				if !seen[name] {
					seen[name] = true
					required = append(required, name)
				}
			}
		}
		if t, ok := sub["type"]; ok && typ == nil {
			typ = t
		}
	}

	out := map[string]any{"type": "object"}
	if typ != nil {
		out["type"] = typ
	}
	if len(properties) > 0 {
		out["properties"] = properties
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out, nil
}

func (r *Resolver) resolvePlain(s *openapi3.Schema, stack []string, depth int) (map[string]any, error) {
	out := map[string]any{}

	if t := schemaType(s); t != nil {
		out["type"] = t
	}

	if len(s.Properties) > 0 || isObject(s) {
		properties := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			if prop != nil && prop.Value != nil && prop.Value.ReadOnly {
				continue
			}
			resolved, err := r.resolve(prop, stack, depth+1)
			if err != nil {
				return nil, err
			}
			properties[name] = resolved
		}
		out["properties"] = properties
	}

	if len(s.Required) > 0 {
		properties, _ := out["properties"].(map[string]any)
		required := make([]string, 0, len(s.Required))
		for _, name := range s.Required {
			if _, ok := properties[name]; ok {
				required = append(required, name)
			}
		}
		if len(required) > 0 {
			out["required"] = required
		}
	}

	if s.Items != nil {
		items, err := r.resolve(s.Items, stack, depth+1)
		if err != nil {
			return nil, err
		}
		out["items"] = items
	}

	copyKeywords(s, out)
	return out, nil
}

// copyKeywords copies the descriptive and validation keywords that carry
// over to JSON Schema unchanged.
func copyKeywords(s *openapi3.Schema, out map[string]any) {
	if s.Description != "" {
		out["description"] = s.Description
	}
	if s.Title != "" {
		out["title"] = s.Title
	}
	if s.MaxLength != nil {
		out["maxLength"] = *s.MaxLength
	}
	if s.MinLength > 0 {
		out["minLength"] = s.MinLength
	}
	if s.Max != nil {
		out["maximum"] = *s.Max
	}
	if s.Min != nil {
		out["minimum"] = *s.Min
	}
	if s.Pattern != "" {
		out["pattern"] = s.Pattern
	}
	if s.Format != "" {
		out["format"] = s.Format
	}
	if s.Nullable {
		out["nullable"] = true
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
}

func schemaType(s *openapi3.Schema) any {
	if s.Type == nil || len(*s.Type) == 0 {
		return nil
	}
	types := *s.Type
	if len(types) == 1 {
		return types[0]
	}
	return []string(types)
}

// isEmptySchema reports whether s carries no keywords at all. A fragment
// with only a description or nullable flag is not empty.
func isEmptySchema(s *openapi3.Schema) bool {
	if s == nil {
		return true
	}
	c := *s
	if len(c.Extensions) == 0 {
		c.Extensions = nil
	}
	return reflect.DeepEqual(c, openapi3.Schema{})
}

func isObject(s *openapi3.Schema) bool {
	return s.Type.Includes(openapi3.TypeObject)
}

func emptyObject() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
