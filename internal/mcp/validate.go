package mcp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/bobmcallan/openapi-mcp/internal/openapi"
)

// Validator checks tool arguments against the derived input schemas.
// Schemas are compiled once; Validate is safe for concurrent use.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidator compiles the input schema of every tool. Tools whose schema
// does not compile are left unvalidated and reported in the returned error.
func NewValidator(tools []openapi.Tool) (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(tools))}
	var errs []error
	for _, t := range tools {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(compilable(t.InputSchema)))
		if err != nil {
			errs = append(errs, fmt.Errorf("tool %s: %w", t.Name, err))
			continue
		}
		v.schemas[t.Name] = schema
	}
	return v, errors.Join(errs...)
}

// Validate returns one message per violation, or nil when args conform or
// the tool has no compiled schema.
func (v *Validator) Validate(name string, args map[string]any) []string {
	schema, ok := v.schemas[name]
	if !ok {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return []string{err.Error()}
	}
	if result.Valid() {
		return nil
	}
	out := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		out = append(out, e.String())
	}
	return out
}

// compilable drops an empty top-level required list, which draft-04
// meta-validation rejects.
func compilable(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, val := range schema {
		out[k] = val
	}
	if req, ok := out["required"].([]string); ok && len(req) == 0 {
		delete(out, "required")
	}
	return out
}

func invalidArgumentsText(violations []string) string {
	return "Error: invalid arguments:\n- " + strings.Join(violations, "\n- ")
}
