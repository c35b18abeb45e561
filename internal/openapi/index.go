package openapi

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/bobmcallan/openapi-mcp/internal/common"
)

// Operation is one callable (path, method) pair of the document.
type Operation struct {
	Name        string
	Method      string // upper case
	Path        string // template, e.g. /entries/{id}
	Summary     string
	Description string
	Parameters  openapi3.Parameters
	RequestBody *openapi3.RequestBodyRef
}

// Index maps tool names to operations. It is built once and shared by the
// catalog builder and the dispatcher; it is read-only afterwards.
type Index struct {
	ops    []*Operation
	byName map[string]*Operation
}

// NewIndex walks doc in declaration order. When two operations share a
// name the first one wins and the later one is logged and skipped.
func NewIndex(doc *Document, logger *common.Logger) *Index {
	ix := &Index{byName: make(map[string]*Operation)}
	if doc == nil || doc.T == nil || doc.T.Paths == nil {
		return ix
	}

	for _, route := range doc.Routes {
		item := doc.T.Paths.Value(route.Path)
		if item == nil {
			continue
		}
		op := item.GetOperation(route.Method)
		if op == nil {
			continue
		}

		name := op.OperationID
		if name == "" {
			name = OperationName(route.Method, route.Path)
		}
		if _, dup := ix.byName[name]; dup {
			if logger != nil {
				logger.Warn().
					Str("tool", name).
					Str("method", route.Method).
					Str("path", route.Path).
					Msg("Duplicate tool name, keeping first declaration")
			}
			continue
		}

		entry := &Operation{
			Name:        name,
			Method:      route.Method,
			Path:        route.Path,
			Summary:     op.Summary,
			Description: op.Description,
			Parameters:  mergeParameters(item.Parameters, op.Parameters),
			RequestBody: op.RequestBody,
		}
		ix.ops = append(ix.ops, entry)
		ix.byName[name] = entry
	}
	return ix
}

// OperationName is the fallback tool name for operations without an operationId.
func OperationName(method, path string) string {
	return strings.ToLower(method) + "_" + path
}

// Lookup returns the operation registered under name.
func (ix *Index) Lookup(name string) (*Operation, bool) {
	op, ok := ix.byName[name]
	return op, ok
}

// Operations returns the operations in document order.
func (ix *Index) Operations() []*Operation {
	return ix.ops
}

// Len returns the number of indexed operations.
func (ix *Index) Len() int {
	return len(ix.ops)
}

// mergeParameters combines path-item and operation parameters. An operation
// parameter replaces a path-item parameter with the same name and location.
func mergeParameters(shared, own openapi3.Parameters) openapi3.Parameters {
	if len(shared) == 0 {
		return own
	}
	type key struct{ name, in string }
	overridden := make(map[key]bool, len(own))
	for _, p := range own {
		if p != nil && p.Value != nil {
			overridden[key{p.Value.Name, p.Value.In}] = true
		}
	}

	merged := make(openapi3.Parameters, 0, len(shared)+len(own))
	for _, p := range shared {
		if p == nil || p.Value == nil || overridden[key{p.Value.Name, p.Value.In}] {
			continue
		}
		merged = append(merged, p)
	}
	return append(merged, own...)
}
