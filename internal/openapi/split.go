package openapi

import (
	"sort"
	"strings"
)

// Argument name prefixes that route a flat tool argument to its location.
const (
	PathPrefix  = "path_"
	QueryPrefix = "query_"
	BodyPrefix  = "body_"
)

// SplitArgs holds tool arguments partitioned by request location, with the
// prefixes stripped.
type SplitArgs struct {
	Path    map[string]any
	Query   map[string]any
	Body    map[string]any
	Unknown []string // keys without a recognised prefix, sorted
}

// SplitArguments partitions args by prefix. Values are not checked.
func SplitArguments(args map[string]any) SplitArgs {
	s := SplitArgs{
		Path:  map[string]any{},
		Query: map[string]any{},
		Body:  map[string]any{},
	}
	for key, value := range args {
		switch {
		case strings.HasPrefix(key, PathPrefix):
			s.Path[strings.TrimPrefix(key, PathPrefix)] = value
		case strings.HasPrefix(key, QueryPrefix):
			s.Query[strings.TrimPrefix(key, QueryPrefix)] = value
		case strings.HasPrefix(key, BodyPrefix):
			s.Body[strings.TrimPrefix(key, BodyPrefix)] = value
		default:
			s.Unknown = append(s.Unknown, key)
		}
	}
	sort.Strings(s.Unknown)
	return s
}

// Join re-applies the prefixes. Unknown keys are not included.
func (s SplitArgs) Join() map[string]any {
	out := make(map[string]any, len(s.Path)+len(s.Query)+len(s.Body))
	for k, v := range s.Path {
		out[PathPrefix+k] = v
	}
	for k, v := range s.Query {
		out[QueryPrefix+k] = v
	}
	for k, v := range s.Body {
		out[BodyPrefix+k] = v
	}
	return out
}
