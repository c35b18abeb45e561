package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// ErrorKind classifies dispatch failures.
type ErrorKind string

const (
	ToolNotFound          ErrorKind = "ToolNotFound"
	MissingCredentials    ErrorKind = "MissingCredentials"
	HTTPError             ErrorKind = "HttpError"
	TransportError        ErrorKind = "TransportError"
	SchemaResolutionError ErrorKind = "SchemaResolutionError"
)

// Error is a failed dispatch. Its Error text is what callers see as the
// tool result.
type Error struct {
	Kind   ErrorKind
	Tool   string
	Status int    // HttpError
	Detail string // HttpError
	Type   string // TransportError: Timeout, DNSError, ConnectionError or the Go type
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ToolNotFound:
		return fmt.Sprintf("Error: Tool '%s' not found in API specification", e.Tool)
	case MissingCredentials:
		return "Error: API_USERNAME and API_PASSWORD environment variables must be set to make API calls"
	case HTTPError:
		return fmt.Sprintf("HTTP Error %d:\n%s", e.Status, e.Detail)
	case TransportError:
		return fmt.Sprintf("Error: %s: %v", e.Type, e.Err)
	case SchemaResolutionError:
		return fmt.Sprintf("Error: SchemaResolutionError: %v", e.Err)
	default:
		return fmt.Sprintf("Error: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a dispatch error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}

// SchemaError wraps a resolution failure for tool.
func SchemaError(tool string, err error) *Error {
	return &Error{Kind: SchemaResolutionError, Tool: tool, Err: err}
}

func transportError(tool string, err error) *Error {
	cause := err
	var ue *url.Error
	if errors.As(err, &ue) {
		cause = ue.Err
	}
	return &Error{Kind: TransportError, Tool: tool, Type: transportType(cause), Err: cause}
}

func transportType(err error) string {
	var dnsErr *net.DNSError
	var netErr net.Error
	var opErr *net.OpError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.As(err, &dnsErr):
		return "DNSError"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "Timeout"
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.As(err, &opErr):
		return "ConnectionError"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

func outcome(err error) string {
	var de *Error
	if !errors.As(err, &de) {
		return "error"
	}
	switch de.Kind {
	case ToolNotFound:
		return "not_found"
	case MissingCredentials:
		return "missing_credentials"
	case HTTPError:
		return "http_error"
	case TransportError:
		return "transport_error"
	case SchemaResolutionError:
		return "schema_error"
	}
	return "error"
}
