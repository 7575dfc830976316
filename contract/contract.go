// Package contract defines the data model shared by the server router and the
// client dispatcher: named endpoint definitions with transport kind, path
// template, method, and the schemas attached to each request and response
// part. Contracts are immutable after construction and safe for concurrent
// reads.
package contract

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ricsam/richie-rpc-sub000/errors"
	"github.com/ricsam/richie-rpc-sub000/schema"
)

// Kind is the transport shape of an endpoint. Dispatch on Kind is always an
// exhaustive switch so that adding a kind is a compile-enforced change.
type Kind int

const (
	// KindStandard is plain request/response over JSON and status codes.
	KindStandard Kind = iota
	// KindStreaming is server-to-client push over a newline-delimited stream.
	KindStreaming
	// KindSSE is server-sent events over text/event-stream.
	KindSSE
	// KindDownload is a raw binary response with attachment headers.
	KindDownload
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindStreaming:
		return "streaming"
	case KindSSE:
		return "sse"
	case KindDownload:
		return "download"
	default:
		return "unknown"
	}
}

// Endpoint is one immutable transport+schema description. Which fields apply
// depends on Kind:
//
//   - standard, download: Responses and ErrorResponses by status code
//   - streaming: Chunk plus optional FinalResponse
//   - sse: Events by event name
//
// Params, Query, Headers, and Body apply to every kind. A nil schema means
// that part is not validated.
type Endpoint struct {
	Kind    Kind
	Method  string
	Path    string
	Params  schema.Schema
	Query   schema.Schema
	Headers schema.Schema
	Body    schema.Schema

	// Standard and download endpoints. A status code present in Responses is
	// a success shape; one present in ErrorResponses is a declared error the
	// client raises as a distinguishable failure. The two key sets must not
	// overlap.
	Responses      map[int]schema.Schema
	ErrorResponses map[int]schema.Schema

	// Streaming endpoints.
	Chunk         schema.Schema
	FinalResponse schema.Schema

	// SSE endpoints.
	Events map[string]schema.Schema
}

// Entry pairs an endpoint with its unique contract name. Declaration order is
// significant: the router matches entries first-declared-first.
type Entry struct {
	Name     string
	Endpoint Endpoint
}

// Contract is an ordered, immutable mapping from endpoint name to definition,
// shared read-only by the router and the client dispatcher.
type Contract struct {
	entries []Entry
	index   map[string]int
}

// New builds a Contract from entries, validating every definition. Unknown
// kinds, duplicate names, overlapping response/error-response statuses, and
// missing kind-required schemas all fail here rather than at request time.
func New(entries ...Entry) (*Contract, error) {
	c := &Contract{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, entry := range entries {
		if entry.Name == "" {
			return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Contract", "New",
				"endpoint name must not be empty")
		}
		if _, exists := c.index[entry.Name]; exists {
			return nil, errors.WrapInvalid(errors.ErrDuplicateEndpoint, "Contract", "New",
				fmt.Sprintf("endpoint %q declared twice", entry.Name))
		}
		normalized, err := validateEndpoint(entry.Name, entry.Endpoint)
		if err != nil {
			return nil, err
		}
		c.index[entry.Name] = len(c.entries)
		c.entries = append(c.entries, Entry{Name: entry.Name, Endpoint: normalized})
	}
	return c, nil
}

// MustNew is like New but panics on an invalid contract. Intended for
// package-level contract declarations.
func MustNew(entries ...Entry) *Contract {
	c, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the endpoint definition for a name.
func (c *Contract) Get(name string) (Endpoint, bool) {
	i, ok := c.index[name]
	if !ok {
		return Endpoint{}, false
	}
	return c.entries[i].Endpoint, true
}

// Entries returns the contract entries in declaration order. The returned
// slice is a copy; the contract itself cannot be mutated through it.
func (c *Contract) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of endpoints in the contract.
func (c *Contract) Len() int {
	return len(c.entries)
}

// validateEndpoint checks one definition and fills in kind-implied defaults.
func validateEndpoint(name string, ep Endpoint) (Endpoint, error) {
	if ep.Path == "" || !strings.HasPrefix(ep.Path, "/") {
		return ep, errors.WrapInvalid(errors.ErrInvalidConfig, "Contract", "New",
			fmt.Sprintf("endpoint %q: path must start with /", name))
	}

	ep.Method = strings.ToUpper(ep.Method)

	switch ep.Kind {
	case KindStandard, KindDownload:
		if ep.Method == "" {
			return ep, errors.WrapInvalid(errors.ErrMissingConfig, "Contract", "New",
				fmt.Sprintf("endpoint %q: method is required", name))
		}
		for status := range ep.Responses {
			if _, overlap := ep.ErrorResponses[status]; overlap {
				return ep, errors.WrapInvalid(errors.ErrStatusOverlap, "Contract", "New",
					fmt.Sprintf("endpoint %q: status %d", name, status))
			}
		}
	case KindStreaming:
		// Streaming endpoints only accept POST-style requests.
		if ep.Method == "" {
			ep.Method = http.MethodPost
		}
		if ep.Method != http.MethodPost {
			return ep, errors.WrapInvalid(errors.ErrInvalidConfig, "Contract", "New",
				fmt.Sprintf("endpoint %q: streaming endpoints must use POST, got %s", name, ep.Method))
		}
		if ep.Chunk == nil {
			return ep, errors.WrapInvalid(errors.ErrMissingSchema, "Contract", "New",
				fmt.Sprintf("endpoint %q: streaming endpoints require a chunk schema", name))
		}
	case KindSSE:
		// SSE endpoints only accept GET-style requests.
		if ep.Method == "" {
			ep.Method = http.MethodGet
		}
		if ep.Method != http.MethodGet {
			return ep, errors.WrapInvalid(errors.ErrInvalidConfig, "Contract", "New",
				fmt.Sprintf("endpoint %q: sse endpoints must use GET, got %s", name, ep.Method))
		}
		if len(ep.Events) == 0 {
			return ep, errors.WrapInvalid(errors.ErrMissingSchema, "Contract", "New",
				fmt.Sprintf("endpoint %q: sse endpoints require at least one event schema", name))
		}
	default:
		return ep, errors.WrapInvalid(errors.ErrUnknownEndpointKind, "Contract", "New",
			fmt.Sprintf("endpoint %q: kind %d", name, ep.Kind))
	}

	return ep, nil
}
