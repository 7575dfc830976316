package contract

import (
	"fmt"
	"strings"

	"github.com/ricsam/richie-rpc-sub000/errors"
	"github.com/ricsam/richie-rpc-sub000/schema"
)

// SocketEndpoint describes one WebSocket endpoint: the upgrade path plus the
// message-type tables for both directions.
//
// ClientMessages are validated by the receiving server before any handler
// sees them. ServerMessages exist for the application's type bookkeeping
// only and are never runtime-validated: the server is the trusted side of
// the connection. This asymmetry is a deliberate trust-boundary decision.
type SocketEndpoint struct {
	Path    string
	Params  schema.Schema
	Query   schema.Schema
	Headers schema.Schema

	ClientMessages map[string]schema.Schema
	ServerMessages map[string]schema.Schema
}

// SocketEntry pairs a socket endpoint with its unique contract name.
type SocketEntry struct {
	Name     string
	Endpoint SocketEndpoint
}

// SocketContract is an ordered, immutable mapping from endpoint name to
// socket definition. Like Contract, declaration order decides match
// precedence on connection open.
type SocketContract struct {
	entries []SocketEntry
	index   map[string]int
}

// NewSocket builds a SocketContract from entries, validating each definition.
func NewSocket(entries ...SocketEntry) (*SocketContract, error) {
	c := &SocketContract{
		entries: make([]SocketEntry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, entry := range entries {
		if entry.Name == "" {
			return nil, errors.WrapInvalid(errors.ErrMissingConfig, "SocketContract", "NewSocket",
				"endpoint name must not be empty")
		}
		if _, exists := c.index[entry.Name]; exists {
			return nil, errors.WrapInvalid(errors.ErrDuplicateEndpoint, "SocketContract", "NewSocket",
				fmt.Sprintf("endpoint %q declared twice", entry.Name))
		}
		if entry.Endpoint.Path == "" || !strings.HasPrefix(entry.Endpoint.Path, "/") {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "SocketContract", "NewSocket",
				fmt.Sprintf("endpoint %q: path must start with /", entry.Name))
		}
		c.index[entry.Name] = len(c.entries)
		c.entries = append(c.entries, entry)
	}
	return c, nil
}

// MustNewSocket is like NewSocket but panics on an invalid contract.
func MustNewSocket(entries ...SocketEntry) *SocketContract {
	c, err := NewSocket(entries...)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the socket endpoint definition for a name.
func (c *SocketContract) Get(name string) (SocketEndpoint, bool) {
	i, ok := c.index[name]
	if !ok {
		return SocketEndpoint{}, false
	}
	return c.entries[i].Endpoint, true
}

// Entries returns the entries in declaration order as a copy.
func (c *SocketContract) Entries() []SocketEntry {
	out := make([]SocketEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of socket endpoints in the contract.
func (c *SocketContract) Len() int {
	return len(c.entries)
}
