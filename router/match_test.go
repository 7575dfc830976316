package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPath(t *testing.T) {
	tests := []struct {
		name     string
		template string
		path     string
		want     map[string]string
		matched  bool
	}{
		{"exact literal", "/users", "/users", map[string]string{}, true},
		{"literal mismatch", "/users", "/accounts", nil, false},
		{"named capture", "/users/:id", "/users/42", map[string]string{"id": "42"}, true},
		{"two captures", "/users/:id/posts/:postId", "/users/42/posts/7",
			map[string]string{"id": "42", "postId": "7"}, true},
		{"segment count disagrees", "/users/:id", "/users/42/extra", nil, false},
		{"missing segment", "/users/:id", "/users", nil, false},
		{"wildcard absorbs remainder", "/files/*path", "/files/a/b/c.txt",
			map[string]string{"path": "a/b/c.txt"}, true},
		{"wildcard absorbs empty remainder", "/files/*path", "/files",
			map[string]string{"path": ""}, true},
		{"wildcard after capture", "/repos/:owner/*rest", "/repos/alice/src/main.go",
			map[string]string{"owner": "alice", "rest": "src/main.go"}, true},
		{"root template", "/", "/", map[string]string{}, true},
		{"trailing slash tolerated", "/users/:id", "/users/42/", map[string]string{"id": "42"}, true},
		{"literal before capture must match", "/users/:id", "/groups/42", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, matched := MatchPath(tt.template, tt.path)
			require.Equal(t, tt.matched, matched)
			if tt.matched {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestMatchPath_PureFunction(t *testing.T) {
	// Same inputs, same outputs: matching has no hidden state.
	for i := 0; i < 3; i++ {
		got, matched := MatchPath("/a/:x/*y", "/a/1/2/3")
		require.True(t, matched)
		assert.Equal(t, map[string]string{"x": "1", "y": "2/3"}, got)
	}
}
