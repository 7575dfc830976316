package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
server:
  addr: ":9999"
  read_timeout: 5s
socket:
  messages_per_second: 10
  message_burst: 20
nats:
  enabled: true
  url: nats://broker:4222
  subject_prefix: chat.topics
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout.Std())
	assert.Equal(t, float64(10), cfg.Socket.MessagesPerSecond)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "chat.topics", cfg.NATS.SubjectPrefix)
	// Untouched fields keep their defaults.
	assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout.Std())
}

func TestLoadJSON(t *testing.T) {
	path := writeTemp(t, "config.json", `{"server": {"addr": ":7070"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeTemp(t, "config.toml", `addr = ":8080"`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"negative body limit", func(c *Config) { c.Server.MaxBodyBytes = -1 }},
		{"rate without burst", func(c *Config) { c.Socket.MessagesPerSecond = 5 }},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "" }},
		{"nats without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationDecoding(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`1000000000`)))
	assert.Equal(t, time.Second, d.Std())

	assert.Error(t, d.UnmarshalJSON([]byte(`"not a duration"`)))

	out, err := Duration(time.Minute).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m0s"`, string(out))
}

func TestOriginAllowed(t *testing.T) {
	open := SocketConfig{}
	assert.True(t, open.OriginAllowed("https://anything.example"))

	restricted := SocketConfig{AllowedOrigins: []string{"https://app.example.com"}}
	assert.True(t, restricted.OriginAllowed("https://app.example.com"))
	assert.True(t, restricted.OriginAllowed("HTTPS://APP.EXAMPLE.COM"))
	assert.False(t, restricted.OriginAllowed("https://evil.example.com"))

	wildcard := SocketConfig{AllowedOrigins: []string{"*"}}
	assert.True(t, wildcard.OriginAllowed("https://anything.example"))
}
