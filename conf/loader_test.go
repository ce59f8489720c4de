package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dbgpd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  bind: 127.0.0.1
  port: 0
  port_from: 9100
  port_to: 9110
  start_timeout: 2s
  stop_timeout: 4s
session:
  command_timeout: 750ms
  async: true
codec:
  read_buf_size: 16384
  write_buf_size: 2048
admin:
  addr: 127.0.0.1:9199
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Bind)
	assert.Equal(t, 0, cfg.Server.Port)
	assert.Equal(t, 9100, cfg.Server.PortFrom)
	assert.Equal(t, 9110, cfg.Server.PortTo)
	assert.Equal(t, 2*time.Second, cfg.Server.StartTimeout)
	assert.Equal(t, 4*time.Second, cfg.Server.StopTimeout)
	assert.Equal(t, 16384, cfg.Codec.ReadBufSize)
	assert.Equal(t, 2048, cfg.Codec.WriteBufSize)
	assert.Equal(t, 750*time.Millisecond, cfg.Session.CommandTimeout)
	assert.True(t, cfg.Session.Async)
	assert.Equal(t, "127.0.0.1:9199", cfg.Admin.Addr)

	def := Default()
	assert.Equal(t, def.Session.HandshakeTimeout, cfg.Session.HandshakeTimeout)
	assert.Equal(t, def.Codec.MaxPackSize, cfg.Codec.MaxPackSize)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
session:
  command_timeout: soon
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.command_timeout")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:   "default",
			mutate: func(c *Config) {},
		},
		{
			name: "inverted range",
			mutate: func(c *Config) {
				c.Server.Port = 0
				c.Server.PortFrom = 9010
				c.Server.PortTo = 9000
			},
			wantErr: true,
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Server.Transport = "quic" },
			wantErr: true,
		},
		{
			name:    "bucket not power of two",
			mutate:  func(c *Config) { c.Server.BucketSize = 12 },
			wantErr: true,
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Session.CommandTimeout = -time.Second },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := Default()
			tt.mutate(&c)

			if tt.wantErr {
				assert.Error(t, Validate(c))
			} else {
				assert.NoError(t, Validate(c))
			}
		})
	}
}
