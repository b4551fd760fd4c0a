package kernel

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 512, cfg.Width)
	assert.Equal(t, float64(50), cfg.Speed)
	assert.Equal(t, float64(10), cfg.Step)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gilbert.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
width: 64
height: 32
backend: wasm
handshake_timeout: 3s
viewer:
  listen: ":8080"
  compress: true
control:
  listen: ["/ip4/127.0.0.1/tcp/0"]
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 32, cfg.Height)
	assert.Equal(t, "wasm", cfg.Backend)
	assert.Equal(t, 3*time.Second, cfg.HandshakeTimeout)
	assert.True(t, cfg.Viewer.Compress)
	assert.Equal(t, []string{"/ip4/127.0.0.1/tcp/0"}, cfg.Control.Listen)
	// untouched keys keep defaults
	assert.Equal(t, float64(60), cfg.RefreshHz)
	assert.Equal(t, 64, cfg.MailboxDepth)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"zero width":   func(c *Config) { c.Width = 0 },
		"backend":      func(c *Config) { c.Backend = "gpu" },
		"memory":       func(c *Config) { c.Memory = "disk" },
		"shm on wasm":  func(c *Config) { c.Backend = "wasm"; c.Memory = "shm" },
		"speed":        func(c *Config) { c.Speed = 101 },
		"step":         func(c *Config) { c.Step = -1 },
		"mailbox":      func(c *Config) { c.MailboxDepth = 0 },
		"refresh":      func(c *Config) { c.RefreshHz = 0 },
		"log level":    func(c *Config) { c.LogLevel = "loud" },
		"no handshake": func(c *Config) { c.HandshakeTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadConfigReportsParseErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("width: [1, 2"), 0o600))
	_, err := LoadConfig(path)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
