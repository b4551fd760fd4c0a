package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/gilbert_v1/kernel"
)

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("width: 64\nheight: 32\nspeed: 20\nviewer:\n  listen: \":9000\"\n"), 0o644))

	f, fs, err := parseFlags([]string{"-config", path, "-speed", "75", "-backend", "wasm"})
	require.NoError(t, err)
	cfg, err := loadConfig(f, fs)
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 32, cfg.Height)
	assert.Equal(t, 75.0, cfg.Speed)
	assert.Equal(t, "wasm", cfg.Backend)
	assert.Equal(t, ":9000", cfg.Viewer.Listen)
	// Unset flags leave file and default values alone.
	assert.Equal(t, kernel.DefaultConfig().Step, cfg.Step)
}

func TestInvalidFlagValue(t *testing.T) {
	f, fs, err := parseFlags([]string{"-width", "0"})
	require.NoError(t, err)
	_, err = loadConfig(f, fs)
	assert.ErrorIs(t, err, kernel.ErrInvalidConfig)
}

func TestGradientIsOpaque(t *testing.T) {
	px := gradient(3, 2)
	require.Len(t, px, 3*2*4)
	for i := 3; i < len(px); i += 4 {
		assert.Equal(t, byte(0xFF), px[i])
	}
	assert.Equal(t, byte(255), px[(0*3+2)*4])
}
