package kernel

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nmxmxh/gilbert_v1/kernel/compute/native"
	"github.com/nmxmxh/gilbert_v1/kernel/threads/sab"
	"github.com/nmxmxh/gilbert_v1/kernel/utils"
	"github.com/nmxmxh/gilbert_v1/wasm"
)

// Config holds everything needed to boot a controller and its surfaces.
type Config struct {
	Width            int           `yaml:"width"`
	Height           int           `yaml:"height"`
	Backend          string        `yaml:"backend"`
	Memory           string        `yaml:"memory"`
	// ShmPath is used with memory "shm"; empty picks a path under /dev/shm.
	ShmPath          string        `yaml:"shm_path"`
	RefreshHz        float64       `yaml:"refresh_hz"`
	Speed            float64       `yaml:"speed"`
	Step             float64       `yaml:"step"`
	MailboxDepth     int           `yaml:"mailbox_depth"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	LogLevel         string        `yaml:"log_level"`
	Image            string        `yaml:"image"`

	Viewer    ViewerConfig   `yaml:"viewer"`
	Snapshots SnapshotConfig `yaml:"snapshots"`
	Control   ControlConfig  `yaml:"control"`
}

type ViewerConfig struct {
	Listen   string `yaml:"listen"`
	Compress bool   `yaml:"compress"`
}

type SnapshotConfig struct {
	Dir   string `yaml:"dir"`
	Every int    `yaml:"every"`
}

// ControlConfig configures the libp2p control link. An empty Listen
// disables it.
type ControlConfig struct {
	Listen   []string `yaml:"listen"`
	Rate     int      `yaml:"rate"`
	Burst    int      `yaml:"burst"`
	Identity string   `yaml:"identity"`
}

// DefaultConfig returns a 512x512 native setup with no remote surfaces.
func DefaultConfig() Config {
	return Config{
		Width:            512,
		Height:           512,
		Backend:          native.Name,
		Memory:           native.MemoryHeap,
		RefreshHz:        60,
		Speed:            50,
		Step:             10,
		MailboxDepth:     64,
		HandshakeTimeout: 10 * time.Second,
		LogLevel:         "info",
		Snapshots:        SnapshotConfig{Every: 60},
		Control:          ControlConfig{Rate: 50, Burst: 10},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Missing keys keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, utils.WrapError(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, utils.WrapError(err, "parse config "+path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var ErrInvalidConfig = errors.New("invalid config")

// Validate rejects values the controller cannot run with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	if _, err := sab.LayoutFor(c.Width, c.Height); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	check(c.Backend == native.Name || c.Backend == wasm.Name, "backend %q", c.Backend)
	check(c.Memory == native.MemoryHeap || c.Memory == native.MemoryShm, "memory %q", c.Memory)
	check(c.Memory != native.MemoryShm || c.Backend == native.Name, "memory %q needs the native backend", c.Memory)
	check(c.RefreshHz > 0 && c.RefreshHz <= 1000, "refresh_hz %v", c.RefreshHz)
	check(c.Speed >= 0 && c.Speed <= 100, "speed %v", c.Speed)
	check(c.Step >= 0 && c.Step <= 100, "step %v", c.Step)
	check(c.MailboxDepth > 0, "mailbox_depth %d", c.MailboxDepth)
	check(c.HandshakeTimeout > 0, "handshake_timeout %v", c.HandshakeTimeout)
	check(c.Snapshots.Every >= 0, "snapshots.every %d", c.Snapshots.Every)
	check(c.Control.Rate >= 0 && c.Control.Burst >= 0, "control rate/burst")
	if _, err := utils.ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	return errors.Join(errs...)
}

// Logger builds the root logger for c.LogLevel.
func (c Config) Logger(component string) *utils.Logger {
	level, _ := utils.ParseLogLevel(c.LogLevel)
	return utils.NewLogger(utils.LoggerConfig{
		Level:     level,
		Component: component,
		Colorize:  true,
	})
}
