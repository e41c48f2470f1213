// Package config loads optional topo-order settings from a TOML file.
//
// Example .topo-order.toml:
//
//	color = "auto"
//	log_level = "info"
//
//	[watch]
//	debounce = "250ms"
//
//	[serve]
//	addr = ":8080"
//	poll = "30s"
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
)

// FileName is looked up in the repository's working directory when no
// explicit path is given.
const FileName = ".topo-order.toml"

// ColorMode selects when output is styled.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// Config holds every tunable setting.
type Config struct {
	Color    ColorMode `toml:"color"`
	LogLevel string    `toml:"log_level"`

	Watch WatchConfig `toml:"watch"`
	Serve ServeConfig `toml:"serve"`
}

// WatchConfig tunes the watch and serve reload loop.
type WatchConfig struct {
	Debounce time.Duration `toml:"debounce"`
}

// ServeConfig tunes the HTTP server.
type ServeConfig struct {
	Addr string `toml:"addr"`

	// Poll rescans on a fixed period in addition to filesystem events.
	// Zero disables polling.
	Poll time.Duration `toml:"poll"`
}

// Default returns the settings used when no file is present.
func Default() *Config {
	return &Config{
		Color:    ColorAuto,
		LogLevel: "info",
		Watch:    WatchConfig{Debounce: 100 * time.Millisecond},
		Serve:    ServeConfig{Addr: ":8080"},
	}
}

// Load reads path over the defaults. When required is false a missing file
// is not an error.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return cfg, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q in %s", undecoded[0].String(), filepath.Base(path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	switch c.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("invalid color mode %q (want auto, always or never)", c.Color)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("invalid watch debounce %s", c.Watch.Debounce)
	}
	if c.Serve.Poll < 0 {
		return fmt.Errorf("invalid serve poll period %s", c.Serve.Poll)
	}
	if c.Serve.Addr == "" {
		return errors.New("serve address must not be empty")
	}
	return nil
}

// Level returns the parsed log level; Validate guarantees it parses.
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
