// Package config holds rosterchat's runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all node configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Session   SessionConfig   `toml:"session"`
	Logging   LoggingConfig   `toml:"logging"`
	Metrics   MetricsConfig   `toml:"metrics"`
	UI        UIConfig        `toml:"ui"`
}

// NodeConfig identifies this node and its roster.
type NodeConfig struct {
	ID         string `toml:"id"`
	PeersFile  string `toml:"peers_file"`
	FatalGrace string `toml:"fatal_grace"`
}

// HeartbeatConfig controls UDP liveness probing.
type HeartbeatConfig struct {
	Cycle          string `toml:"cycle"`
	ReceiveTimeout string `toml:"receive_timeout"`
}

// SessionConfig controls TCP chat sessions.
type SessionConfig struct {
	DialTimeout  string `toml:"dial_timeout"`
	WriteTimeout string `toml:"write_timeout"`
	MaxLine      int    `toml:"max_line"`
}

// LoggingConfig controls the diagnostic log.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"` // "-" logs to stderr
}

// MetricsConfig controls the status/metrics HTTP listener. Empty Listen
// disables it.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// UIConfig selects the front end.
type UIConfig struct {
	Mode     string `toml:"mode"` // "tui" or "cli"
	Bell     bool   `toml:"bell"`
	BellFile string `toml:"bell_file"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Node: NodeConfig{
			FatalGrace: "3s",
		},
		Heartbeat: HeartbeatConfig{
			Cycle:          "5s",
			ReceiveTimeout: "1s",
		},
		Session: SessionConfig{
			DialTimeout:  "5s",
			WriteTimeout: "5s",
			MaxLine:      4096,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(os.TempDir(), "rosterchat.log"),
		},
		UI: UIConfig{
			Mode: "tui",
		},
	}
}

// Load reads config from path, falling back to defaults when the file
// does not exist. An empty path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the values the node cannot run without.
func (c Config) Validate() error {
	cycle := c.CycleLength()
	if cycle <= 0 {
		return fmt.Errorf("heartbeat.cycle must be positive, got %q", c.Heartbeat.Cycle)
	}
	if c.ReceiveTimeout() >= cycle {
		return fmt.Errorf("heartbeat.receive_timeout %v must be shorter than cycle %v",
			c.ReceiveTimeout(), cycle)
	}
	if c.Session.MaxLine < 64 {
		return fmt.Errorf("session.max_line must be at least 64, got %d", c.Session.MaxLine)
	}
	switch c.UI.Mode {
	case "tui", "cli":
	default:
		return fmt.Errorf("ui.mode must be tui or cli, got %q", c.UI.Mode)
	}
	return nil
}

// CycleLength is the nominal length of one heartbeat cycle.
func (c Config) CycleLength() time.Duration {
	return parseDuration(c.Heartbeat.Cycle, 5*time.Second)
}

// ReceiveTimeout bounds the wait for a pong.
func (c Config) ReceiveTimeout() time.Duration {
	return parseDuration(c.Heartbeat.ReceiveTimeout, time.Second)
}

// FatalGrace is how long a fatal startup error stays visible before
// shutdown.
func (c Config) FatalGrace() time.Duration {
	return parseDuration(c.Node.FatalGrace, 3*time.Second)
}

func (c Config) DialTimeout() time.Duration {
	return parseDuration(c.Session.DialTimeout, 5*time.Second)
}

func (c Config) WriteTimeout() time.Duration {
	return parseDuration(c.Session.WriteTimeout, 5*time.Second)
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
