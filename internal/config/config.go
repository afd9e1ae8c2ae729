// Package config loads the daemon's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tabpal/tabpal/internal/bridge"
	"github.com/tabpal/tabpal/internal/control"
)

// MemoryDB selects the in-memory store instead of SQLite.
const MemoryDB = ":memory:"

// Config is the top-level configuration document.
type Config struct {
	// BridgeSocket is the unix socket the browser extension bridge
	// serves commands on.
	BridgeSocket string `yaml:"bridgeSocket"`
	// EventSocket is the unix socket the bridge streams events on.
	EventSocket string `yaml:"eventSocket"`
	// ControlSocket is the unix socket the daemon serves tpctl on.
	ControlSocket string `yaml:"controlSocket"`
	// DBPath locates the SQLite database, or MemoryDB for an ephemeral
	// in-memory store.
	DBPath string `yaml:"dbPath"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`
	// LogPretty switches from JSON to console log encoding.
	LogPretty bool `yaml:"logPretty"`
}

// Default returns the configuration used when no file is present.
func Default() (Config, error) {
	cfg := Config{}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and validates the configuration file at path. An empty path
// yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.BridgeSocket == "" {
		path, err := bridge.CommandSocketPath()
		if err != nil {
			return fmt.Errorf("resolve bridge socket: %w", err)
		}
		c.BridgeSocket = path
	}
	if c.EventSocket == "" {
		path, err := bridge.EventSocketPath()
		if err != nil {
			return fmt.Errorf("resolve event socket: %w", err)
		}
		c.EventSocket = path
	}
	if c.ControlSocket == "" {
		path, err := control.DefaultSocketPath()
		if err != nil {
			return fmt.Errorf("resolve control socket: %w", err)
		}
		c.ControlSocket = path
	}
	if c.DBPath == "" {
		c.DBPath = defaultDBPath()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

// Validate rejects values the daemon cannot run with.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logLevel %q", c.LogLevel)
	}
	if c.BridgeSocket == "" {
		return fmt.Errorf("bridgeSocket cannot be empty")
	}
	if c.EventSocket == "" {
		return fmt.Errorf("eventSocket cannot be empty")
	}
	if c.ControlSocket == "" {
		return fmt.Errorf("controlSocket cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("dbPath cannot be empty")
	}
	return nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return MemoryDB
	}
	return filepath.Join(home, ".local", "state", "tabpal", "tabpal.db")
}
