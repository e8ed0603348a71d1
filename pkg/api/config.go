package api

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
)

const (
	DefaultProxyListen  = "127.0.0.1:8890"
	DefaultAdminListen  = "127.0.0.1:8899"
	DefaultBridgeSocket = "bridge.sock"
	DefaultDBFile       = "flowcraft.db"
	DefaultLogDir       = "logs"
)

// Config is the engine's top-level configuration. Sections are pointers so
// an absent section means "disabled" (bridge and proxy default on).
type Config struct {
	DataDir  string          `json:"data_dir,omitempty"`
	Proxy    *ProxyConfig    `json:"proxy,omitempty"`
	Bridge   *BridgeConfig   `json:"bridge,omitempty"`
	Admin    *AdminConfig    `json:"admin,omitempty"`
	DevTools *DevToolsConfig `json:"devtools,omitempty"`
	Rules    *RulesSource    `json:"rules,omitempty"`
	Log      *LogConfig      `json:"log,omitempty"`
}

// ProxyConfig configures the MITM proxy adapter.
type ProxyConfig struct {
	Listen   string `json:"listen,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
	// MITM enables TLS interception on CONNECT tunnels. Off means CONNECT
	// traffic is blindly relayed and only plain HTTP is rewritten.
	MITM bool `json:"mitm,omitempty"`
}

// BridgeConfig configures the unix-socket mock bridge.
type BridgeConfig struct {
	Socket   string `json:"socket,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// AdminConfig configures the admin HTTP API and event feed.
type AdminConfig struct {
	Listen  string   `json:"listen,omitempty"`
	Origins []string `json:"origins,omitempty"`
}

// DevToolsConfig configures the Chrome DevTools interception adapter.
type DevToolsConfig struct {
	// URL is the browser's DevTools endpoint, e.g. http://127.0.0.1:9222.
	URL string `json:"url,omitempty"`
}

// RulesSource selects file-backed rules instead of the sqlite store.
type RulesSource struct {
	File  string `json:"file,omitempty"`
	Watch bool   `json:"watch,omitempty"`
}

// LogConfig configures traffic logging sinks.
type LogConfig struct {
	Dir        string `json:"dir,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	// Capture enables the binary body capture sink alongside JSONL.
	Capture bool `json:"capture,omitempty"`
}

// DefaultConfig returns a config that serves the proxy, bridge and admin
// API on loopback with state under the user's home directory.
func DefaultConfig() *Config {
	return &Config{
		Proxy:  &ProxyConfig{Listen: DefaultProxyListen, MITM: true},
		Bridge: &BridgeConfig{},
		Admin:  &AdminConfig{Listen: DefaultAdminListen},
		Log:    &LogConfig{},
	}
}

// GetDataDir returns the configured data directory or ~/.flowcraft.
func (c *Config) GetDataDir() string {
	if c != nil && c.DataDir != "" {
		return c.DataDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".flowcraft")
}

// DBPath returns the sqlite database path under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), DefaultDBFile)
}

// GetListen returns the proxy listen address or the default.
func (p *ProxyConfig) GetListen() string {
	if p != nil && p.Listen != "" {
		return p.Listen
	}
	return DefaultProxyListen
}

// GetSocket returns the bridge socket path, defaulting under dataDir.
func (b *BridgeConfig) GetSocket(dataDir string) string {
	if b != nil && b.Socket != "" {
		return b.Socket
	}
	return filepath.Join(dataDir, DefaultBridgeSocket)
}

// GetListen returns the admin listen address or the default.
func (a *AdminConfig) GetListen() string {
	if a != nil && a.Listen != "" {
		return a.Listen
	}
	return DefaultAdminListen
}

// GetDir returns the traffic log directory, defaulting under dataDir.
func (l *LogConfig) GetDir(dataDir string) string {
	if l != nil && l.Dir != "" {
		return l.Dir
	}
	return filepath.Join(dataDir, DefaultLogDir)
}

// Validate checks config invariants.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Rules != nil && c.Rules.Watch && c.Rules.File == "" {
		return errx.With(ErrInvalidConfig, ": rules.watch requires rules.file")
	}
	if c.Log != nil && c.Log.MaxSizeMB < 0 {
		return errx.With(ErrInvalidConfig, ": log.max_size_mb must not be negative")
	}
	return nil
}

// ParseConfig decodes a JSON config document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
