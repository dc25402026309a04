// Package config loads and persists tinytalk configuration. Settings come
// from a JSON file overlaid with TINYTALK_* environment variables.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/tinyland-inc/tinytalk/pkg/wire"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Identity  IdentityConfig  `json:"identity"`
	Chat      ChatConfig      `json:"chat"`
	Reconnect ReconnectConfig `json:"reconnect"`
	OTP       OTPConfig       `json:"otp"`
}

type ServerConfig struct {
	BaseURL        string `env:"TINYTALK_SERVER_BASE_URL"   json:"base_url"`
	SocketURL      string `env:"TINYTALK_SERVER_SOCKET_URL" json:"socket_url"`
	TimeoutSeconds int    `env:"TINYTALK_SERVER_TIMEOUT"    json:"timeout_seconds"`
}

// IdentityConfig persists the verified identity between runs.
type IdentityConfig struct {
	Name     string `env:"TINYTALK_IDENTITY_NAME"  json:"name"`
	Phone    string `env:"TINYTALK_IDENTITY_PHONE" json:"phone"`
	Verified bool   `json:"verified"`
}

type ChatConfig struct {
	DefaultRoom  string `env:"TINYTALK_CHAT_DEFAULT_ROOM"  json:"default_room"`
	HistoryLimit int    `env:"TINYTALK_CHAT_HISTORY_LIMIT" json:"history_limit"`
}

type ReconnectConfig struct {
	MaxAttempts    int `env:"TINYTALK_RECONNECT_MAX_ATTEMPTS"     json:"max_attempts"`
	InitialDelayMS int `env:"TINYTALK_RECONNECT_INITIAL_DELAY_MS" json:"initial_delay_ms"`
	MaxDelayMS     int `env:"TINYTALK_RECONNECT_MAX_DELAY_MS"     json:"max_delay_ms"`
}

type OTPConfig struct {
	CooldownSeconds int `env:"TINYTALK_OTP_COOLDOWN_SECONDS" json:"cooldown_seconds"`
	MaxAttempts     int `env:"TINYTALK_OTP_MAX_ATTEMPTS"     json:"max_attempts"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:        "http://localhost:4000",
			SocketURL:      "ws://localhost:4000/ws",
			TimeoutSeconds: 15,
		},
		Chat: ChatConfig{
			DefaultRoom:  "FAMILY",
			HistoryLimit: 500,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts:    5,
			InitialDelayMS: 500,
			MaxDelayMS:     30000,
		},
		OTP: OTPConfig{
			CooldownSeconds: 30,
			MaxAttempts:     5,
		},
	}
}

// LoadConfig reads the JSON config at path, falling back to defaults when
// the file does not exist, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tinytalk.json"
	}
	return filepath.Join(home, ".config", "tinytalk", "config.json")
}

// Timeout returns the HTTP timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// WireIdentity converts the persisted identity section into the wire form.
func (c *Config) WireIdentity() wire.Identity {
	return wire.Identity{
		Name:     c.Identity.Name,
		Phone:    c.Identity.Phone,
		Verified: c.Identity.Verified,
	}
}

// SetIdentity stores a verified identity back into the config.
func (c *Config) SetIdentity(id wire.Identity) {
	c.Identity = IdentityConfig{Name: id.Name, Phone: id.Phone, Verified: id.Verified}
}
