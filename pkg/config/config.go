// Package config loads and validates the embedding application's
// configuration (§4.16): auth code, service name, ports, the initial CONFIG
// payload, the optional rule script, MQTT exporter settings, and the
// operator-facing REST/WS API settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default config file locations, checked in order when no path is given.
var configPaths = []string{
	"./config.yaml",
	"./config.yml",
	"./posehostd.yaml",
	"~/.config/posehostd/config.yaml",
	"/etc/posehostd/config.yaml",
}

// Config is the top-level configuration document (§4.16).
type Config struct {
	AuthCode    string `yaml:"auth_code" validate:"required,len=6"`
	ServiceName string `yaml:"service_name" validate:"required,min=1,max=20"`
	TCPPort     int    `yaml:"tcp_port" validate:"omitempty,min=1,max=65535"`
	BeaconPort  int    `yaml:"beacon_port" validate:"omitempty,min=1,max=65535"`
	MinVersion  uint8  `yaml:"min_version"`
	MaxVersion  uint8  `yaml:"max_version"`

	// InitialConfigPath, if set, is read verbatim and sent as the first
	// CONFIG message after ACK(OK).
	InitialConfigPath string `yaml:"initial_config_path"`

	// RuleScriptPath, if set, loads the optional Lua command hook (§4.12).
	RuleScriptPath string `yaml:"rule_script_path"`

	Logging  LoggingConfig  `yaml:"logging"`
	Exporter *ExporterConfig `yaml:"exporter"`
	API      *APIConfig      `yaml:"api"`
}

// LoggingConfig configures pkg/logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
	Output string `yaml:"output" validate:"omitempty,oneof=stdout file"`
	File   string `yaml:"file"`
}

// ExporterConfig configures the optional MQTT exporter (§4.13). Absent
// (nil) disables the exporter entirely.
type ExporterConfig struct {
	Broker         string        `yaml:"broker" validate:"required"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QOS            int           `yaml:"qos" validate:"min=0,max=2"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// APIConfig configures the operator-facing REST/WS control API (§4.14,
// §4.15). Absent (nil) disables the HTTP surface entirely.
type APIConfig struct {
	Address    string    `yaml:"address" validate:"required"`
	APIKey     string    `yaml:"api_key" validate:"required"`
	JWTSecret  string    `yaml:"jwt_secret" validate:"required"`
	TLS        TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS settings for the control API. They are loaded and
// validated only: pkg/api/rest and pkg/api/ws serve plain HTTP and do not
// read them.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file" validate:"required_if=Enabled true"`
	KeyFile  string `yaml:"key_file" validate:"required_if=Enabled true"`
}

// Load reads configuration from path, or the first default path that
// exists, or returns DefaultConfig if none is found.
func Load(path string) (*Config, error) {
	if path != "" {
		return loadFile(path)
	}

	for _, p := range configPaths {
		if len(p) > 0 && p[0] == '~' {
			home, err := os.UserHomeDir()
			if err == nil {
				p = filepath.Join(home, p[2:])
			}
		}
		if _, err := os.Stat(p); err == nil {
			return loadFile(p)
		}
	}

	return DefaultConfig(), nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks struct tags plus the cross-field MinVersion<=MaxVersion
// invariant validator tags can't express directly.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	if cfg.MinVersion > cfg.MaxVersion {
		return fmt.Errorf("min_version (%d) exceeds max_version (%d)", cfg.MinVersion, cfg.MaxVersion)
	}
	return nil
}

// Save writes cfg as YAML to path, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns the zero-scripting, zero-exporter, zero-API core
// configuration (§9: every optional surface is opt-in).
func DefaultConfig() *Config {
	return &Config{
		TCPPort:    50000,
		BeaconPort: 50001,
		MinVersion: 1,
		MaxVersion: 1,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// AuthCodeBytes returns the validated 6-byte auth code as the fixed array
// pkg/session expects.
func (c *Config) AuthCodeBytes() [6]byte {
	var out [6]byte
	copy(out[:], c.AuthCode)
	return out
}
